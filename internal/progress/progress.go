// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

// Package progress tracks each user's typing level, badges and speed.
package progress

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a user has no progress record.
	ErrNotFound = errors.New("progress not found")
	// ErrConflict is returned by Repository.Insert when a record already exists.
	ErrConflict = errors.New("progress already exists")
	// ErrPersistence wraps unexpected failures of the progress store.
	ErrPersistence = errors.New("persistence failure")
)

// Record is the single progress row of a user.
type Record struct {
	UserID       int64     `json:"userId"`
	CurrentLevel int       `json:"currentLevel"`
	BadgesEarned []string  `json:"badgesEarned"`
	WPM          float64   `json:"wpm"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

// Outcome tells whether Upsert created or overwrote the record.
type Outcome int

const (
	// Created means no record existed before the write.
	Created Outcome = iota + 1
	// Updated means an existing record was overwritten.
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unknown"
	}
}

// UpsertInput carries a progress submission. A nil field was absent or null
// in the request. An empty, non-nil BadgesEarned is a valid submission.
type UpsertInput struct {
	CurrentLevel *int
	BadgesEarned []string
	WPM          *float64
}

// Repository persists progress records.
type Repository interface {
	// Get returns the record of userID or ErrNotFound.
	Get(ctx context.Context, userID int64) (*Record, error)

	// Insert stores a new record. Returns ErrConflict if one already exists.
	Insert(ctx context.Context, rec *Record) error

	// Update overwrites the metrics and timestamp. Returns ErrNotFound if no record exists.
	Update(ctx context.Context, rec *Record) error
}

// Cache is an optional cache in front of Repository. Upsert writes through
// with Set; Read fills misses with Fill so a late reader never replaces a
// newer entry.
type Cache interface {
	// Get returns the cached record and whether it was present.
	Get(ctx context.Context, userID int64) (*Record, bool, error)
	// Set stores rec, replacing any entry.
	Set(ctx context.Context, rec *Record) error
	// Fill stores rec only when no entry exists for its user.
	Fill(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, userID int64) error
}
