// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

// Package postgres implements the progress repository on PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/keystride/keystride/internal/progress"
	"github.com/keystride/keystride/internal/store"
)

// userIDConstraint is the unique constraint on user_progress.user_id.
const userIDConstraint = "user_progress_user_id_key"

// ProgressRepository implements progress.Repository using PostgreSQL.
// Badges are stored as a JSONB array.
type ProgressRepository struct {
	db store.Querier
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(db store.Querier) *ProgressRepository {
	return &ProgressRepository{db: db}
}

// Get retrieves the progress row of userID.
func (r *ProgressRepository) Get(ctx context.Context, userID int64) (*progress.Record, error) {
	row := r.db.QueryRow(ctx, `
		SELECT user_id, current_level, badges_earned, wpm, last_updated
		FROM user_progress
		WHERE user_id = $1
	`, userID)

	var (
		rec    progress.Record
		badges []byte
	)
	err := row.Scan(&rec.UserID, &rec.CurrentLevel, &badges, &rec.WPM, &rec.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("PROGRESS_NOT_FOUND").
			With("user_id", userID).
			Wrap(progress.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("PROGRESS_GET_FAILED").
			With("operation", "get progress").
			With("user_id", userID).
			Wrap(err)
	}

	if err := json.Unmarshal(badges, &rec.BadgesEarned); err != nil {
		return nil, oops.Code("PROGRESS_GET_FAILED").
			With("operation", "decode badges").
			With("user_id", userID).
			Wrap(err)
	}
	if rec.BadgesEarned == nil {
		rec.BadgesEarned = []string{}
	}
	return &rec, nil
}

// Insert stores a new progress row.
func (r *ProgressRepository) Insert(ctx context.Context, rec *progress.Record) error {
	badges, err := encodeBadges(rec)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO user_progress (user_id, current_level, badges_earned, wpm, last_updated)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.UserID, rec.CurrentLevel, badges, rec.WPM, rec.LastUpdated)
	if store.IsUniqueViolation(err, userIDConstraint) {
		return oops.Code("PROGRESS_CONFLICT").
			With("user_id", rec.UserID).
			Wrap(progress.ErrConflict)
	}
	if err != nil {
		return oops.Code("PROGRESS_INSERT_FAILED").
			With("operation", "insert progress").
			With("user_id", rec.UserID).
			Wrap(err)
	}
	return nil
}

// Update overwrites the metrics and last_updated of an existing row.
func (r *ProgressRepository) Update(ctx context.Context, rec *progress.Record) error {
	badges, err := encodeBadges(rec)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE user_progress
		SET current_level = $1, badges_earned = $2, wpm = $3, last_updated = $4
		WHERE user_id = $5
	`, rec.CurrentLevel, badges, rec.WPM, rec.LastUpdated, rec.UserID)
	if err != nil {
		return oops.Code("PROGRESS_UPDATE_FAILED").
			With("operation", "update progress").
			With("user_id", rec.UserID).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("PROGRESS_NOT_FOUND").
			With("user_id", rec.UserID).
			Wrap(progress.ErrNotFound)
	}
	return nil
}

func encodeBadges(rec *progress.Record) ([]byte, error) {
	badges := rec.BadgesEarned
	if badges == nil {
		badges = []string{}
	}
	data, err := json.Marshal(badges)
	if err != nil {
		return nil, oops.Code("PROGRESS_ENCODE_FAILED").
			With("user_id", rec.UserID).
			Wrap(err)
	}
	return data, nil
}

// Compile-time interface check.
var _ progress.Repository = (*ProgressRepository)(nil)
