// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/keystride/keystride/pkg/errutil"
)

const (
	defaultConflictRetries = 3
	conflictBackoff        = 5 * time.Millisecond
)

// Service reads and upserts progress records.
type Service struct {
	repo    Repository
	cache   Cache
	now     func() time.Time
	logger  *slog.Logger
	retries uint64
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now for LastUpdated.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCache puts c in front of the repository. A nil c disables caching.
func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithConflictRetries bounds how often a lost insert race is retried.
func WithConflictRetries(n uint64) Option {
	return func(s *Service) { s.retries = n }
}

// NewService creates a Service over repo.
func NewService(repo Repository, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, oops.Errorf("progress repository is required")
	}
	s := &Service{
		repo:    repo,
		now:     time.Now,
		logger:  slog.Default(),
		retries: defaultConflictRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Read returns the progress of userID or an error wrapping ErrNotFound.
func (s *Service) Read(ctx context.Context, userID int64) (*Record, error) {
	if s.cache != nil {
		rec, ok, err := s.cache.Get(ctx, userID)
		if err != nil {
			errutil.LogWarn(ctx, s.logger, "progress cache read failed", err)
		} else if ok {
			return rec, nil
		}
	}

	rec, err := s.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("PROGRESS_NOT_FOUND").With("user_id", userID).Wrap(err)
		}
		return nil, persistence("get progress", userID, err)
	}

	// Fill only an empty slot: an Upsert that finished while this read was
	// in flight has already written the newer record through.
	if s.cache != nil {
		if err := s.cache.Fill(ctx, rec); err != nil {
			errutil.LogWarn(ctx, s.logger, "progress cache fill failed", err)
		}
	}
	return rec, nil
}

// Upsert validates in, then creates or overwrites the record of userID with
// LastUpdated set to now. Validation happens before any store access.
//
// The existence check and the write are separate statements. When a
// concurrent request inserts first, the insert fails with ErrConflict and the
// whole sequence is retried, which then takes the update path.
func (s *Service) Upsert(ctx context.Context, userID int64, in UpsertInput) (Outcome, error) {
	if err := validate(in); err != nil {
		return 0, oops.Code("PROGRESS_VALIDATION").With("user_id", userID).Wrap(err)
	}

	rec := &Record{
		UserID:       userID,
		CurrentLevel: *in.CurrentLevel,
		BadgesEarned: slices.Clone(in.BadgesEarned),
		WPM:          *in.WPM,
	}

	var outcome Outcome
	backoff := retry.WithMaxRetries(s.retries, retry.NewConstant(conflictBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		rec.LastUpdated = s.now().UTC()

		var err error
		outcome, err = s.write(ctx, rec)
		if errors.Is(err, ErrConflict) {
			s.logger.DebugContext(ctx, "progress insert lost race, retrying", "user_id", userID)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return 0, oops.Code("PROGRESS_CONFLICT").With("user_id", userID).Wrap(err)
		}
		return 0, err
	}

	s.refreshCache(ctx, rec)

	s.logger.InfoContext(ctx, "progress saved", "user_id", userID, "outcome", outcome.String())
	return outcome, nil
}

// refreshCache writes rec through to the cache, dropping the entry when the
// write fails so a stale record is not served until it expires.
func (s *Service) refreshCache(ctx context.Context, rec *Record) {
	if s.cache == nil {
		return
	}
	cached := *rec
	cached.BadgesEarned = slices.Clone(rec.BadgesEarned)
	if cached.BadgesEarned == nil {
		cached.BadgesEarned = []string{}
	}
	err := s.cache.Set(ctx, &cached)
	if err == nil {
		return
	}
	errutil.LogWarn(ctx, s.logger, "progress cache write-through failed", err)
	if err := s.cache.Delete(ctx, rec.UserID); err != nil {
		errutil.LogWarn(ctx, s.logger, "progress cache invalidation failed", err)
	}
}

// write performs one check-then-act attempt.
func (s *Service) write(ctx context.Context, rec *Record) (Outcome, error) {
	_, err := s.repo.Get(ctx, rec.UserID)
	switch {
	case errors.Is(err, ErrNotFound):
		if err := s.repo.Insert(ctx, rec); err != nil {
			if errors.Is(err, ErrConflict) {
				return 0, err
			}
			return 0, persistence("insert progress", rec.UserID, err)
		}
		return Created, nil
	case err != nil:
		return 0, persistence("get progress", rec.UserID, err)
	}

	if err := s.repo.Update(ctx, rec); err != nil {
		if errors.Is(err, ErrNotFound) {
			// Vanished between check and update; retry takes the insert path.
			return 0, fmt.Errorf("%w: record disappeared", ErrConflict)
		}
		return 0, persistence("update progress", rec.UserID, err)
	}
	return Updated, nil
}

func validate(in UpsertInput) error {
	var missing []string
	if in.CurrentLevel == nil {
		missing = append(missing, "currentLevel")
	}
	if in.BadgesEarned == nil {
		missing = append(missing, "badgesEarned")
	}
	if in.WPM == nil {
		missing = append(missing, "wpm")
	}
	if len(missing) > 0 {
		return errutil.Invalid(missing[0],
			"all fields (currentLevel, badgesEarned, wpm) are required")
	}

	if *in.CurrentLevel < 0 {
		return errutil.Invalid("currentLevel", "currentLevel must not be negative")
	}
	// current_level is an INTEGER column.
	if *in.CurrentLevel > math.MaxInt32 {
		return errutil.Invalid("currentLevel", fmt.Sprintf("currentLevel must be at most %d", math.MaxInt32))
	}
	if math.IsNaN(*in.WPM) || math.IsInf(*in.WPM, 0) || *in.WPM < 0 {
		return errutil.Invalid("wpm", "wpm must be a non-negative number")
	}
	return nil
}

func persistence(operation string, userID int64, err error) error {
	return oops.Code("PROGRESS_PERSISTENCE").
		With("operation", operation).
		With("user_id", userID).
		Wrap(fmt.Errorf("%w: %w", ErrPersistence, err))
}
