// Package service orchestrates the betting engine. It loads snapshots from
// the store, checks them with the rule validator, runs the parimutuel
// math, and writes the results back.
//
// Every mutation holds per-entity locks across its whole
// read-validate-write cycle, so concurrent wagers on one bet or one user
// never lose updates. Validation always completes before the first write.
// There is no rollback if a later write fails.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/cazino/engine/internal/apperr"
	"github.com/cazino/engine/internal/archive"
	"github.com/cazino/engine/internal/lock"
	"github.com/cazino/engine/internal/metrics"
	"github.com/cazino/engine/internal/rules"
	"github.com/cazino/engine/internal/store"
)

// DefaultInviteAttempts bounds how many generated invite codes are tried
// before giving up on a collision streak.
const DefaultInviteAttempts = 5

// Service is the market and bet orchestrator.
type Service struct {
	store    store.Store
	locker   lock.Locker
	archiver archive.Archiver
	log      *slog.Logger
	now      func() time.Time

	inviteAttempts   int
	maxDurationHours int
}

// Option configures a Service.
type Option func(*Service)

// WithArchiver sets where market snapshots go on resolve and delete.
func WithArchiver(a archive.Archiver) Option {
	return func(s *Service) { s.archiver = a }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMaxDurationHours caps the duration a new market may ask for. Zero
// means no cap.
func WithMaxDurationHours(h int) Option {
	return func(s *Service) { s.maxDurationHours = h }
}

// New creates a service over st, serialising mutations with locker.
func New(st store.Store, locker lock.Locker, opts ...Option) *Service {
	s := &Service{
		store:          st,
		locker:         locker,
		archiver:       archive.Nop{},
		log:            slog.Default(),
		now:            func() time.Time { return time.Now().UTC() },
		inviteAttempts: DefaultInviteAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lock acquires keys, reporting lock failures as internal errors.
func (s *Service) lock(ctx context.Context, keys ...string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, keys...)
	if err != nil {
		return nil, apperr.Internal("acquire lock", err)
	}
	return unlock, nil
}

// reject records a rule rejection and returns err unchanged.
func (s *Service) reject(err error) error {
	metrics.RuleRejections.WithLabelValues(rules.Reason(err)).Inc()
	return err
}
