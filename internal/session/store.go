package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Store writes the session to every backend and reads back the best copy.
// Backends are listed from most to least authoritative.
type Store struct {
	backends []Backend
	logger   *zap.Logger
	now      func() time.Time
}

// NewStore creates a store over the given backends
func NewStore(logger *zap.Logger, backends ...Backend) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backends: backends, logger: logger, now: time.Now}
}

// Save writes rec to all backends concurrently. One failing backend does not
// stop the others; an error is returned only when no backend kept the record.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	if rec.SavedAt.IsZero() {
		rec.SavedAt = s.now()
	}
	errs := s.fanOut(func(b Backend) error { return b.Save(ctx, rec.clone()) })

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
			s.logger.Warn("session backend write failed", zap.Error(err))
		}
	}
	if failed > 0 && failed == len(s.backends) {
		return fmt.Errorf("failed to save session: %w", errors.Join(errs...))
	}
	return nil
}

// Load reads every backend and returns the most complete, then freshest,
// record that can still authenticate or renew. Backends that were empty or
// held an older copy are rewritten with the winner.
func (s *Store) Load(ctx context.Context) (*Record, error) {
	now := s.now()
	records := make([]*Record, len(s.backends))

	var best *Record
	readable := 0
	for i, b := range s.backends {
		rec, err := b.Load(ctx)
		if err != nil {
			s.logger.Warn("session backend read failed", zap.String("backend", b.Name()), zap.Error(err))
			continue
		}
		readable++
		if rec == nil || !rec.Usable(now) {
			continue
		}
		records[i] = rec
		if rec.better(best) {
			best = rec
		}
	}

	if best == nil {
		if readable == 0 && len(s.backends) > 0 {
			return nil, fmt.Errorf("failed to load session: no backend readable")
		}
		return nil, ErrNoSession
	}

	s.repair(ctx, best, records)
	return best.clone(), nil
}

func (s *Store) repair(ctx context.Context, best *Record, records []*Record) {
	for i, b := range s.backends {
		if rec := records[i]; rec != nil && !best.better(rec) {
			continue
		}
		if err := b.Save(ctx, best.clone()); err != nil {
			s.logger.Debug("session backend repair failed", zap.String("backend", b.Name()), zap.Error(err))
		}
	}
}

// Clear removes the session from every backend, best effort
func (s *Store) Clear(ctx context.Context) error {
	errs := s.fanOut(func(b Backend) error { return b.Clear(ctx) })
	return errors.Join(errs...)
}

func (s *Store) fanOut(fn func(b Backend) error) []error {
	errs := make([]error, len(s.backends))

	var g errgroup.Group
	for i, b := range s.backends {
		i, b := i, b
		g.Go(func() error {
			if err := fn(b); err != nil {
				errs[i] = fmt.Errorf("%s: %w", b.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return errs
}
