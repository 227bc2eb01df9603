// Package watermark tracks the highest update id seen per media and persists
// it so that an update is reported at most once across restarts.
package watermark

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/upd8r/upd8r/internal/update"
)

// LoadError reports a persisted watermark that could not be read. The store
// treats the media as never seen.
type LoadError struct {
	Key string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load watermark %s: %v", e.Key, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// PersistError reports a watermark that advanced in memory but could not be
// written. After a restart the same update may be reported again.
type PersistError struct {
	Key   string
	Value uint64
	Err   error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist watermark %s=%d: %v", e.Key, e.Value, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// loadTimeout bounds the one-time read of a persisted watermark.
const loadTimeout = 10 * time.Second

type cell struct {
	once sync.Once
	v    atomic.Uint64

	// mu serializes writes for one media; persisted is the last value saved.
	mu        sync.Mutex
	persisted uint64
}

// Store holds the in-memory watermark of every media seen so far.
// It is safe for concurrent use.
type Store struct {
	backend    Backend
	cells      *xsync.MapOf[string, *cell]
	log        zerolog.Logger
	retries    int
	retryDelay time.Duration
}

type Option func(*Store)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l.With().Str("comp", "watermark").Logger() }
}

// WithPersistRetries retries a failed save n more times, waiting delay
// between attempts.
func WithPersistRetries(n int, delay time.Duration) Option {
	return func(s *Store) {
		if n > 0 {
			s.retries = n
		}
		if delay > 0 {
			s.retryDelay = delay
		}
	}
}

func New(backend Backend, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.New("watermark backend is required")
	}
	s := &Store{
		backend:    backend,
		cells:      xsync.NewMapOf[string, *cell](),
		log:        zerolog.Nop(),
		retryDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// cell returns the state for m, loading the persisted value on first use.
func (s *Store) cell(ctx context.Context, m update.Media) *cell {
	c, _ := s.cells.LoadOrCompute(m.Key, func() *cell { return &cell{} })
	c.once.Do(func() {
		// The first caller's cancellation must not read as a missing watermark.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		v, err := s.backend.Load(lctx, m.Key)
		switch {
		case errors.Is(err, ErrNotFound):
			s.log.Debug().Str("media", m.Key).Msg("no persisted watermark")
		case err != nil:
			lerr := &LoadError{Key: m.Key, Err: err}
			s.log.Warn().Err(lerr).Str("media", m.Key).Msg("watermark unreadable, starting from 0")
		default:
			c.v.Store(v)
			c.persisted = v
		}
	})
	return c
}

// Advance raises the watermark of m to id if id is greater than the current
// value, persisting the new value before returning true. When the write
// fails, Advance still returns true together with a *PersistError: the
// in-memory watermark stays advanced.
func (s *Store) Advance(ctx context.Context, m update.Media, id uint64) (bool, error) {
	c := s.cell(ctx, m)
	for {
		cur := c.v.Load()
		if id <= cur {
			return false, nil
		}
		if c.v.CompareAndSwap(cur, id) {
			break
		}
	}
	if err := s.persist(ctx, m, c); err != nil {
		return true, err
	}
	return true, nil
}

// persist writes the current in-memory maximum. A concurrent advance that
// already wrote a value at least as large makes this a no-op.
func (s *Store) persist(ctx context.Context, m update.Media, c *cell) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := c.v.Load()
	if v <= c.persisted {
		return nil
	}

	var err error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return &PersistError{Key: m.Key, Value: v, Err: errors.Join(err, ctx.Err())}
			case <-time.After(s.retryDelay):
			}
		}
		if err = s.backend.Save(ctx, m.Key, v); err == nil {
			c.persisted = v
			return nil
		}
		s.log.Debug().Err(err).Str("media", m.Key).Int("attempt", attempt+1).Msg("watermark save failed")
	}
	return &PersistError{Key: m.Key, Value: v, Err: err}
}

// Peek returns the in-memory watermark of m, loading it if needed.
func (s *Store) Peek(ctx context.Context, m update.Media) uint64 {
	return s.cell(ctx, m).v.Load()
}
