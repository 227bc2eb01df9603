package watermark

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Backend.Load when nothing was persisted for a key.
var ErrNotFound = errors.New("watermark not found")

// Record is one persisted watermark.
type Record struct {
	Key       string
	Value     uint64
	UpdatedAt time.Time
}

// Backend persists one watermark per media key. Save must be all-or-nothing:
// a crash mid-write leaves either the old or the new value.
type Backend interface {
	Load(ctx context.Context, key string) (uint64, error)
	Save(ctx context.Context, key string, value uint64) error
	List(ctx context.Context) ([]Record, error)
	Close() error
}

type readOnly struct {
	Backend
}

// ReadOnly wraps b so that saves are silently discarded.
func ReadOnly(b Backend) Backend {
	return readOnly{Backend: b}
}

func (readOnly) Save(context.Context, string, uint64) error { return nil }
