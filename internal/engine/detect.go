// Package engine polls sources for new updates and fans them out to sinks.
package engine

import (
	"context"
	"errors"

	"github.com/upd8r/upd8r/internal/source"
	"github.com/upd8r/upd8r/internal/update"
	"github.com/upd8r/upd8r/internal/watermark"
)

// Watermarks decides whether an id is new for a media.
type Watermarks interface {
	Advance(ctx context.Context, m update.Media, id uint64) (bool, error)
}

// Detector turns the freshest item of a media's feed into an update, at most
// once per id.
type Detector struct {
	registry *source.Registry
	marks    Watermarks
}

func NewDetector(registry *source.Registry, marks Watermarks) (*Detector, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	if marks == nil {
		return nil, errors.New("watermarks are required")
	}
	return &Detector{registry: registry, marks: marks}, nil
}

// Check fetches m and returns its freshest update if it has not been seen
// before, or nil. When the watermark advanced but could not be saved, Check
// returns the update together with a *watermark.PersistError.
func (d *Detector) Check(ctx context.Context, m update.Media) (*update.Update, error) {
	src, err := d.registry.Lookup(m)
	if err != nil {
		return nil, &source.FetchError{Media: m, Source: "registry", Err: err}
	}

	feed, err := src.Fetch(ctx, m)
	if err != nil {
		return nil, &source.FetchError{Media: m, Source: src.Name(), Err: err}
	}

	latest, ok := feed.Latest()
	if !ok {
		return nil, nil
	}

	upd, err := latest.IntoUpdate(m)
	if err != nil {
		return nil, &source.ConversionError{Media: m, Err: err}
	}

	advanced, err := d.marks.Advance(ctx, m, upd.ID)
	var perr *watermark.PersistError
	switch {
	case errors.As(err, &perr):
		return &upd, err
	case err != nil:
		return nil, err
	case !advanced:
		return nil, nil
	}
	return &upd, nil
}
