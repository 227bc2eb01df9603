package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/upd8r/upd8r/internal/update"
)

// ErrUnsupportedMedia is returned when a source is asked for media it does not serve.
var ErrUnsupportedMedia = errors.New("unsupported media")

// Item is one raw entry fetched from a source.
type Item interface {
	// IntoUpdate converts the raw entry into an Update owned by m.
	IntoUpdate(m update.Media) (update.Update, error)
}

// Feed is the collection returned by a fetch, freshest item first.
type Feed []Item

// Latest returns the freshest item, or false when the feed is empty.
func (f Feed) Latest() (Item, bool) {
	if len(f) == 0 {
		return nil, false
	}
	return f[0], true
}

// Source fetches raw items for the media it serves.
type Source interface {
	// Name returns the source kind (e.g. "rss").
	Name() string

	// Supports reports whether m is served by this source.
	Supports(m update.Media) bool

	// Fetch returns the current items for m, freshest first.
	// Asking for unsupported media is an error wrapping ErrUnsupportedMedia.
	Fetch(ctx context.Context, m update.Media) (Feed, error)
}

// FetchError reports a failed fetch: transport failure, bad upstream status,
// malformed response or unsupported media.
type FetchError struct {
	Media  update.Media
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s from %s: %v", e.Media.Key, e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ConversionError reports a fetched item that could not become an Update.
type ConversionError struct {
	Media update.Media
	Err   error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert %s item: %v", e.Media.Key, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

func unsupported(src string, m update.Media) error {
	return fmt.Errorf("%s: %s: %w", src, m.Key, ErrUnsupportedMedia)
}

// Registry maps each media to the source serving it, in registration order.
type Registry struct {
	order   []update.Media
	sources map[update.Media]Source
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[update.Media]Source)}
}

// Add binds m to src. Media keys must be unique and src must support m.
func (r *Registry) Add(m update.Media, src Source) error {
	if m.IsZero() {
		return errors.New("registry: media key is required")
	}
	if src == nil {
		return fmt.Errorf("registry: %s: source is nil", m.Key)
	}
	for _, existing := range r.order {
		if existing.Key == m.Key {
			return fmt.Errorf("registry: duplicate media %q", m.Key)
		}
	}
	if !src.Supports(m) {
		return fmt.Errorf("registry: %s source does not serve %s: %w", src.Name(), m.Key, ErrUnsupportedMedia)
	}
	r.order = append(r.order, m)
	r.sources[m] = src
	return nil
}

// Lookup returns the source serving m.
func (r *Registry) Lookup(m update.Media) (Source, error) {
	src, ok := r.sources[m]
	if !ok {
		return nil, fmt.Errorf("registry: no source for %s: %w", m.Key, ErrUnsupportedMedia)
	}
	return src, nil
}

// Media returns registered media in registration order.
func (r *Registry) Media() []update.Media {
	return append([]update.Media(nil), r.order...)
}

// Len returns the number of registered media.
func (r *Registry) Len() int { return len(r.order) }
