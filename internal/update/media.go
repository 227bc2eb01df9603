package update

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var mediaKeyRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Media names one tracked content source.
//
// Key is the stable identifier used for lookups and persisted watermarks.
// Name is what humans see in notification messages.
type Media struct {
	Key  string
	Name string
}

// NewMedia validates key and returns a Media. An empty name falls back to the key.
func NewMedia(key, name string) (Media, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Media{}, errors.New("media key is required")
	}
	if !mediaKeyRe.MatchString(key) {
		return Media{}, fmt.Errorf("media key %q: want lowercase letters, digits, '-' or '_'", key)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = key
	}
	return Media{Key: key, Name: name}, nil
}

// String returns the display name.
func (m Media) String() string {
	if m.Name != "" {
		return m.Name
	}
	return m.Key
}

// IsZero reports whether m is the zero Media.
func (m Media) IsZero() bool { return m.Key == "" }

// Compare orders media by key.
func (m Media) Compare(other Media) int {
	return strings.Compare(m.Key, other.Key)
}
