// Package update defines the canonical representation of a detected item.
package update

import (
	"cmp"
	"strconv"
	"strings"
)

// Update is one detected item from a Media.
//
// ID is monotonically non-decreasing within a single Media in publication
// order. Different media may use different id schemes (page number, unix
// timestamp, status id). Updates of different media are not comparable.
type Update struct {
	ID     uint64
	Title  string
	Link   string
	Media  Media
	ShowID bool // false when the id is synthesized and meaningless to a reader
}

// Compare orders updates of the same Media by ID.
func (u Update) Compare(other Update) int {
	return cmp.Compare(u.ID, other.ID)
}

// Message renders the text pushed to every sink:
//
//	<media name> upd8 #<id>! <title>
//	<link>
//
// The "#<id>" segment is omitted when ShowID is false.
func (u Update) Message() string {
	var b strings.Builder
	b.WriteString(u.Media.String())
	b.WriteString(" upd8")
	if u.ShowID {
		b.WriteString(" #")
		b.WriteString(strconv.FormatUint(u.ID, 10))
	}
	b.WriteString("! ")
	b.WriteString(u.Title)
	b.WriteByte('\n')
	b.WriteString(u.Link)
	return b.String()
}

// String is an alias for Message.
func (u Update) String() string { return u.Message() }
