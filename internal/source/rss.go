package source

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/upd8r/upd8r/internal/update"
)

const rssSourceName = "rss"

// Where an RSS item's id and title come from.
const (
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldLink        = "link"
	FieldPublished   = "published"
)

var (
	htmlTagRe    = regexp.MustCompile(`<[^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s{3,}`)
)

// RSSFeed describes how one media is read from an RSS/Atom feed.
// Items are kept in document order, so the feed must list newest first.
type RSSFeed struct {
	URL         string
	IDFrom      string // title, link or published
	TitleFrom   string // title or description
	DedupByDate bool   // collapse runs of items sharing a publish date
}

// RSSSource fetches RSS/Atom feeds, one feed per media.
type RSSSource struct {
	feeds  map[update.Media]RSSFeed
	client *http.Client
}

// NewRSS creates an RSS source. At least one feed is required.
func NewRSS(feeds map[update.Media]RSSFeed) (*RSSSource, error) {
	if len(feeds) == 0 {
		return nil, errors.New("rss: at least one feed is required")
	}
	checked := make(map[update.Media]RSSFeed, len(feeds))
	for m, f := range feeds {
		if strings.TrimSpace(f.URL) == "" {
			return nil, fmt.Errorf("rss: %s: url is required", m.Key)
		}
		if f.IDFrom == "" {
			f.IDFrom = FieldTitle
		}
		if f.TitleFrom == "" {
			f.TitleFrom = FieldTitle
		}
		switch f.IDFrom {
		case FieldTitle, FieldLink, FieldPublished:
		default:
			return nil, fmt.Errorf("rss: %s: unknown id_from %q (want title, link or published)", m.Key, f.IDFrom)
		}
		switch f.TitleFrom {
		case FieldTitle, FieldDescription:
		default:
			return nil, fmt.Errorf("rss: %s: unknown title_from %q (want title or description)", m.Key, f.TitleFrom)
		}
		checked[m] = f
	}
	return &RSSSource{feeds: checked, client: newHTTPClient()}, nil
}

func (rs *RSSSource) Name() string {
	return rssSourceName
}

func (rs *RSSSource) Supports(m update.Media) bool {
	_, ok := rs.feeds[m]
	return ok
}

func (rs *RSSSource) Fetch(ctx context.Context, m update.Media) (Feed, error) {
	f, ok := rs.feeds[m]
	if !ok {
		return nil, unsupported(rssSourceName, m)
	}

	ctx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()

	fp := gofeed.NewParser()
	fp.Client = rs.client
	parsed, err := fp.ParseURLWithContext(f.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", f.URL, err)
	}

	return feedFromRSS(parsed, f), nil
}

func feedFromRSS(parsed *gofeed.Feed, f RSSFeed) Feed {
	items := parsed.Items
	if f.DedupByDate {
		items = dedupByDate(items)
	}
	out := make(Feed, 0, len(items))
	for _, it := range items {
		out = append(out, rssItem{item: it, feed: f})
	}
	return out
}

// dedupByDate keeps only the last item of each run of consecutive items
// sharing a publish date. Some feeds emit one entry per page for a multi-page
// update; the last entry of the run is the one the update is known by.
func dedupByDate(items []*gofeed.Item) []*gofeed.Item {
	out := make([]*gofeed.Item, 0, len(items))
	for i, it := range items {
		if i+1 < len(items) && items[i+1].Published == it.Published {
			continue
		}
		out = append(out, it)
	}
	return out
}

type rssItem struct {
	item *gofeed.Item
	feed RSSFeed
}

func (r rssItem) IntoUpdate(m update.Media) (update.Update, error) {
	link := strings.TrimSpace(r.item.Link)
	if link == "" {
		return update.Update{}, fmt.Errorf("%s update missing link", m)
	}

	var title string
	switch r.feed.TitleFrom {
	case FieldDescription:
		title = stripHTML(r.item.Description)
	default:
		title = strings.TrimSpace(r.item.Title)
	}
	if title == "" {
		return update.Update{}, fmt.Errorf("%s update missing %s", m, r.feed.TitleFrom)
	}

	showID := true
	var id uint64
	var err error
	switch r.feed.IDFrom {
	case FieldLink:
		id, err = idFromLink(link)
	case FieldPublished:
		showID = false
		if r.item.PublishedParsed == nil {
			err = errors.New("missing publish date")
		} else if ts := r.item.PublishedParsed.Unix(); ts < 0 {
			err = fmt.Errorf("publish date %s before epoch", r.item.Published)
		} else {
			id = uint64(ts)
		}
	default:
		id, err = strconv.ParseUint(strings.TrimSpace(r.item.Title), 10, 64)
	}
	if err != nil {
		return update.Update{}, fmt.Errorf("get %s id from %s: %w", m, r.feed.IDFrom, err)
	}

	return update.Update{
		ID:     id,
		Title:  title,
		Link:   link,
		Media:  m,
		ShowID: showID,
	}, nil
}

// idFromLink parses the trailing path segment of link as an integer,
// e.g. https://example.com/story/412 -> 412.
func idFromLink(link string) (uint64, error) {
	u, err := url.Parse(link)
	if err != nil {
		return 0, err
	}
	last := path.Base(strings.TrimRight(u.Path, "/"))
	return strconv.ParseUint(last, 10, 64)
}

func stripHTML(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = whitespaceRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
