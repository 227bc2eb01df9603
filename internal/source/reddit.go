package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/upd8r/upd8r/internal/update"
)

const (
	redditSourceName = "reddit"
	redditBaseURL    = "https://www.reddit.com"
	redditPageSize   = 25
)

// RedditSource follows the newest posts of public subreddits via Reddit's
// JSON API. Post ids are base-36 counters, so they grow with submission order.
type RedditSource struct {
	subreddits map[update.Media]string
	client     *http.Client
	baseURL    string
}

// NewReddit creates a Reddit source mapping each media to a subreddit.
func NewReddit(subreddits map[update.Media]string) (*RedditSource, error) {
	if len(subreddits) == 0 {
		return nil, errors.New("reddit: at least one subreddit is required")
	}
	for m, sub := range subreddits {
		if strings.TrimSpace(strings.TrimPrefix(sub, "r/")) == "" {
			return nil, fmt.Errorf("reddit: %s: subreddit is required", m.Key)
		}
	}
	return &RedditSource{
		subreddits: subreddits,
		client:     newHTTPClient(),
		baseURL:    redditBaseURL,
	}, nil
}

func (rs *RedditSource) Name() string {
	return redditSourceName
}

func (rs *RedditSource) Supports(m update.Media) bool {
	_, ok := rs.subreddits[m]
	return ok
}

func (rs *RedditSource) Fetch(ctx context.Context, m update.Media) (Feed, error) {
	sub, ok := rs.subreddits[m]
	if !ok {
		return nil, unsupported(redditSourceName, m)
	}
	sub = strings.TrimPrefix(sub, "r/")

	endpoint := fmt.Sprintf("%s/r/%s/new.json?limit=%d", rs.baseURL, url.PathEscape(sub), redditPageSize)
	var listing redditListing
	if err := getJSON(ctx, rs.client, endpoint, nil, &listing); err != nil {
		return nil, fmt.Errorf("r/%s: %w", sub, err)
	}

	return feedFromListing(listing), nil
}

func feedFromListing(listing redditListing) Feed {
	feed := make(Feed, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		if child.Data.Stickied {
			continue
		}
		feed = append(feed, child.Data)
	}
	return feed
}

func (p redditPost) IntoUpdate(m update.Media) (update.Update, error) {
	id, err := strconv.ParseUint(p.ID, 36, 64)
	if err != nil {
		return update.Update{}, fmt.Errorf("%s post id %q: %w", m, p.ID, err)
	}
	if p.Permalink == "" {
		return update.Update{}, fmt.Errorf("%s post %s missing permalink", m, p.ID)
	}
	return update.Update{
		ID:    id,
		Title: strings.TrimSpace(p.Title),
		Link:  redditBaseURL + p.Permalink,
		Media: m,
	}, nil
}

type redditListing struct {
	Data struct {
		Children []redditChild `json:"children"`
	} `json:"data"`
}

type redditChild struct {
	Data redditPost `json:"data"`
}

type redditPost struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Permalink  string  `json:"permalink"`
	Stickied   bool    `json:"stickied"`
	CreatedUTC float64 `json:"created_utc"`
}
