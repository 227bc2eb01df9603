package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/upd8r/upd8r/internal/update"
)

const (
	hnSourceName = "hn"
	hnAPIBase    = "https://hacker-news.firebaseio.com/v0"
	hnItemURL    = "https://news.ycombinator.com/item?id="
	hnMaxItems   = 10
	hnMaxWorkers = 5
)

// HNSource follows the stories a Hacker News user submits.
type HNSource struct {
	users   map[update.Media]string
	client  *http.Client
	baseURL string
}

// NewHN creates a Hacker News source mapping each media to a user name.
func NewHN(users map[update.Media]string) (*HNSource, error) {
	if len(users) == 0 {
		return nil, errors.New("hn: at least one user is required")
	}
	for m, u := range users {
		if strings.TrimSpace(u) == "" {
			return nil, fmt.Errorf("hn: %s: user is required", m.Key)
		}
	}
	return &HNSource{users: users, client: newHTTPClient(), baseURL: hnAPIBase}, nil
}

func (h *HNSource) Name() string {
	return hnSourceName
}

func (h *HNSource) Supports(m update.Media) bool {
	_, ok := h.users[m]
	return ok
}

// hnItem represents a Hacker News item from the API.
type hnItem struct {
	ID      uint64 `json:"id"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Score   int    `json:"score"`
	Time    int64  `json:"time"`
	By      string `json:"by"`
	Deleted bool   `json:"deleted"`
	Dead    bool   `json:"dead"`
}

type hnUser struct {
	ID        string   `json:"id"`
	Submitted []uint64 `json:"submitted"`
}

func (h *HNSource) Fetch(ctx context.Context, m update.Media) (Feed, error) {
	user, ok := h.users[m]
	if !ok {
		return nil, unsupported(hnSourceName, m)
	}

	var u hnUser
	if err := getJSON(ctx, h.client, fmt.Sprintf("%s/user/%s.json", h.baseURL, url.PathEscape(user)), nil, &u); err != nil {
		return nil, fmt.Errorf("hn: user %s: %w", user, err)
	}
	if u.ID == "" {
		return nil, fmt.Errorf("hn: user %s not found", user)
	}

	ids := u.Submitted
	if len(ids) > hnMaxItems {
		ids = ids[:hnMaxItems]
	}

	items, err := h.fetchItems(ctx, ids)
	if err != nil {
		return nil, err
	}

	// submitted is newest first; keep that order.
	feed := make(Feed, 0, len(items))
	for _, it := range items {
		if it.Type != "story" || it.Deleted || it.Dead {
			continue
		}
		feed = append(feed, it)
	}
	return feed, nil
}

func (h *HNSource) fetchItems(ctx context.Context, ids []uint64) ([]hnItem, error) {
	type result struct {
		idx  int
		item hnItem
		err  error
	}

	jobs := make(chan int, len(ids))
	results := make(chan result, len(ids))

	workers := min(hnMaxWorkers, len(ids))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				var item hnItem
				err := getJSON(ctx, h.client, fmt.Sprintf("%s/item/%d.json", h.baseURL, ids[idx]), nil, &item)
				if err != nil {
					err = fmt.Errorf("item %d: %w", ids[idx], err)
				}
				results <- result{idx: idx, item: item, err: err}
			}
		}()
	}

	for i := range ids {
		jobs <- i
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	items := make([]hnItem, len(ids))
	var firstErr error
	for r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		items[r.idx] = r.item
	}
	if firstErr != nil {
		return nil, fmt.Errorf("hn: %w", firstErr)
	}
	return items, nil
}

func (it hnItem) IntoUpdate(m update.Media) (update.Update, error) {
	if it.ID == 0 {
		return update.Update{}, fmt.Errorf("%s item missing id", m)
	}
	link := it.URL
	if link == "" {
		link = hnItemURL + strconv.FormatUint(it.ID, 10)
	}
	return update.Update{
		ID:     it.ID,
		Title:  it.Title,
		Link:   link,
		Media:  m,
		ShowID: true,
	}, nil
}
