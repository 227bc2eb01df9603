package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/upd8r/upd8r/internal/update"
)

const (
	steamSourceName = "steam"
	steamAPIBase    = "https://api.steampowered.com"
	steamNewsCount  = 100
)

// SteamSource reads store news for Steam apps. Ids are the news item's unix
// publish date, so they are never shown to readers.
type SteamSource struct {
	apps    map[update.Media]uint32
	client  *http.Client
	baseURL string
}

// NewSteam creates a Steam news source mapping each media to an app id.
func NewSteam(apps map[update.Media]uint32) (*SteamSource, error) {
	if len(apps) == 0 {
		return nil, errors.New("steam: at least one app is required")
	}
	for m, id := range apps {
		if id == 0 {
			return nil, fmt.Errorf("steam: %s: app_id is required", m.Key)
		}
	}
	return &SteamSource{apps: apps, client: newHTTPClient(), baseURL: steamAPIBase}, nil
}

func (s *SteamSource) Name() string { return steamSourceName }

func (s *SteamSource) Supports(m update.Media) bool {
	_, ok := s.apps[m]
	return ok
}

// steamNewsItem is one entry of ISteamNews/GetNewsForApp.
type steamNewsItem struct {
	GID       string `json:"gid"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Author    string `json:"author"`
	FeedLabel string `json:"feedlabel"`
	Date      int64  `json:"date"`
	FeedName  string `json:"feedname"`
	AppID     uint32 `json:"appid"`
}

type steamNewsResponse struct {
	AppNews *struct {
		AppID     uint32          `json:"appid"`
		NewsItems []steamNewsItem `json:"newsitems"`
		Count     int             `json:"count"`
	} `json:"appnews"`
}

// Fetch returns news in API order, which is newest first.
func (s *SteamSource) Fetch(ctx context.Context, m update.Media) (Feed, error) {
	appID, ok := s.apps[m]
	if !ok {
		return nil, unsupported(steamSourceName, m)
	}

	url := fmt.Sprintf("%s/ISteamNews/GetNewsForApp/v0002/?appid=%d&count=%d&maxlength=1&format=json",
		s.baseURL, appID, steamNewsCount)
	var resp steamNewsResponse
	if err := getJSON(ctx, s.client, url, nil, &resp); err != nil {
		return nil, fmt.Errorf("steam news %d: %w", appID, err)
	}
	if resp.AppNews == nil {
		return nil, fmt.Errorf("steam news %d: response missing appnews", appID)
	}

	feed := make(Feed, 0, len(resp.AppNews.NewsItems))
	for _, it := range resp.AppNews.NewsItems {
		feed = append(feed, it)
	}
	return feed, nil
}

func (n steamNewsItem) IntoUpdate(m update.Media) (update.Update, error) {
	if n.URL == "" {
		return update.Update{}, fmt.Errorf("%s news %s missing url", m, n.GID)
	}
	if n.Date <= 0 {
		return update.Update{}, fmt.Errorf("%s news %s missing date", m, n.GID)
	}
	return update.Update{
		ID:    uint64(n.Date),
		Title: n.Title,
		Link:  n.URL,
		Media: m,
	}, nil
}
