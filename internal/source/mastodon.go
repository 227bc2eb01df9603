package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/upd8r/upd8r/internal/update"
)

const (
	mastodonSourceName = "mastodon"
	mastodonPageSize   = 40
)

// MastodonTimeline describes one account timeline to follow.
type MastodonTimeline struct {
	Instance     string   // e.g. https://mastodon.social
	AccountID    string   // numeric account id
	ReblogsOf    string   // if set, only reblogs of this acct are kept
	ExcludeLinks []string // drop statuses linking to any of these substrings
	AccessToken  string   // optional, for non-public timelines
}

// MastodonSource polls account timelines. Status ids are snowflake-like and
// grow with publication time.
type MastodonSource struct {
	timelines map[update.Media]MastodonTimeline
	client    *http.Client
}

// NewMastodon creates a Mastodon timeline source.
func NewMastodon(timelines map[update.Media]MastodonTimeline) (*MastodonSource, error) {
	if len(timelines) == 0 {
		return nil, errors.New("mastodon: at least one timeline is required")
	}
	for m, tl := range timelines {
		if _, err := url.ParseRequestURI(tl.Instance); err != nil || tl.Instance == "" {
			return nil, fmt.Errorf("mastodon: %s: instance must be an absolute URL", m.Key)
		}
		if strings.TrimSpace(tl.AccountID) == "" {
			return nil, fmt.Errorf("mastodon: %s: account_id is required", m.Key)
		}
	}
	return &MastodonSource{timelines: timelines, client: newHTTPClient()}, nil
}

func (ms *MastodonSource) Name() string { return mastodonSourceName }

func (ms *MastodonSource) Supports(m update.Media) bool {
	_, ok := ms.timelines[m]
	return ok
}

type mastodonAccount struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Acct     string `json:"acct"`
}

type mastodonCard struct {
	URL string `json:"url"`
}

type mastodonStatus struct {
	ID      string          `json:"id"`
	URL     string          `json:"url"`
	URI     string          `json:"uri"`
	Content string          `json:"content"`
	Account mastodonAccount `json:"account"`
	Reblog  *mastodonStatus `json:"reblog"`
	Card    *mastodonCard   `json:"card"`
}

func (ms *MastodonSource) Fetch(ctx context.Context, m update.Media) (Feed, error) {
	tl, ok := ms.timelines[m]
	if !ok {
		return nil, unsupported(mastodonSourceName, m)
	}

	endpoint := fmt.Sprintf("%s/api/v1/accounts/%s/statuses?limit=%d&exclude_replies=true",
		strings.TrimRight(tl.Instance, "/"), url.PathEscape(tl.AccountID), mastodonPageSize)
	header := http.Header{}
	if tl.AccessToken != "" {
		header.Set("Authorization", "Bearer "+tl.AccessToken)
	}

	var statuses []mastodonStatus
	if err := getJSON(ctx, ms.client, endpoint, header, &statuses); err != nil {
		return nil, fmt.Errorf("mastodon timeline %s: %w", tl.AccountID, err)
	}

	return filterStatuses(statuses, tl), nil
}

func filterStatuses(statuses []mastodonStatus, tl MastodonTimeline) Feed {
	feed := make(Feed, 0, len(statuses))
	for _, st := range statuses {
		if tl.ReblogsOf != "" {
			if st.Reblog == nil || !sameAcct(st.Reblog.Account, tl.ReblogsOf) {
				continue
			}
			st = *st.Reblog
		}
		if linksAny(st, tl.ExcludeLinks) {
			continue
		}
		feed = append(feed, st)
	}
	return feed
}

func sameAcct(a mastodonAccount, want string) bool {
	want = strings.TrimPrefix(want, "@")
	return strings.EqualFold(a.Acct, want) || strings.EqualFold(a.Username, want)
}

func linksAny(st mastodonStatus, needles []string) bool {
	if len(needles) == 0 {
		return false
	}
	var links []string
	if st.Card != nil {
		links = append(links, st.Card.URL)
	}
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(st.Content)); err == nil {
		doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			links = append(links, href)
		})
	}
	for _, l := range links {
		for _, n := range needles {
			if n != "" && strings.Contains(l, n) {
				return true
			}
		}
	}
	return false
}

func (st mastodonStatus) IntoUpdate(m update.Media) (update.Update, error) {
	id, err := strconv.ParseUint(st.ID, 10, 64)
	if err != nil {
		return update.Update{}, fmt.Errorf("%s status id %q: %w", m, st.ID, err)
	}
	link := st.URL
	if link == "" {
		link = st.URI
	}
	if link == "" {
		return update.Update{}, fmt.Errorf("%s status %s missing url", m, st.ID)
	}
	return update.Update{
		ID:    id,
		Title: statusTitle(st.Content),
		Link:  link,
		Media: m,
	}, nil
}

// statusTitle renders status HTML as text and cuts it at the first URL.
func statusTitle(content string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return ""
	}
	var parts []string
	doc.Find("p").Each(func(_ int, p *goquery.Selection) {
		if t := strings.TrimSpace(p.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	text := strings.Join(parts, "\n")
	if len(parts) == 0 {
		text = strings.TrimSpace(doc.Text())
	}
	if i := strings.Index(text, "http://"); i >= 0 {
		text = text[:i]
	}
	if i := strings.Index(text, "https://"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}
