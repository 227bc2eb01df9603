package source

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/upd8r/upd8r/internal/update"
)

const (
	chapterIndexSourceName = "chapter_index"
	datedListSourceName    = "dated_list"
	datedListLayout        = "1/2/2006"
)

// scrapedItem is an entry already parsed from a page; it only lacks its media.
type scrapedItem struct {
	id     uint64
	title  string
	link   string
	showID bool
}

func (s scrapedItem) IntoUpdate(m update.Media) (update.Update, error) {
	if s.link == "" {
		return update.Update{}, fmt.Errorf("%s update missing link", m)
	}
	return update.Update{ID: s.id, Title: s.title, Link: s.link, Media: m, ShowID: s.showID}, nil
}

func sortScraped(items []scrapedItem) Feed {
	slices.SortStableFunc(items, func(a, b scrapedItem) int {
		return cmp.Compare(b.id, a.id)
	})
	out := make(Feed, 0, len(items))
	for _, it := range items {
		out = append(out, it)
	}
	return out
}

func fetchDocument(ctx context.Context, client *http.Client, pageURL string) (*goquery.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()

	resp, err := get(ctx, client, pageURL, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}
	return doc, nil
}

// resolveLink joins href onto base. An explicit prefix is concatenated verbatim.
func resolveLink(base *url.URL, prefix, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}
	if prefix != "" {
		return prefix + href, true
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	return base.ResolveReference(ref).String(), true
}

// ChapterIndexPage describes a chapter list whose anchors read "Chapter 12: Title".
type ChapterIndexPage struct {
	URL        string
	Selector   string
	LinkPrefix string // optional; otherwise hrefs resolve against URL
}

// ChapterIndexSource scrapes numbered chapter lists.
type ChapterIndexSource struct {
	pages  map[update.Media]ChapterIndexPage
	client *http.Client
}

// NewChapterIndex creates a chapter index source. Every page needs a URL and selector.
func NewChapterIndex(pages map[update.Media]ChapterIndexPage) (*ChapterIndexSource, error) {
	if len(pages) == 0 {
		return nil, errors.New("chapter_index: at least one page is required")
	}
	for m, p := range pages {
		if err := checkPage(chapterIndexSourceName, m, p.URL, p.Selector); err != nil {
			return nil, err
		}
	}
	return &ChapterIndexSource{pages: pages, client: newHTTPClient()}, nil
}

func (c *ChapterIndexSource) Name() string { return chapterIndexSourceName }

func (c *ChapterIndexSource) Supports(m update.Media) bool {
	_, ok := c.pages[m]
	return ok
}

func (c *ChapterIndexSource) Fetch(ctx context.Context, m update.Media) (Feed, error) {
	p, ok := c.pages[m]
	if !ok {
		return nil, unsupported(chapterIndexSourceName, m)
	}
	base, err := url.Parse(p.URL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := fetchDocument(ctx, c.client, p.URL)
	if err != nil {
		return nil, err
	}
	return sortScraped(parseChapterIndex(doc, base, p)), nil
}

func parseChapterIndex(doc *goquery.Document, base *url.URL, p ChapterIndexPage) []scrapedItem {
	var items []scrapedItem
	doc.Find(p.Selector).Each(func(_ int, a *goquery.Selection) {
		label, title, ok := strings.Cut(strings.TrimSpace(a.Text()), ": ")
		if !ok {
			return
		}
		fields := strings.Fields(label)
		if len(fields) == 0 {
			return
		}
		id, err := strconv.ParseUint(fields[len(fields)-1], 10, 64)
		if err != nil {
			return
		}
		href, _ := a.Attr("href")
		link, ok := resolveLink(base, p.LinkPrefix, href)
		if !ok {
			return
		}
		items = append(items, scrapedItem{id: id, title: strings.TrimSpace(title), link: link, showID: true})
	})
	return items
}

// DatedListPage describes a page of blocks reading "3/31/2020 - <a>Title</a>".
type DatedListPage struct {
	URL      string
	Selector string
}

// DatedListSource scrapes date-prefixed link lists. Ids are the unix time of
// the date, so they are never shown to readers.
type DatedListSource struct {
	pages  map[update.Media]DatedListPage
	client *http.Client
}

// NewDatedList creates a dated list source. Every page needs a URL and selector.
func NewDatedList(pages map[update.Media]DatedListPage) (*DatedListSource, error) {
	if len(pages) == 0 {
		return nil, errors.New("dated_list: at least one page is required")
	}
	for m, p := range pages {
		if err := checkPage(datedListSourceName, m, p.URL, p.Selector); err != nil {
			return nil, err
		}
	}
	return &DatedListSource{pages: pages, client: newHTTPClient()}, nil
}

func (d *DatedListSource) Name() string { return datedListSourceName }

func (d *DatedListSource) Supports(m update.Media) bool {
	_, ok := d.pages[m]
	return ok
}

func (d *DatedListSource) Fetch(ctx context.Context, m update.Media) (Feed, error) {
	p, ok := d.pages[m]
	if !ok {
		return nil, unsupported(datedListSourceName, m)
	}
	base, err := url.Parse(p.URL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := fetchDocument(ctx, d.client, p.URL)
	if err != nil {
		return nil, err
	}
	return sortScraped(parseDatedList(doc, base, p.Selector)), nil
}

func parseDatedList(doc *goquery.Document, base *url.URL, selector string) []scrapedItem {
	var items []scrapedItem
	doc.Find(selector).Each(func(_ int, block *goquery.Selection) {
		date, _, ok := strings.Cut(block.Text(), " - ")
		if !ok {
			return
		}
		day, err := time.ParseInLocation(datedListLayout, strings.TrimSpace(date), time.UTC)
		if err != nil || day.Unix() < 0 {
			return
		}
		a := block.Find("a").First()
		if a.Length() == 0 {
			return
		}
		href, _ := a.Attr("href")
		link, ok := resolveLink(base, "", href)
		if !ok {
			return
		}
		items = append(items, scrapedItem{
			id:    uint64(day.Unix()),
			title: strings.TrimSpace(a.Text()),
			link:  link,
		})
	})
	return items
}

func checkPage(src string, m update.Media, pageURL, selector string) error {
	if strings.TrimSpace(pageURL) == "" {
		return fmt.Errorf("%s: %s: url is required", src, m.Key)
	}
	if _, err := url.Parse(pageURL); err != nil {
		return fmt.Errorf("%s: %s: %w", src, m.Key, err)
	}
	if strings.TrimSpace(selector) == "" {
		return fmt.Errorf("%s: %s: selector is required", src, m.Key)
	}
	if _, err := cascadia.Compile(selector); err != nil {
		return fmt.Errorf("%s: %s: selector %q: %w", src, m.Key, selector, err)
	}
	return nil
}
