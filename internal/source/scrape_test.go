package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/upd8r/upd8r/internal/update"
)

var (
	testTGU = update.Media{Key: "tgu", Name: "The Genesis Undertaking"}
	testVO  = update.Media{Key: "vo", Name: "Vast Error"}
)

const chapterIndexHTML = `<html><body>
<ul class="chapters">
  <li><a href="/read/10">Chapter 10: The Start</a></li>
  <li><a href="/read/12">Chapter 12: Return</a></li>
  <li><a href="/read/11">Chapter 11: Interlude</a></li>
  <li><a href="/extras">Extras</a></li>
  <li><a href="/read/x">Chapter X: Bonus</a></li>
</ul>
</body></html>`

const datedListHTML = `<html><body>
<div class="news">3/31/2020 - <a href="/news/b">Second post</a></div>
<div class="news">4/2/2020 - <a href="https://elsewhere.example/c">Third post</a></div>
<div class="news">no date here <a href="/news/z">Skip</a></div>
<div class="news">3/1/2020 - <a href="/news/a">First post</a></div>
</body></html>`

func TestChapterIndexFetch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(chapterIndexHTML))
	}))
	defer ts.Close()

	src, err := NewChapterIndex(map[update.Media]ChapterIndexPage{
		testTGU: {URL: ts.URL + "/index", Selector: "ul.chapters a"},
	})
	if err != nil {
		t.Fatalf("new chapter index: %v", err)
	}

	feed, err := src.Fetch(context.Background(), testTGU)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(feed) != 3 {
		t.Fatalf("got %d items, want 3", len(feed))
	}

	upd, err := feed[0].IntoUpdate(testTGU)
	if err != nil {
		t.Fatalf("into update: %v", err)
	}
	if upd.ID != 12 || upd.Title != "Return" {
		t.Errorf("latest = %d %q, want 12 Return", upd.ID, upd.Title)
	}
	if upd.Link != ts.URL+"/read/12" {
		t.Errorf("link = %q, want resolved against page", upd.Link)
	}
	if !upd.ShowID {
		t.Error("chapter numbers should be shown")
	}
}

func TestChapterIndexFetch_LinkPrefix(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(chapterIndexHTML))
	}))
	defer ts.Close()

	src, _ := NewChapterIndex(map[update.Media]ChapterIndexPage{
		testTGU: {URL: ts.URL, Selector: "ul.chapters a", LinkPrefix: "https://mirror.example"},
	})
	feed, err := src.Fetch(context.Background(), testTGU)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	upd, _ := feed[0].IntoUpdate(testTGU)
	if upd.Link != "https://mirror.example/read/12" {
		t.Errorf("link = %q, want prefixed", upd.Link)
	}
}

func TestDatedListFetch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(datedListHTML))
	}))
	defer ts.Close()

	src, err := NewDatedList(map[update.Media]DatedListPage{
		testVO: {URL: ts.URL, Selector: "div.news"},
	})
	if err != nil {
		t.Fatalf("new dated list: %v", err)
	}

	feed, err := src.Fetch(context.Background(), testVO)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(feed) != 3 {
		t.Fatalf("got %d items, want 3", len(feed))
	}

	upd, err := feed[0].IntoUpdate(testVO)
	if err != nil {
		t.Fatalf("into update: %v", err)
	}
	want := time.Date(2020, 4, 2, 0, 0, 0, 0, time.UTC)
	if upd.ID != uint64(want.Unix()) {
		t.Errorf("id = %d, want %d", upd.ID, want.Unix())
	}
	if upd.Title != "Third post" || upd.Link != "https://elsewhere.example/c" {
		t.Errorf("latest = %q %q", upd.Title, upd.Link)
	}
	if upd.ShowID {
		t.Error("date ids should not be shown")
	}

	last, _ := feed[2].IntoUpdate(testVO)
	if last.Link != ts.URL+"/news/a" {
		t.Errorf("oldest link = %q", last.Link)
	}
}

func TestNewScrapers_Validation(t *testing.T) {
	if _, err := NewChapterIndex(nil); err == nil {
		t.Error("chapter index: expected error for no pages")
	}
	if _, err := NewChapterIndex(map[update.Media]ChapterIndexPage{testTGU: {Selector: "a"}}); err == nil {
		t.Error("chapter index: expected error for missing url")
	}
	if _, err := NewDatedList(map[update.Media]DatedListPage{testVO: {URL: "https://x"}}); err == nil {
		t.Error("dated list: expected error for missing selector")
	}
	if _, err := NewDatedList(map[update.Media]DatedListPage{testVO: {URL: "https://x", Selector: "div["}}); err == nil {
		t.Error("dated list: expected error for invalid selector")
	}
}

func TestSortScraped_StableDescending(t *testing.T) {
	feed := sortScraped([]scrapedItem{
		{id: 1, title: "a", link: "l"},
		{id: 3, title: "b", link: "l"},
		{id: 3, title: "c", link: "l"},
		{id: 2, title: "d", link: "l"},
	})
	var got []string
	for _, it := range feed {
		got = append(got, it.(scrapedItem).title)
	}
	want := []string{"b", "c", "d", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}
