package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/upd8r/upd8r/internal/update"
)

var testHNMedia = update.Media{Key: "pg", Name: "pg on HN"}

func TestNewHN(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		h, err := NewHN(map[update.Media]string{testHNMedia: "pg"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if h.Name() != "hn" {
			t.Errorf("name = %q, want hn", h.Name())
		}
		if !h.Supports(testHNMedia) {
			t.Error("expected media to be supported")
		}
	})

	t.Run("no users", func(t *testing.T) {
		if _, err := NewHN(nil); err == nil {
			t.Fatal("expected error for empty users")
		}
	})

	t.Run("blank user", func(t *testing.T) {
		if _, err := NewHN(map[update.Media]string{testHNMedia: "  "}); err == nil {
			t.Fatal("expected error for blank user")
		}
	})
}

func TestHNFetch(t *testing.T) {
	items := map[string]hnItem{
		"105": {ID: 105, Type: "story", Title: "Newest essay", URL: "https://example.com/105"},
		"104": {ID: 104, Type: "comment"},
		"103": {ID: 103, Type: "story", Title: "Flagged", Dead: true},
		"102": {ID: 102, Type: "story", Title: "Ask HN: something"},
		"101": {ID: 101, Type: "story", Title: "Gone", Deleted: true},
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/user/pg.json":
			_ = json.NewEncoder(w).Encode(hnUser{ID: "pg", Submitted: []uint64{105, 104, 103, 102, 101}})
		case strings.HasPrefix(r.URL.Path, "/item/"):
			id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/item/"), ".json")
			item, ok := items[id]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_ = json.NewEncoder(w).Encode(item)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	h, _ := NewHN(map[update.Media]string{testHNMedia: "pg"})
	h.baseURL = ts.URL

	feed, err := h.Fetch(context.Background(), testHNMedia)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(feed) != 2 {
		t.Fatalf("got %d items, want 2 live stories", len(feed))
	}

	first, err := feed[0].IntoUpdate(testHNMedia)
	if err != nil {
		t.Fatalf("into update: %v", err)
	}
	if first.ID != 105 || first.Link != "https://example.com/105" {
		t.Errorf("first = %+v, want id 105 with its url", first)
	}

	second, err := feed[1].IntoUpdate(testHNMedia)
	if err != nil {
		t.Fatalf("into update: %v", err)
	}
	if second.Link != "https://news.ycombinator.com/item?id=102" {
		t.Errorf("text post link = %q, want HN item url", second.Link)
	}
	if !second.ShowID {
		t.Error("HN item ids should be shown")
	}
}

func TestHNFetch_UnknownUser(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("null"))
	}))
	defer ts.Close()

	h, _ := NewHN(map[update.Media]string{testHNMedia: "nobody"})
	h.baseURL = ts.URL

	if _, err := h.Fetch(context.Background(), testHNMedia); err == nil {
		t.Fatal("expected error for unknown user")
	}
}

func TestHNFetch_ItemError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/user/pg.json" {
			_ = json.NewEncoder(w).Encode(hnUser{ID: "pg", Submitted: []uint64{2, 1}})
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	h, _ := NewHN(map[update.Media]string{testHNMedia: "pg"})
	h.baseURL = ts.URL

	if _, err := h.Fetch(context.Background(), testHNMedia); err == nil {
		t.Fatal("expected error when items fail")
	}
}

func TestHNItem_IntoUpdate_MissingID(t *testing.T) {
	if _, err := (hnItem{Title: "x"}).IntoUpdate(testHNMedia); err == nil {
		t.Fatal("expected error for missing id")
	}
}
