package update

import "testing"

func TestNewMedia(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		display  string
		wantName string
		wantErr  bool
	}{
		{"with name", "hs2", "Homestuck^2", "Homestuck^2", false},
		{"name defaults to key", "pq-steam", "", "pq-steam", false},
		{"trimmed", "  hs2 ", " HS2 ", "HS2", false},
		{"empty key", "", "x", "", true},
		{"uppercase key", "HS2", "", "", true},
		{"space in key", "hs 2", "", "", true},
		{"leading dash", "-hs2", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMedia(tt.key, tt.display)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for key %q", tt.key)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if m.Name != tt.wantName {
				t.Errorf("name = %q, want %q", m.Name, tt.wantName)
			}
		})
	}
}

func TestMediaCompare(t *testing.T) {
	a := Media{Key: "a"}
	b := Media{Key: "b"}
	if a.Compare(b) >= 0 {
		t.Error("expected a < b")
	}
	if b.Compare(a) <= 0 {
		t.Error("expected b > a")
	}
	if a.Compare(Media{Key: "a", Name: "other"}) != 0 {
		t.Error("compare should only consider the key")
	}
}

func TestUpdateMessage(t *testing.T) {
	hs2 := Media{Key: "hs2", Name: "Homestuck^2"}

	t.Run("show id", func(t *testing.T) {
		u := Update{ID: 42, Title: "Page 42", Link: "https://example.com/42", Media: hs2, ShowID: true}
		want := "Homestuck^2 upd8 #42! Page 42\nhttps://example.com/42"
		if got := u.Message(); got != want {
			t.Errorf("Message() = %q, want %q", got, want)
		}
	})

	t.Run("hide id", func(t *testing.T) {
		u := Update{ID: 1585699200, Title: "Bonus", Link: "https://example.com/b", Media: hs2}
		want := "Homestuck^2 upd8! Bonus\nhttps://example.com/b"
		if got := u.Message(); got != want {
			t.Errorf("Message() = %q, want %q", got, want)
		}
	})

	t.Run("empty title", func(t *testing.T) {
		u := Update{ID: 3, Link: "https://example.com/3", Media: Media{Key: "x"}, ShowID: true}
		want := "x upd8 #3! \nhttps://example.com/3"
		if got := u.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	})
}

func TestUpdateCompare(t *testing.T) {
	lo := Update{ID: 1}
	hi := Update{ID: 2, Title: "different"}
	if lo.Compare(hi) != -1 || hi.Compare(lo) != 1 {
		t.Error("ordering should follow ID")
	}
	if lo.Compare(Update{ID: 1, Title: "x"}) != 0 {
		t.Error("equal ids should compare equal")
	}
}
