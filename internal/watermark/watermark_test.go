package watermark

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/upd8r/upd8r/internal/update"
)

var (
	m1 = update.Media{Key: "m1", Name: "One"}
	m2 = update.Media{Key: "m2", Name: "Two"}
)

// memBackend is an in-memory Backend with injectable failures.
type memBackend struct {
	mu       sync.Mutex
	values   map[string]uint64
	saves    int
	loadErr  error
	saveErrs int // fail this many saves before succeeding
}

func newMemBackend() *memBackend {
	return &memBackend{values: make(map[string]uint64)}
}

func (b *memBackend) Load(ctx context.Context, key string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loadErr != nil {
		return 0, b.loadErr
	}
	v, ok := b.values[key]
	if !ok {
		return 0, ErrNotFound
	}
	return v, nil
}

func (b *memBackend) Save(_ context.Context, key string, value uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saves++
	if b.saveErrs > 0 {
		b.saveErrs--
		return errors.New("disk full")
	}
	b.values[key] = value
	return nil
}

func (b *memBackend) List(context.Context) ([]Record, error) { return nil, nil }
func (b *memBackend) Close() error                           { return nil }

func (b *memBackend) get(key string) (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.values[key]
	return v, ok
}

func newTestStore(t *testing.T, b Backend, opts ...Option) *Store {
	t.Helper()
	s, err := New(b, opts...)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestAdvance_Monotonic(t *testing.T) {
	b := newMemBackend()
	s := newTestStore(t, b)
	ctx := context.Background()

	steps := []struct {
		id   uint64
		want bool
	}{
		{5, true},
		{3, false},
		{5, false},
		{9, true},
		{8, false},
	}
	for _, st := range steps {
		got, err := s.Advance(ctx, m1, st.id)
		if err != nil {
			t.Fatalf("advance %d: %v", st.id, err)
		}
		if got != st.want {
			t.Errorf("advance %d = %v, want %v", st.id, got, st.want)
		}
	}
	if v, _ := b.get("m1"); v != 9 {
		t.Errorf("persisted = %d, want 9", v)
	}
	if b.saves != 2 {
		t.Errorf("saves = %d, want 2 (only on advance)", b.saves)
	}
}

func TestAdvance_ZeroNeverAdvancesColdStore(t *testing.T) {
	s := newTestStore(t, newMemBackend())
	got, err := s.Advance(context.Background(), m1, 0)
	if err != nil || got {
		t.Fatalf("advance 0 = %v, %v; want false, nil", got, err)
	}
}

func TestAdvance_Idempotent(t *testing.T) {
	s := newTestStore(t, newMemBackend())
	ctx := context.Background()

	if ok, _ := s.Advance(ctx, m1, 7); !ok {
		t.Fatal("first advance should succeed")
	}
	for range 3 {
		if ok, _ := s.Advance(ctx, m1, 7); ok {
			t.Fatal("repeated advance should not succeed")
		}
	}
}

func TestAdvance_IndependentMedia(t *testing.T) {
	b := newMemBackend()
	s := newTestStore(t, b)
	ctx := context.Background()

	if ok, _ := s.Advance(ctx, m1, 100); !ok {
		t.Fatal("m1 advance should succeed")
	}
	if ok, _ := s.Advance(ctx, m2, 1); !ok {
		t.Fatal("m2 advance should not be affected by m1")
	}
	if s.Peek(ctx, m1) != 100 || s.Peek(ctx, m2) != 1 {
		t.Errorf("peek = %d/%d, want 100/1", s.Peek(ctx, m1), s.Peek(ctx, m2))
	}
}

func TestAdvance_LoadsPersistedOnce(t *testing.T) {
	b := newMemBackend()
	b.values["m1"] = 50
	s := newTestStore(t, b)
	ctx := context.Background()

	if ok, _ := s.Advance(ctx, m1, 50); ok {
		t.Fatal("advance to persisted value should not succeed")
	}

	// Changes behind the store's back are not reloaded.
	b.mu.Lock()
	b.values["m1"] = 1000
	b.mu.Unlock()

	if ok, _ := s.Advance(ctx, m1, 51); !ok {
		t.Fatal("advance past loaded value should succeed")
	}
}

func TestAdvance_LoadErrorFallsBackToZero(t *testing.T) {
	b := newMemBackend()
	b.loadErr = errors.New("corrupt")
	s := newTestStore(t, b)

	ok, err := s.Advance(context.Background(), m1, 1)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if !ok {
		t.Fatal("advance should succeed from fallback 0")
	}
}

func TestPeek_CancelledContextStillLoads(t *testing.T) {
	b := newMemBackend()
	b.values["m1"] = 412
	s := newTestStore(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := s.Peek(ctx, m1); got != 412 {
		t.Fatalf("peek = %d, want persisted 412", got)
	}

	bg := context.Background()
	if ok, err := s.Advance(bg, m1, 412); ok || err != nil {
		t.Errorf("advance to persisted id = %v, %v; want false, nil", ok, err)
	}
	if ok, err := s.Advance(bg, m1, 100); ok || err != nil {
		t.Errorf("advance to smaller id = %v, %v; want false, nil", ok, err)
	}
	if v, _ := b.get("m1"); v != 412 {
		t.Errorf("persisted = %d, want unchanged 412", v)
	}
}

func TestAdvance_PersistFailure(t *testing.T) {
	b := newMemBackend()
	b.saveErrs = 1
	s := newTestStore(t, b)
	ctx := context.Background()

	ok, err := s.Advance(ctx, m1, 42)
	if !ok {
		t.Fatal("in-memory advance should still be reported")
	}
	var perr *PersistError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *PersistError", err)
	}
	if perr.Key != "m1" || perr.Value != 42 {
		t.Errorf("persist error = %+v", perr)
	}
	if _, found := b.get("m1"); found {
		t.Error("nothing should be persisted")
	}

	// Same id is not reported twice in this process.
	if ok, _ := s.Advance(ctx, m1, 42); ok {
		t.Error("advance to same id should not succeed")
	}

	// A restarted process reports it again.
	s2 := newTestStore(t, b)
	if ok, _ := s2.Advance(ctx, m1, 42); !ok {
		t.Error("restarted store should re-report unpersisted id")
	}
}

func TestAdvance_PersistRetries(t *testing.T) {
	b := newMemBackend()
	b.saveErrs = 2
	s := newTestStore(t, b, WithPersistRetries(2, time.Millisecond))

	ok, err := s.Advance(context.Background(), m1, 3)
	if !ok || err != nil {
		t.Fatalf("advance = %v, %v; want true, nil", ok, err)
	}
	if v, _ := b.get("m1"); v != 3 {
		t.Errorf("persisted = %d, want 3", v)
	}
	if b.saves != 3 {
		t.Errorf("saves = %d, want 3", b.saves)
	}
}

func TestAdvance_Concurrent(t *testing.T) {
	b := newMemBackend()
	s := newTestStore(t, b)
	ctx := context.Background()

	const n = 200
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		advanced []uint64
	)
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			ok, err := s.Advance(ctx, m1, id)
			if err != nil {
				t.Errorf("advance %d: %v", id, err)
			}
			if ok {
				mu.Lock()
				advanced = append(advanced, id)
				mu.Unlock()
			}
		}(uint64(i))
	}
	wg.Wait()

	if v, _ := b.get("m1"); v != n {
		t.Errorf("persisted = %d, want max %d", v, n)
	}
	if s.Peek(ctx, m1) != n {
		t.Errorf("peek = %d, want %d", s.Peek(ctx, m1), n)
	}
	seen := make(map[uint64]bool)
	for _, id := range advanced {
		if seen[id] {
			t.Fatalf("id %d advanced twice", id)
		}
		seen[id] = true
	}
	if !seen[n] {
		t.Error("max id should have advanced")
	}
}

func TestNew_NilBackend(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil backend")
	}
}

func TestReadOnly(t *testing.T) {
	b := newMemBackend()
	b.values["m1"] = 4
	s := newTestStore(t, ReadOnly(b))
	ctx := context.Background()

	if ok, err := s.Advance(ctx, m1, 10); !ok || err != nil {
		t.Fatalf("advance = %v, %v", ok, err)
	}
	if v, _ := b.get("m1"); v != 4 {
		t.Errorf("persisted = %d, want unchanged 4", v)
	}
}

func TestFileBackend(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	fb, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("new file backend: %v", err)
	}
	ctx := context.Background()

	if _, err := fb.Load(ctx, "m1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("load absent = %v, want ErrNotFound", err)
	}

	if err := fb.Save(ctx, "m1", 18446744073709551615); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := fb.Save(ctx, "m2", 7); err != nil {
		t.Fatalf("save: %v", err)
	}
	v, err := fb.Load(ctx, "m1")
	if err != nil || v != 18446744073709551615 {
		t.Fatalf("load = %d, %v", v, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "latest_m2"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(data) != "7" {
		t.Errorf("file content = %q, want decimal text", data)
	}

	if err := os.WriteFile(filepath.Join(dir, "latest_bad"), []byte("not a number"), 0o644); err != nil {
		t.Fatalf("write corrupt: %v", err)
	}
	if _, err := fb.Load(ctx, "bad"); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("load corrupt = %v, want parse error", err)
	}

	recs, err := fb.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 || recs[0].Key != "m1" || recs[1].Key != "m2" || recs[1].Value != 7 {
		t.Errorf("records = %+v", recs)
	}
	if recs[0].UpdatedAt.IsZero() {
		t.Error("expected modification time")
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.Name()[0] == '.' {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestFileBackend_StoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fb, _ := NewFileBackend(dir)
	ctx := context.Background()

	s := newTestStore(t, fb)
	if ok, err := s.Advance(ctx, m1, 12); !ok || err != nil {
		t.Fatalf("advance = %v, %v", ok, err)
	}

	restarted := newTestStore(t, fb)
	if ok, _ := restarted.Advance(ctx, m1, 12); ok {
		t.Error("persisted id should not be re-reported after restart")
	}
	if ok, _ := restarted.Advance(ctx, m1, 13); !ok {
		t.Error("newer id should be reported after restart")
	}
}
