package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/cobra"
)

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Homestuck^2</title>
  <item><title>Dirk: Think.</title><link>https://example.com/story/412</link></item>
  <item><title>Roxy: Wake up.</title><link>https://example.com/story/411</link></item>
</channel>
</rss>`

const wantMessage = "Homestuck^2 upd8 #412! Dirk: Think.\nhttps://example.com/story/412"

// syncBuffer is a bytes.Buffer safe for one writer and one reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newFeedServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(testFeed))
	}))
	t.Cleanup(ts.Close)
	return ts
}

// writeTestConfig writes a config with one rss media and the console sink.
func writeTestConfig(t *testing.T, dir, feedURL, driver, extra string) {
	t.Helper()
	cfg := `
log:
  level: error
watermark:
  driver: ` + driver + `
media:
  - key: hs2
    name: Homestuck^2
    source: rss
    rss:
      url: ` + feedURL + `
      id_from: link
sinks:
  console: true
` + extra
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func useConfigDir(t *testing.T, dir string) {
	t.Helper()
	old := configDir
	t.Cleanup(func() { configDir = old })
	configDir = dir
}

func newTestCmd(ctx context.Context, out io.Writer) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	return cmd
}
