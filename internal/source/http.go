package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	httpTimeout   = 30 * time.Second
	userAgent     = "Mozilla/5.0 (compatible; upd8r/1.0; +https://github.com/upd8r/upd8r)"
	maxErrBodyLen = 256
)

// uaTransport injects a User-Agent header into every request.
type uaTransport struct {
	base http.RoundTripper
}

func (t *uaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", userAgent)
	return t.base.RoundTrip(req)
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   httpTimeout,
		Transport: &uaTransport{base: http.DefaultTransport},
	}
}

// get performs a GET bounded by httpTimeout and returns the open response.
// Non-2xx responses are turned into errors.
func get(ctx context.Context, client *http.Client, url string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBodyLen))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%s: HTTP %d: %s", url, resp.StatusCode, string(body))
	}
	return resp, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, header http.Header, out any) error {
	ctx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()

	resp, err := get(ctx, client, url, header)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}
