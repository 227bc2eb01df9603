package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	httpTimeout   = 30 * time.Second
	userAgent     = "upd8r (https://github.com/upd8r/upd8r, 1.0)"
	maxErrBodyLen = 256
)

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: httpTimeout}
}

// doJSON sends body as JSON and decodes a 2xx response into out (if non-nil).
// 429 becomes a *RateLimitError; other 4xx responses are permanent.
func doJSON(ctx context.Context, client *http.Client, method, url string, header http.Header, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return Permanent(fmt.Errorf("encode request: %w", err))
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBodyLen))
		err := fmt.Errorf("%s %s: HTTP %d: %s", method, url, resp.StatusCode, strings.TrimSpace(string(snippet)))
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return &RateLimitError{After: retryAfter(resp.Header), Err: err}
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return Permanent(err)
		default:
			return err
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// retryAfter reads Retry-After (seconds, possibly fractional) or Discord's
// X-RateLimit-Reset-After.
func retryAfter(h http.Header) time.Duration {
	for _, k := range []string{"Retry-After", "X-RateLimit-Reset-After"} {
		if v := h.Get(k); v != "" {
			if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
				return time.Duration(secs * float64(time.Second))
			}
		}
	}
	return 0
}

// fit shortens msg to at most limit runes by trimming the text before the
// last line, so the trailing link survives.
func fit(msg string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(msg) <= limit {
		return msg
	}
	head, link := msg, ""
	if i := strings.LastIndexByte(msg, '\n'); i >= 0 {
		head, link = msg[:i], msg[i:]
	}
	room := limit - utf8.RuneCountInString(link) - 1
	if room <= 0 {
		return firstNRunes(msg, limit)
	}
	return firstNRunes(head, room) + "…" + link
}

func firstNRunes(s string, n int) string {
	if n <= 0 || s == "" {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
