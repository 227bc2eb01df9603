package sink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const mastodonMaxStatus = 500

// Mastodon posts each message as a public status.
type Mastodon struct {
	instance string
	token    string
	language string
	client   *http.Client

	username string
}

func NewMastodon(instance, token, language string) (*Mastodon, error) {
	u, err := url.ParseRequestURI(instance)
	if err != nil || u.Host == "" {
		return nil, errors.New("mastodon: instance must be an absolute URL")
	}
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("mastodon: access token is required")
	}
	if language == "" {
		language = "en"
	}
	return &Mastodon{
		instance: strings.TrimRight(instance, "/"),
		token:    token,
		language: language,
		client:   newHTTPClient(),
	}, nil
}

func (m *Mastodon) Name() string { return "mastodon" }

func (m *Mastodon) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+m.token)
	return h
}

func (m *Mastodon) Deliver(ctx context.Context, msg string) error {
	body := map[string]string{
		"status":   fit(msg, mastodonMaxStatus),
		"language": m.language,
	}
	if err := doJSON(ctx, m.client, http.MethodPost, m.instance+"/api/v1/statuses", m.header(), body, nil); err != nil {
		return fmt.Errorf("mastodon: %w", err)
	}
	return nil
}

// Verify checks the access token and remembers the account name.
func (m *Mastodon) Verify(ctx context.Context) error {
	var acct struct {
		Username string `json:"username"`
	}
	if err := doJSON(ctx, m.client, http.MethodGet, m.instance+"/api/v1/accounts/verify_credentials", m.header(), nil, &acct); err != nil {
		return fmt.Errorf("mastodon: verify credentials: %w", err)
	}
	m.username = acct.Username
	return nil
}

// Username returns the account name found by Verify.
func (m *Mastodon) Username() string { return m.username }
