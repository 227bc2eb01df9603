package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/upd8r/upd8r/internal/config"
	"github.com/upd8r/upd8r/internal/store"
	"github.com/upd8r/upd8r/internal/watermark"
)

func TestBuildRegistry_AllSources(t *testing.T) {
	cfg := &config.Config{Media: []config.MediaConfig{
		{Key: "hs2", Name: "Homestuck^2", Source: config.SourceRSS, RSS: &config.RSSMedia{URL: "https://x/rss"}},
		{Key: "pq", Name: "pq", Source: config.SourceChapterIndex, ChapterIndex: &config.ChapterIndexMedia{URL: "https://x/archive", Selector: "a"}},
		{Key: "news", Name: "news", Source: config.SourceDatedList, DatedList: &config.DatedListMedia{URL: "https://x/news", Selector: "p"}},
		{Key: "game", Name: "game", Source: config.SourceSteam, Steam: &config.SteamMedia{AppID: 623940}},
		{Key: "toots", Name: "toots", Source: config.SourceMastodon, Mastodon: &config.MastodonMedia{Instance: "https://mastodon.social", AccountID: "1"}},
		{Key: "sub", Name: "sub", Source: config.SourceReddit, Reddit: &config.RedditMedia{Subreddit: "golang"}},
		{Key: "dang", Name: "dang", Source: config.SourceHN, HN: &config.HNMedia{User: "dang"}},
		{Key: "hs2b", Name: "second feed", Source: config.SourceRSS, RSS: &config.RSSMedia{URL: "https://y/rss"}},
	}}

	reg, err := buildRegistry(cfg)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	media := reg.Media()
	if len(media) != len(cfg.Media) {
		t.Fatalf("registered %d media, want %d", len(media), len(cfg.Media))
	}
	for i, m := range media {
		if m.Key != cfg.Media[i].Key {
			t.Errorf("media[%d] = %s, want config order %s", i, m.Key, cfg.Media[i].Key)
		}
		src, err := reg.Lookup(m)
		if err != nil {
			t.Fatalf("lookup %s: %v", m.Key, err)
		}
		if src.Name() != cfg.Media[i].Source {
			t.Errorf("%s served by %s, want %s", m.Key, src.Name(), cfg.Media[i].Source)
		}
	}
}

func TestBuildRegistry_SourceError(t *testing.T) {
	cfg := &config.Config{Media: []config.MediaConfig{
		{Key: "m", Name: "m", Source: config.SourceRSS, RSS: &config.RSSMedia{URL: "https://x/rss", IDFrom: "guid"}},
	}}
	if _, err := buildRegistry(cfg); err == nil {
		t.Fatal("expected error for bad id_from")
	}
}

func TestOpenBackend(t *testing.T) {
	dir := t.TempDir()

	fileCfg := &config.Config{Watermark: config.WatermarkConfig{Driver: config.DriverFile, Path: "state"}}
	b, err := openBackend(fileCfg, dir)
	if err != nil {
		t.Fatalf("file backend: %v", err)
	}
	if _, ok := b.(*watermark.FileBackend); !ok {
		t.Errorf("file driver = %T", b)
	}

	sqlCfg := &config.Config{Watermark: config.WatermarkConfig{Driver: config.DriverSQLite, Path: "upd8r.db"}}
	b, err = openBackend(sqlCfg, dir)
	if err != nil {
		t.Fatalf("sqlite backend: %v", err)
	}
	defer func() { _ = b.Close() }()
	if _, ok := b.(*store.Store); !ok {
		t.Errorf("sqlite driver = %T", b)
	}
	if matches, _ := filepath.Glob(filepath.Join(dir, "upd8r.db")); len(matches) != 1 {
		t.Error("expected database file in config dir")
	}
}

func TestBuildSinks(t *testing.T) {
	cfg := &config.Config{Sinks: config.SinksConfig{
		Console:  true,
		Discord:  config.DiscordSinkConfig{Token: "tok", ChannelID: "1"},
		Mastodon: config.MastodonSinkConfig{Instance: "https://botsin.space", AccessToken: "tok", Language: "en"},
		Telegram: config.TelegramSinkConfig{Token: "123:abc", ChatID: -1},
	}}
	sinks, err := buildSinks(cfg, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("build sinks: %v", err)
	}
	want := []string{"console", "discord", "mastodon", "telegram"}
	if len(sinks) != len(want) {
		t.Fatalf("sinks = %d, want %d", len(sinks), len(want))
	}
	for i, s := range sinks {
		if s.Name() != want[i] {
			t.Errorf("sink[%d] = %s, want %s", i, s.Name(), want[i])
		}
	}

	bad := &config.Config{Sinks: config.SinksConfig{Discord: config.DiscordSinkConfig{ChannelID: "1"}}}
	if _, err := buildSinks(bad, &bytes.Buffer{}); err == nil {
		t.Error("expected error for discord without token")
	}
}

func TestDeliveryPolicy(t *testing.T) {
	rps, retries := 2.0, 4
	cfg := &config.Config{Sinks: config.SinksConfig{Delivery: config.DeliveryConfig{
		RatePerSec:     &rps,
		RetryMax:       &retries,
		RetryBase:      config.Duration{Duration: time.Second},
		RetryMaxDelay:  config.Duration{Duration: time.Minute},
		AttemptTimeout: config.Duration{Duration: 5 * time.Second},
	}}}
	p := deliveryPolicy(cfg)
	if p.RatePerSec != 2 || p.RetryMax != 4 || p.RetryMaxDelay != time.Minute || p.AttemptTimeout != 5*time.Second {
		t.Errorf("policy = %+v", p)
	}
	if p.Burst != 1 {
		t.Errorf("burst = %d, want default 1", p.Burst)
	}

	zero, none := 0.0, 0
	cfg.Sinks.Delivery.RatePerSec, cfg.Sinks.Delivery.RetryMax = &zero, &none
	if p := deliveryPolicy(cfg); p.RatePerSec != 0 || p.RetryMax != 0 {
		t.Errorf("explicit zero policy = %+v, want no limit and no retries", p)
	}
}

func TestVerifySinks_SkipsNonVerifiers(t *testing.T) {
	cfg := &config.Config{Sinks: config.SinksConfig{Console: true}}
	sinks, _ := buildSinks(cfg, &bytes.Buffer{})
	if err := verifySinks(context.Background(), sinks, zerolog.Nop()); err != nil {
		t.Fatalf("verify: %v", err)
	}
}
