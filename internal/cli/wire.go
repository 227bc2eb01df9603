package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/upd8r/upd8r/internal/config"
	"github.com/upd8r/upd8r/internal/engine"
	"github.com/upd8r/upd8r/internal/sink"
	"github.com/upd8r/upd8r/internal/source"
	"github.com/upd8r/upd8r/internal/store"
	"github.com/upd8r/upd8r/internal/update"
	"github.com/upd8r/upd8r/internal/watermark"
)

const verifyTimeout = 20 * time.Second

// buildRegistry binds every configured media to its source, in config order.
func buildRegistry(cfg *config.Config) (*source.Registry, error) {
	var (
		rss      = make(map[update.Media]source.RSSFeed)
		chapters = make(map[update.Media]source.ChapterIndexPage)
		dated    = make(map[update.Media]source.DatedListPage)
		steam    = make(map[update.Media]uint32)
		masto    = make(map[update.Media]source.MastodonTimeline)
		reddit   = make(map[update.Media]string)
		hn       = make(map[update.Media]string)
	)

	media := cfg.MediaList()
	for i, mc := range cfg.Media {
		m := media[i]
		switch mc.Source {
		case config.SourceRSS:
			rss[m] = source.RSSFeed{
				URL:         mc.RSS.URL,
				IDFrom:      mc.RSS.IDFrom,
				TitleFrom:   mc.RSS.TitleFrom,
				DedupByDate: mc.RSS.DedupByDate,
			}
		case config.SourceChapterIndex:
			chapters[m] = source.ChapterIndexPage{
				URL:        mc.ChapterIndex.URL,
				Selector:   mc.ChapterIndex.Selector,
				LinkPrefix: mc.ChapterIndex.LinkPrefix,
			}
		case config.SourceDatedList:
			dated[m] = source.DatedListPage{URL: mc.DatedList.URL, Selector: mc.DatedList.Selector}
		case config.SourceSteam:
			steam[m] = mc.Steam.AppID
		case config.SourceMastodon:
			masto[m] = source.MastodonTimeline{
				Instance:     mc.Mastodon.Instance,
				AccountID:    mc.Mastodon.AccountID,
				ReblogsOf:    mc.Mastodon.ReblogsOf,
				ExcludeLinks: mc.Mastodon.ExcludeLinks,
				AccessToken:  mc.Mastodon.AccessToken,
			}
		case config.SourceReddit:
			reddit[m] = mc.Reddit.Subreddit
		case config.SourceHN:
			hn[m] = mc.HN.User
		default:
			return nil, fmt.Errorf("media %s: unknown source %q", mc.Key, mc.Source)
		}
	}

	builders := []struct {
		kind  string
		n     int
		build func() (source.Source, error)
	}{
		{config.SourceRSS, len(rss), func() (source.Source, error) { return source.NewRSS(rss) }},
		{config.SourceChapterIndex, len(chapters), func() (source.Source, error) { return source.NewChapterIndex(chapters) }},
		{config.SourceDatedList, len(dated), func() (source.Source, error) { return source.NewDatedList(dated) }},
		{config.SourceSteam, len(steam), func() (source.Source, error) { return source.NewSteam(steam) }},
		{config.SourceMastodon, len(masto), func() (source.Source, error) { return source.NewMastodon(masto) }},
		{config.SourceReddit, len(reddit), func() (source.Source, error) { return source.NewReddit(reddit) }},
		{config.SourceHN, len(hn), func() (source.Source, error) { return source.NewHN(hn) }},
	}
	sources := make(map[string]source.Source, len(builders))
	for _, b := range builders {
		if b.n == 0 {
			continue
		}
		s, err := b.build()
		if err != nil {
			return nil, err
		}
		sources[b.kind] = s
	}

	reg := source.NewRegistry()
	for i, mc := range cfg.Media {
		if err := reg.Add(media[i], sources[mc.Source]); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// openBackend opens the configured watermark backend.
func openBackend(cfg *config.Config, dir string) (watermark.Backend, error) {
	path := cfg.StatePath(dir)
	switch cfg.Watermark.Driver {
	case config.DriverSQLite:
		st, err := store.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		return st, nil
	default:
		return watermark.NewFileBackend(path)
	}
}

func newWatermarks(cfg *config.Config, backend watermark.Backend, log zerolog.Logger) (*watermark.Store, error) {
	return watermark.New(backend,
		watermark.WithLogger(log),
		watermark.WithPersistRetries(cfg.Watermark.PersistRetries, cfg.Watermark.PersistRetryDelay.Duration),
	)
}

// buildSinks returns the enabled sinks in a fixed order: console, discord,
// mastodon, telegram.
func buildSinks(cfg *config.Config, stdout io.Writer) ([]sink.Sink, error) {
	var out []sink.Sink
	sc := cfg.Sinks
	if sc.Console {
		out = append(out, sink.NewConsole(stdout))
	}
	if sc.Discord.Enabled() {
		d, err := sink.NewDiscord(sc.Discord.Token, sc.Discord.ChannelID)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if sc.Mastodon.Enabled() {
		m, err := sink.NewMastodon(sc.Mastodon.Instance, sc.Mastodon.AccessToken, sc.Mastodon.Language)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if sc.Telegram.Enabled() {
		t, err := sink.NewTelegram(sink.TelegramConfig{
			Token:    sc.Telegram.Token,
			ChatID:   sc.Telegram.ChatID,
			ThreadID: sc.Telegram.ThreadID,
			Timeout:  deliveryPolicy(cfg).AttemptTimeout,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func deliveryPolicy(cfg *config.Config) sink.Policy {
	d := cfg.Sinks.Delivery
	p := sink.DefaultPolicy()
	if d.RatePerSec != nil {
		p.RatePerSec = *d.RatePerSec
	}
	if d.RetryMax != nil {
		p.RetryMax = *d.RetryMax
	}
	p.RetryBase = d.RetryBase.Duration
	p.RetryMaxDelay = d.RetryMaxDelay.Duration
	p.AttemptTimeout = d.AttemptTimeout.Duration
	return p
}

// verifySinks checks credentials of every sink that supports it.
func verifySinks(ctx context.Context, sinks []sink.Sink, log zerolog.Logger) error {
	for _, s := range sinks {
		v, ok := s.(sink.Verifier)
		if !ok {
			continue
		}
		vctx, cancel := context.WithTimeout(ctx, verifyTimeout)
		err := v.Verify(vctx)
		cancel()
		if err != nil {
			return fmt.Errorf("verify %s sink: %w", s.Name(), err)
		}
		ev := log.Info().Str("sink", s.Name())
		if m, ok := s.(*sink.Mastodon); ok {
			ev = ev.Str("account", m.Username())
		}
		ev.Msg("sink connected")
	}
	return nil
}

// app is a fully wired poller with its sinks.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	backend  watermark.Backend
	marks    *watermark.Store
	poller   *engine.Poller
	sinks    []sink.Sink
	conduits []*sink.Conduit
	runners  []*sink.Runner
}

type appOptions struct {
	stdout   io.Writer
	noVerify bool
}

func newApp(ctx context.Context, cfg *config.Config, dir string, log zerolog.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, log: log}

	reg, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	backend, err := openBackend(cfg, dir)
	if err != nil {
		return nil, err
	}
	a.backend = backend

	a.marks, err = newWatermarks(cfg, backend, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.sinks, err = buildSinks(cfg, opts.stdout)
	if err != nil {
		a.Close()
		return nil, err
	}
	if !opts.noVerify {
		if err := verifySinks(ctx, a.sinks, log); err != nil {
			a.Close()
			return nil, err
		}
	}

	policy := deliveryPolicy(cfg)
	conduits := make([]engine.Conduit, 0, len(a.sinks))
	for _, s := range a.sinks {
		c := sink.NewConduit()
		a.conduits = append(a.conduits, c)
		a.runners = append(a.runners, sink.NewRunner(s, c, policy, log))
		conduits = append(conduits, c)
	}

	detector, err := engine.NewDetector(reg, a.marks)
	if err != nil {
		a.Close()
		return nil, err
	}

	schedule, err := cfg.Schedule()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.poller, err = engine.NewPoller(reg, detector, conduits,
		engine.WithLogger(log),
		engine.WithSchedule(schedule),
		engine.WithFatalPersist(cfg.Watermark.OnPersistError == config.PolicyFatal),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) closeConduits() {
	for _, c := range a.conduits {
		c.Close()
	}
}

// Close releases the watermark backend.
func (a *app) Close() {
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close watermark backend")
		}
	}
}
