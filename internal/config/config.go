package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/upd8r/upd8r/internal/engine"
	"github.com/upd8r/upd8r/internal/privacy"
	"github.com/upd8r/upd8r/internal/update"
)

const (
	DefaultConfigFile     = "config.yaml"
	DefaultEnvFile        = ".env"
	DefaultDriver         = DriverFile
	DefaultStatePath      = "state"
	DefaultSQLitePath     = "upd8r.db"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "console"
	DefaultRatePerSec     = 1.0
	DefaultRetryMax       = 3
	DefaultRetryBase      = time.Second
	DefaultRetryMaxDelay  = 30 * time.Second
	DefaultAttemptTimeout = 15 * time.Second
	DefaultLanguage       = "en"
)

// Watermark drivers.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Persist failure policies.
const (
	PolicyWarn  = "warn"
	PolicyFatal = "fatal"
)

// Source kinds.
const (
	SourceRSS          = "rss"
	SourceChapterIndex = "chapter_index"
	SourceDatedList    = "dated_list"
	SourceSteam        = "steam"
	SourceMastodon     = "mastodon"
	SourceReddit       = "reddit"
	SourceHN           = "hn"
)

// Duration wraps time.Duration for YAML unmarshaling from strings like "90s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Poll      PollConfig      `yaml:"poll"`
	Watermark WatermarkConfig `yaml:"watermark"`
	Status    StatusConfig    `yaml:"status"`
	Media     []MediaConfig   `yaml:"media"`
	Sinks     SinksConfig     `yaml:"sinks"`
}

type LogConfig struct {
	Level  string   `yaml:"level"`
	Format string   `yaml:"format"` // console or json
	Redact []string `yaml:"redact"` // extra regex patterns scrubbed from log output
}

type PollConfig struct {
	Interval Duration `yaml:"interval"`
	Schedule string   `yaml:"schedule"` // cron expression; overrides interval
}

type WatermarkConfig struct {
	Driver            string   `yaml:"driver"`
	Path              string   `yaml:"path"`
	OnPersistError    string   `yaml:"on_persist_error"`
	PersistRetries    int      `yaml:"persist_retries"`
	PersistRetryDelay Duration `yaml:"persist_retry_delay"`
}

type StatusConfig struct {
	Listen string `yaml:"listen"` // e.g. 127.0.0.1:8088; empty disables the server
}

type MediaConfig struct {
	Key    string `yaml:"key"`
	Name   string `yaml:"name"`
	Source string `yaml:"source"`

	RSS          *RSSMedia          `yaml:"rss"`
	ChapterIndex *ChapterIndexMedia `yaml:"chapter_index"`
	DatedList    *DatedListMedia    `yaml:"dated_list"`
	Steam        *SteamMedia        `yaml:"steam"`
	Mastodon     *MastodonMedia     `yaml:"mastodon"`
	Reddit       *RedditMedia       `yaml:"reddit"`
	HN           *HNMedia           `yaml:"hn"`
}

type RSSMedia struct {
	URL         string `yaml:"url"`
	IDFrom      string `yaml:"id_from"`
	TitleFrom   string `yaml:"title_from"`
	DedupByDate bool   `yaml:"dedup_by_date"`
}

type ChapterIndexMedia struct {
	URL        string `yaml:"url"`
	Selector   string `yaml:"selector"`
	LinkPrefix string `yaml:"link_prefix"`
}

type DatedListMedia struct {
	URL      string `yaml:"url"`
	Selector string `yaml:"selector"`
}

type SteamMedia struct {
	AppID uint32 `yaml:"app_id"`
}

type MastodonMedia struct {
	Instance       string   `yaml:"instance"`
	AccountID      string   `yaml:"account_id"`
	ReblogsOf      string   `yaml:"reblogs_of"`
	ExcludeLinks   []string `yaml:"exclude_links"`
	AccessTokenEnv string   `yaml:"access_token_env"`

	// Resolved from env var at load time.
	AccessToken string `yaml:"-"`
}

type RedditMedia struct {
	Subreddit string `yaml:"subreddit"`
}

type HNMedia struct {
	User string `yaml:"user"`
}

type SinksConfig struct {
	Console  bool               `yaml:"console"`
	Discord  DiscordSinkConfig  `yaml:"discord"`
	Mastodon MastodonSinkConfig `yaml:"mastodon"`
	Telegram TelegramSinkConfig `yaml:"telegram"`
	Delivery DeliveryConfig     `yaml:"delivery"`
}

type DiscordSinkConfig struct {
	TokenEnv  string `yaml:"token_env"`
	ChannelID string `yaml:"channel_id"`

	// Resolved from env var at load time.
	Token string `yaml:"-"`
}

func (c DiscordSinkConfig) Enabled() bool { return c.ChannelID != "" }

type MastodonSinkConfig struct {
	Instance       string `yaml:"instance"`
	AccessTokenEnv string `yaml:"access_token_env"`
	Language       string `yaml:"language"`

	// Resolved from env var at load time.
	AccessToken string `yaml:"-"`
}

func (c MastodonSinkConfig) Enabled() bool { return c.Instance != "" }

type TelegramSinkConfig struct {
	TokenEnv string `yaml:"token_env"`
	ChatID   int64  `yaml:"chat_id"`
	ThreadID int    `yaml:"thread_id"`

	// Resolved from env var at load time.
	Token string `yaml:"-"`
}

func (c TelegramSinkConfig) Enabled() bool { return c.ChatID != 0 }

type DeliveryConfig struct {
	RatePerSec     *float64 `yaml:"rate_per_sec"` // 0 disables rate limiting
	RetryMax       *int     `yaml:"retry_max"`    // 0 disables retries
	RetryBase      Duration `yaml:"retry_base"`
	RetryMaxDelay  Duration `yaml:"retry_max_delay"`
	AttemptTimeout Duration `yaml:"attempt_timeout"`
}

// Load reads config.yaml from dir, applies defaults, resolves env vars, and validates.
// A .env file next to config.yaml, if present, is loaded first; real
// environment variables take precedence over it.
func Load(dir string) (*Config, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("config dir is required")
	}

	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	envPath := filepath.Join(dir, DefaultEnvFile)
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("load %s: %w", envPath, err)
		}
	}

	applyDefaults(&cfg)
	resolveEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
	if cfg.Poll.Interval.Duration == 0 {
		cfg.Poll.Interval.Duration = engine.DefaultInterval
	}
	if cfg.Watermark.Driver == "" {
		cfg.Watermark.Driver = DefaultDriver
	}
	if cfg.Watermark.Path == "" {
		cfg.Watermark.Path = DefaultStatePath
		if cfg.Watermark.Driver == DriverSQLite {
			cfg.Watermark.Path = DefaultSQLitePath
		}
	}
	if cfg.Watermark.OnPersistError == "" {
		cfg.Watermark.OnPersistError = PolicyWarn
	}
	for i := range cfg.Media {
		cfg.Media[i].Key = strings.TrimSpace(cfg.Media[i].Key)
		cfg.Media[i].Name = strings.TrimSpace(cfg.Media[i].Name)
		if cfg.Media[i].Name == "" {
			cfg.Media[i].Name = cfg.Media[i].Key
		}
	}
	if cfg.Sinks.Mastodon.Language == "" {
		cfg.Sinks.Mastodon.Language = DefaultLanguage
	}

	d := &cfg.Sinks.Delivery
	if d.RatePerSec == nil {
		d.RatePerSec = ptr(DefaultRatePerSec)
	}
	if d.RetryMax == nil {
		d.RetryMax = ptr(DefaultRetryMax)
	}
	if d.RetryBase.Duration == 0 {
		d.RetryBase.Duration = DefaultRetryBase
	}
	if d.RetryMaxDelay.Duration == 0 {
		d.RetryMaxDelay.Duration = DefaultRetryMaxDelay
	}
	if d.AttemptTimeout.Duration == 0 {
		d.AttemptTimeout.Duration = DefaultAttemptTimeout
	}
}

func resolveEnv(cfg *Config) {
	for i := range cfg.Media {
		if mc := cfg.Media[i].Mastodon; mc != nil && mc.AccessTokenEnv != "" {
			mc.AccessToken = os.Getenv(mc.AccessTokenEnv)
		}
	}
	if cfg.Sinks.Discord.TokenEnv != "" {
		cfg.Sinks.Discord.Token = os.Getenv(cfg.Sinks.Discord.TokenEnv)
	}
	if cfg.Sinks.Mastodon.AccessTokenEnv != "" {
		cfg.Sinks.Mastodon.AccessToken = os.Getenv(cfg.Sinks.Mastodon.AccessTokenEnv)
	}
	if cfg.Sinks.Telegram.TokenEnv != "" {
		cfg.Sinks.Telegram.Token = os.Getenv(cfg.Sinks.Telegram.TokenEnv)
	}
}

func validate(cfg *Config) error {
	switch strings.ToLower(cfg.Log.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q (want console or json)", cfg.Log.Format)
	}

	if _, err := privacy.Compile(cfg.Log.Redact); err != nil {
		return fmt.Errorf("log.redact: %w", err)
	}

	if cfg.Poll.Interval.Duration < time.Second {
		return fmt.Errorf("poll.interval: %s is below 1s", cfg.Poll.Interval.Duration)
	}
	if cfg.Poll.Schedule != "" {
		if _, err := ParseSchedule(cfg.Poll.Schedule); err != nil {
			return fmt.Errorf("poll.schedule: %w", err)
		}
	}

	switch cfg.Watermark.Driver {
	case DriverFile, DriverSQLite:
	default:
		return fmt.Errorf("watermark.driver: unknown driver %q (want file or sqlite)", cfg.Watermark.Driver)
	}
	switch cfg.Watermark.OnPersistError {
	case PolicyWarn, PolicyFatal:
	default:
		return fmt.Errorf("watermark.on_persist_error: unknown policy %q (want warn or fatal)", cfg.Watermark.OnPersistError)
	}
	if cfg.Watermark.PersistRetries < 0 {
		return errors.New("watermark.persist_retries: must not be negative")
	}

	if len(cfg.Media) == 0 {
		return errors.New("media: at least one media must be configured")
	}
	seen := make(map[string]bool, len(cfg.Media))
	for i, mc := range cfg.Media {
		if _, err := update.NewMedia(mc.Key, mc.Name); err != nil {
			return fmt.Errorf("media[%d]: %w", i, err)
		}
		if seen[mc.Key] {
			return fmt.Errorf("media[%d]: duplicate key %q", i, mc.Key)
		}
		seen[mc.Key] = true
		if err := validateMediaSource(mc); err != nil {
			return fmt.Errorf("media %s: %w", mc.Key, err)
		}
	}

	if !cfg.Sinks.Console && !cfg.Sinks.Discord.Enabled() && !cfg.Sinks.Mastodon.Enabled() && !cfg.Sinks.Telegram.Enabled() {
		return errors.New("sinks: at least one sink must be configured")
	}
	d := cfg.Sinks.Delivery
	if d.RatePerSec != nil && *d.RatePerSec < 0 {
		return errors.New("sinks.delivery.rate_per_sec: must not be negative")
	}
	if d.RetryMax != nil && *d.RetryMax < 0 {
		return errors.New("sinks.delivery.retry_max: must not be negative")
	}

	return nil
}

// validateMediaSource checks that exactly the block named by source is set.
func validateMediaSource(mc MediaConfig) error {
	blocks := map[string]bool{
		SourceRSS:          mc.RSS != nil,
		SourceChapterIndex: mc.ChapterIndex != nil,
		SourceDatedList:    mc.DatedList != nil,
		SourceSteam:        mc.Steam != nil,
		SourceMastodon:     mc.Mastodon != nil,
		SourceReddit:       mc.Reddit != nil,
		SourceHN:           mc.HN != nil,
	}
	set, known := blocks[mc.Source]
	if !known {
		return fmt.Errorf("unknown source %q", mc.Source)
	}
	if !set {
		return fmt.Errorf("source %s requires a %s block", mc.Source, mc.Source)
	}
	for kind, present := range blocks {
		if present && kind != mc.Source {
			return fmt.Errorf("block %s does not match source %s", kind, mc.Source)
		}
	}
	return nil
}

// ParseSchedule parses a standard 5-field cron expression or a descriptor
// such as "@every 5m".
func ParseSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return parser.Parse(expr)
}

func ptr[T any](v T) *T { return &v }

// Schedule returns the poll schedule: the cron expression if set, else the
// interval.
func (c *Config) Schedule() (cron.Schedule, error) {
	if c.Poll.Schedule != "" {
		return ParseSchedule(c.Poll.Schedule)
	}
	return cron.Every(c.Poll.Interval.Duration), nil
}

// MediaList returns the configured media in order.
func (c *Config) MediaList() []update.Media {
	out := make([]update.Media, 0, len(c.Media))
	for _, mc := range c.Media {
		out = append(out, update.Media{Key: mc.Key, Name: mc.Name})
	}
	return out
}

// StatePath resolves the watermark path relative to the config dir.
func (c *Config) StatePath(dir string) string {
	if filepath.IsAbs(c.Watermark.Path) {
		return c.Watermark.Path
	}
	return filepath.Join(dir, c.Watermark.Path)
}

// Secrets returns every credential resolved from the environment.
func (c *Config) Secrets() []string {
	var out []string
	for _, mc := range c.Media {
		if mc.Mastodon != nil && mc.Mastodon.AccessToken != "" {
			out = append(out, mc.Mastodon.AccessToken)
		}
	}
	for _, s := range []string{c.Sinks.Discord.Token, c.Sinks.Mastodon.AccessToken, c.Sinks.Telegram.Token} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
