// Package config loads and validates watcher configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pedeee/ticketwatch/internal/extract"
	"github.com/pedeee/ticketwatch/internal/fetch"
)

// Config captures every knob the watcher reads, loaded via Viper.
type Config struct {
	Paths     PathsConfig    `mapstructure:"paths"`
	Watch     WatchConfig    `mapstructure:"watch"`
	Fetch     FetchConfig    `mapstructure:"fetch"`
	Extract   ExtractConfig  `mapstructure:"extract"`
	Ops       OpsConfig      `mapstructure:"ops"`
	Telegram  TelegramConfig `mapstructure:"telegram"`
	PubSub    PubSubConfig   `mapstructure:"pubsub"`
	History   HistoryConfig  `mapstructure:"history"`
	Snapshots SnapshotConfig `mapstructure:"snapshots"`
	Logging   LoggingConfig  `mapstructure:"logging"`
}

// PathsConfig names the watcher's data files.
type PathsConfig struct {
	URLFile    string `mapstructure:"url_file"`
	StateFile  string `mapstructure:"state_file"`
	FailedFile string `mapstructure:"failed_file"`
	BatchDir   string `mapstructure:"batch_dir"`
}

// WatchConfig governs run shape: selection size, concurrency, pacing,
// retries, and reporting cadence.
type WatchConfig struct {
	TargetCount     int           `mapstructure:"target_count"`
	Concurrency     int           `mapstructure:"concurrency"`
	RequestDelay    time.Duration `mapstructure:"request_delay"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay   time.Duration `mapstructure:"retry_max_delay"`
	ProgressEvery   int           `mapstructure:"progress_every"`
	CheckpointEvery int           `mapstructure:"checkpoint_every"`
}

// FetchConfig configures the transport stack.
type FetchConfig struct {
	Timeout             time.Duration `mapstructure:"timeout"`
	HeadlessMode        string        `mapstructure:"headless_mode"`
	HeadlessMaxParallel int           `mapstructure:"headless_max_parallel"`
	NavTimeout          time.Duration `mapstructure:"nav_timeout"`
	SettleDelay         time.Duration `mapstructure:"settle_delay"`
	BypassEnabled       bool          `mapstructure:"bypass_enabled"`
	UserAgents          []string      `mapstructure:"user_agents"`
}

// ExtractConfig tunes the status heuristics.
type ExtractConfig struct {
	PriceSelector      string   `mapstructure:"price_selector"`
	HighPriceThreshold float64  `mapstructure:"high_price_threshold"`
	ExcludeHints       []string `mapstructure:"exclude_hints"`
}

// OpsConfig controls the health/metrics endpoint.
type OpsConfig struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// TelegramConfig holds bot-notification settings.
type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	ChatID  string `mapstructure:"chat_id"`
}

// PubSubConfig holds metadata for run-outcome publication.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// HistoryConfig controls access to the run-history database.
type HistoryConfig struct {
	DSN string `mapstructure:"dsn"`
}

// SnapshotConfig selects where changed pages are archived.
type SnapshotConfig struct {
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Snapshot backends.
const (
	SnapshotOff   = "off"
	SnapshotLocal = "local"
	SnapshotGCS   = "gcs"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TICKETWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("paths.url_file", "urls.txt")
	v.SetDefault("paths.state_file", "state.json")
	v.SetDefault("paths.failed_file", "failed_urls.json")
	v.SetDefault("paths.batch_dir", "url_batches")
	v.SetDefault("watch.target_count", 250)
	v.SetDefault("watch.concurrency", 10)
	v.SetDefault("watch.request_delay", 750*time.Millisecond)
	v.SetDefault("watch.retry_attempts", 3)
	v.SetDefault("watch.retry_base_delay", 500*time.Millisecond)
	v.SetDefault("watch.retry_max_delay", 8*time.Second)
	v.SetDefault("watch.progress_every", 20)
	v.SetDefault("watch.checkpoint_every", 25)
	v.SetDefault("fetch.timeout", 35*time.Second)
	v.SetDefault("fetch.headless_mode", fetch.ModeOff)
	v.SetDefault("fetch.headless_max_parallel", 2)
	v.SetDefault("fetch.nav_timeout", 45*time.Second)
	v.SetDefault("fetch.settle_delay", 500*time.Millisecond)
	v.SetDefault("fetch.bypass_enabled", true)
	v.SetDefault("extract.price_selector", extract.SelectLowest)
	v.SetDefault("extract.high_price_threshold", 200.0)
	v.SetDefault("snapshots.backend", SnapshotOff)
	v.SetDefault("snapshots.dir", "snapshots")
	v.SetDefault("snapshots.prefix", "pages")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Paths.URLFile == "" {
		return fmt.Errorf("paths.url_file must be set")
	}
	if c.Watch.Concurrency <= 0 {
		return fmt.Errorf("watch.concurrency must be > 0")
	}
	if c.Watch.TargetCount < 0 {
		return fmt.Errorf("watch.target_count must be >= 0")
	}
	if c.Watch.RetryAttempts <= 0 {
		return fmt.Errorf("watch.retry_attempts must be > 0")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	switch c.Fetch.HeadlessMode {
	case fetch.ModeOff, fetch.ModeAuto, fetch.ModeAlways:
	default:
		return fmt.Errorf("fetch.headless_mode must be off, auto, or always")
	}
	if c.Fetch.HeadlessMode != fetch.ModeOff && c.Fetch.HeadlessMaxParallel < 0 {
		return fmt.Errorf("fetch.headless_max_parallel must be >= 0")
	}
	switch c.Extract.PriceSelector {
	case extract.SelectLowest, extract.SelectHighest:
	default:
		return fmt.Errorf("extract.price_selector must be lowest or highest")
	}
	if c.Telegram.Enabled && (c.Telegram.Token == "" || c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.token and telegram.chat_id must be set when telegram is enabled")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	switch c.Snapshots.Backend {
	case SnapshotOff, SnapshotLocal, SnapshotGCS:
	default:
		return fmt.Errorf("snapshots.backend must be off, local, or gcs")
	}
	if c.Snapshots.Backend == SnapshotGCS && c.Snapshots.GCSBucket == "" {
		return fmt.Errorf("snapshots.gcs_bucket must be set when snapshots.backend is gcs")
	}
	return nil
}

// ForURLFile rebinds the data files to one explicit URL list, so a
// batch job keeps its own state and failed files next to the list.
func (p PathsConfig) ForURLFile(urlFile string) PathsConfig {
	if urlFile == "" || urlFile == p.URLFile {
		return p
	}
	return PathsConfig{
		URLFile:    urlFile,
		StateFile:  urlFile + ".state.json",
		FailedFile: urlFile + ".failed.json",
		BatchDir:   p.BatchDir,
	}
}
