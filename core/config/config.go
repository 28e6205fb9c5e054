package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds Telegram bot related settings that are common for all bots.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	AdminID int64  `yaml:"admin_id" envconfig:"TELEGRAM_ADMIN_ID"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Stacks      string `yaml:"stacks"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	ErrorsFile  string `yaml:"errors_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// UpdateCallback identifies callback updates for rate limit exclusions.
	UpdateCallback = "callback"
	// UpdateMessage identifies message updates for rate limit exclusions.
	UpdateMessage = "message"
	// UpdateInlineQuery identifies inline query updates for rate limit exclusions.
	UpdateInlineQuery = "inline_query"
)

// RateLimitConfig holds settings for rate limiting.
// ExcludeUpdates accepts update types to bypass limiting:
// - "callback": Telegram callback button presses
// - "message": standard text messages
// - "inline_query": inline query updates
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

const (
	// StorageMemory keeps commands, flows and clients in process memory.
	StorageMemory = "memory"
	// StoragePostgres uses the database section.
	StoragePostgres = "postgres"
)

// SenderConfig tunes the asynchronous outbound dispatcher.
type SenderConfig struct {
	Workers        int `yaml:"workers" envconfig:"SENDER_WORKERS"`
	QueueSize      int `yaml:"queue_size" envconfig:"SENDER_QUEUE_SIZE"`
	MaxRetries     int `yaml:"max_retries" envconfig:"SENDER_MAX_RETRIES"`
	RetryBackoffMS int `yaml:"retry_backoff_ms" envconfig:"SENDER_RETRY_BACKOFF_MS"`
	MaxDurationMS  int `yaml:"max_duration_ms" envconfig:"SENDER_MAX_DURATION_MS"`
}

// RetryBackoff returns the linear backoff step.
func (s SenderConfig) RetryBackoff() time.Duration {
	return time.Duration(s.RetryBackoffMS) * time.Millisecond
}

// MaxDuration returns the retry budget of one send.
func (s SenderConfig) MaxDuration() time.Duration {
	return time.Duration(s.MaxDurationMS) * time.Millisecond
}

// DialogConfig controls the flow engine.
type DialogConfig struct {
	// Storage is "postgres" or "memory".
	Storage  string `yaml:"storage" envconfig:"DIALOG_STORAGE"`
	SeedFile string `yaml:"seed_file" envconfig:"DIALOG_SEED_FILE"`
	// ReloadIntervalSeconds rebuilds the catalog periodically; 0 disables the
	// timer and relies on database notifications.
	ReloadIntervalSeconds int `yaml:"reload_interval_seconds" envconfig:"DIALOG_RELOAD_INTERVAL_SECONDS"`
	// Listen enables the LISTEN/NOTIFY catalog watcher for postgres storage.
	Listen bool `yaml:"listen" envconfig:"DIALOG_LISTEN"`

	FallbackMessage    string `yaml:"fallback_message"`
	InvalidMessage     string `yaml:"invalid_message"`
	UnavailableMessage string `yaml:"unavailable_message"`
	// RetryMessage answers a message that could not be processed because the
	// client's session failed to load.
	RetryMessage string `yaml:"retry_message"`
	InvitationButton   string `yaml:"invitation_button"`
	ContinueButton     string `yaml:"continue_button"`

	// StartupRetries bounds transport start attempts; 0 means one attempt.
	StartupRetries   int `yaml:"startup_retries" envconfig:"DIALOG_STARTUP_RETRIES"`
	StartupBackoffMS int `yaml:"startup_backoff_ms" envconfig:"DIALOG_STARTUP_BACKOFF_MS"`

	Sender SenderConfig `yaml:"sender"`
}

// ReloadInterval returns the periodic catalog reload interval.
func (d DialogConfig) ReloadInterval() time.Duration {
	return time.Duration(d.ReloadIntervalSeconds) * time.Second
}

// StartupBackoff returns the delay step between transport start attempts.
func (d DialogConfig) StartupBackoff() time.Duration {
	return time.Duration(d.StartupBackoffMS) * time.Millisecond
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address of the /metrics server; empty disables it.
	Listen string `yaml:"listen" envconfig:"METRICS_LISTEN"`
}

// Config aggregates the configuration that belongs to the reusable core.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Dialog    DialogConfig    `yaml:"dialog"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}

	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" {
		rm = RunModeLongpoll
	}
	if rm == "polling" { // accept alias
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm

	allowed := map[string]struct{}{
		UpdateCallback:    {},
		UpdateMessage:     {},
		UpdateInlineQuery: {},
	}
	for i, v := range cfg.RateLimit.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := allowed[key]; !ok {
			return fmt.Errorf("invalid rate_limit.exclude_updates value %q; allowed: callback, message, inline_query", v)
		}
		cfg.RateLimit.ExcludeUpdates[i] = key
	}
	return normalizeDialog(&cfg.Dialog)
}

func normalizeDialog(d *DialogConfig) error {
	st := strings.ToLower(strings.TrimSpace(d.Storage))
	if st == "" {
		st = StoragePostgres
	}
	switch st {
	case StoragePostgres, StorageMemory:
	default:
		return fmt.Errorf("invalid dialog.storage %q; allowed: postgres, memory", d.Storage)
	}
	d.Storage = st
	if st == StorageMemory {
		d.Listen = false
	}
	if d.ReloadIntervalSeconds < 0 {
		return fmt.Errorf("dialog.reload_interval_seconds must be >= 0")
	}
	if d.StartupRetries < 0 {
		return fmt.Errorf("dialog.startup_retries must be >= 0")
	}
	if d.StartupBackoffMS <= 0 {
		d.StartupBackoffMS = 2000
	}
	if d.Sender.MaxRetries < 0 {
		return fmt.Errorf("dialog.sender.max_retries must be >= 0")
	}
	return nil
}
