// Package config provides configuration management for the stock alert service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Provider      ProviderConfig     `mapstructure:"provider"`
	Market        MarketConfig       `mapstructure:"market"`
	Alerts        AlertsConfig       `mapstructure:"alerts"`
	Scheduler     SchedulerConfig    `mapstructure:"scheduler"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Cache         CacheConfig        `mapstructure:"cache"`
	Server        ServerConfig       `mapstructure:"server"`
	Log           LogConfig          `mapstructure:"log"`
	Notifications NotificationConfig `mapstructure:"notifications"`
}

// ProviderConfig selects and tunes the quote provider.
type ProviderConfig struct {
	Name          string        `mapstructure:"name"` // alpha_vantage, chatgpt, gemini
	Timeout       time.Duration `mapstructure:"timeout"`
	MinInterval   time.Duration `mapstructure:"min_interval"`
	QuotaTrip     int           `mapstructure:"quota_trip"`
	QuotaCooldown time.Duration `mapstructure:"quota_cooldown"`
	Fallback      bool          `mapstructure:"fallback"`

	AlphaVantage AlphaVantageConfig `mapstructure:"alpha_vantage"`
	OpenAI       OpenAIConfig       `mapstructure:"openai"`
	Gemini       GeminiConfig       `mapstructure:"gemini"`
}

// AlphaVantageConfig holds Alpha Vantage settings.
type AlphaVantageConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// OpenAIConfig holds OpenAI settings.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// GeminiConfig holds Google Gemini settings.
type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// MarketConfig holds market calendar settings.
type MarketConfig struct {
	Timezone string   `mapstructure:"timezone"`
	Holidays []string `mapstructure:"holidays"` // YYYY-MM-DD
}

// AlertsConfig holds alert gating settings.
type AlertsConfig struct {
	Cooldown            time.Duration `mapstructure:"cooldown"`
	EarningsDefaultDays int           `mapstructure:"earnings_default_days"` // negative disables seeding
	Window              WindowConfig  `mapstructure:"window"`
}

// WindowConfig is the notify window in market time.
type WindowConfig struct {
	Weekdays []string `mapstructure:"weekdays"`
	Start    string   `mapstructure:"start"` // HH:MM
	End      string   `mapstructure:"end"`   // HH:MM
}

// SchedulerConfig holds run scheduling settings.
type SchedulerConfig struct {
	Enabled               bool          `mapstructure:"enabled"`
	FireTimes             []string      `mapstructure:"fire_times"`
	RefreshInterval       time.Duration `mapstructure:"refresh_interval"`
	Concurrency           int           `mapstructure:"concurrency"`
	RunTimeout            time.Duration `mapstructure:"run_timeout"`
	AllowSingleDuringBulk bool          `mapstructure:"allow_single_during_bulk"`
}

// StorageConfig holds database settings.
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// CacheConfig selects the durable backend of the quote cache.
type CacheConfig struct {
	Backend string      `mapstructure:"backend"` // sqlite, redis
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level    string `mapstructure:"level"`
	JSON     bool   `mapstructure:"json"`
	File     bool   `mapstructure:"file"`
	FilePath string `mapstructure:"file_path"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Discord  DiscordConfig  `mapstructure:"discord"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Email    EmailConfig    `mapstructure:"email"`
	Log      bool           `mapstructure:"log"`
}

// DiscordConfig holds the Discord webhook.
type DiscordConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// EmailConfig holds email notification configuration.
type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	To       string `mapstructure:"to"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/stock-alert"
	}
	return filepath.Join(home, ".config", "stock-alert")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider.name", "alpha_vantage")
	v.SetDefault("provider.timeout", 0)
	v.SetDefault("provider.min_interval", 20*time.Second)
	v.SetDefault("provider.quota_trip", 3)
	v.SetDefault("provider.quota_cooldown", 5*time.Minute)
	v.SetDefault("provider.fallback", true)
	v.SetDefault("provider.alpha_vantage.base_url", "https://www.alphavantage.co/query")
	v.SetDefault("provider.openai.model", "gpt-4o-mini-search-preview")
	v.SetDefault("provider.gemini.model", "gemini-2.5-flash-lite")

	v.SetDefault("market.timezone", "America/New_York")
	v.SetDefault("market.holidays", []string{})

	v.SetDefault("alerts.cooldown", 15*time.Minute)
	v.SetDefault("alerts.earnings_default_days", 1)
	v.SetDefault("alerts.window.weekdays", []string{"mon", "tue", "wed", "thu", "fri"})
	v.SetDefault("alerts.window.start", "08:30")
	v.SetDefault("alerts.window.end", "17:00")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.fire_times", []string{"09:35", "12:00", "15:55"})
	v.SetDefault("scheduler.refresh_interval", 0)
	v.SetDefault("scheduler.concurrency", 1)
	v.SetDefault("scheduler.run_timeout", 10*time.Minute)
	v.SetDefault("scheduler.allow_single_during_bulk", false)

	v.SetDefault("storage.db_path", "/data/stocks.db")

	v.SetDefault("cache.backend", "sqlite")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.db", 0)

	v.SetDefault("server.addr", ":8000")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("log.file", false)
	v.SetDefault("log.file_path", "")

	v.SetDefault("notifications.log", true)
	v.SetDefault("notifications.email.smtp_port", 587)
}

// Default returns the built-in defaults with environment overrides applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	applyEnvOverrides(cfg)
	return cfg
}

// Load loads configuration from config.toml in the specified directory.
// If configDir is empty, uses the default config directory. A missing file
// is replaced by a template and the defaults are used.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config.toml: %w", err)
		}
		// Best effort; the directory may be read-only in containers.
		_ = createTemplateConfig(configDir)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QUOTE_PROVIDER"); v != "" {
		cfg.Provider.Name = v
	}
	if v := os.Getenv("ALPHA_VANTAGE_KEY"); v != "" {
		cfg.Provider.AlphaVantage.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Provider.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.Provider.OpenAI.Model = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Provider.Gemini.APIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		cfg.Provider.Gemini.Model = v
	}
	if v := os.Getenv("PROVIDER_MIN_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Provider.MinInterval = time.Duration(ms) * time.Millisecond
		}
	}

	if v := os.Getenv("DISCORD_WEBHOOK"); v != "" {
		cfg.Notifications.Discord.WebhookURL = v
	}

	if v := os.Getenv("MARKET_TZ"); v != "" {
		cfg.Market.Timezone = v
	}
	if v := os.Getenv("ALERT_COOLDOWN_MINUTES"); v != "" {
		if m, err := strconv.Atoi(v); err == nil {
			cfg.Alerts.Cooldown = time.Duration(m) * time.Minute
		}
	}
	if v := os.Getenv("EARNINGS_NOTIFY_DEFAULT_DAYS"); v != "" {
		if d, err := strconv.Atoi(v); err == nil {
			cfg.Alerts.EarningsDefaultDays = d
		}
	}

	if v := os.Getenv("ALERT_FIRE_TIMES"); v != "" {
		cfg.Scheduler.FireTimes = splitList(v)
	}
	if v := os.Getenv("REFRESH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scheduler.RefreshInterval = d
		} else if s, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.RefreshInterval = time.Duration(s) * time.Second
		}
	}
	if v := os.Getenv("RUN_TIMEOUT_SECONDS"); v != "" {
		if s, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.RunTimeout = time.Duration(s) * time.Second
		}
	}

	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.Backend = "redis"
		cfg.Cache.Redis.Addr = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, err := NormalizeProvider(c.Provider.Name); err != nil {
		return err
	}
	if c.Provider.Timeout < 0 || c.Provider.MinInterval < 0 || c.Provider.QuotaCooldown < 0 {
		return fmt.Errorf("provider durations must be non-negative")
	}
	if c.Provider.QuotaTrip < 0 {
		return fmt.Errorf("provider.quota_trip must be non-negative")
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	for _, h := range c.Market.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return fmt.Errorf("invalid holiday %q (must be YYYY-MM-DD)", h)
		}
	}

	if c.Alerts.Cooldown < 0 {
		return fmt.Errorf("alerts.cooldown must be non-negative")
	}
	start, err := ParseClock(c.Alerts.Window.Start)
	if err != nil {
		return fmt.Errorf("alerts.window.start: %w", err)
	}
	end, err := ParseClock(c.Alerts.Window.End)
	if err != nil {
		return fmt.Errorf("alerts.window.end: %w", err)
	}
	if end <= start {
		return fmt.Errorf("alerts.window.end must be after start")
	}
	if _, err := ParseWeekdays(c.Alerts.Window.Weekdays); err != nil {
		return err
	}

	for _, ft := range c.Scheduler.FireTimes {
		if _, err := ParseClock(ft); err != nil {
			return fmt.Errorf("scheduler.fire_times: %w", err)
		}
	}
	if c.Scheduler.RefreshInterval < 0 || c.Scheduler.RunTimeout < 0 {
		return fmt.Errorf("scheduler durations must be non-negative")
	}
	if c.Scheduler.Concurrency < 1 {
		return fmt.Errorf("scheduler.concurrency must be at least 1")
	}

	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	switch c.Cache.Backend {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("invalid cache backend: %s (must be 'sqlite' or 'redis')", c.Cache.Backend)
	}

	return nil
}

// Location loads the market time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Market.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid market timezone %q: %w", c.Market.Timezone, err)
	}
	return loc, nil
}

// NormalizeProvider maps provider names and aliases to the canonical name.
func NormalizeProvider(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "alpha_vantage", "alphavantage", "alpha":
		return "alpha_vantage", nil
	case "chatgpt", "openai":
		return "chatgpt", nil
	case "gemini", "google":
		return "gemini", nil
	}
	return "", fmt.Errorf("invalid quote provider: %s (must be alpha_vantage, chatgpt or gemini)", name)
}

// ParseClock parses HH:MM into minutes after midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q (must be HH:MM)", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// ParseWeekdays parses three-letter weekday names.
func ParseWeekdays(names []string) ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(names))
	for _, n := range names {
		key := strings.ToLower(strings.TrimSpace(n))
		if len(key) > 3 {
			key = key[:3]
		}
		d, ok := weekdayNames[key]
		if !ok {
			return nil, fmt.Errorf("invalid weekday %q", n)
		}
		out = append(out, d)
	}
	return out, nil
}
