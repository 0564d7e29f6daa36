package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ReviewInsights/internal/domain"
)

const (
	defaultTimezone   = "Asia/Taipei"
	configPathEnv     = "REVIEW_INSIGHTS_CONFIG"
	logLevelEnv       = "LOG_LEVEL"
	difyAPIKeyEnv     = "DIFY_API_KEY"
	difyAPIURLEnv     = "DIFY_API_URL"
	sheetsCredsEnv    = "GOOGLE_SHEETS_CREDENTIALS"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
)

const (
	SinkSheets = "sheets"
	SinkSQLite = "sqlite"

	ModeAppend    = "append"
	ModeOverwrite = "overwrite"
)

var (
	// ErrMissingSecret is returned by Validate when a required secret is unset.
	ErrMissingSecret = errors.New("required secret is missing")
	// ErrMalformedCredentials is returned by Validate when the service-account blob is unusable.
	ErrMalformedCredentials = errors.New("malformed service-account credentials")
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Source        SourceConfig       `yaml:"source"`
	Selection     SelectionConfig    `yaml:"selection"`
	Analysis      AnalysisConfig     `yaml:"analysis"`
	Sink          SinkConfig         `yaml:"sink"`
	Notifications NotificationConfig `yaml:"notifications"`
	Apps          []AppConfig        `yaml:"apps"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SchedulerConfig defines when the job should run in scheduled mode.
type SchedulerConfig struct {
	CronExpression string         `yaml:"cronExpression"`
	Timezone       string         `yaml:"timezone"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, err := time.LoadLocation(defaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SourceConfig tunes the store providers.
type SourceConfig struct {
	ReviewsPerApp int           `yaml:"reviewsPerApp"`
	Country       string        `yaml:"country"`
	Language      string        `yaml:"language"`
	Timeout       time.Duration `yaml:"timeout"`
	PlayStoreURL  string        `yaml:"playStoreUrl"`
	AppStoreURL   string        `yaml:"appStoreUrl"`
}

// SelectionConfig bounds how many reviews reach the analysis API per run.
type SelectionConfig struct {
	Quota int `yaml:"quota"`
}

// AnalysisConfig describes how to contact the Dify workflow endpoint.
type AnalysisConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	APIKey      string        `yaml:"apiKey"`
	User        string        `yaml:"user"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"maxAttempts"`
	RetryDelay  time.Duration `yaml:"retryDelay"`
	PacingDelay time.Duration `yaml:"pacingDelay"`
}

// SinkConfig selects and configures the result sink.
type SinkConfig struct {
	Kind   string       `yaml:"kind"`
	Mode   string       `yaml:"mode"`
	Sheets SheetsConfig `yaml:"sheets"`
	SQLite SQLiteConfig `yaml:"sqlite"`
}

// SheetsConfig locates the worksheet receiving result rows.
type SheetsConfig struct {
	SpreadsheetID   string `yaml:"spreadsheetId"`
	SpreadsheetName string `yaml:"spreadsheetName"`
	Worksheet       string `yaml:"worksheet"`
	Credentials     string `yaml:"-"`
}

// SQLiteConfig points at the archive database file.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// AppConfig describes a single store listing.
type AppConfig struct {
	Name     string `yaml:"name"`
	Platform string `yaml:"platform"`
	ID       string `yaml:"id"`
}

// Load reads .env and YAML configuration (if present) and applies environment overrides.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("config: cannot load .env: %v", err)
	}

	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	if len(cfg.Apps) == 0 {
		cfg.Apps = defaultConfig().Apps
	}

	return cfg
}

// Validate reports fatal startup problems: missing secrets, malformed
// credentials or unsupported sink settings.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Analysis.APIKey) == "" {
		return fmt.Errorf("%w: %s", ErrMissingSecret, difyAPIKeyEnv)
	}
	if strings.TrimSpace(c.Analysis.Endpoint) == "" {
		return fmt.Errorf("%w: %s", ErrMissingSecret, difyAPIURLEnv)
	}

	switch c.Sink.Kind {
	case SinkSheets:
		if strings.TrimSpace(c.Sink.Sheets.Credentials) == "" {
			return fmt.Errorf("%w: %s", ErrMissingSecret, sheetsCredsEnv)
		}
		if err := checkCredentials(c.Sink.Sheets.Credentials); err != nil {
			return err
		}
		if c.Sink.Sheets.SpreadsheetID == "" && c.Sink.Sheets.SpreadsheetName == "" {
			return fmt.Errorf("sink: spreadsheet id or name is required")
		}
	case SinkSQLite:
		if c.Sink.SQLite.Path == "" {
			return fmt.Errorf("sink: sqlite path is required")
		}
	default:
		return fmt.Errorf("sink: unsupported kind %q", c.Sink.Kind)
	}

	if c.Sink.Mode != ModeAppend && c.Sink.Mode != ModeOverwrite {
		return fmt.Errorf("sink: unsupported mode %q", c.Sink.Mode)
	}

	return nil
}

// DomainApps converts the configured app list into domain descriptors.
func (c Config) DomainApps() []domain.App {
	apps := make([]domain.App, 0, len(c.Apps))
	for _, app := range c.Apps {
		apps = append(apps, domain.App{
			DisplayName:   app.Name,
			Platform:      parsePlatform(app.Platform),
			PlatformAppID: app.ID,
		})
	}
	return apps
}

func parsePlatform(value string) domain.Platform {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "android":
		return domain.PlatformAndroid
	case "ios":
		return domain.PlatformIOS
	}
	return domain.Platform(value)
}

func checkCredentials(blob string) error {
	var creds struct {
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
	}
	if err := json.Unmarshal([]byte(blob), &creds); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedCredentials, err)
	}
	if creds.ClientEmail == "" || creds.PrivateKey == "" {
		return fmt.Errorf("%w: client_email and private_key are required", ErrMalformedCredentials)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(difyAPIKeyEnv); v != "" {
		c.Analysis.APIKey = v
	}

	if v := os.Getenv(difyAPIURLEnv); v != "" {
		c.Analysis.Endpoint = v
	}

	if v := os.Getenv(sheetsCredsEnv); v != "" {
		c.Sink.Sheets.Credentials = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}

	c.Analysis.APIKey = strings.TrimSpace(c.Analysis.APIKey)
	c.Analysis.Endpoint = strings.TrimSpace(c.Analysis.Endpoint)
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to UTC", tz)
		loc = time.UTC
	}
	c.Scheduler.location = loc
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	if override.Scheduler.CronExpression != "" {
		base.Scheduler.CronExpression = override.Scheduler.CronExpression
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}

	if override.Source.ReviewsPerApp > 0 {
		base.Source.ReviewsPerApp = override.Source.ReviewsPerApp
	}
	if override.Source.Country != "" {
		base.Source.Country = override.Source.Country
	}
	if override.Source.Language != "" {
		base.Source.Language = override.Source.Language
	}
	if override.Source.Timeout > 0 {
		base.Source.Timeout = override.Source.Timeout
	}
	if override.Source.PlayStoreURL != "" {
		base.Source.PlayStoreURL = override.Source.PlayStoreURL
	}
	if override.Source.AppStoreURL != "" {
		base.Source.AppStoreURL = override.Source.AppStoreURL
	}

	if override.Selection.Quota > 0 {
		base.Selection.Quota = override.Selection.Quota
	}

	if override.Analysis.Endpoint != "" {
		base.Analysis.Endpoint = override.Analysis.Endpoint
	}
	if override.Analysis.APIKey != "" {
		base.Analysis.APIKey = override.Analysis.APIKey
	}
	if override.Analysis.User != "" {
		base.Analysis.User = override.Analysis.User
	}
	if override.Analysis.Timeout > 0 {
		base.Analysis.Timeout = override.Analysis.Timeout
	}
	if override.Analysis.MaxAttempts > 0 {
		base.Analysis.MaxAttempts = override.Analysis.MaxAttempts
	}
	if override.Analysis.RetryDelay > 0 {
		base.Analysis.RetryDelay = override.Analysis.RetryDelay
	}
	if override.Analysis.PacingDelay > 0 {
		base.Analysis.PacingDelay = override.Analysis.PacingDelay
	}

	if override.Sink.Kind != "" {
		base.Sink.Kind = override.Sink.Kind
	}
	if override.Sink.Mode != "" {
		base.Sink.Mode = override.Sink.Mode
	}
	if override.Sink.Sheets.SpreadsheetID != "" {
		base.Sink.Sheets.SpreadsheetID = override.Sink.Sheets.SpreadsheetID
	}
	if override.Sink.Sheets.SpreadsheetName != "" {
		base.Sink.Sheets.SpreadsheetName = override.Sink.Sheets.SpreadsheetName
	}
	if override.Sink.Sheets.Worksheet != "" {
		base.Sink.Sheets.Worksheet = override.Sink.Sheets.Worksheet
	}
	if override.Sink.SQLite.Path != "" {
		base.Sink.SQLite.Path = override.Sink.SQLite.Path
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}

	if len(override.Apps) > 0 {
		base.Apps = override.Apps
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Logging:   LoggingConfig{Level: "info"},
		Scheduler: SchedulerConfig{CronExpression: "0 9 * * 1", Timezone: defaultTimezone},
		Source: SourceConfig{
			ReviewsPerApp: 100,
			Country:       "tw",
			Language:      "zh-TW",
			Timeout:       30 * time.Second,
			PlayStoreURL:  "https://play.google.com",
			AppStoreURL:   "https://itunes.apple.com",
		},
		// Keeps the weekly run under the analysis API's monthly call allowance.
		Selection: SelectionConfig{Quota: 40},
		Analysis: AnalysisConfig{
			User:        "review-insights-job",
			Timeout:     60 * time.Second,
			MaxAttempts: 2,
			RetryDelay:  3 * time.Second,
			PacingDelay: time.Second,
		},
		Sink: SinkConfig{
			Kind: SinkSheets,
			Mode: ModeAppend,
			Sheets: SheetsConfig{
				SpreadsheetName: "App Review Insights",
				Worksheet:       "Reviews_DB",
			},
			SQLite: SQLiteConfig{Path: "review_insights.db"},
		},
		Apps: []AppConfig{
			{Name: "Mitake", Platform: "iOS", ID: "352743563"},
			{Name: "Mitake", Platform: "Android", ID: "com.mtk"},
			{Name: "Fugle", Platform: "iOS", ID: "1542310263"},
			{Name: "Fugle", Platform: "Android", ID: "tw.fugle.flutter.app"},
			{Name: "XQ", Platform: "iOS", ID: "642738082"},
			{Name: "XQ", Platform: "Android", ID: "djapp.app.xqm"},
		},
	}
}
