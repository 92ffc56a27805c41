// Package config loads bridge configuration from a JSON file or from
// the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the top-level bridge configuration.
type Config struct {
	Bot        BotConfig        `json:"bot"`
	Gateway    GatewayConfig    `json:"gateway"`
	Storage    StorageConfig    `json:"storage"`
	Card       CardConfig       `json:"card"`
	Connectors ConnectorConfig  `json:"connectors"`
	Retention  *RetentionConfig `json:"retention,omitempty"`
	API        APIConfig        `json:"api"`
}

// BotConfig is the registered bot application identity, used to
// authenticate connector calls and to scope proactive conversation
// re-entry.
type BotConfig struct {
	AppID       string `json:"app_id"`
	AppPassword string `json:"app_password"`
}

// GatewayConfig is the ticketing-system endpoint and credential pair.
// All three values may be absent at startup; the gateway client
// rejects sends until they are present.
type GatewayConfig struct {
	URL    string `json:"url"`
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

// StorageConfig selects and locates the ticket context store backend.
type StorageConfig struct {
	Backend string `json:"backend,omitempty"` // "file" (default) or "sqlite"
	Path    string `json:"path"`
}

// CardConfig holds card validation settings.
type CardConfig struct {
	SchemaURL string `json:"schema_url,omitempty"` // override of the published schema
}

// ConnectorConfig holds settings for the supplemental chat platforms.
type ConnectorConfig struct {
	Slack    *SlackConfig    `json:"slack,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

// SlackConfig holds Slack Socket Mode settings.
type SlackConfig struct {
	BotToken string   `json:"bot_token"`
	AppToken string   `json:"app_token"`
	Channels []string `json:"channels,omitempty"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token     string  `json:"token"`
	AllowFrom []int64 `json:"allow_from,omitempty"`
}

// RetentionConfig enables scheduled eviction of stale ticket contexts.
type RetentionConfig struct {
	Schedule   string `json:"schedule"` // cron expression or @hourly etc.
	MaxAgeDays int    `json:"max_age_days"`
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Key  string `json:"api_key"` // bearer key for the ticketing-system endpoints
}

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds configuration from environment variables. The bot
// identity keeps the variable names of the original Azure deployment;
// everything else uses a BRIDGE_ prefix.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Bot: BotConfig{
			AppID:       os.Getenv("MicrosoftAppId"),
			AppPassword: os.Getenv("MicrosoftAppPassword"),
		},
		Gateway: GatewayConfig{
			URL:    os.Getenv("BRIDGE_GATEWAY_URL"),
			Key:    os.Getenv("BRIDGE_GATEWAY_KEY"),
			Secret: os.Getenv("BRIDGE_GATEWAY_SECRET"),
		},
		Storage: StorageConfig{
			Backend: os.Getenv("BRIDGE_STORAGE_BACKEND"),
			Path:    os.Getenv("BRIDGE_STORAGE_PATH"),
		},
		Card: CardConfig{
			SchemaURL: os.Getenv("BRIDGE_CARD_SCHEMA_URL"),
		},
		API: APIConfig{
			Host: getenv("BRIDGE_API_HOST", "0.0.0.0"),
			Port: getenvInt("PORT", 8000),
			Key:  os.Getenv("BRIDGE_API_KEY"),
		},
	}

	if token := os.Getenv("BRIDGE_SLACK_BOT_TOKEN"); token != "" {
		cfg.Connectors.Slack = &SlackConfig{
			BotToken: token,
			AppToken: os.Getenv("BRIDGE_SLACK_APP_TOKEN"),
		}
	}
	if token := os.Getenv("BRIDGE_TELEGRAM_TOKEN"); token != "" {
		cfg.Connectors.Telegram = &TelegramConfig{Token: token}
		if ids := os.Getenv("BRIDGE_TELEGRAM_ALLOW_FROM"); ids != "" {
			parsed, err := parseInt64List(ids)
			if err != nil {
				return nil, fmt.Errorf("config: BRIDGE_TELEGRAM_ALLOW_FROM: %w", err)
			}
			cfg.Connectors.Telegram.AllowFrom = parsed
		}
	}
	if schedule := os.Getenv("BRIDGE_RETENTION_SCHEDULE"); schedule != "" {
		cfg.Retention = &RetentionConfig{
			Schedule:   schedule,
			MaxAgeDays: getenvInt("BRIDGE_RETENTION_MAX_AGE_DAYS", 30),
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Storage.Backend == "" {
		c.Storage.Backend = "file"
	}
	if c.Storage.Path == "" {
		if c.Storage.Backend == "sqlite" {
			c.Storage.Path = "contexts.db"
		} else {
			c.Storage.Path = "storage.json"
		}
	}
	if c.API.Port == 0 {
		c.API.Port = 8000
	}
}

// Validate checks for required fields. The gateway credential trio is
// deliberately not required here: its absence fails the relay call
// that needs it, not process startup.
func (c *Config) Validate() error {
	var errs []string

	switch c.Storage.Backend {
	case "file", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("storage.backend must be \"file\" or \"sqlite\", got %q", c.Storage.Backend))
	}

	if c.Connectors.Slack != nil {
		if c.Connectors.Slack.BotToken == "" {
			errs = append(errs, "connectors.slack.bot_token is required")
		}
		if c.Connectors.Slack.AppToken == "" {
			errs = append(errs, "connectors.slack.app_token is required")
		}
	}
	if c.Connectors.Telegram != nil && c.Connectors.Telegram.Token == "" {
		errs = append(errs, "connectors.telegram.token is required")
	}

	if c.Retention != nil {
		if c.Retention.Schedule == "" {
			errs = append(errs, "retention.schedule is required")
		}
		if c.Retention.MaxAgeDays <= 0 {
			errs = append(errs, "retention.max_age_days must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func parseInt64List(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	result := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", p)
		}
		result = append(result, n)
	}
	return result, nil
}
