package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "10s", "1m"); empty means the documented default.
type Config struct {
	Telegram     TelegramConfig     `json:"telegram"`
	HTTP         HTTPConfig         `json:"http"`
	Storage      StorageConfig      `json:"storage"`
	Subscription SubscriptionConfig `json:"subscription"`
	Content      ContentConfig      `json:"content"`
	Fanout       FanoutConfig       `json:"fanout"`
	Logging      LoggingConfig      `json:"logging"`
}

const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

type TelegramConfig struct {
	Token string `json:"token"`
	// BotUsername is the suffix accepted in "/start@<name>". Empty means the
	// username reported by getMe.
	BotUsername string `json:"bot_username,omitempty"`
	Mode        string `json:"mode,omitempty"` // polling (default) | webhook
	PollTimeout string `json:"poll_timeout,omitempty"`
	// WebhookSecret is both the URL path segment and the expected
	// X-Telegram-Bot-Api-Secret-Token header (do not log).
	WebhookSecret string `json:"webhook_secret,omitempty"`
	// Workers is the number of dispatch shards in polling mode.
	Workers int `json:"workers,omitempty"`
	// APIURL points at a self-hosted Bot API server. Empty means api.telegram.org.
	APIURL string `json:"api_url,omitempty"`
}

// HTTPConfig controls the HTTP surface (webhook, job trigger, health).
// The server is disabled when Addr is empty and mode is polling.
type HTTPConfig struct {
	Addr           string `json:"addr,omitempty"`
	HandlerTimeout string `json:"handler_timeout,omitempty"`
	DedupWindow    string `json:"dedup_window,omitempty"`
	// JobToken guards POST /jobs/daily as a bearer token (do not log).
	// Empty disables the route.
	JobToken string `json:"job_token,omitempty"`
	// Pprof mounts /debug/pprof behind JobToken.
	Pprof bool `json:"pprof,omitempty"`
}

// StorageConfig selects the key-value backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./wikidaily.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`                 // memory | sqlite | postgres | bolt
	Path        string `json:"path,omitempty"`         // sqlite, bolt
	DSN         string `json:"dsn,omitempty"`          // postgres (do not log)
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

type SubscriptionConfig struct {
	// DefaultHour is stored on new records. Pointer so 0 (midnight) differs
	// from omitted (19).
	DefaultHour *int `json:"default_hour,omitempty"`
}

type ContentConfig struct {
	BaseURL   string `json:"base_url,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// FanoutConfig controls the scheduled delivery run.
type FanoutConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron spec, a daily "HH:MM" or an interval. Empty means
	// daily at subscription.default_hour.
	Schedule   string `json:"schedule,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
	Workers    int    `json:"workers,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
}

// LoggingTelegram mirrors warn+ log lines into an operator chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}
