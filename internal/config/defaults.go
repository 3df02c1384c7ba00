package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultNotifyHour     = 19
	DefaultPollTimeout    = 10 * time.Second
	DefaultHandlerTimeout = 30 * time.Second
	DefaultDedupWindow    = 10 * time.Minute
	DefaultContentTimeout = 10 * time.Second
	DefaultFanoutTimeout  = 30 * time.Minute
)

// applyDefaults fills fields whose zero value is not a usable setting.
func (c *Config) applyDefaults() {
	c.Telegram.Mode = strings.ToLower(strings.TrimSpace(c.Telegram.Mode))
	if c.Telegram.Mode == "" {
		c.Telegram.Mode = ModePolling
	}
	c.Telegram.BotUsername = strings.TrimPrefix(strings.TrimSpace(c.Telegram.BotUsername), "@")
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if strings.TrimSpace(c.Fanout.Schedule) == "" {
		c.Fanout.Schedule = fmt.Sprintf("%02d:00", c.NotifyHour())
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
}

// NotifyHour is subscription.default_hour or 19 when omitted.
func (c *Config) NotifyHour() int {
	if c.Subscription.DefaultHour == nil {
		return DefaultNotifyHour
	}
	return *c.Subscription.DefaultHour
}

// Duration accessors. Validate has already rejected malformed values, so a
// parse error here falls back to the default.

func (t TelegramConfig) PollTimeoutDuration() time.Duration {
	return durationOr(t.PollTimeout, DefaultPollTimeout)
}

func (h HTTPConfig) HandlerTimeoutDuration() time.Duration {
	return durationOr(h.HandlerTimeout, DefaultHandlerTimeout)
}

func (h HTTPConfig) DedupWindowDuration() time.Duration {
	return durationOr(h.DedupWindow, DefaultDedupWindow)
}

func (s StorageConfig) BusyTimeoutDuration() time.Duration {
	return durationOr(s.BusyTimeout, 0)
}

func (c ContentConfig) TimeoutDuration() time.Duration {
	return durationOr(c.Timeout, DefaultContentTimeout)
}

func (f FanoutConfig) TimeoutDuration() time.Duration {
	return durationOr(f.Timeout, DefaultFanoutTimeout)
}

// durationOr returns def for empty, unparsable or non-positive values.
// Validate rejects the unparsable ones before a config is committed.
func durationOr(raw string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return def
	}
	return d
}
