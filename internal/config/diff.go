package config

import (
	"reflect"
	"strings"

	logx "wikidaily/pkg/logx"
)

// Sections that a running process can re-apply without a restart.
const (
	SectionLogging = "logging"
	SectionFanout  = "fanout"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Secrets (token, webhook secret, DSN, job
// token) are reported only as "_set" flags.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.mode", newCfg.Telegram.Mode),
			logx.String("telegram.bot_username", newCfg.Telegram.BotUsername),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.Bool("telegram.webhook_secret_set", newCfg.Telegram.WebhookSecret != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.job_token_set", newCfg.HTTP.JobToken != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
			logx.Bool("storage.dsn_set", newCfg.Storage.DSN != ""),
		)
	}
	if oldCfg.NotifyHour() != newCfg.NotifyHour() {
		changed = append(changed, "subscription")
		attrs = append(attrs, logx.Int("subscription.default_hour", newCfg.NotifyHour()))
	}
	if oldCfg.Content != newCfg.Content {
		changed = append(changed, "content")
		attrs = append(attrs, logx.String("content.base_url", newCfg.Content.BaseURL))
	}
	if oldCfg.Fanout != newCfg.Fanout {
		changed = append(changed, SectionFanout)
		attrs = append(attrs,
			logx.Bool("fanout.enabled", newCfg.Fanout.Enabled),
			logx.String("fanout.schedule", newCfg.Fanout.Schedule),
			logx.String("fanout.timezone", newCfg.Fanout.Timezone),
			logx.Int("fanout.workers", newCfg.Fanout.Workers),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, SectionLogging)
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}
	return changed, attrs
}

// RequiresRestart reports changed sections that are only read at startup.
func RequiresRestart(changed []string) []string {
	var out []string
	for _, s := range changed {
		if s != SectionLogging && s != SectionFanout {
			out = append(out, s)
		}
	}
	return out
}
