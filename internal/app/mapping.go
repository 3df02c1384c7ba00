package app

import (
	"wikidaily/internal/config"
	"wikidaily/internal/fanout"
	"wikidaily/internal/storage"
	"wikidaily/internal/task/scheduler"
	"wikidaily/internal/transport/webhook"
	logx "wikidaily/pkg/logx"
)

func logConfig(lc config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled:    lc.File.Enabled,
			Path:       lc.File.Path,
			MaxSizeMB:  lc.File.MaxSizeMB,
			MaxBackups: lc.File.MaxBackups,
			MaxAgeDays: lc.File.MaxAgeDays,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			ChatID:     lc.Telegram.ChatID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

func storageConfig(sc config.StorageConfig) storage.Config {
	return storage.Config{
		Driver:      sc.Driver,
		Path:        sc.Path,
		DSN:         sc.DSN,
		BusyTimeout: sc.BusyTimeoutDuration(),
	}
}

func fanoutConfig(fc config.FanoutConfig) fanout.Config {
	return fanout.Config{
		Workers:    fc.Workers,
		RatePerSec: fc.RatePerSec,
		Timeout:    fc.TimeoutDuration(),
	}
}

func schedulerConfig(fc config.FanoutConfig) scheduler.Config {
	return scheduler.Config{Enabled: fc.Enabled, Timezone: fc.Timezone}
}

func webhookConfig(cfg *config.Config) webhook.Config {
	wc := webhook.Config{
		Addr:           cfg.HTTP.Addr,
		HandlerTimeout: cfg.HTTP.HandlerTimeoutDuration(),
		DedupWindow:    cfg.HTTP.DedupWindowDuration(),
		JobToken:       cfg.HTTP.JobToken,
		Profiler:       cfg.HTTP.Pprof,
	}
	// In polling mode the server only carries health and the job trigger.
	if cfg.Telegram.Mode == config.ModeWebhook {
		wc.Secret = cfg.Telegram.WebhookSecret
	}
	return wc
}
