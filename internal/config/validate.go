package config

import (
	"errors"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"wikidaily/internal/task/scheduler"
)

// Validate reports every invalid field, keyed by its JSON path.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Telegram),
		validation.Field(&c.HTTP),
		validation.Field(&c.Storage),
		validation.Field(&c.Subscription),
		validation.Field(&c.Content),
		validation.Field(&c.Fanout),
		validation.Field(&c.Logging),
	)
	if c.Telegram.Mode == ModeWebhook && strings.TrimSpace(c.HTTP.Addr) == "" {
		errs, _ := err.(validation.Errors)
		if errs == nil {
			errs = validation.Errors{}
		}
		errs["http"] = validation.Errors{"addr": errors.New("required in webhook mode")}
		return errs
	}
	return err
}

func (t TelegramConfig) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Token, validation.Required),
		validation.Field(&t.Mode, validation.In(ModePolling, ModeWebhook)),
		validation.Field(&t.PollTimeout, validation.By(isDuration)),
		validation.Field(&t.WebhookSecret,
			validation.When(t.Mode == ModeWebhook, validation.Required),
			validation.By(isPathSegment),
		),
		validation.Field(&t.Workers, validation.Min(0)),
		validation.Field(&t.APIURL, validation.By(isHTTPURL)),
	)
}

func (h HTTPConfig) Validate() error {
	return validation.ValidateStruct(&h,
		validation.Field(&h.HandlerTimeout, validation.By(isDuration)),
		validation.Field(&h.DedupWindow, validation.By(isDuration)),
	)
}

func (s StorageConfig) Validate() error {
	file := s.Driver == "sqlite" || s.Driver == "sqlite3" || s.Driver == "bolt" || s.Driver == "boltdb"
	pg := s.Driver == "postgres" || s.Driver == "postgresql"
	return validation.ValidateStruct(&s,
		validation.Field(&s.Driver, validation.In("memory", "sqlite", "sqlite3", "postgres", "postgresql", "bolt", "boltdb")),
		validation.Field(&s.Path, validation.When(file, validation.Required)),
		validation.Field(&s.DSN, validation.When(pg, validation.Required)),
		validation.Field(&s.BusyTimeout, validation.By(isDuration)),
	)
}

func (s SubscriptionConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.DefaultHour, validation.Min(0), validation.Max(23)),
	)
}

func (c ContentConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BaseURL, validation.By(isHTTPURL)),
		validation.Field(&c.Timeout, validation.By(isDuration)),
	)
}

func (f FanoutConfig) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Schedule, validation.By(isSchedule)),
		validation.Field(&f.Timezone, validation.By(isTimezone)),
		validation.Field(&f.Timeout, validation.By(isDuration)),
		validation.Field(&f.Workers, validation.Min(0)),
		validation.Field(&f.RatePerSec, validation.Min(0)),
	)
}

func (l LoggingConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.By(isLevel)),
		validation.Field(&l.File),
		validation.Field(&l.Telegram),
	)
}

func (f LoggingFile) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Path, validation.When(f.Enabled, validation.Required)),
		validation.Field(&f.MaxSizeMB, validation.Min(0)),
		validation.Field(&f.MaxBackups, validation.Min(0)),
		validation.Field(&f.MaxAgeDays, validation.Min(0)),
	)
}

func (t LoggingTelegram) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.ChatID, validation.When(t.Enabled, validation.Required)),
		validation.Field(&t.MinLevel, validation.By(isLevel)),
		validation.Field(&t.RatePerSec, validation.Min(0)),
	)
}

func isDuration(v any) error {
	s, _ := v.(string)
	if strings.TrimSpace(s) == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return errors.New("must be a duration like 10s or 5m")
	}
	if d < 0 {
		return errors.New("must be >= 0")
	}
	return nil
}

func isSchedule(v any) error {
	s, _ := v.(string)
	if strings.TrimSpace(s) == "" {
		return nil
	}
	_, err := scheduler.ParseSchedule(s)
	return err
}

func isTimezone(v any) error {
	s, _ := v.(string)
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if _, err := time.LoadLocation(strings.TrimSpace(s)); err != nil {
		return errors.New("unknown IANA timezone")
	}
	return nil
}

func isLevel(v any) error {
	s, _ := v.(string)
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "debug", "info", "warn", "warning", "error":
		return nil
	}
	return errors.New("must be one of debug, info, warn, error")
}

func isHTTPURL(v any) error {
	s, _ := v.(string)
	if strings.TrimSpace(s) == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an absolute http(s) URL")
	}
	return nil
}

func isPathSegment(v any) error {
	s, _ := v.(string)
	if strings.ContainsAny(s, "/?# ") {
		return errors.New("must not contain '/', '?', '#' or spaces")
	}
	return nil
}
