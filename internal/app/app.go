package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"wikidaily/internal/bot"
	"wikidaily/internal/config"
	"wikidaily/internal/content"
	"wikidaily/internal/fanout"
	"wikidaily/internal/runtime/supervisor"
	"wikidaily/internal/storage"
	"wikidaily/internal/subscription"
	"wikidaily/internal/task/scheduler"
	kit "wikidaily/internal/transport"
	telegram "wikidaily/internal/transport/telegram/adapter"
	"wikidaily/internal/transport/webhook"
	logx "wikidaily/pkg/logx"
)

// dailySchedule is the scheduler entry that triggers the fan-out.
const dailySchedule = "fanout.daily"

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	store storage.Store

	adapter *telegram.Adapter
	disp    *bot.Dispatcher
	job     *fanout.Job
	sched   *scheduler.Service
	web     *webhook.Server

	mode     string
	username string
	loop     bot.LoopConfig
	updates  chan kit.Update
}

// New loads the config and wires every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logConfig(cfg.Logging))
	closeLogs := func() { _ = logSvc.Close() }

	store, err := storage.Open(storageConfig(cfg.Storage), log.With(logx.String("comp", "storage")))
	if err != nil {
		closeLogs()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.Telegram.PollTimeoutDuration(),
		APIURL:      cfg.Telegram.APIURL,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = store.Close()
		closeLogs()
		return nil, err
	}
	// Warn+ lines can now be mirrored into the operator chat.
	logSvc.SetSender(ad)

	username := cfg.Telegram.BotUsername
	if username == "" {
		username = ad.Username()
	}

	hour := cfg.NotifyHour()
	subs := subscription.New(store, hour, log.With(logx.String("comp", "subscription")))
	src := content.NewWikipedia(content.Config{
		BaseURL:   cfg.Content.BaseURL,
		Timeout:   cfg.Content.TimeoutDuration(),
		UserAgent: cfg.Content.UserAgent,
	})

	a := &App{
		cfgm:     cfgm,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		store:    store,
		adapter:  ad,
		mode:     cfg.Telegram.Mode,
		username: username,
		loop: bot.LoopConfig{
			Workers: cfg.Telegram.Workers,
			Timeout: cfg.HTTP.HandlerTimeoutDuration(),
		},
		updates: make(chan kit.Update, 256),
	}
	a.disp = bot.NewDispatcher(bot.Config{
		BotUsername: username,
		Texts:       bot.DefaultTexts(hour),
	}, subs, src, ad, log.With(logx.String("comp", "bot")))
	a.job = fanout.New(fanoutConfig(cfg.Fanout), subs, src, ad, log.With(logx.String("comp", "fanout")))
	a.sched = scheduler.New(schedulerConfig(cfg.Fanout), log.With(logx.String("comp", "scheduler")))

	if a.mode == config.ModeWebhook || strings.TrimSpace(cfg.HTTP.Addr) != "" {
		a.web = webhook.New(webhookConfig(cfg), a.disp, telegram.DecodeUpdate,
			log.With(logx.String("comp", "http")),
			webhook.WithJob(a.job),
			webhook.WithHealth(a.health),
		)
	}
	return a, nil
}

// Done is closed when the supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	cfg := a.cfgm.Get()
	if cfg.Fanout.Enabled {
		if err := a.registerDaily(cfg.Fanout); err != nil {
			return err
		}
	}
	a.sched.Start(a.sup.Context())

	if a.mode != config.ModeWebhook {
		if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
			return err
		}
		a.sup.Go("bot.dispatch", func(c context.Context) error {
			return a.disp.Loop(c, a.updates, a.loop)
		})
	}
	if a.web != nil {
		a.sup.Go("http", a.web.ListenAndServe)
	}

	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("config.reload", a.reloadLoop)
	a.sup.Go("systemd.watchdog", a.watchdog)

	notifyReady(a.log)
	a.log.Info("app started",
		logx.String("mode", a.mode),
		logx.String("bot", a.username),
		logx.Bool("http", a.web != nil),
		logx.Bool("fanout", cfg.Fanout.Enabled),
	)
	return nil
}

// RunDaily performs one fan-out run in the foreground.
func (a *App) RunDaily(ctx context.Context) (fanout.Report, error) {
	return a.job.Run(ctx)
}

// Handler exposes the HTTP surface. Nil when no HTTP server is configured.
func (a *App) Handler() http.Handler {
	if a.web == nil {
		return nil
	}
	return a.web.Handler()
}

func (a *App) registerDaily(fc config.FanoutConfig) error {
	if _, err := a.sched.AddSchedule(dailySchedule, fc.Schedule, fc.TimeoutDuration(), a.runScheduled); err != nil {
		return fmt.Errorf("register %s: %w", dailySchedule, err)
	}
	return nil
}

func (a *App) runScheduled(ctx context.Context) error {
	_, err := a.job.Run(ctx)
	if errors.Is(err, fanout.ErrAlreadyRunning) {
		a.log.Info("scheduled fan-out skipped; a run is already in progress")
		return nil
	}
	return err
}

func (a *App) health() any {
	out := map[string]any{
		"mode":      a.mode,
		"scheduler": a.sched.Snapshot(),
	}
	if a.sup != nil {
		out["tasks"] = a.sup.Snapshot()
	}
	return out
}

// Stop cancels every component and waits for each within a bounded step.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	notifyStopping(a.log)
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	step := a.stepper(ctx)
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	if a.mode != config.ModeWebhook {
		step("adapter", 3*time.Second, a.adapter.Stop)
	}
	// Dispatcher and HTTP handlers drain before storage closes underneath them.
	step("supervisor", 6*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return a.sup.Err()
}

// Close releases resources of an app that was never started.
func (a *App) Close() error {
	err := a.store.Close()
	_ = a.logs.Close()
	return err
}
