// Package fanout sends one content item to every active subscriber.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"wikidaily/internal/content"
	"wikidaily/internal/subscription"
	kit "wikidaily/internal/transport"
	logx "wikidaily/pkg/logx"
)

// ErrAlreadyRunning is returned when a trigger fires while a run is in flight.
var ErrAlreadyRunning = errors.New("fan-out run already in progress")

// maxReportedFailures bounds Report.Failures.
const maxReportedFailures = 200

type Config struct {
	Workers    int           // concurrent deliveries; default 4
	RatePerSec int           // delivery rate cap; default 25
	Timeout    time.Duration // whole-run deadline; 0 keeps the caller's
}

// Lister is the part of subscription.Store the job reads.
type Lister interface {
	ListActive(ctx context.Context) iter.Seq2[subscription.Record, error]
}

// Report summarizes one run. Per-recipient failures never fail the run.
type Report struct {
	RunID     string        `json:"run_id"`
	Content   string        `json:"content"`
	Total     int           `json:"total"`
	Delivered int           `json:"delivered"`
	Failed    int           `json:"failed"`
	Failures  []int64       `json:"failures,omitempty"`
	Started   time.Time     `json:"started"`
	Took      time.Duration `json:"took"`
}

type Job struct {
	cfg     Config
	subs    Lister
	content content.Source
	sender  kit.Sender
	log     logx.Logger

	mu      sync.Mutex
	running atomic.Bool
	seq     atomic.Uint64
}

func New(cfg Config, subs Lister, src content.Source, sender kit.Sender, log logx.Logger) *Job {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Job{cfg: withDefaults(cfg), subs: subs, content: src, sender: sender, log: log}
}

func withDefaults(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 25
	}
	return cfg
}

// Apply replaces the tuning for the next run. A run in flight keeps its own.
func (j *Job) Apply(cfg Config) {
	j.mu.Lock()
	j.cfg = withDefaults(cfg)
	j.mu.Unlock()
}

func (j *Job) config() Config {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cfg
}

// Run fetches one content item and delivers it to every active subscriber.
//
// A content failure aborts before any delivery. A scan failure stops feeding
// new recipients; deliveries already in flight finish and stand. Either case
// returns an error alongside the partial report.
func (j *Job) Run(ctx context.Context) (Report, error) {
	if !j.running.CompareAndSwap(false, true) {
		return Report{}, ErrAlreadyRunning
	}
	defer j.running.Store(false)

	cfg := j.config()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	rep := Report{RunID: "fanout:" + strconv.FormatUint(j.seq.Add(1), 10), Started: time.Now()}
	log := j.log.With(logx.String("run", rep.RunID))

	url, err := j.content.Random(ctx)
	if err != nil {
		rep.Took = time.Since(rep.Started)
		log.Error("content fetch failed; run aborted", logx.Err(err))
		return rep, fmt.Errorf("fetch content: %w", err)
	}
	rep.Content = url
	log.Info("fan-out started", logx.String("content", url), logx.Int("workers", cfg.Workers))

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
		targets = make(chan int64)
	)
	record := func(chatID int64, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			rep.Delivered++
			return
		}
		rep.Failed++
		if len(rep.Failures) < maxReportedFailures {
			rep.Failures = append(rep.Failures, chatID)
		}
	}

	wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go func(idx int) {
			defer wg.Done()
			for chatID := range targets {
				err := j.deliver(ctx, limiter, chatID, url)
				if err != nil {
					log.Warn("delivery failed", logx.Int64("chat_id", chatID), logx.Int("worker", idx), logx.Err(err))
				}
				record(chatID, err)
			}
		}(i)
	}

	var scanErr error
feed:
	for rec, err := range j.subs.ListActive(ctx) {
		if err != nil {
			scanErr = err
			break
		}
		if err := ctx.Err(); err != nil {
			scanErr = err
			break
		}
		select {
		case targets <- rec.ChatID:
			rep.Total++
		case <-ctx.Done():
			scanErr = ctx.Err()
			break feed
		}
	}
	close(targets)
	wg.Wait()
	rep.Took = time.Since(rep.Started)

	fields := []logx.Field{
		logx.Int("total", rep.Total),
		logx.Int("delivered", rep.Delivered),
		logx.Int("failed", rep.Failed),
		logx.Duration("took", rep.Took),
	}
	if scanErr != nil {
		log.Error("fan-out stopped early", append(fields, logx.Err(scanErr))...)
		return rep, fmt.Errorf("list active subscriptions: %w", scanErr)
	}
	if rep.Failed > 0 {
		log.Warn("fan-out finished with failures", fields...)
	} else {
		log.Info("fan-out finished", fields...)
	}
	return rep, nil
}

// deliver sends to one recipient. A panic in the sender counts as that
// recipient's failure only.
func (j *Job) deliver(ctx context.Context, limiter *rate.Limiter, chatID int64, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			j.log.Error("panic in delivery", logx.Int64("chat_id", chatID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	_, err = j.sender.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, nil)
	return err
}
