package bot

import (
	"context"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	kit "wikidaily/internal/transport"
	logx "wikidaily/pkg/logx"
)

// LoopConfig tunes the long-poll dispatch loop.
type LoopConfig struct {
	Workers int           // default 4
	Timeout time.Duration // per update; default 30s
}

// Loop consumes updates until ctx is cancelled or updates is closed.
//
// Updates are sharded by chat id, so commands from one chat are handled in
// arrival order while different chats proceed in parallel.
func (d *Dispatcher) Loop(ctx context.Context, updates <-chan kit.Update, cfg LoopConfig) error {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	shards := make([]chan kit.Event, workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan kit.Event, 32)
		wg.Add(1)
		go func(idx int, in <-chan kit.Event) {
			defer wg.Done()
			wlog := d.log.With(logx.String("worker", "dispatch."+strconv.Itoa(idx)))
			for ev := range in {
				d.handleSafe(ctx, ev, timeout, wlog)
			}
		}(i, shards[i])
	}
	d.log.Info("command dispatcher started", logx.Int("workers", workers))

	defer func() {
		for _, ch := range shards {
			close(ch)
		}
		wg.Wait()
		d.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			ev, ok := kit.EventFromUpdate(up)
			if !ok {
				continue
			}
			shard := shards[shardFor(ev.ChatID, workers)]
			select {
			case shard <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func shardFor(chatID int64, n int) int {
	return int(uint64(chatID) % uint64(n))
}

func (d *Dispatcher) handleSafe(parent context.Context, ev kit.Event, timeout time.Duration, log logx.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in command handler", logx.Int64("chat_id", ev.ChatID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	// Handle already logged the failure and replied; nothing to escalate in poll mode.
	_ = d.Handle(ctx, ev)
}
