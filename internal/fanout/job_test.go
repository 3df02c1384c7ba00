package fanout

import (
	"context"
	"errors"
	"iter"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikidaily/internal/content"
	"wikidaily/internal/storage"
	"wikidaily/internal/subscription"
	kit "wikidaily/internal/transport"
	logx "wikidaily/pkg/logx"
)

const url = "https://en.wikipedia.org/wiki/Fan-out"

type recordingSender struct {
	mu       sync.Mutex
	attempts []int64
	fail     map[int64]bool
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
	block    chan struct{}
}

func (s *recordingSender) SendText(ctx context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		cur := s.maxSeen.Load()
		if n <= cur || s.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	if s.block != nil {
		<-s.block
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	s.attempts = append(s.attempts, to.ChatID)
	s.mu.Unlock()
	if text != url {
		return kit.MessageRef{}, errors.New("unexpected text " + text)
	}
	if s.fail[to.ChatID] {
		return kit.MessageRef{}, errors.New("telegram: chat not found")
	}
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (s *recordingSender) sortedAttempts() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]int64(nil), s.attempts...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func staticSource() content.Source {
	return content.SourceFunc(func(context.Context) (string, error) { return url, nil })
}

func subscribed(t *testing.T, ids ...int64) *subscription.Store {
	t.Helper()
	s := subscription.New(storage.NewMemory(), 19, logx.Nop())
	for _, id := range ids {
		require.NoError(t, s.Subscribe(context.Background(), id))
	}
	return s
}

func fastConfig() Config {
	return Config{Workers: 3, RatePerSec: 10000}
}

func TestRunIsolatesDeliveryFailures(t *testing.T) {
	subs := subscribed(t, 1, 2, 3)
	sender := &recordingSender{fail: map[int64]bool{2: true}}
	job := New(fastConfig(), subs, staticSource(), sender, logx.Nop())

	rep, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3}, sender.sortedAttempts())
	assert.Equal(t, url, rep.Content)
	assert.Equal(t, 3, rep.Total)
	assert.Equal(t, 2, rep.Delivered)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, []int64{2}, rep.Failures)
}

func TestRunSkipsInactive(t *testing.T) {
	subs := subscribed(t, 1, 2, 3)
	_, err := subs.Unsubscribe(context.Background(), 3)
	require.NoError(t, err)
	sender := &recordingSender{}

	rep, err := New(fastConfig(), subs, staticSource(), sender, logx.Nop()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, sender.sortedAttempts())
	assert.Equal(t, 2, rep.Delivered)
}

func TestRunAbortsWhenContentFails(t *testing.T) {
	subs := subscribed(t, 1, 2, 3)
	sender := &recordingSender{}
	src := content.SourceFunc(func(context.Context) (string, error) {
		return "", content.ErrUnavailable
	})

	rep, err := New(fastConfig(), subs, src, sender, logx.Nop()).Run(context.Background())
	assert.ErrorIs(t, err, content.ErrUnavailable)
	assert.Empty(t, sender.sortedAttempts())
	assert.Zero(t, rep.Total)
}

type brokenScan struct{ before []int64 }

func (b brokenScan) ListActive(context.Context) iter.Seq2[subscription.Record, error] {
	return func(yield func(subscription.Record, error) bool) {
		for _, id := range b.before {
			if !yield(subscription.Record{ChatID: id, Active: true}, nil) {
				return
			}
		}
		yield(subscription.Record{}, errors.Join(subscription.ErrStoreUnavailable, errors.New("scan timeout")))
	}
}

func TestRunScanFailureKeepsCommittedDeliveries(t *testing.T) {
	sender := &recordingSender{}
	job := New(fastConfig(), brokenScan{before: []int64{10, 11}}, staticSource(), sender, logx.Nop())

	rep, err := job.Run(context.Background())
	assert.ErrorIs(t, err, subscription.ErrStoreUnavailable)
	assert.Equal(t, []int64{10, 11}, sender.sortedAttempts())
	assert.Equal(t, 2, rep.Delivered)
}

func TestRunBoundsConcurrency(t *testing.T) {
	ids := make([]int64, 0, 40)
	for i := int64(1); i <= 40; i++ {
		ids = append(ids, i)
	}
	subs := subscribed(t, ids...)
	sender := &recordingSender{delay: 2 * time.Millisecond}

	rep, err := New(Config{Workers: 4, RatePerSec: 100000}, subs, staticSource(), sender, logx.Nop()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 40, rep.Delivered)
	assert.LessOrEqual(t, sender.maxSeen.Load(), int32(4))
}

func TestRunRejectsOverlap(t *testing.T) {
	subs := subscribed(t, 1)
	sender := &recordingSender{block: make(chan struct{})}
	job := New(fastConfig(), subs, staticSource(), sender, logx.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := job.Run(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool { return sender.inFlight.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	_, err := job.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(sender.block)
	require.NoError(t, <-done)
}

func TestRunHonorsDeadline(t *testing.T) {
	ids := make([]int64, 0, 20)
	for i := int64(1); i <= 20; i++ {
		ids = append(ids, i)
	}
	subs := subscribed(t, ids...)
	sender := &recordingSender{delay: 50 * time.Millisecond}
	job := New(Config{Workers: 1, RatePerSec: 10000, Timeout: 120 * time.Millisecond}, subs, staticSource(), sender, logx.Nop())

	rep, err := job.Run(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, rep.Delivered, 20)
}

func TestApplyTakesEffectOnNextRun(t *testing.T) {
	ids := make([]int64, 0, 12)
	for i := int64(1); i <= 12; i++ {
		ids = append(ids, i)
	}
	subs := subscribed(t, ids...)
	sender := &recordingSender{delay: 2 * time.Millisecond}
	job := New(Config{Workers: 6, RatePerSec: 100000}, subs, staticSource(), sender, logx.Nop())

	job.Apply(Config{Workers: 1, RatePerSec: 100000})
	rep, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, rep.Delivered)
	assert.Equal(t, int32(1), sender.maxSeen.Load())
}
