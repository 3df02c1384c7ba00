package bot

import (
	"context"
	"errors"
	"sync"
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

type sent struct {
	chatID int64
	text   string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{chatID: to.ChatID, text: text})
	if f.err != nil {
		return kit.MessageRef{}, f.err
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeSender) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

type writeCountingKV struct {
	storage.Store
	mu     sync.Mutex
	writes int
}

func (w *writeCountingKV) Put(ctx context.Context, rec storage.Record) error {
	w.mu.Lock()
	w.writes++
	w.mu.Unlock()
	return w.Store.Put(ctx, rec)
}

type brokenKV struct{ storage.Store }

func (brokenKV) Get(context.Context, int64) (storage.Record, bool, error) {
	return storage.Record{}, false, errors.Join(storage.ErrUnavailable, errors.New("dial tcp: refused"))
}

const article = "https://en.wikipedia.org/wiki/Gopher"

type fixture struct {
	d      *Dispatcher
	kv     *writeCountingKV
	subs   *subscription.Store
	sender *fakeSender
	texts  Texts
}

func newFixture(t *testing.T, src content.Source) *fixture {
	t.Helper()
	if src == nil {
		src = content.SourceFunc(func(context.Context) (string, error) { return article, nil })
	}
	kv := &writeCountingKV{Store: storage.NewMemory()}
	subs := subscription.New(kv, 19, logx.Nop())
	sender := &fakeSender{}
	texts := DefaultTexts(19)
	d := NewDispatcher(Config{BotUsername: "wikidailybot", Texts: texts}, subs, src, sender, logx.Nop())
	return &fixture{d: d, kv: kv, subs: subs, sender: sender, texts: texts}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text string
		bot  string
		want Command
	}{
		{"/start", "wikidailybot", Subscribe},
		{"/start@wikidailybot", "wikidailybot", Subscribe},
		{"/stop", "wikidailybot", Unsubscribe},
		{"/stop@wikidailybot", "wikidailybot", Unsubscribe},
		{"/article", "wikidailybot", RequestContentNow},
		{"/article@wikidailybot", "wikidailybot", RequestContentNow},
		{"/start@otherbot", "wikidailybot", Unrecognized},
		{"/start@", "", Unrecognized},
		{"/START", "wikidailybot", Unrecognized},
		{" /start", "wikidailybot", Unrecognized},
		{"/start ", "wikidailybot", Unrecognized},
		{"/start now", "wikidailybot", Unrecognized},
		{"/starter", "wikidailybot", Unrecognized},
		{"please /stop", "wikidailybot", Unrecognized},
		{"/article@WikiDailyBot", "wikidailybot", Unrecognized},
		{"", "wikidailybot", Unrecognized},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseCommand(tt.text, tt.bot), "ParseCommand(%q, %q)", tt.text, tt.bot)
	}
}

func TestStartStopStopScenario(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.d.Handle(ctx, kit.Event{ChatID: 42, Text: "/start"}))
	rec, err := f.subs.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, subscription.Record{ChatID: 42, NotifyHour: 19, Active: true}, rec)

	require.NoError(t, f.d.Handle(ctx, kit.Event{ChatID: 42, Text: "/stop"}))
	rec, err = f.subs.Get(ctx, 42)
	require.NoError(t, err)
	assert.False(t, rec.Active)

	writes := f.kv.writes
	require.NoError(t, f.d.Handle(ctx, kit.Event{ChatID: 42, Text: "/stop"}))
	rec, err = f.subs.Get(ctx, 42)
	require.NoError(t, err)
	assert.False(t, rec.Active)
	assert.Equal(t, writes, f.kv.writes, "second /stop must not rewrite the record")

	assert.Equal(t, []sent{
		{42, f.texts.Onboarding},
		{42, f.texts.Stopped},
		{42, f.texts.AlreadyStopped},
	}, f.sender.all())
}

func TestStopNeverSubscribedRepliesAlreadyStopped(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.d.Handle(ctx, kit.Event{ChatID: 5, Text: "/stop@wikidailybot"}))

	assert.Equal(t, []sent{{5, f.texts.AlreadyStopped}}, f.sender.all())
	_, err := f.subs.Get(ctx, 5)
	assert.ErrorIs(t, err, subscription.ErrNotFound)
	assert.Zero(t, f.kv.writes)
}

func TestArticleNeverMutates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.d.Handle(ctx, kit.Event{ChatID: 8, Text: "/article"}))
	require.NoError(t, f.d.Handle(ctx, kit.Event{ChatID: 8, Text: "/article@wikidailybot"}))

	assert.Equal(t, []sent{{8, article}, {8, article}}, f.sender.all())
	assert.Zero(t, f.kv.writes)
	_, err := f.subs.Get(ctx, 8)
	assert.ErrorIs(t, err, subscription.ErrNotFound)
}

func TestUnrecognizedIsIgnored(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.d.Handle(ctx, kit.Event{ChatID: 1, Text: "hello"}))
	require.NoError(t, f.d.Handle(ctx, kit.Event{ChatID: 1, Text: "/help"}))
	require.NoError(t, f.d.Handle(ctx, kit.Event{ChatID: 0, Text: "/start"}))

	assert.Empty(t, f.sender.all())
	assert.Zero(t, f.kv.writes)
}

func TestArticleContentFailure(t *testing.T) {
	src := content.SourceFunc(func(context.Context) (string, error) {
		return "", content.ErrUnavailable
	})
	f := newFixture(t, src)

	err := f.d.Handle(context.Background(), kit.Event{ChatID: 3, Text: "/article"})
	assert.ErrorIs(t, err, content.ErrUnavailable)
	assert.Equal(t, []sent{{3, f.texts.Failure}}, f.sender.all())
}

func TestStoreFailureRepliesFailure(t *testing.T) {
	sender := &fakeSender{}
	texts := DefaultTexts(19)
	subs := subscription.New(brokenKV{Store: storage.NewMemory()}, 19, logx.Nop())
	d := NewDispatcher(Config{Texts: texts}, subs, content.SourceFunc(func(context.Context) (string, error) { return article, nil }), sender, logx.Nop())

	err := d.Handle(context.Background(), kit.Event{ChatID: 4, Text: "/start"})
	assert.ErrorIs(t, err, subscription.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, ErrReplyNotDelivered)
	assert.Equal(t, []sent{{4, texts.Failure}}, sender.all())
}

func TestReplyFailureIsReported(t *testing.T) {
	f := newFixture(t, nil)
	f.sender.err = errors.New("telegram: bot was blocked by the user")

	err := f.d.Handle(context.Background(), kit.Event{ChatID: 6, Text: "/start"})
	require.ErrorIs(t, err, ErrReplyNotDelivered)

	// The mutation was committed before the reply failed and stands.
	rec, gerr := f.subs.Get(context.Background(), 6)
	require.NoError(t, gerr)
	assert.True(t, rec.Active)
}

func TestLoopPreservesPerChatOrder(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan kit.Update)
	done := make(chan error, 1)
	go func() { done <- f.d.Loop(ctx, updates, LoopConfig{Workers: 3, Timeout: time.Second}) }()

	texts := []string{"/start", "/stop", "/start", "/stop"}
	for i, txt := range texts {
		updates <- kit.Update{ID: i + 1, Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 77, Text: txt}}
	}
	// Updates without a chat are dropped by the loop.
	updates <- kit.Update{ID: 99, Kind: kit.UpdateMessage}
	close(updates)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "loop did not stop after updates closed")
	}

	assert.Equal(t, []sent{
		{77, f.texts.Onboarding},
		{77, f.texts.Stopped},
		{77, f.texts.Onboarding},
		{77, f.texts.Stopped},
	}, f.sender.all())
}

func TestFormatHour(t *testing.T) {
	cases := map[int]string{0: "12AM", 7: "7AM", 12: "12PM", 19: "7PM", 20: "8PM", 23: "11PM"}
	for h, want := range cases {
		assert.Equal(t, want, formatHour(h), "formatHour(%d)", h)
	}
}
