// Package adapter connects the bot to the Telegram Bot API through telebot.
package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "wikidaily/internal/runtime/supervisor"
	kit "wikidaily/internal/transport"
	logx "wikidaily/pkg/logx"
)

var errPollerExited = errors.New("telegram poller exited unexpectedly")

type Config struct {
	Token       string
	PollTimeout time.Duration
	// APIURL overrides https://api.telegram.org.
	APIURL string
	// Offline skips the getMe call at construction; Username is then empty.
	Offline bool
	Client  *http.Client
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	runMu   sync.Mutex
	running bool
	out     chan<- kit.Update
	outCtx  context.Context
	sup     *rtsup.Supervisor
}

var _ kit.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := cfg.Client
	if client == nil {
		// Long-poll requests must outlive the poll timeout.
		client = &http.Client{Timeout: timeout + 10*time.Second}
	}
	a := &Adapter{cfg: cfg, log: log}
	b, err := tele.NewBot(tele.Settings{
		URL:    cfg.APIURL,
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout, AllowedUpdates: []string{"message"}},
		// Handlers run on the poll loop so updates reach the dispatcher in order.
		Synchronous: true,
		Offline:     cfg.Offline,
		Client:      client,
		OnError: func(err error, c tele.Context) {
			log.Warn("telebot error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	a.bot = b
	b.Handle(tele.OnText, a.onText)
	return a, nil
}

// Username is the bot's @username as reported by getMe.
func (a *Adapter) Username() string {
	if a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

func (a *Adapter) onText(c tele.Context) error {
	up, ok := updateFromTele(c.Update())
	if !ok {
		return nil
	}
	a.runMu.Lock()
	out, ctx := a.out, a.outCtx
	a.runMu.Unlock()
	if out == nil {
		return nil
	}
	// Block the poll loop rather than drop: the next getUpdates call
	// acknowledges everything before it.
	select {
	case out <- up:
	case <-ctx.Done():
	}
	return nil
}

// Start long-polls getUpdates and forwards text messages to out until ctx is
// cancelled or Stop is called.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.running = true
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))))
	a.out = out
	a.outCtx = a.sup.Context()

	// telebot's Start can return on its own in some failure modes; restart it.
	a.sup.GoRestart("telegram.poll", a.poll, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	return nil
}

func (a *Adapter) poll(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	}()
	select {
	case <-done:
		if ctx.Err() == nil {
			return errPollerExited
		}
		return nil
	case <-ctx.Done():
		// Stop blocks until the poll loop acknowledges; never let it hold shutdown.
		go a.bot.Stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			a.log.Warn("telegram poller did not stop in time")
		}
		return nil
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	wasRunning := a.running
	a.sup, a.running, a.out = nil, false, nil
	a.runMu.Unlock()
	if !wasRunning || sup == nil {
		return nil
	}
	if err := sup.Stop(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Warn("telegram stop error", logx.Err(err))
	}
	return nil
}

// SendText sends one message. It fails fast when ctx is already done; telebot
// itself does not take a context.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, text, &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	})
	if err != nil {
		return kit.MessageRef{}, fmt.Errorf("telegram send to %d: %w", to.ChatID, err)
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

// DecodeUpdate parses a webhook request body. Updates other than text
// messages decode to an Update without a Message.
func DecodeUpdate(body []byte) (kit.Update, error) {
	var u tele.Update
	if err := json.Unmarshal(body, &u); err != nil {
		return kit.Update{}, fmt.Errorf("decode telegram update: %w", err)
	}
	up, ok := updateFromTele(u)
	if !ok {
		return kit.Update{ID: u.ID}, nil
	}
	return up, nil
}

func updateFromTele(u tele.Update) (kit.Update, bool) {
	m := u.Message
	if m == nil || m.Chat == nil {
		return kit.Update{}, false
	}
	msg := &kit.Message{ID: m.ID, ChatID: m.Chat.ID, Text: m.Text}
	if m.Sender != nil {
		msg.FromID = m.Sender.ID
		msg.FromUsername = m.Sender.Username
	}
	return kit.Update{ID: u.ID, Kind: kit.UpdateMessage, Message: msg}, true
}
