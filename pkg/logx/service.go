package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	kit "wikidaily/internal/transport"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled    bool
	Path       string // default ./wikidaily.log
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// TelegramConfig mirrors log lines at or above MinLevel (default warn) into
// an operator chat, at most RatePerSec lines per second.
type TelegramConfig struct {
	Enabled    bool
	ChatID     int64
	MinLevel   string
	RatePerSec int
}

const (
	chatQueueSize   = 256
	chatSendTimeout = 10 * time.Second
	chatMaxLen      = 3500
)

// Service owns the active sinks. Loggers built from it read the current
// zerolog root on every call, so Apply takes effect without rebuilding them.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu   sync.Mutex
	file *lumberjack.Logger
	chat *chatSink
}

// New applies cfg and returns the service with its root logger. With no
// sink enabled the console is used.
func New(cfg Config) (*Service, Logger) {
	s := &Service{chat: newChatSink()}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// SetSender attaches the chat transport. It is built after logging, so the
// chat sink drops lines until this is called.
func (s *Service) SetSender(sender kit.Sender) { s.chat.setSender(sender) }

// Apply swaps sinks and level. Safe for concurrent use with logging.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter(os.Stdout))
	}

	old := s.file
	s.file = nil
	if cfg.File.Enabled {
		s.file = &lumberjack.Logger{
			Filename:   orDefault(strings.TrimSpace(cfg.File.Path), "./wikidaily.log"),
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   true,
		}
		writers = append(writers, zerolog.SyncWriter(s.file))
	}

	s.chat.configure(cfg.Telegram)
	if cfg.Telegram.Enabled {
		if cfg.Telegram.ChatID == 0 {
			fmt.Fprintln(os.Stderr, "logx: logging.telegram.enabled is set without logging.telegram.chat_id")
		}
		writers = append(writers, s.chat)
	}

	if len(writers) == 0 {
		writers = append(writers, consoleWriter(os.Stdout))
	}
	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)

	if old != nil {
		_ = old.Close()
	}
}

// Close flushes the file sink and stops the chat worker. Loggers stay usable
// and fall back to whatever sinks remain.
func (s *Service) Close() error {
	s.chat.stop()
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f != nil {
		return f.Close()
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// chatSink is a zerolog.LevelWriter that queues formatted lines for a
// background sender. Writes never block logging; overflow is dropped.
type chatSink struct {
	mu       sync.Mutex
	sender   kit.Sender
	chatID   int64
	minLevel zerolog.Level
	limiter  *rate.Limiter

	queue   chan string
	startMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

func newChatSink() *chatSink {
	return &chatSink{queue: make(chan string, chatQueueSize), minLevel: zerolog.WarnLevel}
}

func (c *chatSink) setSender(sender kit.Sender) {
	c.mu.Lock()
	c.sender = sender
	c.mu.Unlock()
}

func (c *chatSink) configure(cfg TelegramConfig) {
	rps := max(1, cfg.RatePerSec)
	c.mu.Lock()
	c.chatID = cfg.ChatID
	c.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	c.mu.Unlock()
	if cfg.Enabled {
		c.start()
	}
}

func (c *chatSink) start() {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
}

func (c *chatSink) stop() {
	c.startMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.startMu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (c *chatSink) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-c.queue:
			c.mu.Lock()
			sender, chatID := c.sender, c.chatID
			c.mu.Unlock()
			if sender == nil || chatID == 0 {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, chatSendTimeout)
			_, _ = sender.SendText(sctx, kit.ChatTarget{ChatID: chatID}, line, &kit.SendOptions{DisablePreview: true})
			cancel()
		}
	}
}

func (c *chatSink) Write(p []byte) (int, error) { return c.WriteLevel(zerolog.NoLevel, p) }

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	ok := c.chatID != 0 && level >= c.minLevel && level != zerolog.NoLevel && c.limiter.Allow()
	c.mu.Unlock()
	if !ok {
		return len(p), nil
	}
	if line := chatLine(p); line != "" {
		select {
		case c.queue <- line:
		default:
		}
	}
	return len(p), nil
}

// chatLine renders one JSON log line as "[LEVEL] message" followed by the
// remaining fields in key order.
func chatLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return clip(strings.TrimSpace(string(p)), chatMaxLen)
	}
	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
		default:
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(m[k]), 600))
	}
	return clip(b.String(), chatMaxLen)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
