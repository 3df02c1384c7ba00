// Package webhook serves the HTTP surface: Telegram webhook updates, the
// daily fan-out trigger and a health check.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"

	"wikidaily/internal/bot"
	"wikidaily/internal/fanout"
	kit "wikidaily/internal/transport"
	logx "wikidaily/pkg/logx"
)

// Acknowledgment bodies, JSON-encoded strings.
const (
	AckOK    = "ok"
	AckError = "Oops, something went wrong!"
)

const (
	maxUpdateBytes = 1 << 20
	secretHeader   = "X-Telegram-Bot-Api-Secret-Token"
)

type EventHandler interface {
	Handle(ctx context.Context, ev kit.Event) error
}

type JobRunner interface {
	Run(ctx context.Context) (fanout.Report, error)
}

type Config struct {
	Addr string
	// Secret is the webhook path segment and expected secret header. Empty
	// disables the webhook route.
	Secret         string
	HandlerTimeout time.Duration
	DedupWindow    time.Duration
	// JobToken guards POST /jobs/daily and /debug. Empty disables both.
	JobToken string
	// Profiler mounts net/http/pprof under /debug behind JobToken.
	Profiler bool
}

type Server struct {
	cfg     Config
	log     logx.Logger
	handler EventHandler
	decode  func([]byte) (kit.Update, error)
	job     JobRunner
	health  func() any
	seen    *cache.Cache
	router  chi.Router
}

type Option func(*Server)

// WithJob enables POST /jobs/daily.
func WithJob(j JobRunner) Option { return func(s *Server) { s.job = j } }

// WithHealth adds fn's result to the /healthz body.
func WithHealth(fn func() any) Option { return func(s *Server) { s.health = fn } }

func New(cfg Config, handler EventHandler, decode func([]byte) (kit.Update, error), log logx.Logger, opts ...Option) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 30 * time.Second
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 10 * time.Minute
	}
	s := &Server{
		cfg:     cfg,
		log:     log,
		handler: handler,
		decode:  decode,
		seen:    cache.New(cfg.DedupWindow, cfg.DedupWindow),
	}
	for _, o := range opts {
		o(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/healthz", s.healthz)
	if s.cfg.Secret != "" && s.handler != nil {
		r.Post("/telegram/{secret}", s.telegramUpdate)
	}
	if s.cfg.JobToken == "" {
		return r
	}
	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		if s.job != nil {
			r.Post("/jobs/daily", s.dailyJob)
		}
		if s.cfg.Profiler {
			r.Mount("/debug", middleware.Profiler())
		}
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", logx.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		s.log.Warn("http shutdown incomplete", logx.Err(err))
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("http server stopped")
	return nil
}

func (s *Server) telegramUpdate(w http.ResponseWriter, r *http.Request) {
	if !secretEqual(chi.URLParam(r, "secret"), s.cfg.Secret) {
		http.NotFound(w, r)
		return
	}
	if h := r.Header.Get(secretHeader); h != "" && !secretEqual(h, s.cfg.Secret) {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateBytes))
	if err != nil {
		s.log.Warn("webhook body read failed", logx.Err(err))
		writeAck(w, http.StatusBadRequest, AckError)
		return
	}
	up, err := s.decode(body)
	if err != nil {
		s.log.Warn("webhook update rejected", logx.Err(err))
		writeAck(w, http.StatusBadRequest, AckError)
		return
	}
	ev, ok := kit.EventFromUpdate(up)
	if !ok {
		writeAck(w, http.StatusOK, AckOK)
		return
	}

	// Telegram redelivers until it sees 2xx. Remember delivered update ids
	// for the dedup window; one whose command failed is forgotten so the
	// retry runs. A lost reply after a saved change counts as delivered.
	key := strconv.Itoa(up.ID)
	if up.ID != 0 {
		if err := s.seen.Add(key, struct{}{}, cache.DefaultExpiration); err != nil {
			s.log.Debug("duplicate update ignored", logx.Int("update_id", up.ID))
			writeAck(w, http.StatusOK, AckOK)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HandlerTimeout)
	defer cancel()
	if err := s.handler.Handle(ctx, ev); err != nil {
		if errors.Is(err, bot.ErrReplyNotDelivered) {
			s.log.Debug("update handled without reply", logx.Int("update_id", up.ID), logx.Err(err))
			writeAck(w, http.StatusOK, AckOK)
			return
		}
		if up.ID != 0 {
			s.seen.Delete(key)
		}
		writeAck(w, http.StatusBadRequest, AckError)
		return
	}
	writeAck(w, http.StatusOK, AckOK)
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || !secretEqual(strings.TrimSpace(token), s.cfg.JobToken) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="wikidaily"`)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) dailyJob(w http.ResponseWriter, r *http.Request) {
	rep, err := s.job.Run(r.Context())
	status := http.StatusOK
	body := struct {
		fanout.Report
		Error string `json:"error,omitempty"`
	}{Report: rep}
	if err != nil {
		body.Error = err.Error()
		status = http.StatusInternalServerError
		if errors.Is(err, fanout.ErrAlreadyRunning) {
			status = http.StatusConflict
		}
	}
	writeJSON(w, status, body)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.health != nil {
		body["detail"] = s.health()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("route", chi.RouteContext(r.Context()).RoutePattern()),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
		)
	})
}

func secretEqual(got, want string) bool {
	return want != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func writeAck(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
