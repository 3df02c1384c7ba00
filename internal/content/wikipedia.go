// Package content fetches the item pushed to subscribers: the URL of a random
// Wikipedia article.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable matches every failure to produce a content item.
var ErrUnavailable = errors.New("content source unavailable")

// Source returns one fresh content item per call.
type Source interface {
	Random(ctx context.Context) (string, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (string, error)

func (f SourceFunc) Random(ctx context.Context) (string, error) { return f(ctx) }

const (
	DefaultBaseURL   = "https://en.wikipedia.org/api/rest_v1"
	defaultUserAgent = "wikidaily/1.0 (Telegram bot)"
)

type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Wikipedia queries the REST summary endpoint for a random page.
type Wikipedia struct {
	base string
	ua   string
	http *http.Client
}

func NewWikipedia(cfg Config) *Wikipedia {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Wikipedia{base: base, ua: ua, http: &http.Client{Timeout: timeout}}
}

type summary struct {
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

func (w *Wikipedia) Random(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.base+"/page/random/summary", nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", w.ua)

	resp, err := w.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("%w: wikipedia random summary: http %d", ErrUnavailable, resp.StatusCode)
	}

	var s summary
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&s); err != nil {
		return "", fmt.Errorf("%w: decode summary: %w", ErrUnavailable, err)
	}
	page := strings.TrimSpace(s.ContentURLs.Desktop.Page)
	if page == "" {
		return "", fmt.Errorf("%w: summary without desktop page url", ErrUnavailable)
	}
	return page, nil
}
