// Package fetch pulls raw prompt items from an upstream source page by page.
//
// Two Fetcher implementations exist: APIFetcher talks to the live HTTP API (with HTML
// and RPC fallbacks), and CaptureFetcher replays page payloads saved to disk. The
// configured fetch mode picks one; see New.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/atsume/internal/config"
	"github.com/hyperjump/atsume/internal/extract"
)

var (
	// ErrMalformedEndpoint is returned when the endpoint cannot be turned into a request URL.
	ErrMalformedEndpoint = errors.New("malformed endpoint")
	// ErrUnauthorized is returned when every request path was rejected for bad credentials.
	ErrUnauthorized = errors.New("unauthorized on all fetch paths")
)

// StopReason explains why a run ended. None of them are errors.
type StopReason string

const (
	StopMaxPages  StopReason = "max_pages"
	StopNotFound  StopReason = "not_found"
	StopEmptyPage StopReason = "empty_page"
	StopShortPage StopReason = "short_page"
	StopNoCursor  StopReason = "no_next_token"
	StopExhausted StopReason = "fallbacks_exhausted"
	StopCanceled  StopReason = "canceled"
	StopNoData    StopReason = "no_more_captures"
)

// Fetcher retrieves raw items for one run. Implementations are sequential within a run;
// independent runs may execute concurrently, each with its own State.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Result, error)
}

// Request describes one fetch run.
type Request struct {
	// Endpoint is a path relative to the configured base URL, or an absolute URL.
	Endpoint string
	// Params are sent as query parameters. A "cursor" key selects cursor pagination;
	// otherwise pages are requested by number.
	Params         map[string]string
	MaxPages       int
	InterPageDelay time.Duration
	// State resumes a previous run when non-nil. It is advanced in place.
	State *State
	// OnPage, when set, is called after every successful page. A returned error
	// aborts the run and is returned from Fetch.
	OnPage func(ctx context.Context, page Page) error
}

// Page is one successfully fetched page.
type Page struct {
	Number int
	Items  []interface{}
	// Via names the path that produced the page: "json", "html", "rpc" or "capture".
	Via   string
	State State
}

// Result is everything a run collected, in page order then item order.
type Result struct {
	Items  []interface{}
	Pages  int
	Stop   StopReason
	State  *State
	Source string
}

// Option configures fetchers.
type Option func(*options)

type options struct {
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// WithLogger sets the logger for the fetcher.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithSleep replaces the inter-page sleep, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) {
		o.sleep = sleep
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), sleep: sleepContext}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New returns the Fetcher selected by cfg.Mode.
func New(cfg config.FetchConfig, extractor *extract.Extractor, opts ...Option) (Fetcher, error) {
	switch cfg.Mode {
	case config.ModeAPI, "":
		return NewAPIFetcher(cfg, extractor, opts...), nil
	case config.ModeCapture:
		return NewCaptureFetcher(cfg.CaptureDir, extractor, opts...), nil
	default:
		return nil, fmt.Errorf("unknown fetch mode: %s (supported: %s, %s)", cfg.Mode, config.ModeAPI, config.ModeCapture)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
