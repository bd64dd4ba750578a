package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hyperjump/atsume/internal/config"
	"github.com/hyperjump/atsume/internal/extract"
)

var tracer = otel.Tracer("atsume/fetch")

// Query parameters with pagination meaning.
const (
	paramCursor = "cursor"
	paramPage   = "page"
	paramLimit  = "limit"
)

// APIFetcher pages through the upstream HTTP API. Transient failures (429, 5xx,
// transport errors) are retried with exponential backoff by the resty client; a page
// that still fails falls back to the HTML document at the same URL, then to the RPC
// endpoint when the request carries a secondary id.
type APIFetcher struct {
	cfg       config.FetchConfig
	client    *resty.Client
	extractor *extract.Extractor
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewAPIFetcher returns an APIFetcher configured from cfg. The bearer token, if any,
// is read from the environment variable named by cfg.TokenEnv.
func NewAPIFetcher(cfg config.FetchConfig, extractor *extract.Extractor, opts ...Option) *APIFetcher {
	o := buildOptions(opts)
	f := &APIFetcher{
		cfg:       cfg,
		extractor: extractor,
		logger:    o.logger,
		sleep:     o.sleep,
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryMaxWait).
		AddRetryCondition(retryable).
		AddRetryHook(func(res *resty.Response, err error) {
			fields := []zap.Field{zap.Error(err)}
			if res != nil {
				fields = append(fields, zap.Int("status", res.StatusCode()), zap.String("url", res.Request.URL))
			}
			f.logger.Warn("retrying upstream request", fields...)
		})
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	if token := cfg.Token(); token != "" {
		client.SetAuthToken(token)
	}
	f.client = client
	return f
}

// retryable reports whether a response is worth another attempt: transport errors,
// rate limiting and server errors.
func retryable(res *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	code := res.StatusCode()
	return code == http.StatusTooManyRequests || code >= 500
}

// Fetch runs the pagination state machine described on Fetcher. It only returns an
// error for a malformed endpoint, credentials rejected on every path, or an OnPage failure;
// in the last two cases the partial result is returned alongside the error.
func (f *APIFetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	target, params, err := f.resolve(req.Endpoint, req.Params)
	if err != nil {
		return nil, err
	}

	maxPages := req.MaxPages
	if maxPages <= 0 {
		maxPages = f.cfg.MaxPages
	}
	if maxPages <= 0 {
		maxPages = 1
	}
	delay := req.InterPageDelay
	if delay < 0 {
		delay = 0
	}

	st := req.State
	if st == nil {
		st = &State{}
	}
	_, cursorMode := params[paramCursor]
	cursor := params[paramCursor]
	nextURL := ""
	if st.Cursor != "" {
		cursorMode = true
		cursor = st.Cursor
		if isURL(cursor) {
			nextURL, cursor = cursor, ""
		}
	}
	if !cursorMode && st.Page == 0 {
		if start, err := strconv.Atoi(params[paramPage]); err == nil && start > 1 {
			st.Page = start - 1
		}
	}
	if _, ok := params[paramLimit]; !ok && f.cfg.PageSize > 0 {
		params[paramLimit] = strconv.Itoa(f.cfg.PageSize)
	}
	pageSize, _ := strconv.Atoi(params[paramLimit])

	res := &Result{State: st, Source: target}
	log := f.logger.With(zap.String("endpoint", target))
	log.Info("fetch run started",
		zap.Int("max_pages", maxPages),
		zap.Bool("cursor_mode", cursorMode),
		zap.String("resume_cursor", st.Cursor),
		zap.Int("already_collected", st.TotalCollected))

	for page := 1; page <= maxPages; page++ {
		pageURL := target
		q := make(map[string]string, len(params)+1)
		if nextURL != "" {
			pageURL = nextURL
		} else {
			for k, v := range params {
				q[k] = v
			}
			if cursorMode {
				if cursor != "" {
					q[paramCursor] = cursor
				} else {
					delete(q, paramCursor)
				}
			} else {
				q[paramPage] = strconv.Itoa(st.Page + 1)
			}
		}

		out := f.fetchPage(ctx, pageURL, q, page)
		if ctx.Err() != nil {
			res.Stop = StopCanceled
			break
		}
		if out.notFound {
			res.Stop = StopNotFound
			break
		}
		if out.exhausted {
			res.Stop = StopExhausted
			if out.unauthorized {
				log.Error("credentials rejected on every fetch path", zap.Int("page", page))
				return res, ErrUnauthorized
			}
			log.Warn("all fetch paths failed, ending run", zap.Int("page", page))
			break
		}
		if len(out.items) == 0 {
			st.LastEmpty = true
			res.Stop = StopEmptyPage
			break
		}

		next, signalled := nextToken(out.payload)
		st.Advance(len(out.items), next)
		res.Items = append(res.Items, out.items...)
		res.Pages++
		log.Debug("page fetched",
			zap.Int("page", page),
			zap.Int("items", len(out.items)),
			zap.String("via", out.via),
			zap.String("next", next))

		if req.OnPage != nil {
			if err := req.OnPage(ctx, Page{Number: page, Items: out.items, Via: out.via, State: *st}); err != nil {
				return res, fmt.Errorf("page %d: %w", page, err)
			}
		}

		switch {
		case signalled && next == "":
			res.Stop = StopNoCursor
		case next != "":
			cursorMode = true
			if isURL(next) {
				nextURL = next
			} else {
				cursor, nextURL = next, ""
			}
		case cursorMode:
			res.Stop = StopNoCursor
		case pageSize > 0 && len(out.items) < pageSize:
			res.Stop = StopShortPage
		}
		if res.Stop != "" {
			break
		}
		if page == maxPages {
			res.Stop = StopMaxPages
			break
		}
		if err := f.sleep(ctx, delay); err != nil {
			res.Stop = StopCanceled
			break
		}
	}
	if res.Stop == "" {
		res.Stop = StopMaxPages
	}

	switch res.Stop {
	case StopNoCursor, StopShortPage, StopEmptyPage, StopNotFound:
		st.Finish()
	}
	log.Info("fetch run finished",
		zap.String("stop", string(res.Stop)),
		zap.Int("pages", res.Pages),
		zap.Int("items", len(res.Items)),
		zap.Int("total_collected", st.TotalCollected))
	return res, nil
}

// pageOutcome is what one page attempt produced across all paths.
type pageOutcome struct {
	payload      interface{}
	items        []interface{}
	via          string
	notFound     bool
	exhausted    bool
	unauthorized bool
}

func (f *APIFetcher) fetchPage(ctx context.Context, pageURL string, q map[string]string, n int) pageOutcome {
	ctx, span := tracer.Start(ctx, "fetch.page", trace.WithAttributes(
		attribute.Int("page", n),
		attribute.String("url", pageURL),
	))
	defer span.End()

	attempts, rejected := 1, 0
	resp, err := f.get(ctx, pageURL, q, "application/json")
	status := 0
	if resp != nil {
		status = resp.StatusCode()
	}
	span.SetAttributes(attribute.Int("status", status))

	switch {
	case err != nil:
		f.logger.Warn("page request failed", zap.Int("page", n), zap.Error(err))
	case status == http.StatusNotFound:
		return pageOutcome{notFound: true}
	case isAuthFailure(status):
		rejected++
	case isSuccess(status):
		body := resp.Body()
		if payload, err := extract.DecodeJSON(body); err == nil {
			return pageOutcome{payload: payload, items: f.extractor.Items(payload), via: "json"}
		}
		// A 200 that is not JSON is usually the HTML document itself.
		if items := f.extractor.HTMLItems(body); len(items) > 0 {
			return pageOutcome{items: items, via: "html"}
		}
	}

	if !isSuccess(status) {
		attempts++
		out, authFailed := f.htmlFallback(ctx, pageURL, q)
		if authFailed {
			rejected++
		}
		if len(out.items) > 0 {
			return out
		}
	}

	if id := q[f.cfg.SecondaryIDParam]; id != "" && f.cfg.SecondaryIDParam != "" && f.cfg.RPCBaseURL != "" && f.cfg.RPCProcedure != "" {
		attempts++
		out, authFailed := f.rpcFallback(ctx, q)
		if authFailed {
			rejected++
		}
		if out.via != "" {
			return out
		}
	}

	span.SetStatus(codes.Error, "all fetch paths failed")
	return pageOutcome{exhausted: true, unauthorized: rejected == attempts}
}

func (f *APIFetcher) htmlFallback(ctx context.Context, pageURL string, q map[string]string) (pageOutcome, bool) {
	ctx, span := tracer.Start(ctx, "fetch.html_fallback")
	defer span.End()

	resp, err := f.get(ctx, pageURL, q, "text/html,application/xhtml+xml")
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch html")
		return pageOutcome{}, false
	}
	if isAuthFailure(resp.StatusCode()) {
		span.SetStatus(codes.Error, "html request unauthorized")
		return pageOutcome{}, true
	}
	if !isSuccess(resp.StatusCode()) {
		span.SetStatus(codes.Error, "html request failed")
		return pageOutcome{}, false
	}
	items := f.extractor.HTMLItems(resp.Body())
	if len(items) == 0 {
		span.SetStatus(codes.Error, "no embedded json found")
		return pageOutcome{}, false
	}
	f.logger.Info("page recovered from html", zap.String("url", pageURL), zap.Int("items", len(items)))
	return pageOutcome{items: items, via: "html"}, false
}

func (f *APIFetcher) rpcFallback(ctx context.Context, q map[string]string) (pageOutcome, bool) {
	ctx, span := tracer.Start(ctx, "fetch.rpc_fallback", trace.WithAttributes(
		attribute.String("procedure", f.cfg.RPCProcedure),
	))
	defer span.End()

	input, err := extract.RPCInput(rpcPayload(q))
	if err != nil {
		span.SetStatus(codes.Error, "failed to encode rpc input")
		return pageOutcome{}, false
	}
	rpcURL := strings.TrimRight(f.cfg.RPCBaseURL, "/") + "/" + f.cfg.RPCProcedure
	resp, err := f.get(ctx, rpcURL, map[string]string{"input": input}, "application/json")
	if err != nil {
		span.SetStatus(codes.Error, "failed to call rpc")
		return pageOutcome{}, false
	}
	if isAuthFailure(resp.StatusCode()) {
		span.SetStatus(codes.Error, "rpc request unauthorized")
		return pageOutcome{}, true
	}
	if !isSuccess(resp.StatusCode()) {
		span.SetStatus(codes.Error, "rpc request failed")
		return pageOutcome{}, false
	}
	decoded, err := extract.DecodeJSON(resp.Body())
	if err != nil {
		span.SetStatus(codes.Error, "rpc response is not json")
		return pageOutcome{}, false
	}
	payload := extract.UnwrapRPC(decoded)
	items := f.extractor.Items(payload)
	f.logger.Info("page recovered from rpc", zap.String("procedure", f.cfg.RPCProcedure), zap.Int("items", len(items)))
	return pageOutcome{payload: payload, items: items, via: "rpc"}, false
}

func (f *APIFetcher) get(ctx context.Context, rawURL string, q map[string]string, accept string) (*resty.Response, error) {
	return f.client.R().
		SetContext(ctx).
		SetHeader("Accept", accept).
		SetQueryParams(q).
		Get(rawURL)
}

// resolve turns the endpoint into an absolute URL without query, merging any query it
// carries underneath params.
func (f *APIFetcher) resolve(endpoint string, params map[string]string) (string, map[string]string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = f.cfg.Endpoint
	}
	if endpoint == "" {
		return "", nil, fmt.Errorf("%w: empty endpoint", ErrMalformedEndpoint)
	}
	if !isURL(endpoint) {
		if f.cfg.BaseURL == "" {
			return "", nil, fmt.Errorf("%w: relative endpoint %q without base url", ErrMalformedEndpoint, endpoint)
		}
		endpoint = strings.TrimRight(f.cfg.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedEndpoint, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", nil, fmt.Errorf("%w: %q", ErrMalformedEndpoint, endpoint)
	}

	merged := make(map[string]string)
	for k, vs := range u.Query() {
		if len(vs) > 0 {
			merged[k] = vs[0]
		}
	}
	for k, v := range params {
		merged[k] = v
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), merged, nil
}

// nextToken finds the pagination signal in a page payload. signalled is true when a
// token field is present at all, even if its value is null or empty.
func nextToken(payload interface{}) (token string, signalled bool) {
	obj, ok := payload.(map[string]interface{})
	if !ok {
		return "", false
	}
	for _, k := range []string{"nextCursor", "cursor", "next"} {
		if v, ok := obj[k]; ok {
			return tokenString(v), true
		}
	}
	if meta, ok := obj["metadata"].(map[string]interface{}); ok {
		for _, k := range []string{"nextCursor", "cursor", "next", "nextPage"} {
			if v, ok := meta[k]; ok {
				return tokenString(v), true
			}
		}
	}
	return "", false
}

// tokenString renders a token value; null, false, zero and blank strings are empty.
func tokenString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		if f, err := x.Float64(); err == nil && f == 0 {
			return ""
		}
		return x.String()
	case float64:
		if x == 0 {
			return ""
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}

// rpcPayload converts query parameters into typed RPC input: integers and booleans
// become JSON numbers and booleans. The cursor stays a string.
func rpcPayload(q map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(q))
	for k, v := range q {
		if k == paramCursor {
			out[k] = v
			continue
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out[k] = n
			continue
		}
		switch v {
		case "true":
			out[k] = true
		case "false":
			out[k] = false
		default:
			out[k] = v
		}
	}
	return out
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func isAuthFailure(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}
