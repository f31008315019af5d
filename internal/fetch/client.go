package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/andrewdyar/switchyard-sub001/internal/cookies"
	"github.com/andrewdyar/switchyard-sub001/internal/pkg/httpx"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/logger"
	"github.com/andrewdyar/switchyard-sub001/internal/proxy"
)

const (
	DefaultTimeout = 20 * time.Second
	maxBodyBytes   = 16 << 20
)

// CookieSource is the slice of the cookie manager the client needs.
type CookieSource interface {
	Jar(ctx context.Context, retailer string, force bool) (map[string]string, error)
	Merge(ctx context.Context, retailer string, set []*http.Cookie)
}

// ProxySource is the slice of the proxy pool the client needs.
type ProxySource interface {
	Next(ctx context.Context, category string) (*proxy.Proxy, error)
	MarkSuccess(p *proxy.Proxy)
	MarkFailure(p *proxy.Proxy)
}

// Recorder observes the outcome of each attempt. Outcomes are "ok",
// "bot_blocked", "client_error", "transient" and "network_error".
type Recorder interface {
	ObserveFetch(retailer, outcome string, dur time.Duration)
}

// Request is a replayable outbound request.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

type Options struct {
	Retailer   string
	Category   string
	Timeout    time.Duration
	ExpectJSON bool
}

type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	FinalURL *url.URL
	Proxy    *proxy.Proxy
	Attempts int
}

type Config struct {
	Timeout  time.Duration
	Backoff  httpx.BackoffPolicy
	Profiles map[string]Profile
}

// Client executes retailer requests with session cookies, proxy rotation,
// browser headers, retries and response classification.
type Client struct {
	log     *logger.Logger
	cookies CookieSource
	pool    ProxySource
	cfg     Config
	sleep   httpx.SleepFunc
	tracer  trace.Tracer
	rec     Recorder

	mu         sync.Mutex
	transports map[string]http.RoundTripper
}

type Option func(*Client)

func WithSleep(sleep httpx.SleepFunc) Option { return func(c *Client) { c.sleep = sleep } }
func WithRecorder(rec Recorder) Option        { return func(c *Client) { c.rec = rec } }

func NewClient(log *logger.Logger, cookieSrc CookieSource, pool ProxySource, cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff.MaxAttempts <= 0 {
		cfg.Backoff = httpx.DefaultBackoffPolicy()
	}
	c := &Client{
		log:        log.With("component", "FetchClient"),
		cookies:    cookieSrc,
		pool:       pool,
		cfg:        cfg,
		sleep:      httpx.Sleep,
		tracer:     otel.Tracer("ingest/fetch"),
		transports: map[string]http.RoundTripper{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// RefreshSession forces a cookie refresh for retailer.
func (c *Client) RefreshSession(ctx context.Context, retailer string) {
	if c.cookies == nil {
		return
	}
	if _, err := c.cookies.Jar(ctx, retailer, true); err != nil {
		c.log.Warn("session refresh failed", "retailer", retailer, "error", err)
	}
}

// Do sends req, retrying transient failures with backoff on a fresh proxy.
// It returns *BotBlockedError, *StatusError or *TransientError for the
// non-success outcomes.
func (c *Client) Do(ctx context.Context, req Request, opts Options) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, "fetch.Do", trace.WithAttributes(
		attribute.String("retailer", opts.Retailer),
		attribute.String("http.method", req.Method),
		attribute.String("category", opts.Category),
	))
	defer span.End()

	resp, err := c.do(ctx, req, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.Status), attribute.Int("attempts", resp.Attempts))
	return resp, nil
}

func (c *Client) do(ctx context.Context, req Request, opts Options) (*Response, error) {
	log := c.log.With("retailer", opts.Retailer, "category", opts.Category)
	state := c.cfg.Backoff.Start()
	var lastErr error
	lastStatus := 0

	for {
		attempt := state.Attempt + 1
		px, err := c.nextProxy(ctx, opts.Category)
		if err != nil {
			return nil, err
		}

		started := time.Now()
		resp, err := c.once(ctx, req, opts, px)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.record(opts.Retailer, "network_error", started)
			if !httpx.IsRetryableError(err) {
				return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
			}
			c.markFailure(px)
			lastErr, lastStatus = err, 0
			log.Warn("request failed", "attempt", attempt, "proxy", px.String(), "error", err)
		} else {
			resp.Proxy = px
			resp.Attempts = attempt
			outcome, reason := Classify(resp.Status, resp.Header, resp.Body, resp.FinalURL, opts.ExpectJSON)
			c.record(opts.Retailer, outcome.String(), started)
			switch outcome {
			case OutcomeOK:
				c.markSuccess(px)
				if c.cookies != nil {
					c.cookies.Merge(ctx, opts.Retailer, (&http.Response{Header: resp.Header}).Cookies())
				}
				return resp, nil
			case OutcomeBotBlocked:
				c.markFailure(px)
				log.Warn("bot blocked", "status", resp.Status, "reason", reason, "proxy", px.String())
				return nil, &BotBlockedError{Retailer: opts.Retailer, Status: resp.Status, Reason: reason, Proxy: px.String()}
			case OutcomeClientError:
				return nil, &StatusError{Retailer: opts.Retailer, Status: resp.Status, URL: req.URL, Body: snippet(resp.Body)}
			default:
				lastErr, lastStatus = nil, resp.Status
				log.Warn("transient status", "attempt", attempt, "status", resp.Status, "proxy", px.String())
			}
		}

		next, wait, ok := c.cfg.Backoff.Next(state)
		if !ok {
			return nil, &TransientError{Retailer: opts.Retailer, Attempts: attempt, Status: lastStatus, Err: lastErr}
		}
		state = next
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (c *Client) once(ctx context.Context, req Request, opts Options, px *proxy.Proxy) (*Response, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	applyHeaders(hreq.Header, c.cfg.Profiles[opts.Retailer], opts.ExpectJSON)

	if c.cookies != nil && hreq.Header.Get("Cookie") == "" {
		jar, err := c.cookies.Jar(ctx, opts.Retailer, false)
		if err != nil {
			c.log.Warn("cookie jar unavailable", "retailer", opts.Retailer, "error", err)
		} else if h := cookies.Header(jar); h != "" {
			hreq.Header.Set("Cookie", h)
		}
	}

	hc := &http.Client{Transport: c.transport(px)}
	resp, err := hc.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	return &Response{
		Status:   resp.StatusCode,
		Header:   resp.Header,
		Body:     raw,
		FinalURL: resp.Request.URL,
	}, nil
}

func (c *Client) record(retailer, outcome string, started time.Time) {
	if c.rec != nil {
		c.rec.ObserveFetch(retailer, outcome, time.Since(started))
	}
}

// transport returns the cached round tripper for px; nil px means direct.
func (c *Client) transport(px *proxy.Proxy) http.RoundTripper {
	key := "direct"
	if px != nil {
		key = px.URL().String()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if rt, ok := c.transports[key]; ok {
		return rt
	}
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.MaxIdleConnsPerHost = 8
	base.Proxy = nil
	if px != nil {
		base.Proxy = http.ProxyURL(px.URL())
	}
	rt := otelhttp.NewTransport(base)
	c.transports[key] = rt
	return rt
}

func (c *Client) nextProxy(ctx context.Context, category string) (*proxy.Proxy, error) {
	if c.pool == nil {
		return nil, nil
	}
	return c.pool.Next(ctx, category)
}

func (c *Client) markSuccess(px *proxy.Proxy) {
	if c.pool != nil && px != nil {
		c.pool.MarkSuccess(px)
	}
}

func (c *Client) markFailure(px *proxy.Proxy) {
	if c.pool != nil && px != nil {
		c.pool.MarkFailure(px)
	}
}

// CloseIdle drops pooled connections on every cached transport.
func (c *Client) CloseIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rt := range c.transports {
		if ci, ok := rt.(interface{ CloseIdleConnections() }); ok {
			ci.CloseIdleConnections()
		}
	}
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// IsBotBlocked reports whether err is a bot-block classification.
func IsBotBlocked(err error) bool { return errors.Is(err, ErrBotBlocked) }
