// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transport executes HTTP requests against the assistant backend
// with a per-operation timeout budget and classifies every failure.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the local development backend origin.
const DefaultBaseURL = "http://localhost:8000"

// DefaultUserAgent is sent when no user agent is configured.
const DefaultUserAgent = "chatwire"

// MaxResponseSize caps JSON response bodies (streams are not capped).
const MaxResponseSize = 10 * 1024 * 1024

// =============================================================================
// OPERATION CLASSES
// =============================================================================

// Class names an operation kind; each class has its own timeout budget.
type Class string

const (
	ClassDefault       Class = "default"
	ClassChatSend      Class = "chat-send"
	ClassStats         Class = "stats"
	ClassSessionCreate Class = "session-create"
	ClassHistoryFetch  Class = "history-fetch"
)

// Timeouts holds the budget for each operation class.
type Timeouts struct {
	Default       time.Duration
	ChatSend      time.Duration
	Stats         time.Duration
	SessionCreate time.Duration
	HistoryFetch  time.Duration
}

// DefaultTimeouts returns the stock budgets. Admin-mode chat answers can
// take minutes, hence the long chat-send budget.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Default:       30 * time.Second,
		ChatSend:      180 * time.Second,
		Stats:         60 * time.Second,
		SessionCreate: 30 * time.Second,
		HistoryFetch:  30 * time.Second,
	}
}

// Budget returns the budget for class c, falling back to Default and then
// to the stock default when unset.
func (t Timeouts) Budget(c Class) time.Duration {
	var d time.Duration
	switch c {
	case ClassChatSend:
		d = t.ChatSend
	case ClassStats:
		d = t.Stats
	case ClassSessionCreate:
		d = t.SessionCreate
	case ClassHistoryFetch:
		d = t.HistoryFetch
	}
	if d <= 0 {
		d = t.Default
	}
	if d <= 0 {
		d = DefaultTimeouts().Default
	}
	return d
}

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the transport client.
type ClientConfig struct {
	// BaseURL is the backend origin (default: http://localhost:8000)
	BaseURL string

	// Timeouts are the per-class budgets
	Timeouts Timeouts

	// RequestsPerSecond paces outgoing requests; 0 disables pacing
	RequestsPerSecond float64

	// Burst is the limiter burst size (default: 1 when pacing is on)
	Burst int

	// UserAgent is sent with every request
	UserAgent string

	// HTTPClient overrides the shared client (tests)
	HTTPClient *http.Client

	Logger zerolog.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:   DefaultBaseURL,
		Timeouts:  DefaultTimeouts(),
		UserAgent: DefaultUserAgent,
		Logger:    zerolog.Nop(),
	}
}

// sharedHTTPClient carries no client-level timeout; every call is bounded
// by its own context budget instead, which also covers streamed bodies.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
}

// =============================================================================
// CLIENT
// =============================================================================

// Client executes backend requests. It performs no retries.
//
// The Client is safe for concurrent use; concurrent calls never share a
// timer or a cancellation.
type Client struct {
	config     *ClientConfig
	base       *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// NewClient creates a client from config, filling zero values with defaults.
func NewClient(config *ClientConfig) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.UserAgent == "" {
		config.UserAgent = "chatwire"
	}

	base, err := url.Parse(strings.TrimSuffix(config.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "parse base url %q", config.BaseURL)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.Errorf("base url %q must use http or https", config.BaseURL)
	}

	c := &Client{
		config:     config,
		base:       base,
		httpClient: config.HTTPClient,
		logger:     config.Logger,
	}
	if c.httpClient == nil {
		c.httpClient = sharedHTTPClient
	}
	if config.RequestsPerSecond > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}
	return c, nil
}

// BaseURL returns the backend origin.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Timeouts returns the configured budgets.
func (c *Client) Timeouts() Timeouts {
	return c.config.Timeouts
}

// =============================================================================
// REQUEST / RESPONSE
// =============================================================================

// Request describes one backend call.
type Request struct {
	Class  Class
	Method string
	Path   string
	Query  url.Values

	// Body is JSON-encoded when non-nil.
	Body any

	// Accept defaults to application/json.
	Accept string

	// Timeout overrides the class budget when positive.
	Timeout time.Duration
}

// Response is a successful (2xx) response. Body reads stay bounded by the
// operation budget; Close must be called to release the budget timer.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser

	Op     Class
	Budget time.Duration
}

// Close closes the body and releases the operation's timer.
func (r *Response) Close() error {
	return r.Body.Close()
}

// Execute sends req with its own timeout budget. Non-2xx responses fail
// with RequestFailed, an expired budget with Timeout, and anything else
// with TransportError.
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	op := req.Class
	if op == "" {
		op = ClassDefault
	}
	budget := req.Timeout
	if budget <= 0 {
		budget = c.config.Timeouts.Budget(op)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	opCtx, cancel := context.WithTimeout(ctx, budget)
	fail := func(err error) (*Response, error) {
		cancel()
		return nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(opCtx); err != nil {
			if ctx.Err() != nil {
				return fail(TransportFault(op, ctx.Err()))
			}
			return fail(Timeout(op, budget))
		}
	}

	httpReq, err := c.newHTTPRequest(opCtx, method, req)
	if err != nil {
		return fail(&Error{Type: ErrTypeTransport, Op: op, Message: "failed to create request", Cause: err})
	}

	start := time.Now()
	c.logger.Debug().
		Str("op", string(op)).
		Str("method", method).
		Str("path", req.Path).
		Dur("budget", budget).
		Msg("sending request")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		classified := classify(ctx, opCtx, op, budget, err)
		c.logger.Warn().Err(classified).Str("op", string(op)).Dur("elapsed", time.Since(start)).Msg("request failed")
		return fail(classified)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
		c.logger.Warn().
			Str("op", string(op)).
			Int("status", resp.StatusCode).
			Str("body", string(snippet)).
			Msg("unexpected status")
		return fail(RequestFailed(op, resp.StatusCode, reasonPhrase(resp)))
	}

	c.logger.Debug().
		Str("op", string(op)).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("response received")

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body: &budgetBody{
			rc:     resp.Body,
			parent: ctx,
			opCtx:  opCtx,
			cancel: cancel,
			op:     op,
			budget: budget,
		},
		Op:     op,
		Budget: budget,
	}, nil
}

// DoJSON executes req and decodes the JSON response body into out.
func (c *Client) DoJSON(ctx context.Context, req *Request, out any) error {
	resp, err := c.Execute(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Close()

	if out == nil {
		_, err = io.Copy(io.Discard, resp.Body)
		return asError(resp.Op, err)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, MaxResponseSize)).Decode(out); err != nil {
		return asError(resp.Op, err)
	}
	return nil
}

func (c *Client) newHTTPRequest(ctx context.Context, method string, req *Request) (*http.Request, error) {
	u := c.base.JoinPath(req.Path)
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, errors.Wrap(err, "marshal request body")
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	accept := req.Accept
	if accept == "" {
		accept = "application/json"
	}
	httpReq.Header.Set("Accept", accept)
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	if accept == "text/event-stream" {
		httpReq.Header.Set("Cache-Control", "no-cache")
	}
	return httpReq, nil
}

// =============================================================================
// FAILURE CLASSIFICATION
// =============================================================================

// classify maps a network failure onto the error taxonomy. Caller
// cancellation is reported as TransportError wrapping the context error so
// errors.Is(err, context.Canceled) keeps working.
func classify(parent, opCtx context.Context, op Class, budget time.Duration, err error) error {
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	if parent.Err() != nil {
		return TransportFault(op, parent.Err())
	}
	if errors.Is(opCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return Timeout(op, budget)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout(op, budget)
	}
	return TransportFault(op, err)
}

// asError converts a body read/decode failure into the taxonomy.
func asError(op Class, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return &Error{Type: ErrTypeTransport, Op: op, Message: "invalid response body", Cause: err}
}

// budgetBody keeps body reads inside the operation budget and turns read
// failures into typed errors.
type budgetBody struct {
	rc     io.ReadCloser
	parent context.Context
	opCtx  context.Context
	cancel context.CancelFunc
	op     Class
	budget time.Duration
}

func (b *budgetBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if err == nil || err == io.EOF {
		return n, err
	}
	if b.parent.Err() != nil {
		return n, TransportFault(b.op, b.parent.Err())
	}
	if errors.Is(b.opCtx.Err(), context.DeadlineExceeded) {
		return n, Timeout(b.op, b.budget)
	}
	return n, StreamUnreadable(b.op, err)
}

func (b *budgetBody) Close() error {
	defer b.cancel()
	return b.rc.Close()
}
