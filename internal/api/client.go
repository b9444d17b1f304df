// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api provides typed calls for every backend endpoint the chat
// client uses. Each call runs through the transport layer under its own
// operation class, so budgets and error classification are uniform.
package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/chatwire/internal/model"
	"github.com/jeranaias/chatwire/internal/stream"
	"github.com/jeranaias/chatwire/internal/transport"
)

// =============================================================================
// ENDPOINTS
// =============================================================================

const (
	PathSession  = "/api/chat/session"
	PathHistory  = "/api/chat/history"
	PathMessage  = "/api/chat/message"
	PathDebugSQL = "/api/chat/debug/sql"
	PathStats    = "/stats"
)

// History page bounds accepted by the backend.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// =============================================================================
// CLIENT
// =============================================================================

// Client calls the backend endpoints.
type Client struct {
	transport *transport.Client
	logger    zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a Client on top of t.
func New(t *transport.Client, opts ...Option) *Client {
	c := &Client{
		transport: t,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// =============================================================================
// SESSIONS
// =============================================================================

type sessionResponse struct {
	SessionID string     `json:"session_id"`
	UserID    int64      `json:"user_id"`
	Mode      model.Mode `json:"mode"`
}

// CreateSession asks the backend for a new session bound to (userID, mode).
func (c *Client) CreateSession(ctx context.Context, userID int64, mode model.Mode) (model.Session, error) {
	var out sessionResponse
	err := c.transport.DoJSON(ctx, &transport.Request{
		Class:  transport.ClassSessionCreate,
		Method: http.MethodPost,
		Path:   PathSession,
		Query: url.Values{
			"user_id": {strconv.FormatInt(userID, 10)},
			"mode":    {mode.String()},
		},
	}, &out)
	if err != nil {
		return model.Session{}, err
	}
	if out.SessionID == "" {
		return model.Session{}, &transport.Error{
			Type:    transport.ErrTypeTransport,
			Op:      transport.ClassSessionCreate,
			Message: "response is missing session_id",
		}
	}

	sess := model.Session{ID: out.SessionID, UserID: userID, Mode: mode}
	c.logger.Debug().Str("session_id", sess.ID).Int64("user_id", userID).Str("mode", mode.String()).Msg("session created")
	return sess, nil
}

// =============================================================================
// HISTORY
// =============================================================================

type historyItem struct {
	ID            string  `json:"id"`
	UserSessionID string  `json:"user_session_id"`
	Content       string  `json:"content"`
	Role          string  `json:"role"`
	Mode          string  `json:"mode"`
	SQLQuery      *string `json:"sql_query"`
	CreatedAt     string  `json:"created_at"`
}

type historyResponse struct {
	Items   []historyItem `json:"items"`
	Total   int           `json:"total"`
	Offset  int           `json:"offset"`
	Limit   int           `json:"limit"`
	HasMore bool          `json:"hasMore"`
}

// ClampLimit maps limit into the range the backend accepts; zero or
// negative values select the default page size.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}

// History fetches one page of prior messages for sessionID, oldest first.
func (c *Client) History(ctx context.Context, sessionID string, limit, offset int) (model.HistoryPage, error) {
	if offset < 0 {
		offset = 0
	}
	limit = ClampLimit(limit)

	var out historyResponse
	err := c.transport.DoJSON(ctx, &transport.Request{
		Class: transport.ClassHistoryFetch,
		Path:  PathHistory,
		Query: url.Values{
			"session_id": {sessionID},
			"limit":      {strconv.Itoa(limit)},
			"offset":     {strconv.Itoa(offset)},
		},
	}, &out)
	if err != nil {
		return model.HistoryPage{}, err
	}

	page := model.HistoryPage{
		Items:   make([]model.Message, 0, len(out.Items)),
		Total:   out.Total,
		Offset:  out.Offset,
		Limit:   out.Limit,
		HasMore: out.HasMore,
	}
	for _, item := range out.Items {
		page.Items = append(page.Items, c.toMessage(item))
	}
	return page, nil
}

func (c *Client) toMessage(item historyItem) model.Message {
	ts, err := ParseTimestamp(item.CreatedAt)
	if err != nil {
		c.logger.Debug().Err(err).Str("id", item.ID).Msg("history item has unparseable created_at")
	}
	msg := model.Message{
		ID:        item.ID,
		Content:   item.Content,
		Role:      model.Role(item.Role),
		Mode:      model.Mode(item.Mode),
		Timestamp: ts,
	}
	if item.SQLQuery != nil {
		msg.SQLQuery = *item.SQLQuery
	}
	return msg
}

// timestampLayouts are tried in order. The backend emits naive ISO
// timestamps; those are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
}

// ParseTimestamp parses a backend created_at value.
func ParseTimestamp(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range timestampLayouts {
		ts, err := time.Parse(layout, s)
		if err == nil {
			return ts, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// =============================================================================
// MESSAGES
// =============================================================================

// SendMessage posts text to the session and returns a decoder over the
// answer stream. The decoder owns the response: it is released when the
// stream terminates, fails, or the decoder is closed. The chat-send budget
// covers the whole stream, not only the response headers.
func (c *Client) SendMessage(ctx context.Context, sessionID, text string, mode model.Mode, opts ...stream.Option) (*stream.Decoder, error) {
	resp, err := c.transport.Execute(ctx, &transport.Request{
		Class:  transport.ClassChatSend,
		Method: http.MethodPost,
		Path:   PathMessage,
		Query: url.Values{
			"message":    {text},
			"session_id": {sessionID},
			"mode":       {mode.String()},
		},
		Accept: "text/event-stream",
	})
	if err != nil {
		return nil, err
	}

	opts = append([]stream.Option{stream.WithLogger(c.logger)}, opts...)
	return stream.NewDecoder(resp.Body, opts...), nil
}
