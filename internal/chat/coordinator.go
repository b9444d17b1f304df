// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jeranaias/chatwire/internal/history"
	"github.com/jeranaias/chatwire/internal/model"
	"github.com/jeranaias/chatwire/internal/session"
	"github.com/jeranaias/chatwire/internal/store"
	"github.com/jeranaias/chatwire/internal/stream"
	"github.com/jeranaias/chatwire/internal/transport"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEmptyMessage is returned for blank input. Nothing is sent.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrNothingToRetry is returned by Retry when no user message exists.
	ErrNothingToRetry = errors.New("no message to retry")
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Backend is the remote chat service.
type Backend interface {
	session.Creator
	history.Fetcher
	SendMessage(ctx context.Context, sessionID, text string, mode model.Mode, opts ...stream.Option) (*stream.Decoder, error)
}

// Recorder receives every message the coordinator appends.
type Recorder interface {
	Record(ctx context.Context, sessionID string, msg model.Message) error
}

// =============================================================================
// COORDINATOR
// =============================================================================

// Coordinator drives the conversation: it binds sessions, loads history
// and runs the send state machine against one store.
type Coordinator struct {
	backend      Backend
	store        *store.Store
	sessions     *session.Manager
	history      *history.Loader
	recorder     Recorder
	historyLimit int
	logger       zerolog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithStore uses st instead of a fresh store.
func WithStore(st *store.Store) Option {
	return func(c *Coordinator) {
		c.store = st
	}
}

// WithRecorder sends every appended message to r.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		c.recorder = r
	}
}

// WithLogger sets the logger used by the coordinator and its components.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithHistoryLimit sets the page size loaded on bootstrap and mode switch.
func WithHistoryLimit(limit int) Option {
	return func(c *Coordinator) {
		c.historyLimit = limit
	}
}

// New creates a coordinator over backend.
func New(backend Backend, opts ...Option) *Coordinator {
	c := &Coordinator{
		backend:      backend,
		historyLimit: history.DefaultLimit,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = store.New(store.WithLogger(c.logger))
	}
	c.sessions = session.NewManager(backend, c.store, session.WithLogger(c.logger))
	c.history = history.NewLoader(backend, c.store, history.WithLogger(c.logger))
	return c
}

// Store returns the conversation store.
func (c *Coordinator) Store() *store.Store {
	return c.store
}

// Sessions returns the session manager.
func (c *Coordinator) Sessions() *session.Manager {
	return c.sessions
}

// History returns the history loader.
func (c *Coordinator) History() *history.Loader {
	return c.history
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Bootstrap ensures a session for userID in the current mode and loads its
// history.
func (c *Coordinator) Bootstrap(ctx context.Context, userID int64) (model.Session, error) {
	sess, err := c.sessions.EnsureSession(ctx, userID, c.store.Snapshot().Mode)
	if err != nil {
		return model.Session{}, err
	}
	if _, err := c.history.Load(ctx, sess.ID, c.historyLimit, 0); err != nil {
		return sess, err
	}
	return sess, nil
}

// SwitchMode changes the mode, binds a new session and loads its history.
func (c *Coordinator) SwitchMode(ctx context.Context, mode model.Mode) error {
	if err := c.sessions.SwitchMode(ctx, mode); err != nil {
		return err
	}
	id := c.store.Snapshot().SessionID()
	if id == "" {
		return nil
	}
	_, err := c.history.Load(ctx, id, c.historyLimit, 0)
	return err
}

// ClearChat drops the messages and the error of the current session.
func (c *Coordinator) ClearChat() {
	c.store.ClearMessages()
	c.store.ClearError()
}

// =============================================================================
// SENDING
// =============================================================================

// SendMessage sends text to the bound session and returns the assistant
// reply once the stream ends.
//
// The user message is appended and loading set before the request is made.
// On success the reply is appended; on failure the store error is set and
// the user message stays. Either outcome is applied only if the store is
// still bound to the session the send started on.
func (c *Coordinator) SendMessage(ctx context.Context, text string) (model.Message, error) {
	if strings.TrimSpace(text) == "" {
		return model.Message{}, ErrEmptyMessage
	}

	snap := c.store.Snapshot()
	if snap.Session == nil {
		return model.Message{}, transport.ErrSessionMissing
	}
	sessionID, mode := snap.Session.ID, snap.Mode

	user := model.NewMessage(model.RoleUser, text, mode)
	if !c.store.BeginSend(sessionID, user) {
		return model.Message{}, transport.ErrSessionMissing
	}
	c.record(ctx, sessionID, user)

	logger := c.logger.With().Str("session_id", sessionID).Str("mode", mode.String()).Logger()
	logger.Debug().Msg("sending message")

	reply, err := c.stream(ctx, sessionID, text, mode)
	if err != nil {
		logger.Warn().Err(err).Msg("send failed")
		c.store.CompleteSend(sessionID, nil, err.Error())
		return model.Message{}, err
	}

	if c.store.CompleteSend(sessionID, &reply, "") {
		c.record(ctx, sessionID, reply)
	}
	logger.Info().Int("chars", len(reply.Content)).Msg("reply received")
	return reply, nil
}

// Retry re-sends the most recent user message.
func (c *Coordinator) Retry(ctx context.Context) (model.Message, error) {
	last, ok := c.store.Snapshot().LastUserMessage()
	if !ok {
		return model.Message{}, ErrNothingToRetry
	}
	return c.SendMessage(ctx, last.Content)
}

// stream runs one request and accumulates its tokens.
func (c *Coordinator) stream(ctx context.Context, sessionID, text string, mode model.Mode) (model.Message, error) {
	var remote []string
	dec, err := c.backend.SendMessage(ctx, sessionID, text, mode,
		stream.WithErrorFrameHook(func(msg string) {
			remote = append(remote, msg)
		}),
	)
	if err != nil {
		return model.Message{}, err
	}
	defer dec.Close()

	content, err := stream.Collect(dec)
	if err != nil {
		return model.Message{}, err
	}

	stats := dec.Stats()
	if stats.Malformed > 0 {
		c.logger.Debug().Int("malformed", stats.Malformed).Msg("stream contained malformed frames")
	}
	if len(remote) > 0 {
		// Error frames do not fail a stream that reached its end.
		c.logger.Warn().Strs("remote_errors", remote).Str("session_id", sessionID).Msg("stream reported backend errors")
	}
	return model.NewMessage(model.RoleAssistant, content, mode), nil
}

func (c *Coordinator) record(ctx context.Context, sessionID string, msg model.Message) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.Record(ctx, sessionID, msg); err != nil {
		c.logger.Warn().Err(err).Str("session_id", sessionID).Msg("transcript write failed")
	}
}
