// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jeranaias/chatwire/internal/model"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the address the real backend listens on in development.
	DefaultAddr = "127.0.0.1:8000"

	// MaxRequestBodySize caps JSON request bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// maxErrorFrameLength matches the backend's truncation of error frames.
	maxErrorFrameLength = 100
)

// ============================================================================
// RESPONDERS
// ============================================================================

// Responder produces the answer tokens for one user message.
type Responder func(ctx context.Context, mode model.Mode, message string) ([]string, error)

// EchoResponder answers with the message itself, one token per word.
func EchoResponder(_ context.Context, mode model.Mode, message string) ([]string, error) {
	prefix := "You said: "
	if mode == model.ModeAdmin {
		prefix = "[admin] You asked: "
	}
	return strings.SplitAfter(prefix+message, " "), nil
}

// FixedResponder always answers with tokens.
func FixedResponder(tokens ...string) Responder {
	return func(context.Context, model.Mode, string) ([]string, error) {
		return tokens, nil
	}
}

// ============================================================================
// STORED STATE
// ============================================================================

type storedMessage struct {
	ID        string
	SessionID string
	UserID    int64
	Content   string
	Role      model.Role
	Mode      model.Mode
	CreatedAt time.Time
}

type sessionRecord struct {
	ID        string
	UserID    int64
	Mode      model.Mode
	CreatedAt time.Time
	Messages  []storedMessage
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the stub backend.
type Server struct {
	router *http.ServeMux
	server *http.Server

	responder  Responder
	tokenDelay time.Duration
	now        func() time.Time
	logger     zerolog.Logger

	sessions map[string]*sessionRecord
	requests map[string]int

	mu sync.RWMutex
}

// Option configures a Server.
type Option func(*Server)

// WithResponder replaces the echo responder.
func WithResponder(r Responder) Option {
	return func(s *Server) {
		s.responder = r
	}
}

// WithTokenDelay paces streamed tokens.
func WithTokenDelay(d time.Duration) Option {
	return func(s *Server) {
		s.tokenDelay = d
	}
}

// WithClock overrides time.Now for message timestamps and statistics.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// WithLogger sets the request logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a Server with an empty store.
func New(opts ...Option) *Server {
	s := &Server{
		router:    http.NewServeMux(),
		responder: EchoResponder,
		now:       time.Now,
		logger:    zerolog.Nop(),
		sessions:  make(map[string]*sessionRecord),
		requests:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST /api/chat/session", s.handleCreateSession)
	s.router.HandleFunc("GET /api/chat/history", s.handleHistory)
	s.router.HandleFunc("POST /api/chat/message", s.handleMessage)
	s.router.HandleFunc("POST /api/chat/debug/sql", s.handleDebugSQL)

	s.router.HandleFunc("GET /stats", s.handleStats)
	s.router.HandleFunc("GET /health", s.handleHealth)
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(s.logger),
		LoggingMiddleware(s.logger),
		s.countRequests,
	)(s.router)
}

// countRequests tallies requests per route for RequestCount.
func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests[r.Method+" "+r.URL.Path]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// RequestCount returns how many requests hit method+path.
func (s *Server) RequestCount(method, path string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requests[method+" "+path]
}

// ============================================================================
// SESSION HANDLER
// ============================================================================

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, err := strconv.ParseInt(q.Get("user_id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, "user_id must be an integer")
		return
	}
	mode, ok := parseModeParam(q.Get("mode"))
	if !ok {
		s.writeError(w, http.StatusUnprocessableEntity, "mode must be normal or admin")
		return
	}

	rec := &sessionRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		Mode:      mode,
		CreatedAt: s.now(),
	}
	s.mu.Lock()
	s.sessions[rec.ID] = rec
	s.mu.Unlock()

	s.logger.Debug().Str("session_id", rec.ID).Int64("user_id", userID).Str("mode", mode.String()).Msg("session created")
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": rec.ID,
		"user_id":    userID,
		"mode":       mode,
	})
}

// ============================================================================
// HISTORY HANDLER
// ============================================================================

type historyItem struct {
	ID            string  `json:"id"`
	UserSessionID string  `json:"user_session_id"`
	Content       string  `json:"content"`
	Role          string  `json:"role"`
	Mode          string  `json:"mode"`
	SQLQuery      *string `json:"sql_query"`
	CreatedAt     string  `json:"created_at"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("session_id")
	if sessionID == "" {
		s.writeError(w, http.StatusUnprocessableEntity, "session_id is required")
		return
	}
	limit, err := intParam(q.Get("limit"), 50)
	if err != nil || limit < 1 || limit > 200 {
		s.writeError(w, http.StatusUnprocessableEntity, "limit must be between 1 and 200")
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		s.writeError(w, http.StatusUnprocessableEntity, "offset must be non-negative")
		return
	}

	s.mu.RLock()
	var all []storedMessage
	if rec, ok := s.sessions[sessionID]; ok {
		all = append(all, rec.Messages...)
	}
	s.mu.RUnlock()

	items := make([]historyItem, 0, limit)
	for i := offset; i < len(all) && len(items) < limit; i++ {
		m := all[i]
		items = append(items, historyItem{
			ID:            m.ID,
			UserSessionID: m.SessionID,
			Content:       m.Content,
			Role:          m.Role.String(),
			Mode:          m.Mode.String(),
			CreatedAt:     m.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000"),
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"items":   items,
		"total":   len(all),
		"offset":  offset,
		"limit":   limit,
		"hasMore": offset+len(items) < len(all),
	})
}

// ============================================================================
// MESSAGE HANDLER
// ============================================================================

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := q.Get("message")
	sessionID := q.Get("session_id")
	if text == "" || sessionID == "" {
		s.writeError(w, http.StatusUnprocessableEntity, "message and session_id are required")
		return
	}
	mode, ok := parseModeParam(q.Get("mode"))
	if !ok {
		s.writeError(w, http.StatusUnprocessableEntity, "mode must be normal or admin")
		return
	}

	s.mu.RLock()
	_, known := s.sessions[sessionID]
	s.mu.RUnlock()
	if !known {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming is not supported")
		return
	}

	s.record(sessionID, model.RoleUser, mode, text)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var answer strings.Builder
	tokens, err := s.responder(r.Context(), mode, text)
	if err != nil {
		msg := err.Error()
		if len(msg) > maxErrorFrameLength {
			msg = msg[:maxErrorFrameLength]
		}
		s.sendFrame(w, flusher, map[string]string{"error": msg})
	}
	for _, token := range tokens {
		if s.tokenDelay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(s.tokenDelay):
			}
		}
		answer.WriteString(token)
		s.sendFrame(w, flusher, map[string]string{"content": token})
	}

	if answer.Len() > 0 {
		s.record(sessionID, model.RoleAssistant, mode, answer.String())
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// sendFrame sends a single SSE data frame.
func (s *Server) sendFrame(w http.ResponseWriter, flusher http.Flusher, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func (s *Server) record(sessionID string, role model.Role, mode model.Mode, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	rec.Messages = append(rec.Messages, storedMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    rec.UserID,
		Content:   content,
		Role:      role,
		Mode:      mode,
		CreatedAt: s.now(),
	})
}

// ============================================================================
// DEBUG SQL HANDLER
// ============================================================================

func (s *Server) handleDebugSQL(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req struct {
		Question string         `json:"question"`
		Context  map[string]any `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Question) == "" {
		s.writeError(w, http.StatusUnprocessableEntity, "question is required")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"sql":         "",
		"explanation": "",
		"is_cached":   false,
		"error":       "SQL generation is not available on the stub backend",
	})
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	sessions := len(s.sessions)
	s.mu.RUnlock()

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": sessions,
	})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// ListenAndServe serves the stub backend on addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	s.mu.Lock()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Info().Str("addr", addr).Msg("stub backend listening")
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	s.logger.Info().Msg("stub backend shutting down")
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes an error body in the backend's {"detail": ...} shape.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"detail": message})
}

// parseModeParam defaults an empty mode to normal.
func parseModeParam(v string) (model.Mode, bool) {
	if v == "" {
		return model.ModeNormal, true
	}
	mode := model.Mode(v)
	return mode, mode.Valid()
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
