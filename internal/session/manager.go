// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/jeranaias/chatwire/internal/model"
	"github.com/jeranaias/chatwire/internal/store"
)

// Creator creates backend sessions.
type Creator interface {
	CreateSession(ctx context.Context, userID int64, mode model.Mode) (model.Session, error)
}

// =============================================================================
// SESSION MANAGER
// =============================================================================

// Manager keeps the store bound to a session for the current user and mode.
type Manager struct {
	mu sync.Mutex

	// User identity; unknown until SetUser or EnsureSession.
	userID  int64
	hasUser bool

	creator Creator
	store   *store.Store
	group   singleflight.Group
	logger  zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a manager that creates sessions through creator and
// binds them in st.
func NewManager(creator Creator, st *store.Store, opts ...Option) *Manager {
	m := &Manager{
		creator: creator,
		store:   st,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// =============================================================================
// USER IDENTITY
// =============================================================================

// SetUser records the user identity used for mode switches.
func (m *Manager) SetUser(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userID = userID
	m.hasUser = true
}

// User returns the known user identity.
func (m *Manager) User() (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID, m.hasUser
}

// =============================================================================
// OPERATIONS
// =============================================================================

// EnsureSession returns the bound session when it already belongs to
// (userID, mode); otherwise it creates one and binds it. Concurrent calls
// for the same pair share one backend request. A creation failure is
// recorded as the store error and returned.
func (m *Manager) EnsureSession(ctx context.Context, userID int64, mode model.Mode) (model.Session, error) {
	if !mode.Valid() {
		return model.Session{}, errors.Errorf("invalid mode %q", mode)
	}
	m.SetUser(userID)

	if sess, ok := m.bound(userID, mode); ok {
		return sess, nil
	}

	// The shared request runs detached from any one caller; the transport
	// budget still bounds it. Each caller waits only on its own ctx.
	key := strconv.FormatInt(userID, 10) + ":" + mode.String()
	shared := context.WithoutCancel(ctx)
	ch := m.group.DoChan(key, func() (any, error) {
		if sess, ok := m.bound(userID, mode); ok {
			return sess, nil
		}
		sess, err := m.creator.CreateSession(shared, userID, mode)
		if err != nil {
			return nil, err
		}
		m.store.BindSession(sess)
		return sess, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res.Err = errors.Wrap(ctx.Err(), "session creation abandoned")
	}
	v, err := res.Val, res.Err
	if err != nil {
		m.logger.Warn().Err(err).Int64("user_id", userID).Str("mode", mode.String()).Msg("session creation failed")
		m.store.SetError(err.Error())
		return model.Session{}, err
	}

	sess := v.(model.Session)
	m.logger.Info().Str("session_id", sess.ID).Int64("user_id", userID).Str("mode", mode.String()).Msg("session bound")
	return sess, nil
}

// SwitchMode moves the conversation to newMode. It is a no-op when
// newMode is already active. With a known user a new session is created
// first; mode, session and the cleared message list are then applied
// together. On failure nothing but the store error changes. Without a
// known user the mode changes, messages are cleared and no session is
// bound.
func (m *Manager) SwitchMode(ctx context.Context, newMode model.Mode) error {
	if !newMode.Valid() {
		return errors.Errorf("invalid mode %q", newMode)
	}
	if m.store.Snapshot().Mode == newMode {
		return nil
	}

	userID, ok := m.User()
	if !ok {
		m.store.SwitchMode(newMode, nil)
		m.logger.Debug().Str("mode", newMode.String()).Msg("mode switched without a user")
		return nil
	}

	sess, err := m.creator.CreateSession(ctx, userID, newMode)
	if err != nil {
		m.logger.Warn().Err(err).Str("mode", newMode.String()).Msg("mode switch failed")
		m.store.SetError(err.Error())
		return err
	}

	m.store.SwitchMode(newMode, &sess)
	m.logger.Info().Str("session_id", sess.ID).Str("mode", newMode.String()).Msg("mode switched")
	return nil
}

// bound returns the store's session when it matches (userID, mode).
func (m *Manager) bound(userID int64, mode model.Mode) (model.Session, bool) {
	st := m.store.Snapshot()
	if st.Session != nil && st.Session.BoundTo(userID, mode) {
		return *st.Session, true
	}
	return model.Session{}, false
}
