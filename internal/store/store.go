// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store holds the conversation state of the chat client: the
// active session, the message list, the mode, and the loading and error
// flags.
//
// Every operation is atomic with respect to the others. Sequences of
// operations are not; callers that need a check-then-act step use the
// session-guarded operations (AppendForSession, CompleteSend, ...), which
// apply only while the store is still bound to the session they name.
//
// Subscribers are notified after every mutation with a snapshot. The
// snapshot is built under the lock and delivered outside it, so a
// subscriber may call back into the store.
package store

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/jeranaias/chatwire/internal/model"
)

// =============================================================================
// STATE
// =============================================================================

// State is an immutable snapshot of the conversation.
type State struct {
	// Session is nil when no session is bound.
	Session  *model.Session
	Messages []model.Message
	Mode     model.Mode
	Loading  bool

	// Error is empty when absent.
	Error string

	// Version increases with every mutation; subscribers can use it to
	// drop snapshots that arrive out of order.
	Version uint64
}

// SessionID returns the bound session id or "".
func (s State) SessionID() string {
	if s.Session == nil {
		return ""
	}
	return s.Session.ID
}

// LastUserMessage returns the most recent user message.
func (s State) LastUserMessage() (model.Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].IsUser() {
			return s.Messages[i], true
		}
	}
	return model.Message{}, false
}

func (s State) clone() State {
	out := s
	if s.Session != nil {
		sess := *s.Session
		out.Session = &sess
	}
	out.Messages = append([]model.Message(nil), s.Messages...)
	return out
}

func initialState() State {
	return State{Mode: model.ModeNormal}
}

// Listener receives a snapshot after every mutation.
type Listener func(State)

// =============================================================================
// STORE
// =============================================================================

// Store is the single source of truth for conversation state.
type Store struct {
	mu    sync.Mutex
	state State

	// sending counts in-flight sends; Loading stays set while any is open.
	sending int

	listeners map[int]Listener
	nextID    int

	logger zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithMode sets the initial mode.
func WithMode(mode model.Mode) Option {
	return func(s *Store) {
		s.state.Mode = mode
	}
}

// New creates an empty store in normal mode.
func New(opts ...Option) *Store {
	s := &Store{
		state:     initialState(),
		listeners: make(map[int]Listener),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe registers fn and returns a func that removes it.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// mutate applies fn under the lock. When fn reports a change the version
// is bumped and listeners are notified with the new snapshot.
func (s *Store) mutate(fn func(*State) bool) bool {
	s.mu.Lock()
	if !fn(&s.state) {
		s.mu.Unlock()
		return false
	}
	s.state.Version++
	snap := s.state.clone()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
	return true
}

// boundTo reports whether st is bound to sessionID.
func boundTo(st *State, sessionID string) bool {
	return sessionID != "" && st.Session != nil && st.Session.ID == sessionID
}

// =============================================================================
// BASIC OPERATIONS
// =============================================================================

// SetSession binds sess; nil clears the binding.
func (s *Store) SetSession(sess *model.Session) {
	s.mutate(func(st *State) bool {
		if sess == nil {
			st.Session = nil
			return true
		}
		cp := *sess
		st.Session = &cp
		return true
	})
}

// AppendMessage adds msg to the end of the list.
func (s *Store) AppendMessage(msg model.Message) {
	s.mutate(func(st *State) bool {
		st.Messages = append(st.Messages, msg)
		return true
	})
}

// ReplaceMessages swaps the whole list for msgs.
func (s *Store) ReplaceMessages(msgs []model.Message) {
	s.mutate(func(st *State) bool {
		st.Messages = append([]model.Message(nil), msgs...)
		return true
	})
}

// SetMode changes the mode and clears the message list.
func (s *Store) SetMode(mode model.Mode) {
	s.mutate(func(st *State) bool {
		st.Mode = mode
		st.Messages = nil
		return true
	})
}

// SetLoading sets the loading flag.
func (s *Store) SetLoading(loading bool) {
	s.mutate(func(st *State) bool {
		st.Loading = loading
		return true
	})
}

// SetError records msg as the last failure, replacing any prior error.
func (s *Store) SetError(msg string) {
	s.mutate(func(st *State) bool {
		st.Error = msg
		return true
	})
}

// ClearError removes the error.
func (s *Store) ClearError() {
	s.mutate(func(st *State) bool {
		st.Error = ""
		return true
	})
}

// ClearMessages empties the message list.
func (s *Store) ClearMessages() {
	s.mutate(func(st *State) bool {
		st.Messages = nil
		return true
	})
}

// Reset restores the initial state: no session, no messages, normal mode.
func (s *Store) Reset() {
	s.mutate(func(st *State) bool {
		version := st.Version
		*st = initialState()
		st.Version = version
		s.sending = 0
		return true
	})
}

// =============================================================================
// COMPOSITE OPERATIONS
// =============================================================================

// SwitchMode sets mode, clears the messages and the error, and binds sess
// (nil leaves no session) in one mutation.
func (s *Store) SwitchMode(mode model.Mode, sess *model.Session) {
	s.mutate(func(st *State) bool {
		st.Mode = mode
		st.Messages = nil
		st.Error = ""
		st.Session = nil
		if sess != nil {
			cp := *sess
			st.Session = &cp
		}
		return true
	})
}

// BindSession binds sess. If sess belongs to a different mode than the
// active one, the mode follows it and the messages are cleared in the
// same mutation, so the list never mixes modes.
func (s *Store) BindSession(sess model.Session) {
	s.mutate(func(st *State) bool {
		if st.Mode != sess.Mode {
			st.Mode = sess.Mode
			st.Messages = nil
		}
		st.Session = &sess
		return true
	})
}

// AppendForSession appends msg only while the store is bound to sessionID.
func (s *Store) AppendForSession(sessionID string, msg model.Message) bool {
	return s.mutate(func(st *State) bool {
		if !boundTo(st, sessionID) {
			return false
		}
		st.Messages = append(st.Messages, msg)
		return true
	})
}

// ReplaceForSession replaces the list only while bound to sessionID.
func (s *Store) ReplaceForSession(sessionID string, msgs []model.Message) bool {
	return s.mutate(func(st *State) bool {
		if !boundTo(st, sessionID) {
			return false
		}
		st.Messages = append([]model.Message(nil), msgs...)
		return true
	})
}

// SetErrorForSession sets the error only while bound to sessionID.
func (s *Store) SetErrorForSession(sessionID, msg string) bool {
	return s.mutate(func(st *State) bool {
		if !boundTo(st, sessionID) {
			return false
		}
		st.Error = msg
		return true
	})
}

// BeginSend clears the error, appends the user message and sets loading,
// provided the store is bound to sessionID.
func (s *Store) BeginSend(sessionID string, user model.Message) bool {
	return s.mutate(func(st *State) bool {
		if !boundTo(st, sessionID) {
			return false
		}
		st.Error = ""
		st.Messages = append(st.Messages, user)
		s.sending++
		st.Loading = true
		return true
	})
}

// CompleteSend ends a send started with BeginSend. The reply (or errMsg
// when reply is nil) is applied only while the store is still bound to
// sessionID; loading is released either way. It reports whether the
// outcome was applied.
func (s *Store) CompleteSend(sessionID string, reply *model.Message, errMsg string) bool {
	applied := false
	s.mutate(func(st *State) bool {
		if s.sending > 0 {
			s.sending--
		}
		st.Loading = s.sending > 0

		if !boundTo(st, sessionID) {
			return true
		}
		applied = true
		if reply != nil {
			st.Messages = append(st.Messages, *reply)
		} else if errMsg != "" {
			st.Error = errMsg
		}
		return true
	})
	if !applied {
		s.logger.Debug().Str("session_id", sessionID).Msg("dropping send outcome for a session that is no longer bound")
	}
	return applied
}
