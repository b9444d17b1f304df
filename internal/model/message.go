// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// =============================================================================
// MODE TYPE
// =============================================================================

// Mode selects the conversational context on the backend.
type Mode string

const (
	ModeNormal Mode = "normal"
	ModeAdmin  Mode = "admin"
)

// String returns the wire form of the mode.
func (m Mode) String() string {
	return string(m)
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeNormal || m == ModeAdmin
}

// ParseMode converts user input into a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", errors.Errorf("invalid mode %q, must be one of: normal, admin", s)
	}
	return m, nil
}

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is a single chat message. Messages are never mutated after
// creation; the store copies them by value.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Role      Role      `json:"role"`
	Mode      Mode      `json:"mode"`
	Timestamp time.Time `json:"timestamp"`

	// SQLQuery is set on admin-mode answers loaded from history.
	SQLQuery string `json:"sql_query,omitempty"`
}

// NewMessage creates a message with a random ID stamped with the current time.
func NewMessage(role Role, content string, mode Mode) Message {
	return NewMessageAt(role, content, mode, time.Now())
}

// NewMessageAt creates a message with a random ID and an explicit timestamp.
func NewMessageAt(role Role, content string, mode Mode, ts time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Content:   content,
		Role:      role,
		Mode:      mode,
		Timestamp: ts,
	}
}

// IsUser returns true if this is a user message.
func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

// IsAssistant returns true if this is an assistant message.
func (m Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}

// Preview returns the first maxLen runes of the content on a single line.
func (m Message) Preview(maxLen int) string {
	s := strings.Join(strings.Fields(m.Content), " ")
	r := []rune(s)
	if maxLen <= 0 || len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// =============================================================================
// SESSION TYPE
// =============================================================================

// Session is a server-tracked conversation bound to one user and one mode.
type Session struct {
	ID     string `json:"id"`
	UserID int64  `json:"user_id"`
	Mode   Mode   `json:"mode"`
}

// BoundTo reports whether the session belongs to the given user and mode.
func (s Session) BoundTo(userID int64, mode Mode) bool {
	return s.ID != "" && s.UserID == userID && s.Mode == mode
}

// =============================================================================
// HISTORY PAGE
// =============================================================================

// HistoryPage is one page of a session's prior messages.
type HistoryPage struct {
	Items   []Message
	Total   int
	Offset  int
	Limit   int
	HasMore bool
}
