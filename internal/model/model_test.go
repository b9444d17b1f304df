// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// MODE TESTS
// =============================================================================

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "normal", want: ModeNormal},
		{in: "admin", want: ModeAdmin},
		{in: " ADMIN ", want: ModeAdmin},
		{in: "root", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseMode(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestNewMessage_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		msg := NewMessage(RoleUser, "hi", ModeNormal)
		require.NotEmpty(t, msg.ID)
		require.False(t, seen[msg.ID], "duplicate id %s", msg.ID)
		seen[msg.ID] = true
	}
}

func TestNewMessageAt(t *testing.T) {
	ts := time.Date(2025, 10, 17, 10, 30, 0, 0, time.UTC)
	msg := NewMessageAt(RoleAssistant, "answer", ModeAdmin, ts)

	assert.Equal(t, ts, msg.Timestamp)
	assert.True(t, msg.IsAssistant())
	assert.False(t, msg.IsUser())
	assert.Equal(t, ModeAdmin, msg.Mode)
}

func TestMessage_Preview(t *testing.T) {
	msg := Message{Content: "hello\n  there   world"}

	assert.Equal(t, "hello there world", msg.Preview(0))
	assert.Equal(t, "hello...", msg.Preview(8))
	assert.Equal(t, "hel", msg.Preview(3))
}

// =============================================================================
// SESSION TESTS
// =============================================================================

func TestSession_BoundTo(t *testing.T) {
	sess := Session{ID: "sess-A", UserID: 123456, Mode: ModeNormal}

	assert.True(t, sess.BoundTo(123456, ModeNormal))
	assert.False(t, sess.BoundTo(123456, ModeAdmin))
	assert.False(t, sess.BoundTo(1, ModeNormal))
	assert.False(t, Session{UserID: 123456, Mode: ModeNormal}.BoundTo(123456, ModeNormal))
}
