// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatwire/internal/model"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "nested", "transcript.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func msgAt(role model.Role, content string, mode model.Mode, offset time.Duration) model.Message {
	return model.NewMessageAt(role, content, mode, base.Add(offset))
}

// =============================================================================
// RECORD / LIST TESTS
// =============================================================================

func TestRecordAndList(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()

	query := "SELECT count(*) FROM users"
	user := msgAt(model.RoleUser, "how many users?", model.ModeAdmin, 0)
	reply := msgAt(model.RoleAssistant, "42", model.ModeAdmin, time.Second)
	reply.SQLQuery = query

	require.NoError(t, j.Record(ctx, "sess-A", user))
	require.NoError(t, j.Record(ctx, "sess-A", reply))

	entries, err := j.List(ctx, Filter{SessionID: "sess-A"})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, user, entries[0].Message)
	assert.Equal(t, reply, entries[1].Message)
	assert.Equal(t, "sess-A", entries[1].SessionID)
	assert.Less(t, entries[0].Seq, entries[1].Seq)
}

func TestRecord_DuplicateIDKeepsFirst(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()

	msg := msgAt(model.RoleUser, "original", model.ModeNormal, 0)
	require.NoError(t, j.Record(ctx, "sess-A", msg))

	dup := msg
	dup.Content = "changed"
	require.NoError(t, j.Record(ctx, "sess-A", dup))

	entries, err := j.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "original", entries[0].Message.Content)
}

func TestRecord_RejectsMissingIdentifiers(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()

	assert.Error(t, j.Record(ctx, "", msgAt(model.RoleUser, "x", model.ModeNormal, 0)))
	assert.Error(t, j.Record(ctx, "sess-A", model.Message{Content: "no id"}))
}

func TestList_LimitKeepsMostRecent(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()

	for i, text := range []string{"one", "two", "three", "four"} {
		require.NoError(t, j.Record(ctx, "sess-A", msgAt(model.RoleUser, text, model.ModeNormal, time.Duration(i)*time.Second)))
	}
	require.NoError(t, j.Record(ctx, "sess-B", msgAt(model.RoleUser, "other", model.ModeNormal, 10*time.Second)))

	entries, err := j.List(ctx, Filter{SessionID: "sess-A", Limit: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "three", entries[0].Message.Content)
	assert.Equal(t, "four", entries[1].Message.Content)

	all, err := j.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.db")
	ctx := context.Background()

	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Record(ctx, "sess-A", msgAt(model.RoleUser, "hello", model.ModeNormal, 0)))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()

	entries, err := j.List(ctx, Filter{SessionID: "sess-A"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].Message.Content)
}

// =============================================================================
// SESSION TESTS
// =============================================================================

func TestSessions(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, "sess-A", msgAt(model.RoleUser, "first question", model.ModeNormal, 0)))
	require.NoError(t, j.Record(ctx, "sess-A", msgAt(model.RoleAssistant, "answer", model.ModeNormal, time.Second)))
	require.NoError(t, j.Record(ctx, "sess-B", msgAt(model.RoleUser, "admin question", model.ModeAdmin, time.Minute)))

	sessions, err := j.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	assert.Equal(t, "sess-B", sessions[0].ID)
	assert.Equal(t, model.ModeAdmin, sessions[0].Mode)

	a := sessions[1]
	assert.Equal(t, "sess-A", a.ID)
	assert.Equal(t, 2, a.Messages)
	assert.Equal(t, "first question", a.Preview)
	assert.Equal(t, base, a.FirstSeen)
	assert.Equal(t, base.Add(time.Second), a.LastSeen)
}

func TestDelete(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, "sess-A", msgAt(model.RoleUser, "a", model.ModeNormal, 0)))
	require.NoError(t, j.Record(ctx, "sess-A", msgAt(model.RoleAssistant, "b", model.ModeNormal, time.Second)))

	n, err := j.Delete(ctx, "sess-A")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = j.Delete(ctx, "sess-A")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestClosedJournal(t *testing.T) {
	j := openTemp(t)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	err := j.Record(context.Background(), "sess-A", msgAt(model.RoleUser, "x", model.ModeNormal, 0))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = j.List(context.Background(), Filter{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

// =============================================================================
// FORMAT TESTS
// =============================================================================

func TestExportMarkdown(t *testing.T) {
	query := "SELECT 1"
	reply := msgAt(model.RoleAssistant, "one", model.ModeAdmin, time.Second)
	reply.SQLQuery = query
	entries := []Entry{
		{SessionID: "sess-A", Message: msgAt(model.RoleUser, "count?", model.ModeAdmin, 0)},
		{SessionID: "sess-A", Message: reply},
	}

	out := ExportMarkdown("sess-A", entries)
	assert.Contains(t, out, "# Session sess-A")
	assert.Contains(t, out, "Started: 2025-03-01T12:00:00Z")
	assert.Contains(t, out, "**You** (12:00, admin):\n\ncount?")
	assert.Contains(t, out, "```sql\nSELECT 1\n```")
}

func TestFormatSessionList(t *testing.T) {
	assert.Equal(t, "No sessions recorded.", FormatSessionList(nil))

	out := FormatSessionList([]SessionSummary{{
		ID:       "0123456789abcdefXYZ",
		Mode:     model.ModeNormal,
		Messages: 3,
		LastSeen: base,
		Preview:  "a question that is definitely longer than thirty runes",
	}})
	assert.Contains(t, out, "0123456789abcd ")
	assert.NotContains(t, out, "XYZ")
	assert.Contains(t, out, "a question that is definite...")
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "", truncateString("abc", 0))
	assert.Equal(t, "abc", truncateString("abc", 3))
	assert.Equal(t, "ab", truncateString("abcdef", 2))
	assert.Equal(t, "héllo...", truncateString("héllo wörld", 8))
}
