// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatwire/internal/model"
	"github.com/jeranaias/chatwire/internal/server"
	"github.com/jeranaias/chatwire/internal/stream"
	"github.com/jeranaias/chatwire/internal/transport"
)

func newClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	cfg := transport.DefaultConfig()
	cfg.BaseURL = ts.URL
	tc, err := transport.NewClient(cfg)
	require.NoError(t, err)
	return New(tc)
}

// =============================================================================
// SESSION TESTS
// =============================================================================

func TestCreateSession(t *testing.T) {
	c := newClient(t, server.New().Handler())

	sess, err := c.CreateSession(context.Background(), 123456, model.ModeAdmin)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.True(t, sess.BoundTo(123456, model.ModeAdmin))
}

func TestCreateSession_MissingID(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"user_id":1,"mode":"normal"}`))
	}))

	_, err := c.CreateSession(context.Background(), 1, model.ModeNormal)
	require.Error(t, err)
	assert.Equal(t, transport.ErrTypeTransport, transport.TypeOf(err))
}

// =============================================================================
// HISTORY TESTS
// =============================================================================

func TestHistory_ConvertsItems(t *testing.T) {
	var gotLimit, gotOffset string
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLimit = r.URL.Query().Get("limit")
		gotOffset = r.URL.Query().Get("offset")
		w.Write([]byte(`{
			"items": [
				{"id":"m1","user_session_id":"sess-A","content":"how many?","role":"user","mode":"admin","sql_query":null,"created_at":"2025-10-17T10:30:00"},
				{"id":"m2","user_session_id":"sess-A","content":"42","role":"assistant","mode":"admin","sql_query":"SELECT count(*) FROM users","created_at":"2025-10-17T10:30:05.123456+00:00"}
			],
			"total": 5, "offset": 0, "limit": 200, "hasMore": true
		}`))
	}))

	page, err := c.History(context.Background(), "sess-A", 500, -3)
	require.NoError(t, err)

	assert.Equal(t, "200", gotLimit)
	assert.Equal(t, "0", gotOffset)
	assert.Equal(t, 5, page.Total)
	assert.True(t, page.HasMore)
	require.Len(t, page.Items, 2)

	first := page.Items[0]
	assert.Equal(t, "m1", first.ID)
	assert.Equal(t, model.RoleUser, first.Role)
	assert.Equal(t, model.ModeAdmin, first.Mode)
	assert.Empty(t, first.SQLQuery)
	assert.Equal(t, time.Date(2025, 10, 17, 10, 30, 0, 0, time.UTC), first.Timestamp)

	second := page.Items[1]
	assert.Equal(t, "SELECT count(*) FROM users", second.SQLQuery)
	assert.True(t, second.IsAssistant())
	assert.Equal(t, 123456000, second.Timestamp.Nanosecond())
}

func TestHistory_AgainstStubBackend(t *testing.T) {
	c := newClient(t, server.New(server.WithResponder(server.FixedResponder("hi", " there"))).Handler())
	ctx := context.Background()

	sess, err := c.CreateSession(ctx, 123456, model.ModeNormal)
	require.NoError(t, err)

	d, err := c.SendMessage(ctx, sess.ID, "hello", model.ModeNormal)
	require.NoError(t, err)
	_, err = stream.Collect(d)
	require.NoError(t, err)

	page, err := c.History(ctx, sess.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "hello", page.Items[0].Content)
	assert.Equal(t, "hi there", page.Items[1].Content)
	assert.Equal(t, DefaultHistoryLimit, page.Limit)
	assert.False(t, page.Items[1].Timestamp.IsZero())
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 50, ClampLimit(0))
	assert.Equal(t, 50, ClampLimit(-1))
	assert.Equal(t, 1, ClampLimit(1))
	assert.Equal(t, 200, ClampLimit(200))
	assert.Equal(t, 200, ClampLimit(201))
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{in: "2025-10-17T10:30:00Z", want: time.Date(2025, 10, 17, 10, 30, 0, 0, time.UTC)},
		{in: "2025-10-17T10:30:00", want: time.Date(2025, 10, 17, 10, 30, 0, 0, time.UTC)},
		{in: "2025-10-17T10:30:00.5", want: time.Date(2025, 10, 17, 10, 30, 0, 500000000, time.UTC)},
		{in: "2025-10-17 10:30:00", want: time.Date(2025, 10, 17, 10, 30, 0, 0, time.UTC)},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseTimestamp(tc.in)
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(got), "got %s", got)
		})
	}

	_, err := ParseTimestamp("yesterday")
	assert.Error(t, err)
}

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestSendMessage_Stream(t *testing.T) {
	var query map[string]string
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = map[string]string{
			"message":    r.URL.Query().Get("message"),
			"session_id": r.URL.Query().Get("session_id"),
			"mode":       r.URL.Query().Get("mode"),
			"accept":     r.Header.Get("Accept"),
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"content\":\"hi\"}\n\ndata: {\"content\":\" there\"}\n\ndata: [DONE]\n\n"))
	}))

	d, err := c.SendMessage(context.Background(), "sess-A", "hello & bye", model.ModeAdmin)
	require.NoError(t, err)

	text, err := stream.Collect(d)
	require.NoError(t, err)
	assert.Equal(t, "hi there", text)
	assert.Equal(t, map[string]string{
		"message":    "hello & bye",
		"session_id": "sess-A",
		"mode":       "admin",
		"accept":     "text/event-stream",
	}, query)
}

func TestSendMessage_RequestFailed(t *testing.T) {
	c := newClient(t, server.New().Handler())

	_, err := c.SendMessage(context.Background(), "missing", "hello", model.ModeNormal)
	require.Error(t, err)
	assert.True(t, transport.TypeOf(err) == transport.ErrTypeRequestFailed)
	assert.Contains(t, err.Error(), "404 Not Found")
}

// =============================================================================
// STATS / SQL TESTS
// =============================================================================

func TestStats(t *testing.T) {
	var period string
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		period = r.URL.Query().Get("period")
		w.Write([]byte(`{
			"summary": {"total_messages": 1250, "total_messages_change": 12.5, "active_users": 45},
			"activity_timeline": [{"date":"2025-10-10","user_messages":65,"bot_messages":58,"total":123}],
			"top_users": [{"user_id":100001,"username":null,"message_count":150,"last_activity":"2025-10-17T10:30:00"}],
			"recent_dialogs": []
		}`))
	}))

	stats, err := c.Stats(context.Background(), PeriodMonth)
	require.NoError(t, err)
	assert.Equal(t, "month", period)
	assert.Equal(t, 1250, stats.Summary.TotalMessages)
	assert.InDelta(t, 12.5, stats.Summary.TotalMessagesChange, 0.0001)
	require.Len(t, stats.ActivityTimeline, 1)
	assert.Equal(t, 123, stats.ActivityTimeline[0].Total)
	require.Len(t, stats.TopUsers, 1)
	assert.Empty(t, stats.TopUsers[0].Username)

	_, err = c.Stats(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "week", period)
}

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod(" Day ")
	require.NoError(t, err)
	assert.Equal(t, PeriodDay, p)

	_, err = ParsePeriod("year")
	assert.Error(t, err)
}

func TestDebugSQL(t *testing.T) {
	var body sqlRequest
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"sql":"SELECT 1","explanation":"constant","is_cached":true,"error":null}`))
	}))

	preview, err := c.DebugSQL(context.Background(), "one?", map[string]any{"user_id": 7})
	require.NoError(t, err)
	assert.Equal(t, "one?", body.Question)
	assert.EqualValues(t, 7, body.Context["user_id"])
	assert.Equal(t, &SQLPreview{SQL: "SELECT 1", Explanation: "constant", IsCached: true}, preview)
}
