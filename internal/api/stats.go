// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/jeranaias/chatwire/internal/transport"
)

// =============================================================================
// STATISTICS
// =============================================================================

// Period is the aggregation window for statistics.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// Periods lists every period in display order.
var Periods = []Period{PeriodDay, PeriodWeek, PeriodMonth}

// ParsePeriod converts user input into a Period.
func ParsePeriod(s string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PeriodDay, PeriodWeek, PeriodMonth:
		return p, nil
	}
	return "", errors.Errorf("invalid period %q, must be one of: day, week, month", s)
}

// Summary holds the headline counters. The *Change fields are percentages
// relative to the previous period.
type Summary struct {
	TotalMessages         int     `json:"total_messages"`
	TotalMessagesChange   float64 `json:"total_messages_change"`
	ActiveUsers           int     `json:"active_users"`
	ActiveUsersChange     float64 `json:"active_users_change"`
	AvgDialogLength       float64 `json:"avg_dialog_length"`
	AvgDialogLengthChange float64 `json:"avg_dialog_length_change"`
	MessagesPerDay        float64 `json:"messages_per_day"`
	MessagesPerDayChange  float64 `json:"messages_per_day_change"`
}

type TimelinePoint struct {
	Date         string `json:"date"`
	UserMessages int    `json:"user_messages"`
	BotMessages  int    `json:"bot_messages"`
	Total        int    `json:"total"`
}

type UserActivity struct {
	UserID       int64  `json:"user_id"`
	Username     string `json:"username,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	MessageCount int    `json:"message_count"`
	LastActivity string `json:"last_activity"`
}

type DialogPreview struct {
	UserID       int64  `json:"user_id"`
	Username     string `json:"username,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	LastMessage  string `json:"last_message"`
	MessageCount int    `json:"message_count"`
	LastActivity string `json:"last_activity"`
}

// Stats is the full statistics response for one period.
type Stats struct {
	Summary          Summary         `json:"summary"`
	ActivityTimeline []TimelinePoint `json:"activity_timeline"`
	TopUsers         []UserActivity  `json:"top_users"`
	RecentDialogs    []DialogPreview `json:"recent_dialogs"`
}

// Stats fetches usage statistics for period.
func (c *Client) Stats(ctx context.Context, period Period) (*Stats, error) {
	if period == "" {
		period = PeriodWeek
	}
	var out Stats
	err := c.transport.DoJSON(ctx, &transport.Request{
		Class: transport.ClassStats,
		Path:  PathStats,
		Query: url.Values{"period": {string(period)}},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// SQL PREVIEW
// =============================================================================

// SQLPreview is the backend's text-to-SQL translation of a question.
// Error is set when generation failed; the request itself still succeeded.
type SQLPreview struct {
	SQL         string `json:"sql"`
	Explanation string `json:"explanation"`
	IsCached    bool   `json:"is_cached"`
	Error       string `json:"error,omitempty"`
}

type sqlRequest struct {
	Question string         `json:"question"`
	Context  map[string]any `json:"context,omitempty"`
}

// DebugSQL asks the backend which SQL it would run for question.
func (c *Client) DebugSQL(ctx context.Context, question string, extra map[string]any) (*SQLPreview, error) {
	var out SQLPreview
	err := c.transport.DoJSON(ctx, &transport.Request{
		Class:  transport.ClassDefault,
		Method: http.MethodPost,
		Path:   PathDebugSQL,
		Body:   sqlRequest{Question: question, Context: extra},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
