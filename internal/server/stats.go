// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"net/http"
	"sort"
	"time"

	"github.com/jeranaias/chatwire/internal/model"
)

// ============================================================================
// STATISTICS
// ============================================================================

// maxRanked caps the top-users and recent-dialogs lists.
const maxRanked = 10

var periodDays = map[string]int{
	"day":   1,
	"week":  7,
	"month": 30,
}

type summaryStats struct {
	TotalMessages         int     `json:"total_messages"`
	TotalMessagesChange   float64 `json:"total_messages_change"`
	ActiveUsers           int     `json:"active_users"`
	ActiveUsersChange     float64 `json:"active_users_change"`
	AvgDialogLength       float64 `json:"avg_dialog_length"`
	AvgDialogLengthChange float64 `json:"avg_dialog_length_change"`
	MessagesPerDay        float64 `json:"messages_per_day"`
	MessagesPerDayChange  float64 `json:"messages_per_day_change"`
}

type timelinePoint struct {
	Date         string `json:"date"`
	UserMessages int    `json:"user_messages"`
	BotMessages  int    `json:"bot_messages"`
	Total        int    `json:"total"`
}

type userActivity struct {
	UserID       int64  `json:"user_id"`
	MessageCount int    `json:"message_count"`
	LastActivity string `json:"last_activity"`
}

type dialogPreview struct {
	UserID       int64  `json:"user_id"`
	LastMessage  string `json:"last_message"`
	MessageCount int    `json:"message_count"`
	LastActivity string `json:"last_activity"`
}

type statsResponse struct {
	Summary          summaryStats    `json:"summary"`
	ActivityTimeline []timelinePoint `json:"activity_timeline"`
	TopUsers         []userActivity  `json:"top_users"`
	RecentDialogs    []dialogPreview `json:"recent_dialogs"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "week"
	}
	days, ok := periodDays[period]
	if !ok {
		s.writeError(w, http.StatusUnprocessableEntity, "period must be day, week or month")
		return
	}

	s.mu.RLock()
	var all []storedMessage
	for _, rec := range s.sessions {
		all = append(all, rec.Messages...)
	}
	s.mu.RUnlock()

	s.writeJSON(w, http.StatusOK, computeStats(all, s.now(), days))
}

// window aggregates messages that fall in one period.
type window struct {
	messages int
	users    map[int64]bool
	sessions map[string]bool
}

func newWindow() *window {
	return &window{users: make(map[int64]bool), sessions: make(map[string]bool)}
}

func (w *window) add(m storedMessage) {
	w.messages++
	w.users[m.UserID] = true
	w.sessions[m.SessionID] = true
}

func (w *window) avgDialogLength() float64 {
	if len(w.sessions) == 0 {
		return 0
	}
	return float64(w.messages) / float64(len(w.sessions))
}

func computeStats(all []storedMessage, now time.Time, days int) statsResponse {
	span := time.Duration(days) * 24 * time.Hour
	start := now.Add(-span)
	prevStart := start.Add(-span)

	cur, prev := newWindow(), newWindow()
	timeline := make(map[string]*timelinePoint)
	users := make(map[int64]*dialogPreview)
	lastSeen := make(map[int64]time.Time)

	for _, m := range all {
		switch {
		case m.CreatedAt.After(start) && !m.CreatedAt.After(now):
		case m.CreatedAt.After(prevStart) && !m.CreatedAt.After(start):
			prev.add(m)
			continue
		default:
			continue
		}
		cur.add(m)

		date := m.CreatedAt.UTC().Format("2006-01-02")
		point, ok := timeline[date]
		if !ok {
			point = &timelinePoint{Date: date}
			timeline[date] = point
		}
		if m.Role == model.RoleUser {
			point.UserMessages++
		} else {
			point.BotMessages++
		}
		point.Total++

		u, ok := users[m.UserID]
		if !ok {
			u = &dialogPreview{UserID: m.UserID}
			users[m.UserID] = u
		}
		u.MessageCount++
		if m.CreatedAt.After(lastSeen[m.UserID]) {
			lastSeen[m.UserID] = m.CreatedAt
			u.LastActivity = m.CreatedAt.UTC().Format("2006-01-02T15:04:05")
			u.LastMessage = (model.Message{Content: m.Content}).Preview(100)
		}
	}

	resp := statsResponse{
		Summary: summaryStats{
			TotalMessages:         cur.messages,
			TotalMessagesChange:   percentChange(float64(cur.messages), float64(prev.messages)),
			ActiveUsers:           len(cur.users),
			ActiveUsersChange:     percentChange(float64(len(cur.users)), float64(len(prev.users))),
			AvgDialogLength:       cur.avgDialogLength(),
			AvgDialogLengthChange: percentChange(cur.avgDialogLength(), prev.avgDialogLength()),
			MessagesPerDay:        float64(cur.messages) / float64(days),
			MessagesPerDayChange:  percentChange(float64(cur.messages), float64(prev.messages)),
		},
		ActivityTimeline: make([]timelinePoint, 0, len(timeline)),
		TopUsers:         make([]userActivity, 0, len(users)),
		RecentDialogs:    make([]dialogPreview, 0, len(users)),
	}

	for _, p := range timeline {
		resp.ActivityTimeline = append(resp.ActivityTimeline, *p)
	}
	sort.Slice(resp.ActivityTimeline, func(i, j int) bool {
		return resp.ActivityTimeline[i].Date < resp.ActivityTimeline[j].Date
	})

	for _, u := range users {
		resp.TopUsers = append(resp.TopUsers, userActivity{
			UserID:       u.UserID,
			MessageCount: u.MessageCount,
			LastActivity: u.LastActivity,
		})
		resp.RecentDialogs = append(resp.RecentDialogs, *u)
	}
	sort.Slice(resp.TopUsers, func(i, j int) bool {
		if resp.TopUsers[i].MessageCount != resp.TopUsers[j].MessageCount {
			return resp.TopUsers[i].MessageCount > resp.TopUsers[j].MessageCount
		}
		return resp.TopUsers[i].UserID < resp.TopUsers[j].UserID
	})
	sort.Slice(resp.RecentDialogs, func(i, j int) bool {
		return lastSeen[resp.RecentDialogs[i].UserID].After(lastSeen[resp.RecentDialogs[j].UserID])
	})
	if len(resp.TopUsers) > maxRanked {
		resp.TopUsers = resp.TopUsers[:maxRanked]
	}
	if len(resp.RecentDialogs) > maxRanked {
		resp.RecentDialogs = resp.RecentDialogs[:maxRanked]
	}
	return resp
}

// percentChange is 0 when there is no previous value to compare against.
func percentChange(cur, prev float64) float64 {
	if prev == 0 {
		return 0
	}
	return (cur - prev) / prev * 100
}
