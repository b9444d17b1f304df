// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures shared by the chat client.
//
// # Key Types
//
//   - Mode: Conversation context selector (normal, admin)
//   - Role: Message sender (user, assistant)
//   - Session: Server-side conversation bound to one user and one mode
//   - Message: Immutable chat message
//   - HistoryPage: One page of prior messages for a session
//
// # Usage
//
//	msg := model.NewMessage(model.RoleUser, "hello", model.ModeNormal)
//	sess := model.Session{ID: "sess-A", UserID: 123456, Mode: model.ModeNormal}
//	if sess.BoundTo(123456, model.ModeNormal) {
//	    // reuse the session
//	}
package model
