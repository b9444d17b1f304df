// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session binds the conversation store to a backend session for
// one (user, mode) pair.
//
// # Key Types
//
//   - Manager: ensures a session exists and recreates it on mode change
//   - Creator: the backend call that creates sessions
//
// # Usage
//
//	mgr := session.NewManager(apiClient, st)
//	sess, err := mgr.EnsureSession(ctx, 123456, model.ModeNormal)
//	if err != nil {
//	    // the error is also recorded in the store
//	}
//	err = mgr.SwitchMode(ctx, model.ModeAdmin)
//
// # Mode switches
//
// A mode switch asks for the new session first and applies mode, session
// and the cleared message list in a single store mutation. If the request
// fails, the store keeps its mode, session and messages and only records
// the error.
package session
