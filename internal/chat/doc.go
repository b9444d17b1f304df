// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat coordinates a conversation with the remote assistant.
//
// A Coordinator owns the conversation store and ties together the session
// manager, the history loader and the answer stream.
//
// # Usage
//
//	coord := chat.New(apiClient, chat.WithRecorder(journal))
//	if _, err := coord.Bootstrap(ctx, 123456); err != nil {
//	    return err
//	}
//	reply, err := coord.SendMessage(ctx, "hello")
//
// # Send state machine
//
//	Idle -> Sending    user message appended, loading set, error cleared
//	Sending -> Idle    reply appended, loading cleared
//	Sending -> Failed  error set, loading cleared, user message kept
//
// A send that completes after the store moved to another session leaves
// the store untouched apart from releasing loading.
package chat
