// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides a stub chat backend that speaks the same HTTP
// contract as the real assistant service.
//
// It keeps sessions and messages in memory and answers every message with
// tokens from a pluggable Responder (echo by default), streamed as
// server-sent events. It exists for local development and for tests that
// need a live endpoint; it performs no inference and no SQL generation.
//
// # Endpoints
//
//   - POST /api/chat/session    - Create a session for a user and mode
//   - GET  /api/chat/history    - Paginated session history
//   - POST /api/chat/message    - Stream an answer as SSE frames
//   - POST /api/chat/debug/sql  - SQL preview (always reports unsupported)
//   - GET  /stats               - Usage statistics over stored messages
//   - GET  /health              - Health check
//
// # Usage
//
//	srv := server.New(server.WithTokenDelay(20 * time.Millisecond))
//	if err := srv.ListenAndServe("127.0.0.1:8000"); err != nil {
//		log.Fatal(err)
//	}
package server
