// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage keeps a local transcript of every chat message.
//
// The transcript is observational: it records what the client saw and is
// never read back into the conversation store. The backend remains the
// source of truth for history.
//
// # Key Types
//
//   - Journal: SQLite-backed, append-only message log
//   - Entry: one recorded message with its session id
//   - SessionSummary: per-session counts for listing
//
// # Usage
//
//	j, err := storage.Open(path)
//	if err != nil {
//	    return err
//	}
//	defer j.Close()
//
//	err = j.Record(ctx, sess.ID, msg)
//	entries, err := j.List(ctx, storage.Filter{SessionID: sess.ID})
//	fmt.Print(storage.ExportMarkdown(sess.ID, entries))
package storage
