// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// FORMATTING
// =============================================================================

// FormatSessionList renders sessions as a plain table.
func FormatSessionList(sessions []SessionSummary) string {
	if len(sessions) == 0 {
		return "No sessions recorded."
	}

	var sb strings.Builder
	sb.WriteString(formatPadded("Session", 14) + " " + formatPadded("Mode", 7) + " " +
		formatPadded("Last active", 17) + " " + formatPadded("Msgs", 5) + " Preview\n")
	sb.WriteString(strings.Repeat("-", 72) + "\n")

	for _, s := range sessions {
		id := s.ID
		if len(id) > 14 {
			id = id[:14]
		}
		sb.WriteString(formatPadded(id, 14) + " " +
			formatPadded(s.Mode.String(), 7) + " " +
			formatPadded(s.LastSeen.Local().Format("2006-01-02 15:04"), 17) + " " +
			formatPadded(strconv.Itoa(s.Messages), 5) + " " +
			truncateString(s.Preview, 30) + "\n")
	}
	return sb.String()
}

// ExportMarkdown renders one session's entries as Markdown.
func ExportMarkdown(sessionID string, entries []Entry) string {
	var sb strings.Builder
	sb.WriteString("# Session " + sessionID + "\n\n")
	if len(entries) > 0 {
		sb.WriteString("Started: " + entries[0].Message.Timestamp.Format(time.RFC3339) + "\n\n")
	}
	sb.WriteString("---\n\n")

	for _, e := range entries {
		msg := e.Message
		sb.WriteString("**" + msg.Role.DisplayName() + "** (" + msg.Timestamp.Format("15:04") + ", " + msg.Mode.String() + "):\n\n")
		sb.WriteString(msg.Content)
		if msg.SQLQuery != "" {
			sb.WriteString("\n\n```sql\n" + msg.SQLQuery + "\n```")
		}
		sb.WriteString("\n\n---\n\n")
	}
	return sb.String()
}

// truncateString shortens s to maxLen runes, ending with "..." when cut.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

func formatPadded(s string, width int) string {
	n := len([]rune(s))
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}
