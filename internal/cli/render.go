// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jeranaias/chatwire/internal/api"
	"github.com/jeranaias/chatwire/internal/model"
	"github.com/jeranaias/chatwire/internal/store"
)

// =============================================================================
// MESSAGES
// =============================================================================

// renderMessage formats one message with its role label, wrapped to width.
func renderMessage(msg model.Message, width int) string {
	label := UserStyle.Render(msg.Role.DisplayName() + ":")
	if msg.IsAssistant() {
		label = AssistantStyle.Render(msg.Role.DisplayName() + ":")
	}

	var sb strings.Builder
	sb.WriteString(label)
	if !msg.Timestamp.IsZero() {
		sb.WriteString(" " + DimStyle.Render(msg.Timestamp.Local().Format("15:04")))
	}
	sb.WriteString("\n")
	sb.WriteString(WrapText(msg.Content, width))
	if msg.SQLQuery != "" {
		sb.WriteString("\n" + CodeStyle.Render(msg.SQLQuery))
	}
	return sb.String()
}

// renderMessages formats a message list separated by blank lines.
func renderMessages(msgs []model.Message, width int) string {
	if len(msgs) == 0 {
		return DimStyle.Render("No messages.")
	}
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = renderMessage(m, width)
	}
	return strings.Join(parts, "\n\n")
}

// renderStatus formats the conversation state for /status.
func renderStatus(st store.State, userID int64) string {
	session := "(none)"
	if st.Session != nil {
		session = st.Session.ID
	}
	user := "(unknown)"
	if userID > 0 {
		user = strconv.FormatInt(userID, 10)
	}
	errLine := "-"
	if st.Error != "" {
		errLine = ErrorStyle.Render(st.Error)
	}

	lines := []string{
		RenderLabel("Session") + ValueStyle.Render(session),
		RenderLabel("User") + ValueStyle.Render(user),
		RenderLabel("Mode") + ValueStyle.Render(st.Mode.String()),
		RenderLabel("Messages") + ValueStyle.Render(strconv.Itoa(len(st.Messages))),
		RenderLabel("Loading") + ValueStyle.Render(strconv.FormatBool(st.Loading)),
		RenderLabel("Last error") + errLine,
	}
	return strings.Join(lines, "\n")
}

// =============================================================================
// STATISTICS
// =============================================================================

// formatChange renders a percent change with its sign.
func formatChange(v float64) string {
	switch {
	case v > 0:
		return SuccessStyle.Render(fmt.Sprintf("+%.1f%%", v))
	case v < 0:
		return ErrorStyle.Render(fmt.Sprintf("%.1f%%", v))
	default:
		return DimStyle.Render("0.0%")
	}
}

// renderStats formats one period of statistics.
func renderStats(period api.Period, s *api.Stats) string {
	var sb strings.Builder
	sb.WriteString(TitleStyle.Render("Statistics ("+string(period)+")") + "\n")
	sb.WriteString(RenderSeparator(50) + "\n")

	sum := s.Summary
	sb.WriteString(RenderLabel("Messages") + fmt.Sprintf("%-10d", sum.TotalMessages) + formatChange(sum.TotalMessagesChange) + "\n")
	sb.WriteString(RenderLabel("Active users") + fmt.Sprintf("%-10d", sum.ActiveUsers) + formatChange(sum.ActiveUsersChange) + "\n")
	sb.WriteString(RenderLabel("Avg dialog") + fmt.Sprintf("%-10.1f", sum.AvgDialogLength) + formatChange(sum.AvgDialogLengthChange) + "\n")
	sb.WriteString(RenderLabel("Messages/day") + fmt.Sprintf("%-10.1f", sum.MessagesPerDay) + formatChange(sum.MessagesPerDayChange) + "\n")

	if len(s.TopUsers) > 0 {
		sb.WriteString("\n" + TitleStyle.Render("Top users") + "\n")
		for i, u := range s.TopUsers {
			sb.WriteString(fmt.Sprintf("%2d. %-20s %5d messages\n", i+1, displayName(u.UserID, u.Username, u.FirstName), u.MessageCount))
		}
	}

	if len(s.RecentDialogs) > 0 {
		sb.WriteString("\n" + TitleStyle.Render("Recent dialogs") + "\n")
		for _, d := range s.RecentDialogs {
			sb.WriteString(fmt.Sprintf("%-20s %s\n", displayName(d.UserID, d.Username, d.FirstName), DimStyle.Render(truncate(d.LastMessage, 50))))
		}
	}
	return sb.String()
}

func displayName(id int64, username, firstName string) string {
	switch {
	case username != "":
		return "@" + username
	case firstName != "":
		return firstName
	default:
		return strconv.FormatInt(id, 10)
	}
}

// truncate shortens s to max runes, ending with "..." when cut.
func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
