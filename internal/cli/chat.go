// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jeranaias/chatwire/internal/chat"
	"github.com/jeranaias/chatwire/internal/config"
	"github.com/jeranaias/chatwire/internal/history"
	"github.com/jeranaias/chatwire/internal/model"
)

// =============================================================================
// INPUT
// =============================================================================

// lineReader reads one line of REPL input.
type lineReader interface {
	ReadInput(prompt string) (string, error)
}

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI and loads the saved input history.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(dir, "chat_history"),
	}
	c.LoadHistory()
	return c
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		_, _ = c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line with the given prompt. Non-empty lines are added
// to the history.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory writes the input history with owner-only permissions.
func (c *ChatCLI) SaveHistory() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// REPL
// =============================================================================

// historyPageSize is how many messages /history prints by default.
const historyPageSize = history.DefaultLimit

// repl is one interactive chat session.
type repl struct {
	coord  *chat.Coordinator
	userID int64
	in     lineReader
	out    io.Writer
	errOut io.Writer
	width  int
}

func newChatCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `chat opens (or reuses) a session for the configured user and mode,
prints its history and reads questions until /quit or Ctrl+D.

Ctrl+C cancels the answer being streamed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			userID, err := a.user()
			if err != nil {
				return err
			}

			in := NewChatCLI()
			defer in.Close()

			r := &repl{
				coord:  a.coordinator(),
				userID: userID,
				in:     in,
				out:    cmd.OutOrStdout(),
				errOut: cmd.ErrOrStderr(),
				width:  GetTerminalWidth(),
			}
			return r.run(cmd.Context())
		},
	}
}

// run bootstraps the session and loops until the input ends.
func (r *repl) run(ctx context.Context) error {
	sess, err := r.coord.Bootstrap(ctx, r.userID)
	if err != nil && sess.ID == "" {
		return err
	}
	r.printWelcome()
	if err != nil {
		r.printError(err)
	}

	for {
		input, err := r.in.ReadInput(PromptStyle.Render(r.prompt()))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				fmt.Fprintln(r.out)
				continue
			}
			// EOF or a closed terminal ends the session.
			fmt.Fprintln(r.out)
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			keepGoing, err := r.handleSlashCommand(ctx, input)
			if err != nil {
				r.printError(err)
			}
			if !keepGoing {
				return nil
			}
			continue
		}
		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			return nil
		}

		r.send(ctx, func(ctx context.Context) (model.Message, error) {
			return r.coord.SendMessage(ctx, input)
		})
	}
}

func (r *repl) prompt() string {
	return r.coord.Store().Snapshot().Mode.String() + "> "
}

// send runs one request that Ctrl+C can cancel.
func (r *repl) send(ctx context.Context, fn func(context.Context) (model.Message, error)) {
	sendCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	fmt.Fprintln(r.out, DimStyle.Render("..."))
	reply, err := fn(sendCtx)
	if err != nil {
		if sendCtx.Err() != nil && ctx.Err() == nil {
			fmt.Fprintln(r.errOut, WarningStyle.Render("[Cancelled]"))
			return
		}
		r.printError(err)
		return
	}
	fmt.Fprintln(r.out, renderMessage(reply, r.width))
	fmt.Fprintln(r.out)
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand runs one slash command. It returns false when the
// session should end.
func (r *repl) handleSlashCommand(ctx context.Context, input string) (bool, error) {
	parts := strings.Fields(input)
	command := strings.ToLower(parts[0])
	args := parts[1:]

	switch command {
	case "/help", "/h", "/?", "/":
		r.printHelp()

	case "/quit", "/q", "/exit":
		return false, nil

	case "/clear", "/c":
		r.coord.ClearChat()
		fmt.Fprintln(r.out, DimStyle.Render("[Conversation cleared]"))

	case "/status", "/s":
		fmt.Fprintln(r.out, renderStatus(r.coord.Store().Snapshot(), r.userID))

	case "/retry", "/r":
		r.send(ctx, r.coord.Retry)

	case "/mode", "/m":
		if len(args) == 0 {
			fmt.Fprintf(r.out, "Current mode: %s\n", r.coord.Store().Snapshot().Mode)
			return true, nil
		}
		mode, err := model.ParseMode(args[0])
		if err != nil {
			return true, err
		}
		if err := r.coord.SwitchMode(ctx, mode); err != nil {
			return true, err
		}
		fmt.Fprintf(r.out, "%s %s\n", SuccessStyle.Render("Switched to"), mode)
		r.printMessages(historyPageSize)

	case "/history":
		n := historyPageSize
		if len(args) > 0 {
			v, err := strconv.Atoi(args[0])
			if err != nil || v <= 0 {
				return true, errors.Errorf("invalid count: %s", args[0])
			}
			n = v
		}
		r.printMessages(n)

	default:
		return true, errors.Errorf("unknown command: %s (type /help for commands)", command)
	}
	return true, nil
}

// =============================================================================
// OUTPUT
// =============================================================================

func (r *repl) printWelcome() {
	st := r.coord.Store().Snapshot()
	fmt.Fprintln(r.out, TitleStyle.Render("chatwire"))
	if st.Session != nil {
		fmt.Fprintln(r.out, DimStyle.Render(fmt.Sprintf("session %s, mode %s, /help for commands", st.Session.ID, st.Mode)))
	}
	fmt.Fprintln(r.out, RenderSeparator(r.width))
	if len(st.Messages) > 0 {
		r.printMessages(historyPageSize)
		fmt.Fprintln(r.out, RenderSeparator(r.width))
	}
}

// printMessages prints the last n messages in the store.
func (r *repl) printMessages(n int) {
	msgs := r.coord.Store().Snapshot().Messages
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	fmt.Fprintln(r.out, renderMessages(msgs, r.width))
}

func (r *repl) printError(err error) {
	fmt.Fprintf(r.errOut, "%s %v\n", ErrorStyle.Render("[Error]"), err)
}

func (r *repl) printHelp() {
	lines := []string{
		TitleStyle.Render("Commands"),
		RenderLabel("/mode [name]") + "Show or switch mode (normal, admin)",
		RenderLabel("/retry") + "Resend the last question",
		RenderLabel("/clear") + "Clear the conversation on screen",
		RenderLabel("/history [n]") + "Show the last n messages",
		RenderLabel("/status") + "Show session state",
		RenderLabel("/help") + "Show this help",
		RenderLabel("/quit") + "Leave",
	}
	fmt.Fprintln(r.out, strings.Join(lines, "\n"))
}
