// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/peterh/liner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatwire/internal/api"
	"github.com/jeranaias/chatwire/internal/chat"
	"github.com/jeranaias/chatwire/internal/model"
	"github.com/jeranaias/chatwire/internal/server"
	"github.com/jeranaias/chatwire/internal/storage"
	"github.com/jeranaias/chatwire/internal/transport"
)

// =============================================================================
// HELPERS
// =============================================================================

type env struct {
	configPath     string
	transcriptPath string
}

// newEnv starts a stub backend and writes a config file pointing at it.
func newEnv(t *testing.T, userID int64) env {
	t.Helper()
	ts := httptest.NewServer(server.New().Handler())
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	e := env{
		configPath:     filepath.Join(dir, "config.toml"),
		transcriptPath: filepath.Join(dir, "transcript.db"),
	}
	content := fmt.Sprintf(`
[api]
base_url = %q
user_id = %d

[transcript]
path = %q
`, ts.URL, userID, e.transcriptPath)
	require.NoError(t, os.WriteFile(e.configPath, []byte(content), 0600))
	return e
}

func (e env) run(t *testing.T, args ...string) (stdout, stderr string, code int) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = Execute(context.Background(), "test", append([]string{"--config", e.configPath}, args...), &out, &errOut)
	return out.String(), errOut.String(), code
}

func (e env) sessions(t *testing.T) []storage.SessionSummary {
	t.Helper()
	j, err := storage.Open(e.transcriptPath)
	require.NoError(t, err)
	defer j.Close()
	sessions, err := j.Sessions(context.Background())
	require.NoError(t, err)
	return sessions
}

// =============================================================================
// COMMAND TESTS
// =============================================================================

func TestSend_PrintsReplyAndRecordsTranscript(t *testing.T) {
	e := newEnv(t, 123456)

	stdout, stderr, code := e.run(t, "send", "hello", "world")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "You said: hello world\n", stdout)

	sessions := e.sessions(t)
	require.Len(t, sessions, 1)
	assert.Equal(t, 2, sessions[0].Messages)
	assert.Equal(t, "hello world", sessions[0].Preview)
}

func TestSend_AdminMode(t *testing.T) {
	e := newEnv(t, 123456)

	stdout, stderr, code := e.run(t, "--mode", "admin", "send", "top users")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "[admin] You asked: top users\n", stdout)
}

func TestSend_NoUser(t *testing.T) {
	e := newEnv(t, 0)

	_, stderr, code := e.run(t, "send", "hello")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "no user id configured")
}

func TestSend_NoTranscript(t *testing.T) {
	e := newEnv(t, 7)

	_, stderr, code := e.run(t, "--no-transcript", "send", "hello")
	require.Equal(t, 0, code, stderr)
	_, err := os.Stat(e.transcriptPath)
	assert.True(t, os.IsNotExist(err))
}

func TestHistory_PrintsSession(t *testing.T) {
	e := newEnv(t, 123456)
	_, stderr, code := e.run(t, "send", "hello")
	require.Equal(t, 0, code, stderr)
	id := e.sessions(t)[0].ID

	stdout, stderr, code := e.run(t, "history", "--session", id)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "You:")
	assert.Contains(t, stdout, "Assistant:")
	assert.Contains(t, stdout, "You said: hello")
	assert.Contains(t, stdout, "1-2 of 2")

	stdout, stderr, code = e.run(t, "history", "--session", id, "--all", "--limit", "1")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "hello")
	assert.Contains(t, stdout, "You said: hello")
}

func TestHistory_RequiresSession(t *testing.T) {
	e := newEnv(t, 1)

	_, stderr, code := e.run(t, "history")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, `"session" not set`)
}

func TestHistory_UnknownSessionIsEmpty(t *testing.T) {
	e := newEnv(t, 1)

	stdout, stderr, code := e.run(t, "history", "--session", "missing")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "No messages.\n", stdout)
}

func TestStats_AllPeriods(t *testing.T) {
	e := newEnv(t, 123456)

	stdout, stderr, code := e.run(t, "stats", "--all")
	require.Equal(t, 0, code, stderr)
	for _, p := range api.Periods {
		assert.Contains(t, stdout, "Statistics ("+string(p)+")")
	}
}

func TestStats_BadPeriod(t *testing.T) {
	e := newEnv(t, 1)

	_, stderr, code := e.run(t, "stats", "--period", "year")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "year")
}

func TestSQL_ReportsGenerationError(t *testing.T) {
	e := newEnv(t, 1)

	stdout, stderr, code := e.run(t, "sql", "how", "many", "users")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "SQL generation failed")
}

func TestTranscript_ListShowDelete(t *testing.T) {
	e := newEnv(t, 123456)
	stdout, stderr, code := e.run(t, "transcript")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "No sessions recorded.")

	_, stderr, code = e.run(t, "send", "hello")
	require.Equal(t, 0, code, stderr)
	id := e.sessions(t)[0].ID

	stdout, stderr, code = e.run(t, "transcript", "show", id)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, id)
	assert.Contains(t, stdout, "You said: hello")

	stdout, stderr, code = e.run(t, "transcript", "delete", id)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "Deleted 2 messages.\n", stdout)

	_, stderr, code = e.run(t, "transcript", "show", id)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "not found")
}

func TestTranscript_Disabled(t *testing.T) {
	e := newEnv(t, 1)

	_, stderr, code := e.run(t, "--no-transcript", "transcript")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "transcripts are disabled")
}

func TestConfig_ShowPathInit(t *testing.T) {
	e := newEnv(t, 42)

	stdout, stderr, code := e.run(t, "config")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "127.0.0.1")

	stdout, _, code = e.run(t, "config", "path")
	require.Equal(t, 0, code)
	assert.Equal(t, e.configPath+"\n", stdout)

	_, stderr, code = e.run(t, "config", "init")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "already exists")

	_, stderr, code = e.run(t, "--mode", "admin", "config", "init", "--force")
	require.Equal(t, 0, code, stderr)
	data, err := os.ReadFile(e.configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `default_mode = "admin"`)
}

func TestConfigInit_CreatesFreshFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "fresh.toml")

	var out, errOut bytes.Buffer
	code := Execute(context.Background(), "test",
		[]string{"--config", path, "--user", "99", "config", "init"}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "user_id = 99")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestMissingConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")

	var out, errOut bytes.Buffer
	code := Execute(context.Background(), "test", []string{"--config", path, "config"}, &out, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "absent.toml")
}

func TestInvalidFlagValue(t *testing.T) {
	e := newEnv(t, 1)

	_, stderr, code := e.run(t, "--mode", "root", "send", "hi")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "invalid settings")
}

// =============================================================================
// REPL TESTS
// =============================================================================

type scriptedLine struct {
	text string
	err  error
}

// scriptedInput replays lines, then reports io.EOF.
type scriptedInput struct {
	lines   []scriptedLine
	prompts []string
}

func (s *scriptedInput) ReadInput(prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	l := s.lines[0]
	s.lines = s.lines[1:]
	return l.text, l.err
}

func newREPL(t *testing.T, lines ...scriptedLine) (*repl, *scriptedInput, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	ts := httptest.NewServer(server.New().Handler())
	t.Cleanup(ts.Close)

	cfg := transport.DefaultConfig()
	cfg.BaseURL = ts.URL
	tc, err := transport.NewClient(cfg)
	require.NoError(t, err)

	in := &scriptedInput{lines: lines}
	var out, errOut bytes.Buffer
	r := &repl{
		coord:  chat.New(api.New(tc)),
		userID: 123456,
		in:     in,
		out:    &out,
		errOut: &errOut,
		width:  80,
	}
	return r, in, &out, &errOut
}

func TestREPL_ConversationAndCommands(t *testing.T) {
	r, in, out, errOut := newREPL(t,
		scriptedLine{text: "hello"},
		scriptedLine{err: liner.ErrPromptAborted},
		scriptedLine{text: "   "},
		scriptedLine{text: "/status"},
		scriptedLine{text: "/retry"},
		scriptedLine{text: "/history 1"},
		scriptedLine{text: "/bogus"},
		scriptedLine{text: "/quit"},
		scriptedLine{text: "never read"},
	)

	require.NoError(t, r.run(context.Background()))

	assert.Contains(t, out.String(), "You said: hello")
	assert.Contains(t, out.String(), "Messages")
	assert.Contains(t, errOut.String(), "unknown command: /bogus")
	assert.Len(t, in.lines, 1, "input after /quit must not be read")

	msgs := r.coord.Store().Snapshot().Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "hello", msgs[2].Content)
	assert.Equal(t, model.RoleAssistant, msgs[3].Role)
}

func TestREPL_ModeSwitch(t *testing.T) {
	r, in, out, _ := newREPL(t,
		scriptedLine{text: "/mode"},
		scriptedLine{text: "/mode admin"},
		scriptedLine{text: "top users"},
	)

	require.NoError(t, r.run(context.Background()))

	assert.Contains(t, out.String(), "Current mode: normal")
	assert.Contains(t, out.String(), "Switched to admin")
	assert.Contains(t, out.String(), "[admin] You asked: top users")
	assert.Equal(t, "normal> ", in.prompts[0])
	assert.Equal(t, "admin> ", in.prompts[len(in.prompts)-1])
}

func TestREPL_BadModeAndClear(t *testing.T) {
	r, _, out, errOut := newREPL(t,
		scriptedLine{text: "hello"},
		scriptedLine{text: "/mode root"},
		scriptedLine{text: "/clear"},
		scriptedLine{text: "exit"},
	)

	require.NoError(t, r.run(context.Background()))

	assert.Contains(t, errOut.String(), "root")
	assert.Contains(t, out.String(), "[Conversation cleared]")
	assert.Empty(t, r.coord.Store().Snapshot().Messages)
}

func TestREPL_RetryWithoutMessage(t *testing.T) {
	r, _, _, errOut := newREPL(t, scriptedLine{text: "/retry"})

	require.NoError(t, r.run(context.Background()))
	assert.Contains(t, errOut.String(), chat.ErrNothingToRetry.Error())
}

// =============================================================================
// RENDER TESTS
// =============================================================================

func TestRenderMessage(t *testing.T) {
	msg := model.NewMessage(model.RoleAssistant, "forty two", model.ModeAdmin)
	msg.SQLQuery = "SELECT 42"

	got := renderMessage(msg, 80)
	assert.True(t, strings.HasPrefix(got, "Assistant:"))
	assert.Contains(t, got, "forty two")
	assert.Contains(t, got, "SELECT 42")
}

func TestRenderMessages_Empty(t *testing.T) {
	assert.Equal(t, "No messages.", renderMessages(nil, 80))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "@ann", displayName(1, "ann", "Ann"))
	assert.Equal(t, "Ann", displayName(1, "", "Ann"))
	assert.Equal(t, "17", displayName(17, "", ""))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "line one...", truncate("line one\nline two", 11))
	assert.Equal(t, "abc", truncate("abcdef", 3))
}

func TestFormatChange(t *testing.T) {
	assert.Equal(t, "+12.5%", formatChange(12.5))
	assert.Equal(t, "-3.0%", formatChange(-3))
	assert.Equal(t, "0.0%", formatChange(0))
}

func TestWrapText(t *testing.T) {
	assert.Equal(t, "one two\nthree", WrapText("one two three", 8))
	assert.Equal(t, "keep\nlines", WrapText("keep\nlines", 80))
}
