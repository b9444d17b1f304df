// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jeranaias/chatwire/internal/api"
	"github.com/jeranaias/chatwire/internal/chat"
	"github.com/jeranaias/chatwire/internal/config"
	"github.com/jeranaias/chatwire/internal/logging"
	"github.com/jeranaias/chatwire/internal/storage"
	"github.com/jeranaias/chatwire/internal/store"
	"github.com/jeranaias/chatwire/internal/transport"
)

// ErrNoUser is returned by commands that need a user id when none is set.
var ErrNoUser = errors.New("no user id configured (use --user or CHATWIRE_API_USER_ID)")

// annotationCreatesConfig marks commands that may run before the file named
// by --config exists.
const annotationCreatesConfig = "chatwire/creates-config"

// =============================================================================
// APPLICATION CONTEXT
// =============================================================================

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath   string
	apiURL       string
	userID       int64
	mode         string
	logLevel     string
	noTranscript bool
}

// app holds what a command needs once configuration is resolved.
type app struct {
	flags  globalFlags
	cfg    *config.Config
	logger zerolog.Logger
	client *api.Client

	journal *storage.Journal
}

// setup loads configuration, applies flag overrides and builds the client.
func (a *app) setup(cmd *cobra.Command) error {
	var (
		cfg *config.Config
		err error
	)
	if path := a.flags.configPath; path != "" {
		if cmd.Annotations[annotationCreatesConfig] != "" && !fileExists(path) {
			path = ""
		}
		cfg, err = config.LoadFromPath(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("api-url") {
		cfg.API.BaseURL = a.flags.apiURL
	}
	if flags.Changed("user") {
		cfg.API.UserID = a.flags.userID
	}
	if flags.Changed("mode") {
		cfg.API.DefaultMode = a.flags.mode
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.flags.logLevel
	}
	if a.flags.noTranscript {
		cfg.Transcript.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid settings")
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Writer: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	cc := cfg.ClientConfig()
	cc.Logger = logger
	tc, err := transport.NewClient(cc)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.client = api.New(tc, api.WithLogger(logger))
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

// user returns the configured user id.
func (a *app) user() (int64, error) {
	if a.cfg.API.UserID <= 0 {
		return 0, ErrNoUser
	}
	return a.cfg.API.UserID, nil
}

// openJournal opens the transcript when enabled. A nil journal with a nil
// error means transcripts are off.
func (a *app) openJournal() (*storage.Journal, error) {
	if a.journal != nil || !a.cfg.Transcript.Enabled {
		return a.journal, nil
	}
	path, err := a.cfg.TranscriptPath()
	if err != nil {
		return nil, err
	}
	j, err := storage.Open(path)
	if err != nil {
		return nil, err
	}
	a.journal = j
	return j, nil
}

// coordinator builds a chat coordinator wired to the journal. A journal
// that cannot be opened is logged and skipped.
func (a *app) coordinator() *chat.Coordinator {
	opts := []chat.Option{
		chat.WithLogger(a.logger),
		chat.WithHistoryLimit(a.cfg.API.HistoryLimit),
		chat.WithStore(store.New(store.WithLogger(a.logger), store.WithMode(a.cfg.Mode()))),
	}
	j, err := a.openJournal()
	if err != nil {
		a.logger.Warn().Err(err).Msg("transcript disabled")
	} else if j != nil {
		opts = append(opts, chat.WithRecorder(j))
	}
	return chat.New(a.client, opts...)
}

func (a *app) close() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close transcript")
		}
		a.journal = nil
	}
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

// NewRootCommand builds the chatwire command tree.
func NewRootCommand(version string) *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "chatwire",
		Short: "Streaming chat client for the assistant backend",
		Long: `chatwire talks to the assistant backend: it opens a session for a user
and mode, loads prior history and streams answers token by token.

Configuration is read from ~/.chatwire/config.toml (or --config), a .env
file in the working directory and CHATWIRE_* environment variables.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.flags.configPath, "config", "c", "", "Config file (default: ~/.chatwire/config.toml)")
	pf.StringVar(&a.flags.apiURL, "api-url", "", "Backend base URL (overrides CHATWIRE_API_URL)")
	pf.Int64VarP(&a.flags.userID, "user", "u", 0, "User id for new sessions")
	pf.StringVarP(&a.flags.mode, "mode", "m", "", "Chat mode: normal or admin")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	pf.BoolVar(&a.flags.noTranscript, "no-transcript", false, "Do not record messages locally")

	root.AddCommand(
		newChatCommand(a),
		newSendCommand(a),
		newHistoryCommand(a),
		newStatsCommand(a),
		newSQLCommand(a),
		newTranscriptCommand(a),
		newServeCommand(a),
		newConfigCommand(a),
	)
	return root
}

// Execute runs the command tree with args and returns the exit code.
func Execute(ctx context.Context, version string, args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand(version)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, ErrorStyle.Render("Error: ")+err.Error())
		return 1
	}
	return 0
}

// Main is the entry point used by the chatwire binary.
func Main(version string) {
	os.Exit(Execute(context.Background(), version, os.Args[1:], os.Stdout, os.Stderr))
}
