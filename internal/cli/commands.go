// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/chatwire/internal/api"
	"github.com/jeranaias/chatwire/internal/config"
	"github.com/jeranaias/chatwire/internal/history"
	"github.com/jeranaias/chatwire/internal/server"
	"github.com/jeranaias/chatwire/internal/storage"
	"github.com/jeranaias/chatwire/internal/store"
)

// =============================================================================
// SEND
// =============================================================================

func newSendCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "send <message...>",
		Short: "Send one message and print the answer",
		Example: `  chatwire send --user 123456 "how many users signed up today?"
  chatwire send -u 123456 -m admin top users this week`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			userID, err := a.user()
			if err != nil {
				return err
			}

			coord := a.coordinator()
			ctx := cmd.Context()
			if _, err := coord.Bootstrap(ctx, userID); err != nil {
				return err
			}
			reply, err := coord.SendMessage(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply.Content)
			return nil
		},
	}
}

// =============================================================================
// HISTORY
// =============================================================================

func newHistoryCommand(a *app) *cobra.Command {
	var (
		sessionID string
		limit     int
		offset    int
		all       bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the stored messages of a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit == 0 {
				limit = a.cfg.API.HistoryLimit
			}
			out := cmd.OutOrStdout()
			if all {
				// No session is bound, so the loader only walks pages.
				loader := history.NewLoader(a.client, store.New(), history.WithLogger(a.logger))
				msgs, err := loader.LoadAll(cmd.Context(), sessionID, limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, renderMessages(msgs, GetTerminalWidth()))
				return nil
			}

			page, err := a.client.History(cmd.Context(), sessionID, limit, offset)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, renderMessages(page.Items, GetTerminalWidth()))
			if len(page.Items) == 0 {
				return nil
			}
			fmt.Fprintln(out, DimStyle.Render(fmt.Sprintf("\n%d-%d of %d", page.Offset+1, page.Offset+len(page.Items), page.Total)))
			if page.HasMore {
				fmt.Fprintln(out, DimStyle.Render(fmt.Sprintf("more: --offset %d", page.Offset+len(page.Items))))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Page size (1-200)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Messages to skip")
	cmd.Flags().BoolVar(&all, "all", false, "Fetch every page")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

// =============================================================================
// STATS
// =============================================================================

func newStatsCommand(a *app) *cobra.Command {
	var (
		periodFlag string
		all        bool
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show usage statistics",
		Example: `  chatwire stats --period day
  chatwire stats --all`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			periods := api.Periods
			if !all {
				p, err := api.ParsePeriod(periodFlag)
				if err != nil {
					return err
				}
				periods = []api.Period{p}
			}

			results, err := fetchStats(cmd.Context(), a.client, periods)
			if err != nil {
				return err
			}
			for i, p := range periods {
				if i > 0 {
					fmt.Fprintln(cmd.OutOrStdout())
				}
				fmt.Fprint(cmd.OutOrStdout(), renderStats(p, results[i]))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&periodFlag, "period", "p", string(api.PeriodWeek), "Period: day, week or month")
	cmd.Flags().BoolVar(&all, "all", false, "Fetch every period concurrently")
	return cmd
}

// fetchStats requests every period concurrently; results follow the order
// of periods. The first failure cancels the rest.
func fetchStats(ctx context.Context, client *api.Client, periods []api.Period) ([]*api.Stats, error) {
	results := make([]*api.Stats, len(periods))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range periods {
		i, p := i, p
		g.Go(func() error {
			s, err := client.Stats(gctx, p)
			if err != nil {
				return errors.Wrapf(err, "stats for %s", p)
			}
			results[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// =============================================================================
// SQL PREVIEW
// =============================================================================

func newSQLCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sql <question...>",
		Short: "Show the SQL the backend would run for a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			preview, err := a.client.DebugSQL(cmd.Context(), strings.Join(args, " "), nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if preview.Error != "" {
				fmt.Fprintln(out, WarningStyle.Render("SQL generation failed: ")+preview.Error)
				return nil
			}
			fmt.Fprintln(out, CodeStyle.Render(preview.SQL))
			if preview.Explanation != "" {
				fmt.Fprintln(out, "\n"+preview.Explanation)
			}
			if preview.IsCached {
				fmt.Fprintln(out, DimStyle.Render("(cached)"))
			}
			return nil
		},
	}
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

func newTranscriptCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcript",
		Short: "Browse the local message transcript",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			j, err := a.requireJournal()
			if err != nil {
				return err
			}
			sessions, err := j.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), storage.FormatSessionList(sessions))
			return nil
		},
	}

	var limit int
	show := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print one session as Markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			j, err := a.requireJournal()
			if err != nil {
				return err
			}
			entries, err := j.List(cmd.Context(), storage.Filter{SessionID: args[0], Limit: limit})
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				return errors.Wrap(storage.ErrNotFound, args[0])
			}
			fmt.Fprint(cmd.OutOrStdout(), storage.ExportMarkdown(args[0], entries))
			return nil
		},
	}
	show.Flags().IntVarP(&limit, "limit", "n", 0, "Only the most recent messages")

	del := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Remove one session from the transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			j, err := a.requireJournal()
			if err != nil {
				return err
			}
			n, err := j.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d messages.\n", n)
			return nil
		},
	}

	cmd.AddCommand(show, del)
	return cmd
}

// requireJournal opens the transcript or explains why it is unavailable.
func (a *app) requireJournal() (*storage.Journal, error) {
	j, err := a.openJournal()
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, errors.New("transcripts are disabled")
	}
	return j, nil
}

// =============================================================================
// SERVE
// =============================================================================

func newServeCommand(a *app) *cobra.Command {
	var (
		addr       string
		tokenDelay time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the in-memory stub backend",
		Long: `serve runs a local backend with the same HTTP API as the real service.
Answers echo the question token by token; nothing is persisted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := server.New(
				server.WithLogger(a.logger),
				server.WithTokenDelay(tokenDelay),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.ListenAndServe(addr)
			}()
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Stub backend listening on ")+addr)

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", server.DefaultAddr, "Listen address")
	cmd.Flags().DurationVar(&tokenDelay, "token-delay", 50*time.Millisecond, "Delay between streamed tokens")
	return cmd
}

// =============================================================================
// CONFIG
// =============================================================================

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(cmd.OutOrStdout(), a.cfg.String())
			return nil
		},
	}

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := a.flags.configPath
			if p == "" {
				var err error
				if p, err = config.ConfigPath(); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the effective configuration to the config file",
		Args:  cobra.NoArgs,
		Annotations: map[string]string{
			annotationCreatesConfig: "true",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			p := a.flags.configPath
			if p == "" {
				var err error
				if p, err = config.ConfigPath(); err != nil {
					return err
				}
			}
			if _, err := os.Stat(p); err == nil && !force {
				return errors.Errorf("%s already exists (use --force to overwrite)", p)
			}
			if err := config.Save(a.cfg, p); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Wrote ")+p)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	cmd.AddCommand(path, initCmd)
	return cmd
}
