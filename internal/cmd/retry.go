package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/crmpulse/crmpulse/internal/core/store"
	"github.com/crmpulse/crmpulse/internal/observability"
	"github.com/crmpulse/crmpulse/internal/output"
)

var (
	retryStatusOutput string

	retryResetAll     bool
	retryResetSources []string
	retryResetYes     bool
	retryResetDryRun  bool
	retryResetOutput  string
)

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Inspect per-source retry gates",
}

var retryStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the retry budget of every source",
	Long: `Show attempt counts and blocked state of every source's retry gate.

Gate state is only persisted across runs when retry.persist is enabled;
otherwise every source starts with a fresh budget.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(retryStatusOutput)
		if err != nil {
			return err
		}

		rt, err := openRuntime(cmd.Context(), observability.Active())
		if err != nil {
			return err
		}
		defer rt.Close() // nolint:errcheck // best-effort cleanup

		// Each gate loads its persisted state on first use; load them in
		// parallel, one row slot per source to keep display order.
		rows := make([]output.RetryRow, len(rt.sources))
		var g errgroup.Group
		for i, src := range rt.sources {
			g.Go(func() error {
				row := output.RetryRow{Source: src.SourceName(), CanAttempt: true}
				if gate := src.RetryGate(); gate != nil {
					state := gate.State()
					row.AttemptCount = state.AttemptCount
					row.LastAttempt = state.LastAttempt
					row.Blocked = state.Blocked
					row.CanAttempt = gate.CanAttempt()
				}
				rows[i] = row
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		// Persisted state of sources no longer configured is still listed.
		if rt.store != nil {
			known := map[string]bool{}
			for _, row := range rows {
				known[row.Source] = true
			}
			persisted, err := rt.store.ListRetryStates(cmd.Context())
			if err != nil {
				return err
			}
			for _, entry := range persisted {
				if known[entry.Source] {
					continue
				}
				rows = append(rows, output.RetryRow{
					Source:       entry.Source,
					AttemptCount: entry.State.AttemptCount,
					LastAttempt:  entry.State.LastAttempt,
					Blocked:      entry.State.Blocked,
				})
			}
		}

		rendered, err := output.NewFormatter(format).FormatRetryStates(rows)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
		return err
	},
}

var retryResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear persisted retry state so blocked sources may fetch again",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(retryResetOutput)
		if err != nil {
			return err
		}
		if format != output.FormatJSON && format != output.FormatTable {
			return fmt.Errorf("unsupported output format: %s", format)
		}

		query := store.RetryStateQuery{All: retryResetAll}
		for _, source := range retryResetSources {
			if source = strings.TrimSpace(source); source != "" {
				query.Sources = append(query.Sources, source)
			}
		}
		if err := query.Validate(); err != nil {
			return err
		}
		if query.All && !retryResetYes && !retryResetDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.Retry.Persist {
			observability.Active().Warn("retry.persist is disabled; gate state only lives in running processes")
		}

		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		matched, err := db.CountRetryStates(cmd.Context(), query)
		if err != nil {
			return err
		}
		if retryResetDryRun {
			return writeRetryResetResult(format, cmd.OutOrStdout(), matched, 0, true)
		}

		deleted, err := db.ResetRetryStates(cmd.Context(), query)
		if err != nil {
			return err
		}
		return writeRetryResetResult(format, cmd.OutOrStdout(), matched, deleted, false)
	},
}

func writeRetryResetResult(format output.Format, w io.Writer, matched int, deleted int64, dryRun bool) error {
	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(map[string]any{
			"matched": matched,
			"deleted": deleted,
			"dry_run": dryRun,
		}, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	if dryRun {
		_, err := fmt.Fprintf(w, "Would reset %d retry state(s)\n", matched)
		return err
	}
	_, err := fmt.Fprintf(w, "Reset %d/%d retry state(s)\n", deleted, matched)
	return err
}

func init() {
	retryStatusCmd.Flags().StringVarP(&retryStatusOutput, "output", "o", string(output.FormatTable), "Output format: table|json|yaml|markdown")

	retryResetCmd.Flags().BoolVar(&retryResetAll, "all", false, "Reset every source")
	retryResetCmd.Flags().StringSliceVar(&retryResetSources, "source", nil, "Reset the named source (repeatable)")
	retryResetCmd.Flags().BoolVar(&retryResetYes, "yes", false, "Confirm resetting every source")
	retryResetCmd.Flags().BoolVar(&retryResetDryRun, "dry-run", false, "Report what would be reset")
	retryResetCmd.Flags().StringVarP(&retryResetOutput, "output", "o", string(output.FormatTable), "Output format: table|json")

	retryCmd.AddCommand(retryStatusCmd)
	retryCmd.AddCommand(retryResetCmd)
	rootCmd.AddCommand(retryCmd)
}
