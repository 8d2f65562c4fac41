package cmd

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/crmpulse/crmpulse/internal/core"
	"github.com/crmpulse/crmpulse/internal/dashboard"
	"github.com/crmpulse/crmpulse/internal/observability"
	"github.com/crmpulse/crmpulse/internal/output"
)

// errDashboardFailed signals that every source failed with nothing to show.
var errDashboardFailed = errors.New("dashboard has no data: every source failed")

var (
	snapshotFrom    string
	snapshotTo      string
	snapshotEntity  string
	snapshotMode    string
	snapshotRefresh bool
	snapshotTimeout time.Duration
	snapshotOutput  string
	snapshotOut     string
	snapshotOutDir  string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Fetch every source once and print the dashboard",
	Long: `Fetch every configured source for a reporting period and print the merged
dashboard once all sources have settled.

Sources that fail fall back to their last cached result. The period defaults
to the current month up to today.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(snapshotOutput)
		if err != nil {
			return err
		}

		params, err := snapshotParams(time.Now())
		if err != nil {
			return err
		}

		outPath, err := resolveOutPath(snapshotOut, snapshotOutDir, "dashboard-"+params.Key(), format)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		logger := observability.Active()
		rt, err := openRuntime(ctx, logger)
		if err != nil {
			return err
		}
		defer rt.Close() // nolint:errcheck // best-effort cleanup

		agg := rt.newAggregator(logger)
		defer agg.Close()

		snap, err := runSnapshot(ctx, agg, params, snapshotRefresh, snapshotTimeout)
		if err != nil {
			return err
		}

		rendered, err := output.NewFormatter(format).FormatSnapshot(snap)
		if err != nil {
			return err
		}
		if err := writeOutput(cmd.OutOrStdout(), outPath, rendered); err != nil {
			return err
		}

		if snap.State == dashboard.StateError {
			return errDashboardFailed
		}
		return nil
	},
}

// snapshotParams builds the reporting period from flags, defaulting to the
// month of now up to now.
func snapshotParams(now time.Time) (core.Params, error) {
	from := strings.TrimSpace(snapshotFrom)
	to := strings.TrimSpace(snapshotTo)
	if from == "" {
		from = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).Format(core.DateLayout)
	}
	if to == "" {
		to = now.UTC().Format(core.DateLayout)
	}
	return core.ParseParams(from, to, snapshotEntity, snapshotMode)
}

// runSnapshot triggers params, dropping their cached results first when
// refresh is set, and waits for every
// source to settle or the timeout to pass. On timeout the latest snapshot
// is returned as it stands.
func runSnapshot(ctx context.Context, agg *dashboard.Aggregator, params core.Params, refresh bool, timeout time.Duration) (*dashboard.Snapshot, error) {
	if timeout <= 0 {
		timeout = time.Minute
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if refresh {
		if err := agg.RefreshPeriod(waitCtx, params); err != nil {
			if errors.Is(err, dashboard.ErrClosed) {
				return nil, err
			}
			observability.Active().Warn("Refresh did not complete cleanly", zap.Error(err))
		}
	} else {
		agg.Trigger(params)
	}

	if err := agg.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		observability.Active().Warn("Timed out waiting for sources; printing partial dashboard",
			zap.Duration("timeout", timeout))
	}
	return agg.Snapshot(), nil
}

func init() {
	rootCmd.AddCommand(snapshotCmd)

	snapshotCmd.Flags().StringVar(&snapshotFrom, "from", "", "Period start (YYYY-MM-DD, default first day of this month)")
	snapshotCmd.Flags().StringVar(&snapshotTo, "to", "", "Period end (YYYY-MM-DD, default today)")
	snapshotCmd.Flags().StringVar(&snapshotEntity, "entity", "", "Restrict to one entity id")
	snapshotCmd.Flags().StringVar(&snapshotMode, "mode", "", "Analysis mode passed to every source")
	snapshotCmd.Flags().BoolVar(&snapshotRefresh, "refresh", false, "Drop cached results for the period and refetch")
	snapshotCmd.Flags().DurationVar(&snapshotTimeout, "timeout", time.Minute, "Maximum time to wait for sources")
	snapshotCmd.Flags().StringVarP(&snapshotOutput, "output", "o", string(output.FormatTable), "Output format: table|json|yaml|markdown")
	snapshotCmd.Flags().StringVar(&snapshotOut, "out", "", "Write output to a file (default stdout)")
	snapshotCmd.Flags().StringVar(&snapshotOutDir, "out-dir", "", "Write output to a directory")
}
