package cmd

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/crmpulse/crmpulse/internal/core/cache"
	"github.com/crmpulse/crmpulse/internal/observability"
	"github.com/crmpulse/crmpulse/internal/output"
)

// cacheClearConcurrency bounds parallel deletes against the store.
const cacheClearConcurrency = 4

var (
	cacheListOutput string
	cacheListSource string

	cacheClearSource string
	cacheClearYes    bool
	cacheClearDryRun bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and clear cached source results",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached source results",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(cacheListOutput)
		if err != nil {
			return err
		}

		rt, err := openRuntime(cmd.Context(), observability.Active())
		if err != nil {
			return err
		}
		defer rt.Close() // nolint:errcheck // best-effort cleanup

		keys, err := sourceKeys(cmd, rt.cache, cacheListSource)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		rows := make([]output.CacheRow, 0, len(keys))
		for _, key := range keys {
			entry, ok := rt.cache.Get(cmd.Context(), key)
			if !ok {
				continue
			}
			age := now.Sub(entry.WrittenAt)
			if age < 0 {
				age = 0
			}
			rows = append(rows, output.CacheRow{
				Key:       key,
				WrittenAt: entry.WrittenAt,
				Age:       age,
				Bytes:     len(entry.Data),
			})
		}

		rendered, err := output.NewFormatter(format).FormatCacheEntries(rows)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
		return err
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove cached source results",
	Long: `Remove cached source results so the next fetch cannot fall back to them.

Without --source every entry is removed, which requires --yes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		source := strings.TrimSpace(cacheClearSource)
		if source == "" && !cacheClearYes && !cacheClearDryRun {
			return errors.New("clearing every source requires --yes (or use --dry-run)")
		}

		rt, err := openRuntime(cmd.Context(), observability.Active())
		if err != nil {
			return err
		}
		defer rt.Close() // nolint:errcheck // best-effort cleanup

		keys, err := sourceKeys(cmd, rt.cache, source)
		if err != nil {
			return err
		}

		if cacheClearDryRun {
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Would remove %d cache entries\n", len(keys))
			return err
		}

		var removed atomic.Int64
		g, ctx := errgroup.WithContext(cmd.Context())
		g.SetLimit(cacheClearConcurrency)
		for _, key := range keys {
			g.Go(func() error {
				if err := rt.cache.Remove(ctx, key); err != nil {
					return fmt.Errorf("remove %s: %w", key, err)
				}
				removed.Add(1)
				return nil
			})
		}
		waitErr := g.Wait()

		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cache entries\n", removed.Load()); err != nil {
			return err
		}
		return waitErr
	},
}

// sourceKeys lists cache keys, restricted to one source when name is set.
func sourceKeys(cmd *cobra.Command, rc *cache.ResultCache, name string) ([]string, error) {
	keys, err := rc.Keys(cmd.Context())
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return keys, nil
	}
	filtered := keys[:0]
	for _, key := range keys {
		if strings.HasPrefix(key, name+":") {
			filtered = append(filtered, key)
		}
	}
	return filtered, nil
}

func init() {
	cacheListCmd.Flags().StringVarP(&cacheListOutput, "output", "o", string(output.FormatTable), "Output format: table|json|yaml|markdown")
	cacheListCmd.Flags().StringVar(&cacheListSource, "source", "", "Only list entries of this source")

	cacheClearCmd.Flags().StringVar(&cacheClearSource, "source", "", "Only clear entries of this source")
	cacheClearCmd.Flags().BoolVar(&cacheClearYes, "yes", false, "Confirm clearing every source")
	cacheClearCmd.Flags().BoolVar(&cacheClearDryRun, "dry-run", false, "Report what would be removed")

	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
