package cmd

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/crmpulse/crmpulse/internal/config"
)

var extended bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information. Use --extended for build details and module versions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if !extended {
			_, err := fmt.Fprintf(out, "%s %s\n", config.AppName, versionInfo.Version)
			return err
		}

		fmt.Fprintf(out, "%s %s\n", config.AppName, versionInfo.Version)
		fmt.Fprintf(out, "Commit: %s\n", versionInfo.Commit)
		fmt.Fprintf(out, "Built: %s\n", versionInfo.BuildDate)
		fmt.Fprintf(out, "Go: %s\n", runtime.Version())

		if info, ok := debug.ReadBuildInfo(); ok && len(info.Deps) > 0 {
			fmt.Fprintf(out, "\nModules:\n")
			for _, dep := range info.Deps {
				fmt.Fprintf(out, "  %s %s\n", dep.Path, dep.Version)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
}
