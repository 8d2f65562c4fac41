package cmd

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/crmpulse/crmpulse/internal/config"
	"github.com/crmpulse/crmpulse/internal/observability"
)

var doctorInitForce bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Run diagnostic checks on configuration, store and sources and suggest fixes for common issues.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		log := observability.CLILogger
		log.Info("=== " + config.AppName + " doctor ===")
		log.Info("")

		allChecks := true
		totalChecks := 5

		goVersion := runtime.Version()
		log.Info(fmt.Sprintf("[1/%d] Checking Go runtime... ✅ %s %s/%s", totalChecks, goVersion, runtime.GOOS, runtime.GOARCH),
			zap.String("go_version", goVersion))

		if configPath := config.DefaultConfigPath(); configPath == "" {
			log.Warn(fmt.Sprintf("[2/%d] Checking config directory... ⚠️  cannot resolve config directory", totalChecks))
			allChecks = false
		} else if _, err := os.Stat(configPath); err == nil {
			log.Info(fmt.Sprintf("[2/%d] Checking config file... ✅ %s", totalChecks, configPath), zap.String("config_path", configPath))
		} else {
			log.Info(fmt.Sprintf("[2/%d] Checking config file... ✅ defaults (run '%s doctor init' to create %s)", totalChecks, config.AppName, configPath))
		}

		cfg, cfgErr := loadConfig()
		if cfgErr != nil {
			log.Error(fmt.Sprintf("[3/%d] Checking configuration... ❌ %v", totalChecks, cfgErr))
			log.Warn("⚠️  Remaining checks need a valid configuration.")
			return
		}
		log.Info(fmt.Sprintf("[3/%d] Checking configuration... ✅ valid", totalChecks))

		switch {
		case !needsStore(cfg):
			log.Info(fmt.Sprintf("[4/%d] Checking store... ✅ not used (memory cache, retry state not persisted)", totalChecks))
		case cfg.Store.URL != "":
			log.Info(fmt.Sprintf("[4/%d] Checking store... ✅ %s (remote)", totalChecks, cfg.Store.URL))
		default:
			dbPath := cfg.Store.Path
			if dbPath == "" {
				dbPath = config.DefaultStorePath()
			}
			absPath, _ := filepath.Abs(dbPath)
			db, err := openStore(ctx, cfg)
			if err != nil {
				log.Error(fmt.Sprintf("[4/%d] Checking store... ❌ %s", totalChecks, absPath), zap.Error(err))
				allChecks = false
				break
			}
			size := "empty"
			if info, statErr := os.Stat(absPath); statErr == nil {
				size = formatFileSize(info.Size())
			}
			blocked := 0
			if states, err := db.ListRetryStates(ctx); err == nil {
				for _, entry := range states {
					if entry.State.Blocked {
						blocked++
						log.Warn(fmt.Sprintf("       source %s is blocked since %s (run '%s retry reset --source %s')",
							entry.Source, formatTimeAgo(entry.State.LastAttempt), config.AppName, entry.Source))
					}
				}
			}
			_ = db.Close()
			log.Info(fmt.Sprintf("[4/%d] Checking store... ✅ %s (%s, %d blocked source(s))", totalChecks, absPath, size, blocked),
				zap.String("db_path", absPath))
		}

		names := cfg.SourceNames()
		if len(names) == 0 {
			log.Warn(fmt.Sprintf("[5/%d] Checking sources... ⚠️  no enabled sources", totalChecks))
			allChecks = false
		} else {
			log.Info(fmt.Sprintf("[5/%d] Checking sources... ✅ %d enabled", totalChecks, len(names)))
			for _, name := range names {
				src := cfg.Sources[name]
				if u, err := url.Parse(src.URL); err != nil || u.Host == "" {
					log.Warn(fmt.Sprintf("       %s: invalid url %q", name, src.URL))
					allChecks = false
					continue
				}
				log.Info(fmt.Sprintf("       %s: %s (timeout %s)", name, src.URL, src.Timeout))
			}
		}

		log.Info("")
		if allChecks {
			log.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", config.AppName))
		} else {
			log.Warn("⚠️  Some checks failed. Review the output above for details.")
		}
		log.Info("=== End Diagnostics ===")
	},
}

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file populated with the built-in defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}
		if _, err := os.Stat(configPath); err == nil && !doctorInitForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
		}

		content, err := defaultConfigYAML()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		if err := os.WriteFile(configPath, content, 0o600); err != nil {
			return fmt.Errorf("write config: %w", err)
		}

		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configPath)
		return err
	},
}

// defaultConfigYAML renders the built-in defaults as a config file.
func defaultConfigYAML() ([]byte, error) {
	v := viper.New()
	config.SetDefaults(v)

	body, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return nil, fmt.Errorf("render default config: %w", err)
	}
	header := fmt.Sprintf("# %s config - created by '%s doctor init'\n", config.AppName, config.AppName)
	return append([]byte(header), body...), nil
}

// formatFileSize returns a human-readable file size
func formatFileSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}

// formatTimeAgo returns a human-readable relative time
func formatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%d mins ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%d days ago", int(d.Hours()/24))
	}
}

func init() {
	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "overwrite an existing config file")

	doctorCmd.AddCommand(doctorInitCmd)
	rootCmd.AddCommand(doctorCmd)
}
