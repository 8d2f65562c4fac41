package cmd

import (
	"os"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/crmpulse/crmpulse/internal/config"
	"github.com/crmpulse/crmpulse/internal/observability"
)

var (
	cfgFile string
	verbose bool

	// appViper holds layered configuration for every command.
	appViper = viper.New()

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Aggregate CRM analysis endpoints into one resilient dashboard",
	Long: `crmpulse fetches churn, broker performance, renewal and client data from
independent analysis endpoints, keeps the last good result of each, and
serves a single progressively updated dashboard snapshot.

Use the subcommands to perform specific operations.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Disable global telemetry early to prevent config loading from emitting
	// metrics to stdout. Server mode will initialize proper telemetry later.
	disabledConfig := &telemetry.Config{Enabled: false}
	if sys, err := telemetry.NewSystem(disabledConfig); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/"+config.AppName+"/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")

	_ = appViper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	// Initialize CLI logger early so we can use it in config loading
	observability.InitCLILogger(config.AppName, verbose)

	config.SetDefaults(appViper)
	config.ConfigureEnv(appViper)

	if cfgFile != "" {
		appViper.SetConfigFile(cfgFile)
	} else {
		if dir := config.DefaultConfigDir(); dir != "" {
			appViper.AddConfigPath(dir)
		} else {
			if verbose {
				observability.CLILogger.Warn("Could not resolve XDG config directory, falling back to home directory")
			}
			if home, err := os.UserHomeDir(); err == nil {
				appViper.AddConfigPath(home)
			}
		}
		appViper.SetConfigName("config")

		// Also search in current directory
		appViper.AddConfigPath("./config")
		appViper.SetConfigType("yaml")
	}

	// If a config file is found, read it in
	if err := appViper.ReadInConfig(); err == nil {
		if verbose {
			observability.CLILogger.Debug("Using config file", zap.String("path", appViper.ConfigFileUsed()))
		}
	} else if verbose {
		// It's OK if config file doesn't exist, we have defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			observability.CLILogger.Debug("No config file found, using defaults and environment variables")
		} else {
			observability.CLILogger.Warn("Error reading config file", zap.Error(err))
		}
	}
}

// loadConfig decodes and validates the layered configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(appViper)
	if err != nil {
		return nil, &configError{err: err}
	}
	return cfg, nil
}
