package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nainya/schedver/internal/config"
	"github.com/nainya/schedver/internal/logger"
)

var (
	configPath string
	verbose    bool

	cfg    *config.Config
	appLog *logger.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "schedver",
	Short: "Versioning and concurrency control for schedule documents",
	Long: `schedver keeps an append-only version chain per schedule document,
guards edits with advisory locks and optimistic version checks, and can
replay, compare and roll back any version.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Log.Level = "debug"
		}
		appLog = logger.InitGlobalLogger(logger.Config{
			Level:      cfg.Log.Level,
			Pretty:     cfg.Log.Pretty,
			Output:     os.Stderr,
			WithCaller: cfg.Log.Caller,
		})
		return nil
	},
}

// Execute runs the root command. Called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}
