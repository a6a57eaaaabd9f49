package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"moonfetch/pkg/config"
	"moonfetch/pkg/executor"
	"moonfetch/pkg/logger"
	"moonfetch/pkg/stats"
	"moonfetch/pkg/ui"
)

var (
	// Version information
	version   = "0.4.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile    string
	logLevel      string
	noColor       bool
	notifications bool
	quiet         bool
	verbose       bool
	noCache       bool
	proxies       []string
	proxyFile     string
)

var rootCmd = &cobra.Command{
	Use:   "moonfetch",
	Short: "Resilient HTTP fetching through challenges, proxies and rate limits",
	Long: `moonfetch fetches web resources from hosts that push back.

Features:
  - Solves JavaScript interstitial challenges and reuses the clearance
  - Rotates across a proxy pool with failure cooldowns
  - Paces requests per host with randomized delays
  - Caches idempotent responses in memory or Redis
  - Streams large downloads to disk with progress and a resumable manifest`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.SetNoColor(noColor)
		if quiet {
			ui.SetQuietMode(true)
			logLevel = "error"
		}
		if verbose && logLevel == "info" {
			logLevel = "debug"
		}

		switch cmd.Name() {
		case "download", "serve":
			ui.PrintLogo()
		}
	},
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError("Error", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./.moonfetch.yaml or ~/.config/moonfetch/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&notifications, "notifications", false, "send a desktop notification when a batch finishes")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output and debug logging")
	rootCmd.PersistentFlags().BoolVar(&noCache, "no-cache", false, "disable the response cache")
	rootCmd.PersistentFlags().StringSliceVar(&proxies, "proxy", nil, "proxy URL, repeatable (http, https or socks5)")
	rootCmd.PersistentFlags().StringVar(&proxyFile, "proxy-file", "", "file with one proxy URL per line")

	rootCmd.SetVersionTemplate(`moonfetch {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig merges the global flags with extra command flags, loads the
// configuration and initializes the global logger
func loadConfig(extra map[string]interface{}) (*config.Config, logger.Logger, error) {
	flags := map[string]interface{}{
		"no-cache":   noCache,
		"proxy":      proxies,
		"proxy-file": proxyFile,
	}
	// the default level must not override the config file
	if logLevel != "info" {
		flags["log-level"] = logLevel
	}
	for k, v := range extra {
		flags[k] = v
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, nil, err
	}
	if err := logger.Initialize(cfg.Logging); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	log := logger.GetLogger()
	log.WithField("version", version).Debug("moonfetch starting")
	return cfg, log, nil
}

// newExecutor builds the executor stack from the loaded configuration
func newExecutor(ctx context.Context, cfg *config.Config, log logger.Logger) (*executor.Executor, *stats.Stats, error) {
	st := stats.New()
	exec, err := executor.NewFromConfig(ctx, cfg, st, log)
	if err != nil {
		return nil, nil, err
	}
	return exec, st, nil
}
