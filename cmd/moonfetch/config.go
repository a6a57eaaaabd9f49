package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"moonfetch/pkg/config"
	"moonfetch/pkg/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage moonfetch configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (MOONFETCH_*)
  - .env in the working directory or ~/.moonfetch.env
  - Configuration file
  - Default values (lowest priority)`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default values",
	Long: `Write a configuration file containing every option at its default value.

The file is created as '.moonfetch.yaml' in the current directory unless a
different path is given with --config.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the configuration after merging all sources. Proxy passwords are
redacted.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(nil)
		if err != nil {
			return err
		}
		urls, err := cfg.ProxyURLs()
		if err != nil {
			return err
		}
		ui.PrintSuccess("Configuration is valid")
		ui.PrintInfo("Proxies", fmt.Sprint(len(urls)))
		ui.PrintInfo("Cache", fmt.Sprintf("%s (enabled=%t)", cfg.Cache.Backend, cfg.Cache.Enabled))
		ui.PrintInfo("Retry budget", fmt.Sprint(cfg.Request.RetryBudget))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = ".moonfetch.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists: %s", path)
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}

	ui.PrintSuccess("Configuration file created: " + path)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Add proxies under proxy.list or point proxy.list_file at a file")
	fmt.Println("2. Run 'moonfetch config validate' to check the configuration")
	fmt.Println("3. Fetch something with 'moonfetch get <url>'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(nil)
	if err != nil {
		return err
	}

	display := *cfg
	display.Proxy.List = redactProxies(cfg.Proxy.List)
	display.Cache.RedisURL = redactURL(cfg.Cache.RedisURL)

	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

func redactProxies(list []string) []string {
	out := make([]string, len(list))
	for i, raw := range list {
		out[i] = redactURL(raw)
	}
	return out
}

func redactURL(raw string) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
