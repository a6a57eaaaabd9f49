package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"moonfetch/pkg/manifest"
	"moonfetch/pkg/ui"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Inspect or reset the download manifest",
	Long: `The manifest records every finished or partial download so batches can be
resumed. These commands operate on the configured manifest file.`,
}

var manifestListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded downloads",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		man, err := openManifest()
		if err != nil {
			return err
		}
		records := man.Records()
		if len(records) == 0 {
			ui.PrintInfo("Manifest is empty", man.Path())
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STATUS\tSIZE\tPATH\tURL")
		for _, rec := range records {
			status := ui.Green("complete")
			if !rec.Complete {
				status = ui.Yellow("partial")
			}
			size := ui.FormatBytes(rec.Bytes)
			if rec.Total >= 0 && !rec.Complete {
				size += "/" + ui.FormatBytes(rec.Total)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", status, size, rec.Path, rec.URL)
		}
		return w.Flush()
	},
}

var manifestForgetCmd = &cobra.Command{
	Use:   "forget PATH...",
	Short: "Drop records so the files are downloaded again",
	Long: `Drop manifest records so batches no longer skip the files. Partial files
are deleted along with their record; completed files stay on disk and are
replaced only with --overwrite.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		man, err := openManifest()
		if err != nil {
			return err
		}
		removed, err := forgetRecords(man, args)
		if err != nil {
			return err
		}
		ui.PrintSuccess(fmt.Sprintf("Forgot %d record(s), removed %d partial file(s)", len(args), removed))
		return nil
	},
}

var manifestResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Back up and clear the manifest",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		man, err := openManifest()
		if err != nil {
			return err
		}
		if err := man.Backup(); err != nil {
			return err
		}
		if err := man.Delete(); err != nil {
			return err
		}
		ui.PrintSuccess("Manifest cleared, backup at " + man.Path() + ".backup")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(manifestCmd)
	manifestCmd.AddCommand(manifestListCmd)
	manifestCmd.AddCommand(manifestForgetCmd)
	manifestCmd.AddCommand(manifestResetCmd)
	manifestCmd.PersistentFlags().StringVar(&manifestPath, "manifest", "", "manifest file (default in the user data directory)")
}

func openManifest() (*manifest.Manager, error) {
	cfg, _, err := loadConfig(map[string]interface{}{"manifest": manifestPath})
	if err != nil {
		return nil, err
	}
	return manifest.NewManager(cfg.Download.Manifest)
}

// forgetRecords drops the record of each path and deletes files the manifest
// knew only as partial
func forgetRecords(man *manifest.Manager, paths []string) (int, error) {
	removed := 0
	for _, p := range paths {
		rec, ok := man.Lookup(p)
		if err := man.Forget(p); err != nil {
			return removed, err
		}
		if !ok || rec.Complete {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove partial file: %w", err)
		}
		removed++
	}
	return removed, nil
}
