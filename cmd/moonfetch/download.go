package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"moonfetch/internal/downloader"
	"moonfetch/pkg/config"
	"moonfetch/pkg/download"
	"moonfetch/pkg/logger"
	"moonfetch/pkg/manifest"
	"moonfetch/pkg/retry"
	"moonfetch/pkg/stats"
	"moonfetch/pkg/ui"
	"moonfetch/pkg/ui/tui"
)

var (
	batchFile    string
	outputDir    string
	useTUI       bool
	overwrite    bool
	concurrency  int
	manifestPath string
	forceRestart bool
)

var downloadCmd = &cobra.Command{
	Use:   "download [URL DEST]",
	Short: "Stream files to disk",
	Long: `Download a single URL to DEST, or a batch of URLs with --batch.

A batch file holds one job per line: a URL, optionally followed by a
destination path relative to --dir. Blank lines and lines starting with
'#' are ignored. Jobs already recorded as complete in the manifest are
skipped unless --force-restart is given.`,
	Example: `  # Single file with a progress bar
  moonfetch download https://example.com/big.iso ./big.iso

  # Batch with 6 workers into ./out
  moonfetch download --batch urls.txt --dir ./out --concurrency 6

  # Batch with the interactive dashboard
  moonfetch download --batch urls.txt --dir ./out --tui`,
	Args: func(cmd *cobra.Command, args []string) error {
		if batchFile != "" {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(2)(cmd, args)
	},
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().StringVarP(&batchFile, "batch", "b", "", "file listing URLs to download")
	downloadCmd.Flags().StringVarP(&outputDir, "dir", "d", ".", "output directory for batch downloads")
	downloadCmd.Flags().BoolVar(&useTUI, "tui", false, "use the interactive dashboard for batch downloads")
	downloadCmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace existing files")
	downloadCmd.Flags().IntVar(&concurrency, "concurrency", 0, "number of concurrent downloads (default from config)")
	downloadCmd.Flags().StringVar(&manifestPath, "manifest", "", "manifest file (default in the user data directory)")
	downloadCmd.Flags().BoolVar(&forceRestart, "force-restart", false, "download again even when the manifest says complete")
}

func runDownload(cmd *cobra.Command, args []string) error {
	flags := map[string]interface{}{
		"overwrite":   overwrite,
		"concurrency": concurrency,
		"manifest":    manifestPath,
	}
	// console logging would tear the dashboard
	if useTUI && !verbose {
		flags["log-level"] = "error"
	}
	cfg, log, err := loadConfig(flags)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	exec, st, err := newExecutor(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer exec.Close()

	man, err := manifest.NewManager(cfg.Download.Manifest)
	if err != nil {
		return err
	}

	dm := download.NewManager(exec, download.Options{
		Overwrite:      cfg.Download.Overwrite,
		DiscardPartial: !cfg.Download.KeepPartial,
		UseProxy:       cfg.Proxy.Enabled,
		Manifest:       man,
		Stats:          st,
		Logger:         log,
	})

	if batchFile == "" {
		return downloadOne(ctx, dm, args[0], args[1])
	}

	f, err := os.Open(batchFile)
	if err != nil {
		return fmt.Errorf("failed to open batch file: %w", err)
	}
	jobs, err := parseBatch(f, outputDir)
	f.Close()
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		ui.PrintWarning("Batch file has no jobs", batchFile)
		return nil
	}

	b := &batch{
		cfg:    cfg,
		jobs:   jobs,
		fetch:  dm,
		stats:  st,
		log:    log,
		ledger: man,
	}
	if forceRestart {
		b.ledger = nil
	}

	var sum summary
	if useTUI {
		sum, err = b.runWithDashboard(ctx)
	} else {
		sum = b.runWithProgress(ctx)
	}
	if err != nil {
		return err
	}

	notifier := ui.NewNotifier(notifications)
	msg := fmt.Sprintf("%d downloaded, %d skipped, %d failed", sum.completed, sum.skipped, sum.failed)
	if sum.failed > 0 {
		notifier.SendError("moonfetch batch finished with errors", msg)
		return fmt.Errorf("%d of %d downloads failed", sum.failed, len(jobs))
	}
	notifier.SendSuccess("moonfetch batch complete", msg)
	if verbose {
		st.Print(cmd.ErrOrStderr())
	}
	return nil
}

func downloadOne(ctx context.Context, dm *download.Manager, rawURL, dest string) error {
	display := ui.NewProgressDisplay(os.Stdout, filepath.Base(dest), 1, verbose)
	if ui.IsQuiet() {
		display = ui.NewProgressDisplay(io.Discard, "", 1, false)
	}

	display.Started(dest)
	res, err := dm.Download(ctx, rawURL, dest, func(written, total int64) {
		display.Transferred(dest, written, total)
	})
	if err != nil {
		display.Failed(dest, err)
		display.Complete()
		return err
	}
	display.Completed(dest, res.Bytes)
	display.Complete()
	return nil
}

type summary struct {
	completed int
	skipped   int
	failed    int
}

type batch struct {
	cfg    *config.Config
	jobs   []downloader.Job
	fetch  downloader.Fetcher
	stats  *stats.Stats
	log    logger.Logger
	ledger downloader.Ledger
}

// run feeds every job through a worker pool and reports each event to rep
func (b *batch) run(ctx context.Context, rep ui.Reporter) summary {
	pool := downloader.NewWorkerPool(ctx, b.fetch, downloader.Options{
		Workers:  b.cfg.Download.Concurrency,
		Attempts: b.cfg.Download.Attempts,
		Backoff:  batchBackoff(b.cfg.Download),
		Ledger:   b.ledger,
		Progress: func(job downloader.Job, written, total int64) {
			rep.Transferred(job.Dest, written, total)
		},
		Logger: b.log,
	})
	pool.Start()

	go func() {
		defer pool.Stop()
		for _, job := range b.jobs {
			if err := pool.Submit(job); err != nil {
				b.log.WithError(err).Warn("batch submission stopped")
				return
			}
		}
	}()

	var sum summary
	for result := range pool.Results() {
		switch {
		case result.Skipped:
			sum.skipped++
			rep.Skipped(result.Job.Dest)
		case result.Success:
			sum.completed++
			rep.Completed(result.Job.Dest, result.Bytes)
		default:
			sum.failed++
			rep.Failed(result.Job.Dest, result.Error)
		}
	}
	// jobs never submitted because of cancellation count as failed
	if missing := len(b.jobs) - sum.completed - sum.skipped - sum.failed; missing > 0 {
		sum.failed += missing
	}
	return sum
}

func (b *batch) runWithProgress(ctx context.Context) summary {
	w := io.Writer(os.Stdout)
	if ui.IsQuiet() {
		w = io.Discard
	}
	display := ui.NewProgressDisplay(w, "batch", len(b.jobs), verbose)
	sum := b.run(ctx, display)
	display.Complete()
	return sum
}

func (b *batch) runWithDashboard(ctx context.Context) (summary, error) {
	ids := make([]string, len(b.jobs))
	for i, job := range b.jobs {
		ids[i] = job.Dest
	}
	dash := tui.NewTUI(ids, b.cfg.Download.Concurrency, b.stats.Snapshot)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan summary, 1)
	go func() {
		sum := b.run(ctx, dash)
		dash.Done()
		done <- sum
	}()

	// quitting the dashboard cancels whatever is still running
	err := dash.Start()
	cancel()
	sum := <-done
	if err != nil {
		return sum, fmt.Errorf("dashboard failed: %w", err)
	}
	return sum, nil
}

// batchBackoff is a fixed pause when one is configured, otherwise a pause
// chosen by error kind
func batchBackoff(cfg config.DownloadConfig) retry.BackoffStrategy {
	if cfg.RetryDelay > 0 {
		return &retry.ConstantBackoff{Delay: cfg.RetryDelay}
	}
	return retry.NewKindBackoff()
}

// parseBatch reads "URL [DEST]" lines. DEST defaults to the last path
// segment of the URL and is always placed under dir.
func parseBatch(r io.Reader, dir string) ([]downloader.Job, error) {
	var jobs []downloader.Job
	seen := make(map[string]int)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) > 2 {
			return nil, fmt.Errorf("line %d: expected \"URL [DEST]\"", lineNo)
		}
		u, err := url.Parse(fields[0])
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("line %d: invalid URL %q", lineNo, fields[0])
		}

		name := defaultName(u)
		if len(fields) == 2 {
			name = fields[1]
		}
		dest := filepath.Join(dir, filepath.Clean(string(filepath.Separator)+name))
		if prev, ok := seen[dest]; ok {
			return nil, fmt.Errorf("line %d: destination %s already used on line %d", lineNo, dest, prev)
		}
		seen[dest] = lineNo

		jobs = append(jobs, downloader.Job{URL: u.String(), Dest: dest})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}
	return jobs, nil
}

func defaultName(u *url.URL) string {
	name := path.Base(u.Path)
	if name == "/" || name == "." || name == "" {
		return u.Hostname() + ".html"
	}
	return name
}
