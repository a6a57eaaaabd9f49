package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"moonfetch/pkg/executor"
	"moonfetch/pkg/ui"
)

var (
	headOnly    bool
	direct      bool
	getHeaders  []string
	parallelism int
)

var getCmd = &cobra.Command{
	Use:   "get URL...",
	Short: "Fetch one or more URLs and print the responses",
	Long: `Fetch URLs concurrently through the full request pipeline: pacing, cache,
proxy rotation and challenge solving. Responses are printed in argument order.`,
	Example: `  # Fetch a page
  moonfetch get https://example.com/

  # Show only status and headers for several pages
  moonfetch get --head-only https://example.com/a https://example.com/b

  # Send an extra header and bypass proxies
  moonfetch get -H "Accept-Language: de" --direct https://example.com/`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGet,
}

func init() {
	rootCmd.AddCommand(getCmd)

	getCmd.Flags().BoolVar(&headOnly, "head-only", false, "print status and headers only")
	getCmd.Flags().BoolVar(&direct, "direct", false, "do not use the proxy pool")
	getCmd.Flags().StringArrayVarP(&getHeaders, "header", "H", nil, `extra request header, "Name: value"`)
	getCmd.Flags().IntVarP(&parallelism, "parallel", "P", 4, "maximum concurrent requests")
}

type fetchResult struct {
	url  string
	resp *executor.Response
	err  error
}

func runGet(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(nil)
	if err != nil {
		return err
	}

	header, err := parseHeaders(getHeaders)
	if err != nil {
		return err
	}

	exec, st, err := newExecutor(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer exec.Close()

	results := fetchAll(cmd.Context(), exec, args, header, !direct && cfg.Proxy.Enabled, parallelism)

	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			ui.PrintError(r.url, r.err)
			continue
		}
		printResponse(cmd.OutOrStdout(), r, headOnly || verbose, !headOnly)
	}

	if verbose {
		st.Print(cmd.ErrOrStderr())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d requests failed", failed, len(results))
	}
	return nil
}

// fetchAll runs the requests with at most limit in flight. Failures are kept
// per URL and do not cancel the others.
func fetchAll(ctx context.Context, exec *executor.Executor, urls []string, header http.Header, useProxy bool, limit int) []fetchResult {
	results := make([]fetchResult, len(urls))

	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, u := range urls {
		g.Go(func() error {
			req := executor.Request{
				Method:   http.MethodGet,
				URL:      u,
				Header:   header,
				UseProxy: useProxy,
				UseCache: true,
			}
			resp, err := exec.Do(ctx, req)
			results[i] = fetchResult{url: u, resp: resp, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func parseHeaders(raw []string) (http.Header, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	h := make(http.Header)
	for _, line := range raw {
		name, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q, expected \"Name: value\"", line)
		}
		h.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return h, nil
}

func printResponse(w io.Writer, r fetchResult, withHeaders, withBody bool) {
	resp := r.resp
	source := "network"
	if resp.FromCache {
		source = "cache"
	}

	if withHeaders {
		fmt.Fprintf(w, "%s %s\n", ui.Cyan(r.url), ui.Yellow(fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))))
		fmt.Fprintf(w, "%s\n", ui.Dim(fmt.Sprintf("source=%s attempts=%d proxy=%s", source, resp.Attempts, orDash(resp.Proxy))))

		names := make([]string, 0, len(resp.Header))
		for name := range resp.Header {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			for _, v := range resp.Header[name] {
				fmt.Fprintf(w, "%s: %s\n", name, v)
			}
		}
		fmt.Fprintln(w)
	}

	if withBody {
		_, _ = w.Write(resp.Body)
		if len(resp.Body) > 0 && resp.Body[len(resp.Body)-1] != '\n' {
			fmt.Fprintln(w)
		}
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
