package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"moonfetch/pkg/executor"
	errs "moonfetch/pkg/errors"
	"moonfetch/pkg/logger"
	"moonfetch/pkg/stats"
	"moonfetch/pkg/ui"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the telemetry endpoint and fetch passthrough",
	Long: `Serve telemetry over HTTP:

  /metrics        Prometheus exposition of the request counters
  /stats          JSON snapshot of the counters and proxy pool health
  /healthz        liveness check
  /fetch?url=URL  fetch URL through the executor and relay the response`,
	Example: `  moonfetch serve --listen 127.0.0.1:9090 --proxy-file proxies.txt`,
	Args:    cobra.NoArgs,
	RunE:    runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (default from config, :9090)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(map[string]interface{}{"listen": listenAddr})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	exec, _, err := newExecutor(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer exec.Close()

	srv := &http.Server{
		Addr:              cfg.Telemetry.Listen,
		Handler:           newServer(exec, cfg.Proxy.Enabled, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	ui.PrintInfo("Listening", cfg.Telemetry.Listen)
	log.WithField("addr", cfg.Telemetry.Listen).Info("telemetry server started")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("shutting down telemetry server")
	return srv.Shutdown(shutdownCtx)
}

// newServer routes the telemetry endpoints. Each call gets its own
// Prometheus registry.
func newServer(exec *executor.Executor, useProxy bool, log logger.Logger) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		stats.NewCollector("moonfetch", exec.Stats()),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	h := &handlers{exec: exec, useProxy: useProxy, log: logger.OrDefault(log)}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.stats).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.HandleFunc("/fetch", h.fetch).Methods(http.MethodGet).Queries("url", "{url}")
	r.HandleFunc("/fetch", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing url parameter"})
	}).Methods(http.MethodGet)
	return r
}

type handlers struct {
	exec     *executor.Executor
	useProxy bool
	log      logger.Logger
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"stats": h.exec.Stats().Snapshot(),
	}
	if rot := h.exec.Rotator(); rot != nil {
		body["proxies"] = rot.Stats()
		body["proxies_available"] = rot.Available()
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *handlers) fetch(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if u, err := url.Parse(target); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url must be an absolute http(s) URL"})
		return
	}

	req := executor.Get(target)
	req.UseProxy = h.useProxy
	resp, err := h.exec.Do(r.Context(), req)
	if err != nil {
		h.log.WithError(err).WithField("url", target).Warn("fetch failed")
		writeJSON(w, statusFor(err), map[string]string{
			"error": err.Error(),
			"kind":  string(errs.KindOf(err)),
		})
		return
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	cache := "miss"
	if resp.FromCache {
		cache = "hit"
	}
	w.Header().Set("X-Moonfetch-Cache", cache)
	w.Header().Set("X-Moonfetch-Attempts", strconv.Itoa(resp.Attempts))
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

// statusFor maps a request failure onto the status relayed to the caller
func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case errs.KindProxyExhausted:
		return http.StatusServiceUnavailable
	case errs.KindConfig:
		return http.StatusBadRequest
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
