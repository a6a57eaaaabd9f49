package download

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	errs "moonfetch/pkg/errors"
	"moonfetch/pkg/executor"
	"moonfetch/pkg/logger"
	"moonfetch/pkg/manifest"
	"moonfetch/pkg/stats"
)

const bufferSize = 64 << 10

// ErrDestinationExists is returned when the target file exists and
// overwriting is off
var ErrDestinationExists = errors.New("destination already exists")

// ProgressFunc observes a transfer. written only grows; total is -1 when the
// server sent no length.
type ProgressFunc func(written, total int64)

// Streamer runs a request and hands over the unread response body
type Streamer interface {
	Stream(ctx context.Context, req executor.Request, fn func(*http.Response) error) error
}

// Recorder keeps a record of finished and partial transfers
type Recorder interface {
	Record(rec manifest.Record) error
	Lookup(path string) (manifest.Record, bool)
}

// Options configures a Manager
type Options struct {
	Overwrite bool
	// DiscardPartial removes the destination when a transfer fails
	DiscardPartial bool
	UseProxy       bool
	Manifest       Recorder
	Stats          *stats.Stats
	Logger         logger.Logger
}

// Result describes a completed transfer
type Result struct {
	URL   string
	Path  string
	Bytes int64
	Total int64
}

// Manager streams response bodies to disk
type Manager struct {
	fetch Streamer
	opts  Options
	log   logger.Logger
	stats *stats.Stats
	open  func(path string, overwrite bool) (io.WriteCloser, error)
}

// NewManager creates a download manager that fetches through fetch
func NewManager(fetch Streamer, opts Options) *Manager {
	st := opts.Stats
	if st == nil {
		st = stats.New()
	}
	return &Manager{
		fetch: fetch,
		opts:  opts,
		log:   logger.OrDefault(opts.Logger),
		stats: st,
		open:  openFile,
	}
}

// Download fetches rawURL into dest. The body is streamed straight to disk.
// Non-2xx responses are returned as errors carrying the status code. A
// destination the manifest lists as partial is replaced even when
// overwriting is off.
func (m *Manager) Download(ctx context.Context, rawURL, dest string, progress ProgressFunc) (*Result, error) {
	replace := m.opts.Overwrite || m.isPartial(dest)
	if !replace {
		if _, err := os.Stat(dest); err == nil {
			return nil, fmt.Errorf("%s: %w", dest, ErrDestinationExists)
		}
	}

	res := &Result{URL: rawURL, Path: dest, Total: -1}
	var wrote bool
	req := executor.Request{Method: http.MethodGet, URL: rawURL, UseProxy: m.opts.UseProxy}
	err := m.fetch.Stream(ctx, req, func(resp *http.Response) error {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &errs.Error{
				Kind:    errs.KindUnknown,
				Code:    resp.StatusCode,
				Message: fmt.Sprintf("unexpected status fetching %s", rawURL),
			}
		}
		if resp.ContentLength >= 0 {
			res.Total = resp.ContentLength
		}
		wrote = true
		n, err := m.write(ctx, resp.Body, dest, res.Total, progress, replace)
		res.Bytes = n
		return err
	})

	if wrote {
		m.record(res, err)
	}
	if err != nil {
		return nil, err
	}

	m.log.InfoWithFields("download complete", map[string]interface{}{
		"url":   rawURL,
		"path":  dest,
		"bytes": res.Bytes,
	})
	return res, nil
}

func (m *Manager) isPartial(dest string) bool {
	if m.opts.Manifest == nil {
		return false
	}
	rec, ok := m.opts.Manifest.Lookup(dest)
	return ok && !rec.Complete
}

func (m *Manager) record(res *Result, err error) {
	if m.opts.Manifest == nil {
		return
	}
	rec := manifest.Record{
		URL:      res.URL,
		Path:     res.Path,
		Bytes:    res.Bytes,
		Total:    res.Total,
		Complete: err == nil,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if rerr := m.opts.Manifest.Record(rec); rerr != nil {
		m.log.WithError(rerr).Warn("failed to update manifest")
	}
}

// Write copies body into dest and reports progress after every chunk. total
// is the expected size or -1. The file is flushed and closed on every path;
// a body that ends before total yields a download_incomplete error and the
// partial file stays on disk unless DiscardPartial is set.
func (m *Manager) Write(ctx context.Context, body io.Reader, dest string, total int64, progress ProgressFunc) (int64, error) {
	return m.write(ctx, body, dest, total, progress, m.opts.Overwrite)
}

func (m *Manager) write(ctx context.Context, body io.Reader, dest string, total int64, progress ProgressFunc, replace bool) (written int64, err error) {
	if dir := filepath.Dir(dest); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, fmt.Errorf("failed to create destination directory: %w", err)
		}
	}

	f, err := m.open(dest, replace)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return 0, fmt.Errorf("%s: %w", dest, ErrDestinationExists)
		}
		return 0, fmt.Errorf("failed to open destination: %w", err)
	}

	w := bufio.NewWriterSize(f, bufferSize)
	defer func() {
		if ferr := w.Flush(); ferr != nil && err == nil {
			err = fmt.Errorf("failed to flush destination: %w", ferr)
		}
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close destination: %w", cerr)
		}
		if err != nil {
			m.log.WithError(err).WarnWithFields("download stopped", map[string]interface{}{
				"path":    dest,
				"written": written,
				"total":   total,
			})
			if m.opts.DiscardPartial {
				_ = os.Remove(dest)
			}
		}
	}()

	buf := make([]byte, bufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return written, fmt.Errorf("failed to write destination: %w", werr)
			}
			written += int64(n)
			m.stats.AddBytesDownloaded(int64(n))
			if progress != nil {
				progress(written, total)
			}
		}

		if rerr == io.EOF {
			if total >= 0 && written < total {
				return written, &errs.Error{
					Kind:    errs.KindDownloadIncomplete,
					Message: fmt.Sprintf("stream ended at %d of %d bytes", written, total),
				}
			}
			return written, nil
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return written, ctx.Err()
			}
			return written, &errs.Error{
				Kind:    errs.KindDownloadIncomplete,
				Message: fmt.Sprintf("stream broke after %d bytes", written),
				Err:     rerr,
			}
		}
	}
}

func openFile(path string, overwrite bool) (io.WriteCloser, error) {
	flag := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flag |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, err
	}
	return f, nil
}
