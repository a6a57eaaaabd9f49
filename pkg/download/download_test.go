package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "moonfetch/pkg/errors"
	"moonfetch/pkg/executor"
	"moonfetch/pkg/logger"
	"moonfetch/pkg/manifest"
	"moonfetch/pkg/stats"
)

const mb = 1 << 20

// trackedFile records whether the manager released the handle
type trackedFile struct {
	io.WriteCloser
	closed atomic.Bool
}

func (f *trackedFile) Close() error {
	f.closed.Store(true)
	return f.WriteCloser.Close()
}

func newTestManager(opts Options) (*Manager, *[]*trackedFile) {
	if opts.Logger == nil {
		opts.Logger = logger.NewTestLogger()
	}
	m := NewManager(nil, opts)
	var handles []*trackedFile
	m.open = func(path string, overwrite bool) (io.WriteCloser, error) {
		f, err := openFile(path, overwrite)
		if err != nil {
			return nil, err
		}
		tf := &trackedFile{WriteCloser: f}
		handles = append(handles, tf)
		return tf, nil
	}
	return m, &handles
}

type progressLog struct {
	written []int64
	totals  []int64
}

func (p *progressLog) observe(written, total int64) {
	p.written = append(p.written, written)
	p.totals = append(p.totals, total)
}

func (p *progressLog) assertMonotonic(t *testing.T) {
	t.Helper()
	for i := 1; i < len(p.written); i++ {
		assert.Greater(t, p.written[i], p.written[i-1])
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestTruncatedBodyLeavesPartialFile(t *testing.T) {
	st := stats.New()
	m, handles := newTestManager(Options{Stats: st})
	dest := filepath.Join(t.TempDir(), "nested", "big.bin")

	var progress progressLog
	body := io.LimitReader(zeroReader{}, 5*mb)
	n, err := m.Write(context.Background(), body, dest, 10*mb, progress.observe)

	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindDownloadIncomplete))
	assert.EqualValues(t, 5*mb, n)

	info, statErr := os.Stat(dest)
	require.NoError(t, statErr)
	assert.EqualValues(t, 5*mb, info.Size())

	require.Len(t, *handles, 1)
	assert.True(t, (*handles)[0].closed.Load(), "handle released")

	progress.assertMonotonic(t)
	assert.EqualValues(t, 5*mb, progress.written[len(progress.written)-1])
	assert.EqualValues(t, 10*mb, progress.totals[0])
	assert.EqualValues(t, 5*mb, st.Snapshot().BytesDownloaded)
}

func TestDiscardPartialRemovesFile(t *testing.T) {
	m, handles := newTestManager(Options{DiscardPartial: true})
	dest := filepath.Join(t.TempDir(), "gone.bin")

	_, err := m.Write(context.Background(), strings.NewReader("short"), dest, 100, nil)
	assert.True(t, errs.Is(err, errs.KindDownloadIncomplete))
	assert.NoFileExists(t, dest)
	assert.True(t, (*handles)[0].closed.Load())
}

func TestUnknownTotal(t *testing.T) {
	m, _ := newTestManager(Options{})
	dest := filepath.Join(t.TempDir(), "file.txt")

	var progress progressLog
	n, err := m.Write(context.Background(), strings.NewReader("hello world"), dest, -1, progress.observe)
	require.NoError(t, err)
	assert.EqualValues(t, 11, n)
	for _, total := range progress.totals {
		assert.EqualValues(t, -1, total)
	}

	got, _ := os.ReadFile(dest)
	assert.Equal(t, "hello world", string(got))
}

func TestExistingDestination(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "exists.txt")
	require.NoError(t, os.WriteFile(dest, []byte("old"), 0644))

	m, _ := newTestManager(Options{})
	_, err := m.Write(context.Background(), strings.NewReader("new"), dest, 3, nil)
	assert.ErrorIs(t, err, ErrDestinationExists)
	got, _ := os.ReadFile(dest)
	assert.Equal(t, "old", string(got))

	m, _ = newTestManager(Options{Overwrite: true})
	_, err = m.Write(context.Background(), strings.NewReader("new"), dest, 3, nil)
	require.NoError(t, err)
	got, _ = os.ReadFile(dest)
	assert.Equal(t, "new", string(got))
}

// cancelAfter cancels the context once the first chunk has been read
type cancelAfter struct {
	r      io.Reader
	cancel context.CancelFunc
}

func (c *cancelAfter) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.cancel()
	return n, err
}

func TestCancellationReleasesHandle(t *testing.T) {
	m, handles := newTestManager(Options{})
	dest := filepath.Join(t.TempDir(), "cancelled.bin")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	body := &cancelAfter{r: io.LimitReader(zeroReader{}, 4*mb), cancel: cancel}

	n, err := m.Write(ctx, body, dest, 4*mb, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, bufferSize, n)
	assert.True(t, (*handles)[0].closed.Load())
}

type failingWriter struct {
	limit int
	n     int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.n+len(p) > w.limit {
		return 0, errors.New("disk full")
	}
	w.n += len(p)
	return len(p), nil
}

func (w *failingWriter) Close() error { return nil }

func TestDiskErrorIsReported(t *testing.T) {
	m, _ := newTestManager(Options{})
	var closed bool
	m.open = func(string, bool) (io.WriteCloser, error) {
		return &closeSpy{WriteCloser: &failingWriter{limit: bufferSize}, closed: &closed}, nil
	}

	_, err := m.Write(context.Background(), io.LimitReader(zeroReader{}, 3*bufferSize), filepath.Join(t.TempDir(), "x"), -1, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.False(t, errs.Is(err, errs.KindDownloadIncomplete))
	assert.True(t, closed)
}

type closeSpy struct {
	io.WriteCloser
	closed *bool
}

func (c *closeSpy) Close() error {
	*c.closed = true
	return c.WriteCloser.Close()
}

func newExecutor(t *testing.T) *executor.Executor {
	t.Helper()
	e, err := executor.New(executor.Options{Logger: logger.NewTestLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestDownloadThroughExecutor(t *testing.T) {
	payload := bytes.Repeat([]byte("moon"), 50000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/file":
			w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
			_, _ = w.Write(payload)
		case "/cut":
			conn, rw, err := w.(http.Hijacker).Hijack()
			if err != nil {
				return
			}
			defer conn.Close()
			fmt.Fprintf(rw, "HTTP/1.1 200 OK\r\nContent-Length: 1000\r\n\r\n%s", strings.Repeat("x", 500))
			_ = rw.Flush()
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	man, err := manifest.NewManager(filepath.Join(dir, "manifest.json"))
	require.NoError(t, err)

	st := stats.New()
	m := NewManager(newExecutor(t), Options{Manifest: man, Stats: st, Logger: logger.NewTestLogger()})
	ctx := context.Background()

	t.Run("complete", func(t *testing.T) {
		dest := filepath.Join(dir, "file.bin")
		var progress progressLog
		res, err := m.Download(ctx, srv.URL+"/file", dest, progress.observe)
		require.NoError(t, err)
		assert.EqualValues(t, len(payload), res.Bytes)
		assert.EqualValues(t, len(payload), res.Total)
		progress.assertMonotonic(t)

		got, _ := os.ReadFile(dest)
		assert.Equal(t, payload, got)
		assert.True(t, man.IsComplete(srv.URL+"/file", dest))

		_, err = m.Download(ctx, srv.URL+"/file", dest, nil)
		assert.ErrorIs(t, err, ErrDestinationExists)
	})

	t.Run("cut short", func(t *testing.T) {
		dest := filepath.Join(dir, "cut.bin")
		_, err := m.Download(ctx, srv.URL+"/cut", dest, nil)
		require.Error(t, err)
		assert.True(t, errs.Is(err, errs.KindDownloadIncomplete))

		info, statErr := os.Stat(dest)
		require.NoError(t, statErr)
		assert.EqualValues(t, 500, info.Size())

		rec, ok := man.Lookup(dest)
		require.True(t, ok)
		assert.False(t, rec.Complete)
		assert.EqualValues(t, 500, rec.Bytes)
		assert.EqualValues(t, 1000, rec.Total)
	})

	t.Run("not found", func(t *testing.T) {
		dest := filepath.Join(dir, "missing.bin")
		_, err := m.Download(ctx, srv.URL+"/missing", dest, nil)
		var classified *errs.Error
		require.ErrorAs(t, err, &classified)
		assert.Equal(t, http.StatusNotFound, classified.Code)
		assert.NoFileExists(t, dest)
		_, ok := man.Lookup(dest)
		assert.False(t, ok)
	})
}

func TestPartialDestinationIsReplaced(t *testing.T) {
	payload := []byte("0123456789")
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			conn, rw, err := w.(http.Hijacker).Hijack()
			if err != nil {
				return
			}
			defer conn.Close()
			fmt.Fprintf(rw, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(payload), payload[:5])
			_ = rw.Flush()
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	man, err := manifest.NewManager(filepath.Join(dir, "manifest.json"))
	require.NoError(t, err)
	m := NewManager(newExecutor(t), Options{Manifest: man, Logger: logger.NewTestLogger()})

	dest := filepath.Join(dir, "f.bin")
	_, err = m.Download(context.Background(), srv.URL+"/f.bin", dest, nil)
	require.True(t, errs.Is(err, errs.KindDownloadIncomplete))
	require.FileExists(t, dest)

	res, err := m.Download(context.Background(), srv.URL+"/f.bin", dest, nil)
	require.NoError(t, err, "a partial file recorded in the manifest does not block a retry")
	assert.EqualValues(t, len(payload), res.Bytes)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.True(t, man.IsComplete(srv.URL+"/f.bin", dest))

	// once complete the file is protected again
	_, err = m.Download(context.Background(), srv.URL+"/f.bin", dest, nil)
	assert.ErrorIs(t, err, ErrDestinationExists)
}
