package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"moonfetch/pkg/stats"
)

// DownloadState represents the state of a download
type DownloadState int

const (
	DownloadPending DownloadState = iota
	DownloadActive
	DownloadCompleted
	DownloadSkipped
	DownloadFailed
)

// DownloadItem is one job of the batch, keyed by its destination path
type DownloadItem struct {
	ID         string
	Size       int64
	Downloaded int64
	State      DownloadState
	StartTime  time.Time
	Speed      float64
	Error      error
}

// LogMessage represents a log entry
type LogMessage struct {
	Time    time.Time
	Level   string
	Message string
	Color   lipgloss.Color
}

// Model is the dashboard state. It is only touched from the bubbletea event
// loop; other goroutines talk to it through TUI.Send.
type Model struct {
	spinner      spinner.Model
	progressBars map[string]progress.Model

	downloads       map[string]*DownloadItem
	downloadOrder   []string
	activeDownloads int
	workers         int

	totalDownloaded  int
	totalSkipped     int
	totalFailed      int
	totalSize        int64
	sessionStartTime time.Time

	// telemetry is polled on every tick
	statsSource func() stats.Snapshot
	telemetry   stats.Snapshot

	width          int
	height         int
	showHelp       bool
	finished       bool
	logMessages    []LogMessage
	maxLogMessages int
	now            func() time.Time
}

// NewModel creates a dashboard for the given job IDs. source may be nil.
func NewModel(ids []string, workers int, source func() stats.Snapshot) *Model {
	s := spinner.New()
	s.Spinner = spinner.MiniDot
	s.Style = lipgloss.NewStyle().Foreground(moonSilver)

	m := &Model{
		spinner:          s,
		progressBars:     make(map[string]progress.Model),
		downloads:        make(map[string]*DownloadItem),
		workers:          workers,
		statsSource:      source,
		sessionStartTime: time.Now(),
		maxLogMessages:   50,
		now:              time.Now,
	}
	for _, id := range ids {
		m.AddDownload(id)
	}
	return m
}

// Init starts the spinner and the refresh tick
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

// AddDownload queues a job. Adding a known ID is a no-op.
func (m *Model) AddDownload(id string) {
	if _, ok := m.downloads[id]; ok {
		return
	}
	m.downloads[id] = &DownloadItem{ID: id, Size: -1, State: DownloadPending}
	m.downloadOrder = append(m.downloadOrder, id)

	p := progress.New(progress.WithGradient(string(tideBlue), string(moonSilver)))
	p.Width = 40
	m.progressBars[id] = p
}

// StartDownload marks a download as active
func (m *Model) StartDownload(id string) {
	m.AddDownload(id)
	d := m.downloads[id]
	if d.State == DownloadActive {
		return
	}
	d.State = DownloadActive
	d.StartTime = m.now()
	d.Downloaded = 0
	m.activeDownloads++
}

// UpdateDownloadProgress records bytes written so far. total is -1 when
// unknown.
func (m *Model) UpdateDownloadProgress(id string, downloaded, total int64) {
	d, ok := m.downloads[id]
	if !ok {
		return
	}
	if d.State != DownloadActive {
		m.StartDownload(id)
	}
	d.Downloaded = downloaded
	d.Size = total
	if elapsed := m.now().Sub(d.StartTime).Seconds(); elapsed > 0 {
		d.Speed = float64(downloaded) / elapsed
	}
}

func (m *Model) finish(id string, state DownloadState) *DownloadItem {
	d, ok := m.downloads[id]
	if !ok {
		m.AddDownload(id)
		d = m.downloads[id]
	}
	if d.State == DownloadActive {
		m.activeDownloads--
	}
	d.State = state
	return d
}

// CompleteDownload marks a download as completed
func (m *Model) CompleteDownload(id string, bytes int64) {
	d := m.finish(id, DownloadCompleted)
	d.Downloaded = bytes
	if d.Size < 0 {
		d.Size = bytes
	}
	m.totalDownloaded++
	m.totalSize += bytes
}

// SkipDownload marks a job whose file was already complete on disk
func (m *Model) SkipDownload(id string) {
	m.finish(id, DownloadSkipped)
	m.totalSkipped++
}

// FailDownload marks a download as failed
func (m *Model) FailDownload(id string, err error) {
	d := m.finish(id, DownloadFailed)
	d.Error = err
	m.totalFailed++
}

// AddLogMessage adds a log message
func (m *Model) AddLogMessage(level, message string) {
	color := dimWhite
	switch level {
	case "ERROR":
		color = alertRed
	case "WARN":
		color = duskAmber
	case "SUCCESS":
		color = auroraGreen
	case "INFO":
		color = moonSilver
	}

	m.logMessages = append(m.logMessages, LogMessage{
		Time:    m.now(),
		Level:   level,
		Message: message,
		Color:   color,
	})

	if len(m.logMessages) > m.maxLogMessages {
		m.logMessages = m.logMessages[len(m.logMessages)-m.maxLogMessages:]
	}
}

func (m *Model) byState(state DownloadState) []*DownloadItem {
	var items []*DownloadItem
	for _, id := range m.downloadOrder {
		if d := m.downloads[id]; d != nil && d.State == state {
			items = append(items, d)
		}
	}
	return items
}

// GetActiveDownloads returns downloads in progress, in queue order
func (m *Model) GetActiveDownloads() []*DownloadItem { return m.byState(DownloadActive) }

// GetPendingDownloads returns downloads not yet started
func (m *Model) GetPendingDownloads() []*DownloadItem { return m.byState(DownloadPending) }

// GetCompletedDownloads returns finished downloads
func (m *Model) GetCompletedDownloads() []*DownloadItem { return m.byState(DownloadCompleted) }

// GetFailedDownloads returns failed downloads
func (m *Model) GetFailedDownloads() []*DownloadItem { return m.byState(DownloadFailed) }

// Finished reports whether the batch has ended
func (m *Model) Finished() bool { return m.finished }

// GetDownloadStats returns the current aggregate speed, the session average
// and a rough ETA for the remaining jobs
func (m *Model) GetDownloadStats() (totalSpeed float64, avgSpeed float64, eta time.Duration) {
	for _, d := range m.downloads {
		if d.State == DownloadActive {
			totalSpeed += d.Speed
		}
	}

	elapsed := m.now().Sub(m.sessionStartTime)
	if m.totalDownloaded > 0 && elapsed > 0 {
		avgSpeed = float64(m.totalSize) / elapsed.Seconds()

		remaining := len(m.byState(DownloadPending)) + m.activeDownloads
		perJob := elapsed / time.Duration(m.totalDownloaded)
		workers := m.workers
		if workers < 1 {
			workers = 1
		}
		eta = perJob * time.Duration(remaining) / time.Duration(workers)
	}
	return
}
