package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"moonfetch/pkg/ui"
)

// DownloadStartMsg is sent when a worker picks up a job
type DownloadStartMsg struct {
	ID string
}

// DownloadProgressMsg is sent after every written chunk
type DownloadProgressMsg struct {
	ID         string
	Downloaded int64
	Total      int64
}

// DownloadCompleteMsg is sent when a download completes
type DownloadCompleteMsg struct {
	ID    string
	Bytes int64
}

// DownloadSkippedMsg is sent for jobs already on disk
type DownloadSkippedMsg struct {
	ID string
}

// DownloadErrorMsg is sent when a download fails
type DownloadErrorMsg struct {
	ID    string
	Error error
}

// BatchDoneMsg is sent once every job has a result
type BatchDoneMsg struct{}

// LogMsg is sent to add a log message
type LogMsg struct {
	Level   string
	Message string
}

// TickMsg refreshes speeds and telemetry
type TickMsg time.Time

// Update handles all messages and updates the model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case TickMsg:
		if m.statsSource != nil {
			m.telemetry = m.statsSource()
		}
		return m, tickCmd()

	case DownloadStartMsg:
		m.StartDownload(msg.ID)
		return m, nil

	case DownloadProgressMsg:
		m.UpdateDownloadProgress(msg.ID, msg.Downloaded, msg.Total)
		return m, nil

	case DownloadCompleteMsg:
		m.CompleteDownload(msg.ID, msg.Bytes)
		m.AddLogMessage("SUCCESS", "Completed: "+msg.ID+" ("+ui.FormatBytes(msg.Bytes)+")")
		return m, nil

	case DownloadSkippedMsg:
		m.SkipDownload(msg.ID)
		m.AddLogMessage("INFO", "Already downloaded: "+msg.ID)
		return m, nil

	case DownloadErrorMsg:
		m.FailDownload(msg.ID, msg.Error)
		m.AddLogMessage("ERROR", "Failed: "+msg.ID+" - "+msg.Error.Error())
		return m, nil

	case BatchDoneMsg:
		m.finished = true
		if m.statsSource != nil {
			m.telemetry = m.statsSource()
		}
		m.AddLogMessage("INFO", "Batch finished, press q to exit")
		return m, nil

	case LogMsg:
		m.AddLogMessage(msg.Level, msg.Message)
		return m, nil
	}

	return m, nil
}

func (m *Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "Q", "ctrl+c":
		return m, tea.Quit

	case "?":
		m.showHelp = !m.showHelp
		return m, nil

	case "ctrl+l":
		m.logMessages = nil
		return m, nil
	}

	return m, nil
}

func tickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
