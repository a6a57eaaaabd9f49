package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"moonfetch/pkg/stats"
	"moonfetch/pkg/ui"
)

// TUI is the batch download dashboard. Its event methods are safe to call
// from worker goroutines.
type TUI struct {
	program *tea.Program
	model   *Model
}

var _ ui.Reporter = (*TUI)(nil)

// NewTUI creates a dashboard for the given job IDs. source supplies the
// telemetry panel and may be nil.
func NewTUI(ids []string, workers int, source func() stats.Snapshot, opts ...tea.ProgramOption) *TUI {
	model := NewModel(ids, workers, source)
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	return &TUI{
		program: tea.NewProgram(model, opts...),
		model:   model,
	}
}

// Start runs the event loop until the user quits or Stop is called
func (t *TUI) Start() error {
	_, err := t.program.Run()
	return err
}

// Stop stops the TUI
func (t *TUI) Stop() {
	t.program.Quit()
}

// Send delivers a message to the event loop
func (t *TUI) Send(msg tea.Msg) {
	if t.program != nil {
		t.program.Send(msg)
	}
}

// Started implements ui.Reporter
func (t *TUI) Started(id string) {
	t.Send(DownloadStartMsg{ID: id})
}

// Transferred implements ui.Reporter
func (t *TUI) Transferred(id string, written, total int64) {
	t.Send(DownloadProgressMsg{ID: id, Downloaded: written, Total: total})
}

// Completed implements ui.Reporter
func (t *TUI) Completed(id string, bytes int64) {
	t.Send(DownloadCompleteMsg{ID: id, Bytes: bytes})
}

// Skipped implements ui.Reporter
func (t *TUI) Skipped(id string) {
	t.Send(DownloadSkippedMsg{ID: id})
}

// Failed implements ui.Reporter
func (t *TUI) Failed(id string, err error) {
	t.Send(DownloadErrorMsg{ID: id, Error: err})
}

// Done marks the batch as finished; the dashboard stays up until q
func (t *TUI) Done() {
	t.Send(BatchDoneMsg{})
}

// Log sends a log message to the TUI
func (t *TUI) Log(level, format string, args ...interface{}) {
	t.Send(LogMsg{Level: level, Message: fmt.Sprintf(format, args...)})
}

// LogInfo logs an info message
func (t *TUI) LogInfo(format string, args ...interface{}) {
	t.Log("INFO", format, args...)
}

// LogWarning logs a warning message
func (t *TUI) LogWarning(format string, args ...interface{}) {
	t.Log("WARN", format, args...)
}
