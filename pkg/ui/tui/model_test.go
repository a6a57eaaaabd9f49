package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"moonfetch/pkg/stats"
)

func newTestModel(ids ...string) (*Model, *time.Time) {
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	model := NewModel(ids, 2, nil)
	model.now = func() time.Time { return clock }
	model.sessionStartTime = clock
	return model, &clock
}

func TestModel(t *testing.T) {
	model, clock := newTestModel("out/a.bin", "out/b.bin", "out/c.bin")

	if len(model.GetPendingDownloads()) != 3 {
		t.Fatalf("Expected 3 pending downloads, got %d", len(model.GetPendingDownloads()))
	}

	model.StartDownload("out/a.bin")
	if model.activeDownloads != 1 {
		t.Errorf("Expected 1 active download, got %d", model.activeDownloads)
	}

	*clock = clock.Add(2 * time.Second)
	model.UpdateDownloadProgress("out/a.bin", 2048, 4096)
	download := model.downloads["out/a.bin"]
	if download.Downloaded != 2048 || download.Size != 4096 {
		t.Errorf("Unexpected progress: %+v", download)
	}
	if download.Speed != 1024 {
		t.Errorf("Expected speed 1024 B/s, got %v", download.Speed)
	}

	model.CompleteDownload("out/a.bin", 4096)
	if model.activeDownloads != 0 {
		t.Errorf("Expected 0 active downloads, got %d", model.activeDownloads)
	}
	if model.totalDownloaded != 1 || model.totalSize != 4096 {
		t.Errorf("Unexpected totals: %d files, %d bytes", model.totalDownloaded, model.totalSize)
	}

	// progress before an explicit start still activates the job
	model.UpdateDownloadProgress("out/b.bin", 10, -1)
	if len(model.GetActiveDownloads()) != 1 {
		t.Errorf("Expected 1 active download, got %d", len(model.GetActiveDownloads()))
	}
	model.FailDownload("out/b.bin", errors.New("refused"))
	model.SkipDownload("out/c.bin")

	if model.activeDownloads != 0 {
		t.Errorf("Expected 0 active downloads, got %d", model.activeDownloads)
	}
	if len(model.GetFailedDownloads()) != 1 || model.totalSkipped != 1 {
		t.Errorf("Unexpected end state: failed=%d skipped=%d", len(model.GetFailedDownloads()), model.totalSkipped)
	}
}

func TestDownloadStats(t *testing.T) {
	model, clock := newTestModel("a", "b", "c", "d")

	model.StartDownload("a")
	*clock = clock.Add(10 * time.Second)
	model.CompleteDownload("a", 10*1024)

	_, avg, eta := model.GetDownloadStats()
	if avg != 1024 {
		t.Errorf("Expected average 1024 B/s, got %v", avg)
	}
	// 3 remaining jobs at 10s each across 2 workers
	if eta != 15*time.Second {
		t.Errorf("Expected ETA 15s, got %v", eta)
	}
}

func TestLogMessagesAreBounded(t *testing.T) {
	model, _ := newTestModel()
	for i := 0; i < model.maxLogMessages+10; i++ {
		model.AddLogMessage("INFO", "line")
	}
	if len(model.logMessages) != model.maxLogMessages {
		t.Errorf("Expected %d log messages, got %d", model.maxLogMessages, len(model.logMessages))
	}
	if model.logMessages[0].Color != moonSilver {
		t.Errorf("Expected INFO color, got %v", model.logMessages[0].Color)
	}
}

func TestUpdateHandlesMessages(t *testing.T) {
	model, _ := newTestModel("a.bin", "b.bin")
	calls := 0
	model.statsSource = func() stats.Snapshot {
		calls++
		return stats.Snapshot{RequestsAttempted: 4, RequestsSucceeded: 3, ChallengesEncountered: 1}
	}

	model.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	model.Update(DownloadStartMsg{ID: "a.bin"})
	model.Update(DownloadProgressMsg{ID: "a.bin", Downloaded: 5, Total: 10})
	model.Update(DownloadCompleteMsg{ID: "a.bin", Bytes: 10})
	model.Update(DownloadErrorMsg{ID: "b.bin", Error: errors.New("timeout")})
	_, cmd := model.Update(TickMsg(time.Now()))
	if cmd == nil {
		t.Error("Expected tick to reschedule itself")
	}
	model.Update(BatchDoneMsg{})

	if !model.Finished() {
		t.Error("Expected batch to be finished")
	}
	if calls != 2 || model.telemetry.RequestsAttempted != 4 {
		t.Errorf("Expected telemetry to be polled twice, got %d calls: %+v", calls, model.telemetry)
	}
	if model.width != 120 || model.height != 40 {
		t.Errorf("Unexpected size %dx%d", model.width, model.height)
	}

	levels := map[string]int{}
	for _, m := range model.logMessages {
		levels[m.Level]++
	}
	if levels["SUCCESS"] != 1 || levels["ERROR"] != 1 || levels["INFO"] != 1 {
		t.Errorf("Unexpected log levels: %v", levels)
	}

	_, cmd = model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'?'}})
	if cmd != nil || !model.showHelp {
		t.Error("Expected ? to toggle help")
	}
	model.Update(tea.KeyMsg{Type: tea.KeyCtrlL})
	if len(model.logMessages) != 0 {
		t.Error("Expected ctrl+l to clear the log")
	}
	_, cmd = model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Error("Expected q to quit")
	}
}

func TestView(t *testing.T) {
	model, _ := newTestModel("out/a.bin", "out/b.bin")
	if model.View() != "Initializing..." {
		t.Error("Expected placeholder before the first resize")
	}

	model.Update(tea.WindowSizeMsg{Width: 140, Height: 50})
	model.StartDownload("out/a.bin")
	model.UpdateDownloadProgress("out/a.bin", 100, 200)

	view := model.View()
	for _, want := range []string{"SESSION", "ACTIVE", "QUEUE", "TELEMETRY", "a.bin", "1 pending"} {
		if !strings.Contains(view, want) {
			t.Errorf("View missing %q", want)
		}
	}
}

func TestRatioStyle(t *testing.T) {
	if RatioStyle(95).GetForeground() != auroraGreen {
		t.Error("Expected green for a healthy ratio")
	}
	if RatioStyle(60).GetForeground() != duskAmber {
		t.Error("Expected amber for a degraded ratio")
	}
	if RatioStyle(10).GetForeground() != alertRed {
		t.Error("Expected red for a failing ratio")
	}
}
