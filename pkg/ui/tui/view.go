package tui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"moonfetch/pkg/ui"
)

const logo = `☾ m o o n f e t c h`

// View renders the dashboard
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	var sections []string
	sections = append(sections, logoStyle.Width(m.width).Render(logo))

	half := (m.width - 4) / 2
	left := lipgloss.JoinVertical(lipgloss.Left,
		m.renderSessionPanel(half),
		m.renderActivePanel(half),
		m.renderQueuePanel(half),
	)
	right := lipgloss.JoinVertical(lipgloss.Left,
		m.renderTelemetryPanel(half),
		m.renderLogsPanel(half),
	)
	sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right))

	if m.showHelp {
		sections = append(sections, m.renderHelp())
	} else {
		sections = append(sections, helpStyle.Render("q quit • ? help"))
	}

	return baseStyle.Width(m.width).Height(m.height).Render(
		lipgloss.JoinVertical(lipgloss.Left, sections...),
	)
}

func stat(label, value string) string {
	return statsLabelStyle.Render(label) + " " + value
}

func (m *Model) renderSessionPanel(width int) string {
	title := titleStyle.Render(" SESSION ")
	elapsed := m.now().Sub(m.sessionStartTime)
	totalSpeed, avgSpeed, eta := m.GetDownloadStats()

	status := m.spinner.View() + " running"
	if m.finished {
		status = successStyle.Render("✓ finished")
	}

	lines := []string{
		status,
		stat("Elapsed:", statsValueStyle.Render(ui.FormatDuration(elapsed))),
		stat("Files:", statsValueStyle.Render(fmt.Sprintf("%d/%d", m.totalDownloaded+m.totalSkipped, len(m.downloadOrder)))),
		stat("Size:", statsValueStyle.Render(ui.FormatBytes(m.totalSize))),
		stat("Speed:", speedStyle.Render(ui.FormatSpeed(totalSpeed))),
		stat("Average:", speedStyle.Render(ui.FormatSpeed(avgSpeed))),
		stat("ETA:", statsValueStyle.Render(ui.FormatDuration(eta))),
	}
	if m.totalFailed > 0 {
		lines = append(lines, errorStyle.Render(fmt.Sprintf("✗ %d failed", m.totalFailed)))
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n")),
	)
}

func (m *Model) renderActivePanel(width int) string {
	title := titleStyle.Render(" ACTIVE ")
	active := m.GetActiveDownloads()
	if len(active) == 0 {
		return panelStyle.Width(width).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, logMessageStyle.Render("No active downloads")),
		)
	}

	var items []string
	for _, d := range active {
		items = append(items, m.renderDownloadItem(d, width-4))
	}
	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(items, "\n")),
	)
}

func (m *Model) renderDownloadItem(item *DownloadItem, width int) string {
	bar, ok := m.progressBars[item.ID]
	if !ok {
		return ""
	}

	size := ui.FormatBytes(item.Downloaded)
	if item.Size >= 0 {
		size += "/" + ui.FormatBytes(item.Size)
	}
	info := fmt.Sprintf("%s %s @ %s",
		queueItemActiveStyle.Render(filepath.Base(item.ID)),
		logMessageStyle.Render(size),
		speedStyle.Render(ui.FormatSpeed(item.Speed)),
	)

	// unknown totals show an empty bar
	var fraction float64
	if item.Size > 0 {
		fraction = float64(item.Downloaded) / float64(item.Size)
		if fraction > 1 {
			fraction = 1
		}
	}
	if width > 20 {
		bar.Width = width - 8
	}
	return lipgloss.JoinVertical(lipgloss.Left, info, bar.ViewAs(fraction))
}

func (m *Model) renderQueuePanel(width int) string {
	title := titleStyle.Render(" QUEUE ")
	pending := m.GetPendingDownloads()
	completed := m.GetCompletedDownloads()
	failed := m.GetFailedDownloads()

	var items []string
	if n := len(pending); n > 0 {
		items = append(items, warningStyle.Render(fmt.Sprintf("… %d pending", n)))
		for i := 0; i < 3 && i < n; i++ {
			items = append(items, queueItemStyle.Render("• "+filepath.Base(pending[i].ID)))
		}
		if n > 3 {
			items = append(items, logMessageStyle.Render(fmt.Sprintf("  and %d more", n-3)))
		}
	}
	if n := len(completed); n > 0 {
		items = append(items, successStyle.Render(fmt.Sprintf("✓ %d completed", n)))
		for _, d := range completed[max(0, n-3):] {
			items = append(items, queueItemDoneStyle.Render("✓ "+filepath.Base(d.ID)))
		}
	}
	for _, d := range failed {
		items = append(items, errorStyle.Render("✗ "+filepath.Base(d.ID)))
	}
	if len(items) == 0 {
		items = append(items, logMessageStyle.Render("Queue empty"))
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(items, "\n")),
	)
}

func (m *Model) renderTelemetryPanel(width int) string {
	title := titleStyle.Render(" TELEMETRY ")
	t := m.telemetry

	ratio := 100.0
	if t.RequestsAttempted > 0 {
		ratio = float64(t.RequestsSucceeded) / float64(t.RequestsAttempted) * 100
	}
	lines := []string{
		stat("Requests:", RatioStyle(ratio).Render(fmt.Sprintf("%d/%d ok (%.0f%%)", t.RequestsSucceeded, t.RequestsAttempted, ratio))),
		stat("Challenges:", statsValueStyle.Render(fmt.Sprintf("%d solved of %d", t.ChallengesSolved, t.ChallengesEncountered))),
		stat("Cache hits:", statsValueStyle.Render(fmt.Sprint(t.CacheHits))),
		stat("Proxy failures:", statsValueStyle.Render(fmt.Sprint(t.ProxyFailures))),
		stat("Rate waits:", statsValueStyle.Render(fmt.Sprint(t.RateLimitWaits))),
		stat("Transferred:", speedStyle.Render(ui.FormatBytes(int64(t.BytesDownloaded)))),
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n")),
	)
}

func (m *Model) renderLogsPanel(width int) string {
	title := titleStyle.Render(" LOG ")

	start := max(0, len(m.logMessages)-10)
	maxMsgLen := max(10, width-25)

	var logs []string
	for _, entry := range m.logMessages[start:] {
		msg := entry.Message
		if len(msg) > maxMsgLen {
			msg = msg[:maxMsgLen-3] + "..."
		}
		logs = append(logs, fmt.Sprintf("%s %s %s",
			logTimestampStyle.Render(entry.Time.Format("15:04:05")),
			lipgloss.NewStyle().Foreground(entry.Color).Bold(true).Render(fmt.Sprintf("[%-7s]", entry.Level)),
			logMessageStyle.Render(msg),
		))
	}

	content := strings.Join(logs, "\n")
	if content == "" {
		content = logMessageStyle.Render("No log entries")
	}

	return panelStyle.Width(width).Height(max(5, m.height-24)).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, content),
	)
}

func (m *Model) renderHelp() string {
	help := `
  Keys:
    q        quit (cancels running downloads)
    ?        toggle this help
    ctrl+l   clear the log

  Status:
    ` + successStyle.Render("green") + `    completed or healthy
    ` + warningStyle.Render("amber") + `    pending or degraded
    ` + errorStyle.Render("red") + `      failed
`
	return panelStyle.Width(m.width).Render(help)
}
