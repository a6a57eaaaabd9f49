package tui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	// Night sky palette
	moonSilver  = lipgloss.Color("#C9D1E0")
	tideBlue    = lipgloss.Color("#3D6FD9")
	nebula      = lipgloss.Color("#7B61FF")
	auroraGreen = lipgloss.Color("#4FD1A5")
	duskAmber   = lipgloss.Color("#F2A65A")
	alertRed    = lipgloss.Color("#E5484D")
	nightBg     = lipgloss.Color("#0B1020")
	nightBg2    = lipgloss.Color("#151B30")
	dimWhite    = lipgloss.Color("#8A93A6")

	baseStyle = lipgloss.NewStyle().
			Background(nightBg).
			Foreground(dimWhite)

	logoStyle = lipgloss.NewStyle().
			Foreground(moonSilver).
			Bold(true).
			Padding(1, 0).
			Align(lipgloss.Center)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(nebula).
			Background(nightBg2).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Background(nebula).
			Foreground(nightBg).
			Bold(true).
			Padding(0, 1)

	statsLabelStyle = lipgloss.NewStyle().
			Foreground(moonSilver).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(duskAmber)

	speedStyle = lipgloss.NewStyle().
			Foreground(tideBlue)

	successStyle = lipgloss.NewStyle().
			Foreground(auroraGreen).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(alertRed).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(duskAmber).
			Bold(true)

	queueItemStyle = lipgloss.NewStyle().
			PaddingLeft(2)

	queueItemActiveStyle = lipgloss.NewStyle().
				Foreground(auroraGreen).
				Bold(true)

	queueItemDoneStyle = lipgloss.NewStyle().
				Foreground(dimWhite).
				Faint(true).
				PaddingLeft(2)

	logTimestampStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#5A6275"))

	logMessageStyle = lipgloss.NewStyle().
			Foreground(dimWhite)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#5A6275")).
			Padding(1, 0, 0, 2)
)

// RatioStyle colors a success ratio in percent: green when healthy, amber
// when degraded, red below half
func RatioStyle(percent float64) lipgloss.Style {
	switch {
	case percent >= 90:
		return successStyle
	case percent >= 50:
		return warningStyle
	default:
		return errorStyle
	}
}
