package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/sloppy/orangesage/internal/db"
	"github.com/sloppy/orangesage/internal/finding"
	"github.com/sloppy/orangesage/internal/risk"
)

var (
	accent = lipgloss.Color("#E8761C")
	muted  = lipgloss.Color("#6B7280")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(accent)
	labelStyle = lipgloss.NewStyle().Foreground(muted)

	severityColors = map[finding.Severity]lipgloss.Color{
		finding.Critical: lipgloss.Color("#DC2626"),
		finding.High:     lipgloss.Color("#EA580C"),
		finding.Medium:   lipgloss.Color("#CA8A04"),
		finding.Low:      lipgloss.Color("#16A34A"),
		finding.Info:     lipgloss.Color("#2563EB"),
	}

	riskColors = map[risk.Level]lipgloss.Color{
		risk.Critical: severityColors[finding.Critical],
		risk.High:     severityColors[finding.High],
		risk.Medium:   severityColors[finding.Medium],
		risk.Low:      severityColors[finding.Low],
	}

	statusColors = map[db.ScanStatus]lipgloss.Color{
		db.ScanPending:   muted,
		db.ScanRunning:   lipgloss.Color("#CA8A04"),
		db.ScanCompleted: lipgloss.Color("#16A34A"),
		db.ScanFailed:    lipgloss.Color("#DC2626"),
		db.ScanCancelled: muted,
	}
)

func styleSeverity(s finding.Severity) string {
	return lipgloss.NewStyle().Foreground(severityColors[s]).Render(string(s))
}

func styleRisk(level risk.Level) string {
	return lipgloss.NewStyle().Bold(true).Foreground(riskColors[level]).Render(string(level))
}

func styleStatus(s db.ScanStatus) string {
	return lipgloss.NewStyle().Foreground(statusColors[s]).Render(string(s))
}
