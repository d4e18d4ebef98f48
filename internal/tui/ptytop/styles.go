package ptytop

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	colorTitle   = lipgloss.Color("12")
	colorLeak    = lipgloss.Color("196")
	colorHeavy   = lipgloss.Color("214")
	colorNormal  = lipgloss.Color("76")
	colorMuted   = lipgloss.Color("242")
	colorBorder  = lipgloss.Color("238")
	colorCardVal = lipgloss.Color("15")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorTitle).
			MarginBottom(1)

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 2).
			MarginRight(1)

	cardLabelStyle = lipgloss.NewStyle().Foreground(colorMuted)
	cardValueStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCardVal)

	leakStyle   = lipgloss.NewStyle().Foreground(colorLeak).Bold(true)
	heavyStyle  = lipgloss.NewStyle().Foreground(colorHeavy)
	normalStyle = lipgloss.NewStyle().Foreground(colorNormal)

	statusStyle = lipgloss.NewStyle().Foreground(colorMuted)
	errorStyle  = lipgloss.NewStyle().Foreground(colorLeak)
	helpStyle   = lipgloss.NewStyle().Foreground(colorMuted).MarginTop(1)
)

func tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(colorBorder).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(true)
	return s
}
