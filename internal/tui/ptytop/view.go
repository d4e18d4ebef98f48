package ptytop

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/honkhq/honk/internal/ui"
)

func (m *Model) renderView() string {
	if m.width > 0 && (m.width < 40 || m.height < 10) {
		return "Terminal too small. Please resize."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("PTY top"))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n\n")
	}

	if m.data == nil {
		if m.err == nil {
			b.WriteString(statusStyle.Render("Loading..."))
		} else {
			b.WriteString(statusStyle.Render("No cache yet. Start the daemon with 'honk pty daemon start'."))
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render(m.help.View(m.keys)))
		return b.String()
	}

	b.WriteString(m.renderCards())
	b.WriteString("\n")
	b.WriteString(m.table.View())
	b.WriteString("\n")
	b.WriteString(statusStyle.Render(m.renderStatus()))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.help.View(m.keys)))
	return b.String()
}

func (m *Model) renderCards() string {
	d := m.data
	cards := []string{
		card("PTYs", strconv.Itoa(d.TotalPTYs), cardValueStyle),
		card("Processes", strconv.Itoa(d.ProcessCount), cardValueStyle),
		card("Heavy users", strconv.Itoa(d.HeavyUsers), heavyStyle),
		card("Leak candidates", strconv.Itoa(d.LeakCandidates), leakStyle),
	}
	if len(d.Groups) > 0 {
		top := d.Groups[0]
		cards = append(cards, card("Top app", fmt.Sprintf("%s (%d)", top.Name, top.PTYs), normalStyle))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}

func card(label, value string, valueStyle lipgloss.Style) string {
	return cardStyle.Render(cardLabelStyle.Render(label) + "\n" + valueStyle.Render(value))
}

func (m *Model) renderStatus() string {
	d := m.data
	shown := min(topN, len(d.Rows))
	status := fmt.Sprintf("scan #%d, showing %d of %d holders", d.ScanNumber, shown, len(d.Rows))
	if !d.TakenAt.IsZero() {
		status += ", cache " + ui.RelativeTime(m.now().Sub(d.TakenAt)) + " old"
	}
	return status
}
