// Package ui provides semantic icons and colors for terminal output.
package ui

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Icons used when emoji output is on; plain fallbacks otherwise.
const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconFix  = "⚙"

	// TreeLast connects a detail line to the entry above it.
	TreeLast = "└ "
)

var (
	PassStyle     = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "28", Dark: "76"})
	WarnStyle     = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "166", Dark: "214"})
	FailStyle     = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "160", Dark: "196"}).Bold(true)
	MutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "245", Dark: "242"})
	CategoryStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "25", Dark: "39"})
)

func init() {
	InitColor()
}

// InitColor picks the lipgloss color profile from the environment.
func InitColor() {
	if ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.NewOutput(os.Stdout).EnvColorProfile())
		return
	}
	lipgloss.SetColorProfile(termenv.Ascii)
}

func icon(glyph, plain string) string {
	if ShouldUseEmoji() {
		return glyph
	}
	return plain
}

func RenderPassIcon() string { return PassStyle.Render(icon(IconPass, "[ok]")) }
func RenderWarnIcon() string { return WarnStyle.Render(icon(IconWarn, "[warn]")) }
func RenderFailIcon() string { return FailStyle.Render(icon(IconFail, "[fail]")) }
func RenderFixIcon() string  { return WarnStyle.Render(icon(IconFix, "[fix]")) }

func RenderPass(s string) string  { return PassStyle.Render(s) }
func RenderWarn(s string) string  { return WarnStyle.Render(s) }
func RenderFail(s string) string  { return FailStyle.Render(s) }
func RenderMuted(s string) string { return MutedStyle.Render(s) }

// RenderCategory renders a section heading.
func RenderCategory(s string) string { return CategoryStyle.Render(s) }

// RenderSeparator is a muted horizontal rule.
func RenderSeparator(width int) string {
	return MutedStyle.Render(strings.Repeat("─", width))
}

// ShortenPath replaces the home directory with ~.
func ShortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if path == home {
		return "~"
	}
	if strings.HasPrefix(path, home+string(filepath.Separator)) {
		return "~" + path[len(home):]
	}
	return path
}

// RelativeTime formats d as a short age like "42s", "5m" or "3h".
func RelativeTime(d time.Duration) string {
	switch {
	case d < 0:
		return "now"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
