package wizard

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorInfo  = lipgloss.Color("#7AA2F7")
	colorWarn  = lipgloss.Color("#EF4444")
	colorMuted = lipgloss.Color("#6B7280")

	infoStyle  = lipgloss.NewStyle().Foreground(colorInfo).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(colorWarn).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(colorMuted)
)

func (w *Wizard) logf(format string, args ...any) {
	_, _ = fmt.Fprintln(w.out, infoStyle.Render("[*]"), fmt.Sprintf(format, args...))
}

func (w *Wizard) warnf(format string, args ...any) {
	_, _ = fmt.Fprintln(w.out, warnStyle.Render("[!]"), fmt.Sprintf(format, args...))
}

func (w *Wizard) notef(format string, args ...any) {
	_, _ = fmt.Fprintln(w.out, mutedStyle.Render(fmt.Sprintf(format, args...)))
}
