package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/mschirtzinger/promptvault/internal/version"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	addStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	removeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))

	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	boxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)
)

func renderAccent(s string) string { return accentStyle.Render(s) }
func renderPass(s string) string   { return passStyle.Render(s) }
func renderWarn(s string) string   { return warnStyle.Render(s) }
func renderFail(s string) string   { return failStyle.Render(s) }
func renderMuted(s string) string  { return mutedStyle.Render(s) }

// renderDiff colors a unified-style line diff.
func renderDiff(d *version.Diff) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", headerStyle.Render(fmt.Sprintf("v%d → v%d", d.From, d.To)))
	for _, l := range d.Lines {
		line := string(l.Op) + " " + l.Text
		switch l.Op {
		case version.OpAdd:
			line = addStyle.Render(line)
		case version.OpRemove:
			line = removeStyle.Render(line)
		default:
			line = mutedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "%s %s",
		addStyle.Render(fmt.Sprintf("+%d", d.Additions)),
		removeStyle.Render(fmt.Sprintf("-%d", d.Deletions)))
	return b.String()
}

// renderBox frames s, used for record bodies.
func renderBox(s string) string {
	return boxStyle.Render(strings.TrimRight(s, "\n"))
}

// ago formats t relative to now.
func ago(t time.Time) string {
	return humanize.Time(t)
}
