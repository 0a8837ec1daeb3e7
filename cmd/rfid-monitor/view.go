package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dotside-studios/rfid-reader-agent/buildinfo"
	"github.com/dotside-studios/rfid-reader-agent/protocol"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255")).
			Background(lipgloss.Color("0")).
			Bold(true)

	connectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	connectingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	disconnectedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245"))

	logStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	tableBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))
)

func statusStyle(status string) lipgloss.Style {
	switch status {
	case protocol.StatusConnected:
		return connectedStyle
	case protocol.StatusConnecting:
		return connectingStyle
	default:
		return disconnectedStyle
	}
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(fmt.Sprintf(" %s monitor ", buildinfo.DisplayName)))
	b.WriteString(" ")
	b.WriteString(m.address)
	if !m.bridgeUp {
		b.WriteString(" (closed)")
	}
	b.WriteString("\n\n")

	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(tableBorder.Render(m.table.View()))
	b.WriteString("\n")

	for _, line := range m.logTail() {
		b.WriteString(logStyle.Render(line))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(keys))
	return b.String()
}

func (m Model) statusLine() string {
	parts := []string{"Reader: " + statusStyle(m.status).Render(m.status)}
	if m.readerName != "" && m.status == protocol.StatusConnected {
		parts = append(parts, m.readerName)
	}
	if m.battery != nil {
		parts = append(parts, fmt.Sprintf("battery %d%%", *m.battery))
	}
	if m.inventorying {
		parts = append(parts, "inventory running")
	} else {
		parts = append(parts, "inventory idle")
	}
	if m.trigger != "" {
		parts = append(parts, "trigger "+m.trigger)
	}
	parts = append(parts, fmt.Sprintf("%d tags", len(m.order)))
	return strings.Join(parts, " | ")
}

// logTail returns as many recent log lines as fit below the table.
func (m Model) logTail() []string {
	n := 6
	if m.height > 0 {
		n = m.height - m.table.Height() - 10
		if n < 3 {
			n = 3
		}
	}
	if len(m.logs) <= n {
		return m.logs
	}
	return m.logs[len(m.logs)-n:]
}
