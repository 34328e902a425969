package trace

import (
	"fmt"
	"strings"
)

// View renders the model (bubbletea tea.Model interface).
func (m Model) View() string {
	switch m.viewMode {
	case ViewHelp:
		return m.renderHelp()
	case ViewDetail:
		return m.renderDetail()
	default:
		return m.renderList()
	}
}

func (m Model) renderList() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s requests live", m.spinner.View())))
	b.WriteString("\n")

	if len(m.order) == 0 {
		b.WriteString(itemStyle.Render("waiting for traffic..."))
		b.WriteString("\n")
	}

	for i := len(m.order) - 1; i >= 0; i-- {
		idx := len(m.order) - 1 - i
		t := m.traces[m.order[i]]
		line := m.summaryLine(t)
		if idx == m.cursor {
			b.WriteString(selectedItemStyle.Render(line))
		} else {
			b.WriteString(itemStyle.Render(line))
		}
		b.WriteString("\n")
	}

	b.WriteString(footerStyle.Render("↑/↓ select · enter detail · ? help · q quit"))
	return b.String()
}

func (m Model) renderDetail() string {
	t, ok := m.traces[m.viewing]
	if !ok {
		return m.renderList()
	}

	var b strings.Builder
	header := fmt.Sprintf("%s %s", t.Method, t.Path)
	if t.Done {
		header = statusStyle(t.Status).Render(fmt.Sprintf("%s -> %d", header, t.Status))
	}
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n")

	for _, span := range t.Spans {
		style := spanStyleFor(span.Name, span.Fields)
		line := fmt.Sprintf("%s  %-18s", span.At.Format("15:04:05.000"), span.Name)
		if name, ok := span.Fields["name"].(string); ok && name != "" {
			line += " " + name
		}
		b.WriteString(style.Render(line))
		b.WriteString("\n")
	}

	b.WriteString(footerStyle.Render("esc back · q quit"))
	return b.String()
}

func (m Model) renderHelp() string {
	help := strings.Join([]string{
		"up/down      move selection",
		"enter        open request detail",
		"esc          back to list",
		"?            toggle this help",
		"q / ctrl+c   quit",
	}, "\n")
	return helpBoxStyle.Render(help)
}
