package trace

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// Update handles incoming messages and advances the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case TraceEventMsg:
		if msg.Event == nil {
			return m, nil
		}
		m.ingest(msg.Event)
		return m, waitForEventCmd(m.feed)

	case RequestSelectedMsg:
		m.viewing = msg.RequestID
		m.viewMode = ViewDetail
		return m, nil

	case BackToListMsg:
		m.viewing = ""
		m.viewMode = ViewList
		return m, nil

	case ToggleHelpMsg:
		if m.viewMode == ViewHelp {
			m.viewMode = ViewList
		} else {
			m.viewMode = ViewHelp
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.viewMode {
	case ViewHelp:
		return m.Update(ToggleHelpMsg{})

	case ViewDetail:
		switch msg.String() {
		case "esc", "q", "backspace":
			return m.Update(BackToListMsg{})
		}
		return m, nil
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "up", "k":
		m.moveCursorUp()
		return m, nil
	case "down", "j":
		m.moveCursorDown()
		return m, nil
	case "enter":
		if id, ok := m.selectedID(); ok {
			return m.Update(RequestSelectedMsg{RequestID: id})
		}
		return m, nil
	case "?":
		return m.Update(ToggleHelpMsg{})
	}
	return m, nil
}
