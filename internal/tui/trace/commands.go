package trace

import (
	tea "github.com/charmbracelet/bubbletea"
)

// waitForEventCmd blocks on the feed's channel and wraps the next event as a
// tea.Msg. It is re-issued after every TraceEventMsg is handled, so the
// program keeps draining the feed one event at a time.
func waitForEventCmd(feed *Feed) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-feed.Events()
		if !ok {
			return nil
		}
		return TraceEventMsg{Event: ev}
	}
}
