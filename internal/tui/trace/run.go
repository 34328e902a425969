package trace

import (
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/zerverhq/zerver/internal/ports"
)

// Run starts the trace timeline program, subscribing to publisher until the
// user quits. When stdout is not a terminal it falls back to RunPlain so the
// command stays useful piped to a file or run under CI, the way the
// teacher's apply command drops its interactive TUI under the same
// condition.
func Run(publisher ports.EventPublisher) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return RunPlain(publisher, os.Stdout)
	}

	feed := NewFeed(publisher, 256)
	defer feed.Close()

	p := tea.NewProgram(NewModel(feed), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RunPlain streams tracked events to w as one line per event, for
// non-interactive contexts where the bubbletea alt-screen program would be
// unusable (piped output, CI logs).
func RunPlain(publisher ports.EventPublisher, w io.Writer) error {
	feed := NewFeed(publisher, 256)
	defer feed.Close()
	return printEvents(feed.Events(), w)
}

func printEvents(events <-chan ports.DomainEvent, w io.Writer) error {
	for ev := range events {
		fmt.Fprintf(w, "%s %v\n", ev.EventType(), ev.Payload())
	}
	return nil
}
