package trace

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/zerverhq/zerver/internal/ports"
)

// maxTraces bounds how many requests (finished or not) the timeline keeps, so a
// long-running process doesn't grow the model without bound.
const maxTraces = 200

// Span is one event recorded against a request, in arrival order.
type Span struct {
	Name   string
	Layer  string
	Fields map[string]any
	At     time.Time
}

// RequestTrace is the per-request timeline the viewer renders: a method and
// path, the final status once known, and every span recorded along the way.
type RequestTrace struct {
	RequestID string
	Method    string
	Path      string
	StartedAt time.Time
	Status    int
	Done      bool
	Spans     []Span
}

// Model is the trace timeline's bubbletea model.
type Model struct {
	feed *Feed

	order   []string // request IDs in first-seen order, oldest first
	traces  map[string]*RequestTrace
	cursor  int
	viewing string // request ID shown in ViewDetail, "" in ViewList

	viewMode ViewMode
	spinner  spinner.Model

	width  int
	height int
}

// NewModel builds a Model reading events from feed.
func NewModel(feed *Feed) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	return Model{
		feed:     feed,
		traces:   make(map[string]*RequestTrace),
		viewMode: ViewList,
		spinner:  s,
		width:    80,
		height:   24,
	}
}

// Init starts the spinner and the first wait on the event feed.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEventCmd(m.feed))
}

// ingest records one telemetry event into the model's per-request traces.
func (m *Model) ingest(ev ports.DomainEvent) {
	payload, ok := ev.Payload().(map[string]interface{})
	if !ok {
		return
	}
	requestID, _ := payload["request_id"].(string)
	if requestID == "" {
		return
	}

	trace, exists := m.traces[requestID]
	if !exists {
		trace = &RequestTrace{RequestID: requestID, StartedAt: time.Now()}
		m.traces[requestID] = trace
		m.order = append(m.order, requestID)
		m.evictOldest()
	}

	switch ev.EventType() {
	case "request_start":
		if method, ok := payload["method"].(string); ok {
			trace.Method = method
		}
		if path, ok := payload["path"].(string); ok {
			trace.Path = path
		}
	case "request_end":
		trace.Done = true
		if status, ok := payload["status"].(int); ok {
			trace.Status = status
		}
	}

	layer, _ := payload["layer"].(string)
	trace.Spans = append(trace.Spans, Span{
		Name:   ev.EventType(),
		Layer:  layer,
		Fields: payload,
		At:     time.Now(),
	})
}

func (m *Model) evictOldest() {
	for len(m.order) > maxTraces {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.traces, oldest)
		if m.viewing == oldest {
			m.viewing = ""
			m.viewMode = ViewList
		}
	}
}

// selectedID returns the request ID the cursor currently points at.
func (m *Model) selectedID() (string, bool) {
	if m.cursor < 0 || m.cursor >= len(m.order) {
		return "", false
	}
	// Render newest-first: the cursor indexes from the end of m.order.
	idx := len(m.order) - 1 - m.cursor
	return m.order[idx], true
}

func (m *Model) moveCursorUp() {
	if len(m.order) == 0 {
		return
	}
	m.cursor--
	if m.cursor < 0 {
		m.cursor = len(m.order) - 1
	}
}

func (m *Model) moveCursorDown() {
	if len(m.order) == 0 {
		return
	}
	m.cursor++
	if m.cursor >= len(m.order) {
		m.cursor = 0
	}
}

func (m *Model) summaryLine(t *RequestTrace) string {
	status := "..."
	if t.Done {
		status = fmt.Sprintf("%d", t.Status)
	}
	return fmt.Sprintf("%-6s %-24s %s (%d spans)", t.Method, t.Path, status, len(t.Spans))
}
