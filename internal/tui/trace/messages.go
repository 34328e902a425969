package trace

import "github.com/zerverhq/zerver/internal/ports"

// ViewMode determines which screen to render.
type ViewMode int

const (
	ViewList ViewMode = iota
	ViewDetail
	ViewHelp
)

// TraceEventMsg wraps one telemetry event arriving off the feed channel.
type TraceEventMsg struct {
	Event ports.DomainEvent
}

// RequestSelectedMsg indicates a request was selected from the list.
type RequestSelectedMsg struct {
	RequestID string
}

// BackToListMsg requests return to the list view.
type BackToListMsg struct{}

// ToggleHelpMsg requests the help overlay be toggled.
type ToggleHelpMsg struct{}
