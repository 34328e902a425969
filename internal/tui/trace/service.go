package trace

import (
	"context"

	"github.com/zerverhq/zerver/internal/ports"
)

// trackedEvents is every event name the timeline understands (spec §4.8).
// Anything else published on the bus is ignored by the viewer.
var trackedEvents = []string{
	ports.EventRequestStart,
	ports.EventRequestEnd,
	ports.EventStepStart,
	ports.EventStepEnd,
	ports.EventNeedRequested,
	ports.EventNeedJoin,
	ports.EventEffectStart,
	ports.EventEffectEnd,
	ports.EventJobStart,
	ports.EventJobEnd,
	ports.EventSlotWrite,
	ports.EventRetry,
	ports.EventComputeBudgetExceeded,
	ports.EventComputeBudgetYield,
}

// Feed subscribes to every tracked event on publisher and funnels them into
// a single channel the bubbletea program polls from (one subscription per
// event name, since ports.EventPublisher dispatches per-type).
type Feed struct {
	publisher ports.EventPublisher
	ch        chan ports.DomainEvent
	subs      []ports.Subscription
}

// NewFeed subscribes to publisher and starts forwarding events. bufSize
// bounds how many unconsumed events can queue; once the buffer is full,
// further events are dropped rather than blocking Publish (events are
// published synchronously, so a slow viewer would otherwise stall the
// producing request).
func NewFeed(publisher ports.EventPublisher, bufSize int) *Feed {
	f := &Feed{
		publisher: publisher,
		ch:        make(chan ports.DomainEvent, bufSize),
	}
	if publisher == nil {
		return f
	}
	for _, name := range trackedEvents {
		sub, err := publisher.Subscribe(name, f.forward)
		if err == nil {
			f.subs = append(f.subs, sub)
		}
	}
	return f
}

func (f *Feed) forward(_ context.Context, event ports.DomainEvent) error {
	select {
	case f.ch <- event:
	default:
		// Drop rather than block the publisher; the timeline is best-effort.
	}
	return nil
}

// Events returns the channel the program reads from.
func (f *Feed) Events() <-chan ports.DomainEvent { return f.ch }

// Close unsubscribes from every event type.
func (f *Feed) Close() {
	for _, sub := range f.subs {
		sub.Unsubscribe()
	}
}
