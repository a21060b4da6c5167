// Package eventsink forwards pipeline lifecycle events to external
// systems: NATS for downstream consumers, Sentry for error reporting and
// a structured-log sink for local visibility. Each sink attaches to the
// engine's event publisher; a failing sink never affects execution.
package eventsink

import (
	"github.com/flowforge-io/flowforge/pkg/events"
)

// Sink consumes lifecycle events. Attach subscribes it to a publisher
// and returns the subscription for teardown.
type Sink interface {
	Handle(ev events.Event) error
}

// Attach subscribes a sink to all event types on the publisher.
func Attach(p *events.Publisher, s Sink) *events.Subscription {
	return p.Subscribe(events.TypeAll, s.Handle)
}
