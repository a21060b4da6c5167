package events

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Handler processes one event. A non-nil error is logged and dropped; it
// never propagates to the publisher or to other handlers.
type Handler func(Event) error

// Publisher is a typed fan-out event bus. It is an explicit dependency of
// the engine, constructed and closed by the owner; there is no process-wide
// instance.
type Publisher struct {
	mu     sync.RWMutex
	subs   map[Type]map[int]*Subscription
	nextID int
	logger *zap.Logger
	closed bool

	// bufferSize is the per-subscription channel depth.
	bufferSize int

	dropped atomic.Int64
}

// Subscription is one handler's registration. Unsubscribe stops delivery
// and releases the delivery goroutine.
type Subscription struct {
	id      int
	types   []Type
	ch      chan Event
	done    chan struct{}
	once    sync.Once
	pub     *Publisher
	handler Handler
}

// NewPublisher creates a publisher. A nil logger falls back to zap.NewNop().
func NewPublisher(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		subs:       make(map[Type]map[int]*Subscription),
		logger:     logger,
		bufferSize: 64,
	}
}

// Subscribe registers a handler for an event type (or TypeAll for every
// type). Delivery is ordered per subscription and runs on a dedicated
// goroutine so handlers never block the publisher's callers directly.
func (p *Publisher) Subscribe(t Type, handler Handler) *Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	sub := &Subscription{
		id:      p.nextID,
		types:   []Type{t},
		ch:      make(chan Event, p.bufferSize),
		done:    make(chan struct{}),
		pub:     p,
		handler: handler,
	}
	if p.subs[t] == nil {
		p.subs[t] = make(map[int]*Subscription)
	}
	p.subs[t][sub.id] = sub

	go sub.deliver(p.logger)
	return sub
}

// deliver invokes the handler for each event in order, isolating errors
// and panics per handler.
func (s *Subscription) deliver(logger *zap.Logger) {
	for ev := range s.ch {
		s.invoke(ev, logger)
	}
	close(s.done)
}

func (s *Subscription) invoke(ev Event, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event handler panicked",
				zap.String("event_type", string(ev.Type)),
				zap.String("pipeline_id", ev.PipelineID),
				zap.Any("panic", r))
		}
	}()
	if err := s.handler(ev); err != nil {
		logger.Error("event handler failed",
			zap.String("event_type", string(ev.Type)),
			zap.String("pipeline_id", ev.PipelineID),
			zap.Error(err))
	}
}

// Unsubscribe removes the subscription and waits for in-flight delivery to
// drain. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.pub.mu.Lock()
		for _, t := range s.types {
			delete(s.pub.subs[t], s.id)
		}
		s.pub.mu.Unlock()
		close(s.ch)
		<-s.done
	})
}

// Publish fans the event out to every subscription registered for its type
// and to TypeAll subscribers. Each subscription receives events in publish
// order; handler failures are isolated per subscription. A subscription
// whose buffer is full loses the event rather than stalling the publisher
// and every other subscriber behind it.
func (p *Publisher) Publish(ev Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	for _, sub := range p.subs[ev.Type] {
		p.send(sub, ev)
	}
	for _, sub := range p.subs[TypeAll] {
		p.send(sub, ev)
	}
}

func (p *Publisher) send(sub *Subscription, ev Event) {
	select {
	case sub.ch <- ev:
	default:
		p.dropped.Add(1)
		p.logger.Warn("event subscriber buffer full, event dropped",
			zap.String("event_type", string(ev.Type)),
			zap.String("pipeline_id", ev.PipelineID))
	}
}

// Dropped returns how many events were lost to full subscriber buffers.
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

// Close unsubscribes everything and rejects further publishes. The owner
// that constructed the publisher calls this on shutdown.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	var all []*Subscription
	for _, bySub := range p.subs {
		for _, sub := range bySub {
			all = append(all, sub)
		}
	}
	p.subs = make(map[Type]map[int]*Subscription)
	p.mu.Unlock()

	for _, sub := range all {
		sub.once.Do(func() {
			close(sub.ch)
			<-sub.done
		})
	}
}

// SubscriberCount returns the number of live subscriptions for a type.
func (p *Publisher) SubscriberCount(t Type) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs[t])
}
