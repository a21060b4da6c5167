// Package databus is a retained-value pub/sub bus for device telemetry.
// Each topic keeps its most recent value so late subscribers and pull-style
// readers see current state. Topic count is bounded with LRU eviction and
// values expire after a TTL; a slow subscriber is skipped after a delivery
// timeout instead of stalling the publisher.
package databus

import (
	"container/list"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Value is one retained telemetry reading.
type Value struct {
	Topic     string
	Data      interface{}
	Timestamp time.Time
}

// Config tunes the bus. The zero value gets sensible defaults.
type Config struct {
	// MaxTopics caps retained topics; the least recently used topic is
	// evicted when the cap is exceeded.
	MaxTopics int

	// TTL expires retained values. Zero disables expiry.
	TTL time.Duration

	// DeliveryTimeout bounds how long Publish waits on one subscriber
	// before skipping it.
	DeliveryTimeout time.Duration

	// SubscriberBuffer is the channel depth per subscription.
	SubscriberBuffer int
}

func (c Config) normalize() Config {
	if c.MaxTopics <= 0 {
		c.MaxTopics = 1024
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = 100 * time.Millisecond
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = 16
	}
	return c
}

type topicEntry struct {
	value   Value
	element *list.Element
}

// Subscription receives values for one topic on C until Cancel is called.
type Subscription struct {
	C      <-chan Value
	ch     chan Value
	topic  string
	bus    *Bus
	cancel sync.Once

	// sendMu orders Cancel's close against any Publish mid-send, so a
	// publisher blocked on a full buffer never sends on a closed channel.
	sendMu sync.Mutex
	closed bool
}

// Cancel removes the subscription. The channel is closed; pending values
// may still be drained from it.
func (s *Subscription) Cancel() {
	s.cancel.Do(func() {
		s.bus.mu.Lock()
		subs := s.bus.subs[s.topic]
		for i, sub := range subs {
			if sub == s {
				s.bus.subs[s.topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		s.bus.mu.Unlock()
		s.sendMu.Lock()
		s.closed = true
		close(s.ch)
		s.sendMu.Unlock()
	})
}

// deliver offers v to the subscriber, waiting at most timeout. It reports
// whether the value was dropped for a live subscription; a canceled
// subscription is simply skipped.
func (s *Subscription) deliver(v Value, timeout time.Duration) (dropped bool) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- v:
		return false
	case <-time.After(timeout):
		return true
	}
}

// Bus is the telemetry bus. Safe for concurrent use.
type Bus struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	topics map[string]*topicEntry
	order  *list.List // front = most recently used
	subs   map[string][]*Subscription

	published int64
	evicted   int64
	expired   int64
	dropped   int64
}

// New creates a bus. logger may be nil.
func New(cfg Config, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		cfg:    cfg.normalize(),
		logger: logger,
		topics: make(map[string]*topicEntry),
		order:  list.New(),
		subs:   make(map[string][]*Subscription),
	}
}

// Publish retains data as the topic's latest value and delivers it to the
// topic's subscribers. A subscriber that does not accept the value within
// the delivery timeout is skipped for this value.
func (b *Bus) Publish(topic string, data interface{}) {
	v := Value{Topic: topic, Data: data, Timestamp: time.Now()}

	b.mu.Lock()
	b.published++
	entry, ok := b.topics[topic]
	if ok {
		entry.value = v
		b.order.MoveToFront(entry.element)
	} else {
		entry = &topicEntry{value: v}
		entry.element = b.order.PushFront(topic)
		b.topics[topic] = entry
		b.evictLocked()
	}
	targets := make([]*Subscription, len(b.subs[topic]))
	copy(targets, b.subs[topic])
	b.mu.Unlock()

	for _, sub := range targets {
		if sub.deliver(v, b.cfg.DeliveryTimeout) {
			b.mu.Lock()
			b.dropped++
			b.mu.Unlock()
			b.logger.Warn("slow telemetry subscriber, value skipped",
				zap.String("topic", topic))
		}
	}
}

// Get returns the retained value for a topic. An expired value counts as
// a miss and is removed.
func (b *Bus) Get(topic string) (Value, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.topics[topic]
	if !ok {
		return Value{}, false
	}
	if b.expiredLocked(entry) {
		b.removeLocked(topic, entry)
		b.expired++
		return Value{}, false
	}
	b.order.MoveToFront(entry.element)
	return entry.value, true
}

// Subscribe registers for future values on a topic. If a live retained
// value exists it is delivered first.
func (b *Bus) Subscribe(topic string) *Subscription {
	sub := &Subscription{topic: topic, bus: b, ch: make(chan Value, b.cfg.SubscriberBuffer)}
	sub.C = sub.ch

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	if entry, ok := b.topics[topic]; ok && !b.expiredLocked(entry) {
		select {
		case sub.ch <- entry.value:
		default:
		}
	}
	b.mu.Unlock()
	return sub
}

// Topics lists live retained topics, most recently used first. Expired
// entries are swept on the way.
func (b *Bus) Topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.topics))
	for el := b.order.Front(); el != nil; {
		topic := el.Value.(string)
		next := el.Next()
		entry := b.topics[topic]
		if b.expiredLocked(entry) {
			b.removeLocked(topic, entry)
			b.expired++
		} else {
			out = append(out, topic)
		}
		el = next
	}
	return out
}

// Len returns the retained topic count, including not-yet-swept expired
// entries.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}

// Stats reports publish, eviction, expiry and drop counts.
func (b *Bus) Stats() (published, evicted, expired, dropped int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published, b.evicted, b.expired, b.dropped
}

func (b *Bus) expiredLocked(entry *topicEntry) bool {
	return b.cfg.TTL > 0 && time.Since(entry.value.Timestamp) > b.cfg.TTL
}

func (b *Bus) evictLocked() {
	for len(b.topics) > b.cfg.MaxTopics {
		oldest := b.order.Back()
		if oldest == nil {
			return
		}
		topic := oldest.Value.(string)
		b.removeLocked(topic, b.topics[topic])
		b.evicted++
		b.logger.Debug("evicted telemetry topic", zap.String("topic", topic))
	}
}

func (b *Bus) removeLocked(topic string, entry *topicEntry) {
	b.order.Remove(entry.element)
	delete(b.topics, topic)
}
