package eventsink

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/flowforge-io/flowforge/pkg/events"
)

type recordingSink struct {
	mu  sync.Mutex
	got []events.Event
}

func (r *recordingSink) Handle(ev events.Event) error {
	r.mu.Lock()
	r.got = append(r.got, ev)
	r.mu.Unlock()
	return nil
}

func (r *recordingSink) events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Event, len(r.got))
	copy(out, r.got)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestAttachForwardsAllEventTypes(t *testing.T) {
	p := events.NewPublisher(zap.NewNop())
	defer p.Close()

	sink := &recordingSink{}
	sub := Attach(p, sink)
	defer sub.Unsubscribe()

	p.Publish(events.New(events.TypePipelineStarted, "p"))
	p.Publish(events.New(events.TypeNodeCompleted, "p"))
	p.Publish(events.New(events.TypePipelineCompleted, "p"))

	waitFor(t, func() bool { return len(sink.events()) == 3 })
	got := sink.events()
	if got[0].Type != events.TypePipelineStarted || got[2].Type != events.TypePipelineCompleted {
		t.Fatalf("unexpected event order: %v", got)
	}
}

func TestLogSinkLevelsPerEventType(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))

	errEv := events.New(events.TypePipelineError, "p")
	errEv.ErrorMessage = "node blew up"
	if err := sink.Handle(errEv); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if err := sink.Handle(events.New(events.TypeNodeCompleted, "p")); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	if entries[0].Level != zap.ErrorLevel {
		t.Fatalf("PipelineError should log at error level, got %v", entries[0].Level)
	}
	if entries[1].Level == zap.ErrorLevel {
		t.Fatalf("NodeCompleted should not log at error level")
	}
}

func TestDefaultNATSConfig(t *testing.T) {
	cfg := DefaultNATSConfig("nats://localhost:4222")
	if cfg.URL != "nats://localhost:4222" {
		t.Fatalf("unexpected URL %q", cfg.URL)
	}
	if cfg.SubjectPrefix != "pipeline.events" {
		t.Fatalf("unexpected subject prefix %q", cfg.SubjectPrefix)
	}
	if cfg.MaxReconnects != 10 || cfg.Timeout != 5*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
