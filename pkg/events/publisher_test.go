package events

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPublishDeliversInOrder(t *testing.T) {
	p := NewPublisher(zap.NewNop())
	defer p.Close()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	sub := p.Subscribe(TypeNodeCompleted, func(ev Event) error {
		mu.Lock()
		got = append(got, ev.NodeID)
		if len(got) == 3 {
			close(done)
		}
		mu.Unlock()
		return nil
	})
	defer sub.Unsubscribe()

	for _, id := range []string{"n1", "n2", "n3"} {
		ev := New(TypeNodeCompleted, "p")
		ev.NodeID = id
		p.Publish(ev)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("events not delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	if got[0] != "n1" || got[1] != "n2" || got[2] != "n3" {
		t.Fatalf("out of order delivery: %v", got)
	}
}

func TestTypeFilteringAndWildcard(t *testing.T) {
	p := NewPublisher(zap.NewNop())
	defer p.Close()

	starts := make(chan Event, 4)
	all := make(chan Event, 4)
	p.Subscribe(TypePipelineStarted, func(ev Event) error {
		starts <- ev
		return nil
	})
	p.Subscribe(TypeAll, func(ev Event) error {
		all <- ev
		return nil
	})

	p.Publish(New(TypePipelineStarted, "p"))
	p.Publish(New(TypeNodeCompleted, "p"))

	if ev := <-starts; ev.Type != TypePipelineStarted {
		t.Fatalf("unexpected event %s", ev.Type)
	}
	select {
	case ev := <-starts:
		t.Fatalf("typed subscriber got unrelated event %s", ev.Type)
	case <-time.After(100 * time.Millisecond):
	}
	if ev := <-all; ev.Type != TypePipelineStarted {
		t.Fatalf("wildcard missed first event, got %s", ev.Type)
	}
	if ev := <-all; ev.Type != TypeNodeCompleted {
		t.Fatalf("wildcard missed second event, got %s", ev.Type)
	}
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	p := NewPublisher(zap.NewNop())
	defer p.Close()

	p.Subscribe(TypeAll, func(Event) error {
		panic("handler bug")
	})
	healthy := make(chan Event, 2)
	p.Subscribe(TypeAll, func(ev Event) error {
		healthy <- ev
		return nil
	})

	p.Publish(New(TypePipelineStarted, "p"))
	p.Publish(New(TypePipelineCompleted, "p"))

	for i := 0; i < 2; i++ {
		select {
		case <-healthy:
		case <-time.After(5 * time.Second):
			t.Fatal("healthy subscriber starved by panicking one")
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	p := NewPublisher(zap.NewNop())
	defer p.Close()

	var count int
	var mu sync.Mutex
	sub := p.Subscribe(TypeAll, func(Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	p.Publish(New(TypePipelineStarted, "p"))
	sub.Unsubscribe()
	p.Publish(New(TypePipelineCompleted, "p"))

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", count)
	}
}

func TestWedgedSubscriberDoesNotStallPublish(t *testing.T) {
	p := NewPublisher(zap.NewNop())
	defer p.Close()

	release := make(chan struct{})
	sub := p.Subscribe(TypeAll, func(Event) error {
		<-release
		return nil
	})

	// One event wedges the handler, the buffer absorbs the next batch,
	// then publishes must keep returning instead of blocking.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			p.Publish(New(TypeNodeCompleted, "p"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher stalled behind wedged subscriber")
	}
	if p.Dropped() == 0 {
		t.Fatal("expected overflow events to be dropped")
	}

	close(release)
	sub.Unsubscribe()
}

func TestIsTerminal(t *testing.T) {
	if !New(TypePipelineCompleted, "p").IsTerminal() {
		t.Fatal("PipelineCompleted should be terminal")
	}
	if !New(TypePipelineError, "p").IsTerminal() {
		t.Fatal("PipelineError should be terminal")
	}
	if New(TypeNodeCompleted, "p").IsTerminal() {
		t.Fatal("NodeCompleted should not be terminal")
	}
}
