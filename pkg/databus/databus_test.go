package databus

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetainLast(t *testing.T) {
	bus := New(Config{}, nil)

	bus.Publish("sensor.temp", 20.5)
	bus.Publish("sensor.temp", 21.0)

	v, ok := bus.Get("sensor.temp")
	require.True(t, ok)
	assert.Equal(t, 21.0, v.Data)
	assert.Equal(t, "sensor.temp", v.Topic)

	_, ok = bus.Get("sensor.humidity")
	assert.False(t, ok)
}

func TestSubscribeReceivesRetainedThenLive(t *testing.T) {
	bus := New(Config{}, nil)
	bus.Publish("t", 1)

	sub := bus.Subscribe("t")
	defer sub.Cancel()

	v := <-sub.C
	assert.Equal(t, 1, v.Data)

	bus.Publish("t", 2)
	select {
	case v = <-sub.C:
		assert.Equal(t, 2, v.Data)
	case <-time.After(time.Second):
		t.Fatal("live value not delivered")
	}
}

func TestLRUEviction(t *testing.T) {
	bus := New(Config{MaxTopics: 3}, nil)

	for i := 0; i < 3; i++ {
		bus.Publish(fmt.Sprintf("t%d", i), i)
	}
	// Touch t0 so t1 becomes the eviction candidate.
	_, ok := bus.Get("t0")
	require.True(t, ok)

	bus.Publish("t3", 3)

	assert.Equal(t, 3, bus.Len())
	_, ok = bus.Get("t1")
	assert.False(t, ok, "least recently used topic should be evicted")
	_, ok = bus.Get("t0")
	assert.True(t, ok)

	_, evicted, _, _ := bus.Stats()
	assert.Equal(t, int64(1), evicted)
}

func TestTTLExpiry(t *testing.T) {
	bus := New(Config{TTL: 20 * time.Millisecond}, nil)
	bus.Publish("t", 1)

	_, ok := bus.Get("t")
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, ok = bus.Get("t")
	assert.False(t, ok, "value should expire after TTL")
	assert.Equal(t, 0, bus.Len())

	_, _, expired, _ := bus.Stats()
	assert.Equal(t, int64(1), expired)
}

func TestSlowSubscriberIsSkipped(t *testing.T) {
	bus := New(Config{SubscriberBuffer: 1, DeliveryTimeout: 20 * time.Millisecond}, nil)

	sub := bus.Subscribe("t")
	defer sub.Cancel()

	// Fill the buffer; nothing drains it, so the next publish times out.
	bus.Publish("t", 1)
	done := make(chan struct{})
	go func() {
		bus.Publish("t", 2)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}
	_, _, _, dropped := bus.Stats()
	assert.Equal(t, int64(1), dropped)

	// The retained value is still the latest even though delivery was skipped.
	v, ok := bus.Get("t")
	require.True(t, ok)
	assert.Equal(t, 2, v.Data)
}

func TestCancelDuringBlockedPublish(t *testing.T) {
	bus := New(Config{SubscriberBuffer: 1, DeliveryTimeout: 100 * time.Millisecond}, nil)

	sub := bus.Subscribe("t")
	bus.Publish("t", 1)

	// The next publish blocks on the full buffer; cancelling mid-send
	// must not panic the publisher.
	done := make(chan struct{})
	go func() {
		bus.Publish("t", 2)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	sub.Cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish did not return after cancel")
	}

	v, ok := bus.Get("t")
	require.True(t, ok)
	assert.Equal(t, 2, v.Data)
}

func TestPublishAfterCancelIsSkipped(t *testing.T) {
	bus := New(Config{SubscriberBuffer: 1, DeliveryTimeout: 20 * time.Millisecond}, nil)

	sub := bus.Subscribe("t")
	bus.Publish("t", 1)
	sub.Cancel()

	bus.Publish("t", 2)

	// A cancelled subscription is not a slow one.
	_, _, _, dropped := bus.Stats()
	assert.Equal(t, int64(0), dropped)

	v, ok := bus.Get("t")
	require.True(t, ok)
	assert.Equal(t, 2, v.Data)
}

func TestTopicsMostRecentFirst(t *testing.T) {
	bus := New(Config{}, nil)
	bus.Publish("a", 1)
	bus.Publish("b", 2)
	bus.Publish("c", 3)

	assert.Equal(t, []string{"c", "b", "a"}, bus.Topics())
}
