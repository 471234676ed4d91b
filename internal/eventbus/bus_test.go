package eventbus

import (
	"testing"

	"github.com/kilianp07/stationctl/core/events"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := New[string]()
	ch := bus.Subscribe()
	bus.Publish("hello")
	if v := <-ch; v != "hello" {
		t.Fatalf("expected hello got %v", v)
	}
	bus.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel closed after unsubscribe")
	}
	if bus.Subscribers() != 0 {
		t.Fatalf("subscriber not removed")
	}
}

func TestBusDropsOnFullSubscriber(t *testing.T) {
	bus := New[int]()
	slow := bus.SubscribeBuffered(1)
	fast := bus.SubscribeBuffered(4)
	for i := 0; i < 3; i++ {
		bus.Publish(i)
	}
	if len(fast) != 3 {
		t.Fatalf("fast subscriber got %d events", len(fast))
	}
	if v := <-slow; v != 0 {
		t.Fatalf("slow subscriber got %d", v)
	}
	if bus.Dropped() != 2 {
		t.Fatalf("dropped = %d", bus.Dropped())
	}
}

func TestBusClose(t *testing.T) {
	bus := New[int]()
	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()
	bus.Close()
	if _, ok := <-ch1; ok {
		t.Fatalf("expected ch1 closed")
	}
	if _, ok := <-ch2; ok {
		t.Fatalf("expected ch2 closed")
	}
	if _, ok := <-bus.Subscribe(); ok {
		t.Fatalf("subscribe after close returns an open channel")
	}
	bus.Publish(1)
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("panic on Unsubscribe after Close: %v", r)
		}
	}()
	bus.Unsubscribe(ch1)
}

func TestSinkWrapsEnvelope(t *testing.T) {
	bus := New[events.Envelope]()
	ch := bus.Subscribe()
	NewSink(bus).Publish(events.TypeDepartureAlert, events.DepartureAlert{TrainNumber: "12345", PlatformID: "P1"})
	env := <-ch
	if env.Type != events.TypeDepartureAlert || env.Time.IsZero() {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if a, ok := env.Payload.(events.DepartureAlert); !ok || a.PlatformID != "P1" {
		t.Fatalf("unexpected payload %#v", env.Payload)
	}
}
