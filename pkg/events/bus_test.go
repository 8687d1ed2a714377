package events

import (
	"sync"
	"testing"
)

// mockSubscriber implements Subscriber for testing.
type mockSubscriber struct {
	mu       sync.Mutex
	events   []Event
	isClosed bool
}

func (m *mockSubscriber) Receive(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *mockSubscriber) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isClosed
}

func (m *mockSubscriber) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]Event, len(m.events))
	copy(cp, m.events)
	return cp
}

func TestBusEmitToOwner(t *testing.T) {
	bus := NewBus()
	sub := &mockSubscriber{}
	other := &mockSubscriber{}
	bus.Subscribe(Topic{Scope: "character_temp", Owner: 150000}, sub)
	bus.Subscribe(Topic{Scope: "character_temp", Owner: 150001}, other)

	bus.Emit(Event{Type: EvSet, Scope: "character_temp", Owner: 150000, Name: "@list", Index: 2, Value: "20"})

	events := sub.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Name != "@list" || events[0].Index != 2 {
		t.Errorf("unexpected event %+v", events[0])
	}
	if len(other.Events()) != 0 {
		t.Error("event leaked to another owner")
	}
}

func TestBusSameOwnerOtherScope(t *testing.T) {
	bus := NewBus()
	sub := &mockSubscriber{}
	bus.Subscribe(Topic{Scope: "character", Owner: 42}, sub)

	bus.Emit(Event{Type: EvSet, Scope: "account", Owner: 42, Name: "#acct"})
	bus.Emit(Event{Type: EvSet, Scope: "npc", Owner: 42, Name: ".npc"})
	bus.Emit(Event{Type: EvSet, Scope: "character_temp", Owner: 42, Name: "@c"})
	bus.Emit(Event{Type: EvSet, Scope: "character", Owner: 42, Name: "bag"})

	events := sub.Events()
	if len(events) != 1 || events[0].Name != "bag" {
		t.Errorf("got %+v, want only the character event", events)
	}
}

func TestBusGlobalSubscriber(t *testing.T) {
	bus := NewBus()
	global := &mockSubscriber{}
	bus.SubscribeGlobal(global)

	bus.Emit(Event{Type: EvRemove, Owner: 7, Name: "$names$", Count: 3})

	events := global.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 global event, got %d", len(events))
	}
	if events[0].Count != 3 {
		t.Errorf("expected count 3, got %d", events[0].Count)
	}

	bus.UnsubscribeGlobal(global)
	bus.Emit(Event{Type: EvClear})
	if len(global.Events()) != 1 {
		t.Error("expected no events after global unsubscribe")
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	sub := &mockSubscriber{}

	topic := Topic{Scope: "npc", Owner: 1}

	bus.Subscribe(topic, sub)
	bus.Unsubscribe(topic, sub)
	bus.Emit(Event{Type: EvSet, Scope: "npc", Owner: 1})

	if len(sub.Events()) != 0 {
		t.Error("expected no events after unsubscribe")
	}
	if bus.TopicSubscribers(topic) != 0 {
		t.Error("owner entry not removed")
	}
}

func TestBusClosedSubscriberSkipped(t *testing.T) {
	bus := NewBus()
	sub := &mockSubscriber{isClosed: true}
	bus.Subscribe(Topic{Scope: "npc", Owner: 1}, sub)
	bus.Emit(Event{Type: EvSet, Scope: "npc", Owner: 1})

	if len(sub.Events()) != 0 {
		t.Error("closed subscriber should not receive events")
	}
}

func TestNilBusEmit(t *testing.T) {
	var bus *Bus
	bus.Emit(Event{Type: EvSet})
}

func TestBusCleanup(t *testing.T) {
	bus := NewBus()
	active := &mockSubscriber{}
	closed := &mockSubscriber{isClosed: true}

	topic := Topic{Scope: "account", Owner: 1}
	bus.Subscribe(topic, active)
	bus.Subscribe(topic, closed)
	bus.SubscribeGlobal(&mockSubscriber{isClosed: true})

	bus.Cleanup()

	if bus.TopicSubscribers(topic) != 1 {
		t.Errorf("expected 1 active subscriber, got %d", bus.TopicSubscribers(topic))
	}
	if bus.GlobalSubscribers() != 0 {
		t.Errorf("expected 0 global subscribers, got %d", bus.GlobalSubscribers())
	}
}

func TestEventTypeString(t *testing.T) {
	tests := []struct {
		t    EventType
		want string
	}{
		{EvSet, "set"},
		{EvReplace, "replace"},
		{EvShift, "shift"},
		{EvClear, "clear"},
		{EventType(999), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.t.String(); got != tt.want {
			t.Errorf("EventType(%d).String() = %q, want %q", tt.t, got, tt.want)
		}
	}
}
