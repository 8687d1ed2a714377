package events

import "sync"

// Subscriber receives events from the bus.
type Subscriber interface {
	Receive(ev Event)
	Closed() bool
}

// Topic is one owning namespace. Owner ids are only unique within a scope,
// so character 42 and account 42 are different topics.
type Topic struct {
	Scope string
	Owner int64
}

// Bus is a pub/sub bus for array mutations. Subscribers register either for
// one topic's arrays or globally for every event.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Topic][]Subscriber
	global      []Subscriber
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[Topic][]Subscriber),
	}
}

// Subscribe registers a subscriber for the events of one topic.
func (b *Bus) Subscribe(topic Topic, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], sub)
}

// Unsubscribe removes a subscriber from a topic.
func (b *Bus) Unsubscribe(topic Topic, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[topic]
	for i, s := range subs {
		if s == sub {
			b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscribers[topic]) == 0 {
		delete(b.subscribers, topic)
	}
}

// SubscribeGlobal registers a subscriber that receives all events.
func (b *Bus) SubscribeGlobal(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.global = append(b.global, sub)
}

// UnsubscribeGlobal removes a global subscriber.
func (b *Bus) UnsubscribeGlobal(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.global {
		if s == sub {
			b.global = append(b.global[:i], b.global[i+1:]...)
			return
		}
	}
}

// Emit sends an event to the subscribers of its topic and all global subscribers.
func (b *Bus) Emit(ev Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := b.subscribers[ev.Topic()]
	globals := b.global
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.Closed() {
			s.Receive(ev)
		}
	}
	for _, s := range globals {
		if !s.Closed() {
			s.Receive(ev)
		}
	}
}

// TopicSubscribers returns the number of subscribers for a topic.
func (b *Bus) TopicSubscribers(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// GlobalSubscribers returns the number of global subscribers.
func (b *Bus) GlobalSubscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.global)
}

// Cleanup removes closed subscribers from all lists.
func (b *Bus) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subscribers {
		var active []Subscriber
		for _, s := range subs {
			if !s.Closed() {
				active = append(active, s)
			}
		}
		if len(active) == 0 {
			delete(b.subscribers, topic)
		} else {
			b.subscribers[topic] = active
		}
	}

	var activeGlobal []Subscriber
	for _, s := range b.global {
		if !s.Closed() {
			activeGlobal = append(activeGlobal, s)
		}
	}
	b.global = activeGlobal
}
