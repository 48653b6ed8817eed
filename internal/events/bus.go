package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Bus is a lightweight pub/sub broker using channels.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Event][]chan Message
	all     []chan Message
	dropped atomic.Uint64
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan Message)}
}

// Subscribe registers a listener for the given events, or for every event
// when none are named. It returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(buffer int, topics ...Event) (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Message, buffer)
	if len(topics) == 0 {
		b.all = append(b.all, ch)
	}
	for _, e := range topics {
		b.subs[e] = append(b.subs[e], ch)
	}

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.all = remove(b.all, ch)
			for _, e := range topics {
				b.subs[e] = remove(b.subs[e], ch)
			}
			close(ch)
		})
	}
	return ch, unsub
}

func remove(list []chan Message, ch chan Message) []chan Message {
	for i, c := range list {
		if c == ch {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Publish fans the payload out without blocking; slow subscribers miss it.
func (b *Bus) Publish(e Event, payload any) {
	if b == nil {
		return
	}
	msg := Message{Event: e, Time: time.Now().UTC(), Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		b.send(ch, msg)
	}
	for _, ch := range b.all {
		b.send(ch, msg)
	}
}

func (b *Bus) send(ch chan Message, msg Message) {
	select {
	case ch <- msg:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
