package wire

import (
	"encoding/json"
	"log"
	"sync"
)

// busQueueCap bounds the number of undelivered events. The dispatch loop is
// the single consumer, so a full queue means a handler is stuck; dropping
// with a log line beats deadlocking the read pump.
const busQueueCap = 256

type delivery struct {
	event string
	data  json.RawMessage
}

type subscription struct {
	event string
	fn    func(json.RawMessage)
}

// Bus fans socket events out to typed subscribers. All handlers run on one
// dispatch goroutine, so deliveries are ordered and handlers never race each
// other — the same cooperative model the rest of the core assumes.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]*subscription

	queue chan delivery
	done  chan struct{}
	once  sync.Once
}

// NewBus creates a bus and starts its dispatch loop.
func NewBus() *Bus {
	b := &Bus{
		subs:  make(map[string][]*subscription),
		queue: make(chan delivery, busQueueCap),
		done:  make(chan struct{}),
	}
	go b.dispatchLoop()
	return b
}

// Subscribe registers fn for an event and returns a cancel func. Cancel is
// idempotent; subscribers must call it when their lifetime ends so handlers
// never pile up across reconnects.
func (b *Bus) Subscribe(event string, fn func(json.RawMessage)) (cancel func()) {
	sub := &subscription{event: event, fn: fn}
	b.mu.Lock()
	b.subs[event] = append(b.subs[event], sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			list := b.subs[event]
			for i, s := range list {
				if s == sub {
					b.subs[event] = append(list[:i], list[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
		})
	}
}

// On is Subscribe with the payload decoded into T. Decode failures are
// logged and the event skipped; a malformed payload must not kill the loop.
func On[T any](b *Bus, event string, fn func(T)) (cancel func()) {
	return b.Subscribe(event, func(data json.RawMessage) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			log.Printf("SOCKET: drop malformed %s event: %v", event, err)
			return
		}
		fn(v)
	})
}

// Publish enqueues one event for dispatch.
func (b *Bus) Publish(event string, data json.RawMessage) {
	select {
	case <-b.done:
	case b.queue <- delivery{event: event, data: data}:
	default:
		log.Printf("SOCKET: event queue full, dropping %s", event)
	}
}

// Close stops the dispatch loop. Queued events are discarded.
func (b *Bus) Close() {
	b.once.Do(func() { close(b.done) })
}

func (b *Bus) dispatchLoop() {
	for {
		select {
		case <-b.done:
			return
		case d := <-b.queue:
			b.mu.RLock()
			handlers := make([]*subscription, len(b.subs[d.event]))
			copy(handlers, b.subs[d.event])
			b.mu.RUnlock()
			for _, s := range handlers {
				s.fn(d.data)
			}
		}
	}
}
