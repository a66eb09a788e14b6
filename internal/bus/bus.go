// Package bus provides the in-process event bus: topic-routed pub/sub with
// synchronous and asynchronous handler registration. Async handlers run on a
// bounded worker pool; sync handlers run on the publisher's goroutine.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Mode selects how a handler is invoked.
type Mode int

const (
	// Sync handlers run inline on the publisher's goroutine. Intended only
	// for lightweight fan-out (UI spinner updates and the like).
	Sync Mode = iota
	// Async handlers are dispatched through the shared worker pool.
	// Ordering among async handlers for one event is unspecified.
	Async
)

// Handler receives an event payload. The return value is ignored by
// the bus; handlers communicate through side effects.
type Handler func(topic string, payload any)

// Subscription is the opaque reference returned by Subscribe, used
// for unregistration.
type Subscription struct {
	id    uint64
	topic string
}

type registration struct {
	id      uint64
	handler Handler
	mode    Mode
}

// Bus is the process-wide event bus. The zero value is not usable;
// construct with New.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]registration
	nextID atomic.Uint64

	jobs    chan job
	closeMu sync.Once
	done    chan struct{}
	wg      sync.WaitGroup
}

type job struct {
	topic   string
	payload any
	handler Handler
}

// New creates a Bus with the given async worker pool size.
// workers <= 0 defaults to 4.
func New(workers int) *Bus {
	if workers <= 0 {
		workers = 4
	}
	b := &Bus{
		subs: make(map[string][]registration),
		jobs: make(chan job, 256),
		done: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case j := <-b.jobs:
			b.invoke(j.topic, j.payload, j.handler)
		case <-b.done:
			// Drain whatever is queued before exiting.
			for {
				select {
				case j := <-b.jobs:
					b.invoke(j.topic, j.payload, j.handler)
				default:
					return
				}
			}
		}
	}
}

// invoke runs one handler, recovering panics so a crashing async
// subscriber cannot take down its siblings.
func (b *Bus) invoke(topic string, payload any, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bus: handler panic", "topic", topic, "panic", r)
		}
	}()
	h(topic, payload)
}

// Subscribe registers a handler for a topic. The returned Subscription
// is the only way to unregister.
func (b *Bus) Subscribe(topic string, h Handler, mode Mode) Subscription {
	id := b.nextID.Add(1)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], registration{id: id, handler: h, mode: mode})
	b.mu.Unlock()
	return Subscription{id: id, topic: topic}
}

// Unsubscribe removes a prior registration. Unknown subscriptions are a no-op.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	regs := b.subs[sub.topic]
	for i, r := range regs {
		if r.id == sub.id {
			b.subs[sub.topic] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// Emit publishes a payload to every live subscriber of topic.
// Delivery is at-most-once per handler. With no subscribers, Emit is a no-op.
func (b *Bus) Emit(topic string, payload any) {
	b.mu.RLock()
	regs := b.subs[topic]
	// Snapshot so handlers may subscribe/unsubscribe during delivery.
	snapshot := make([]registration, len(regs))
	copy(snapshot, regs)
	b.mu.RUnlock()

	for _, r := range snapshot {
		switch r.mode {
		case Sync:
			b.invoke(topic, payload, r.handler)
		case Async:
			select {
			case b.jobs <- job{topic: topic, payload: payload, handler: r.handler}:
			case <-b.done:
				return
			default:
				// Pool saturated: fall back to inline delivery rather than drop.
				b.invoke(topic, payload, r.handler)
			}
		}
	}
}

// Close stops the worker pool after draining queued jobs.
func (b *Bus) Close() {
	b.closeMu.Do(func() {
		close(b.done)
	})
	b.wg.Wait()
}
