// Package events provides an in-process publish/subscribe bus. Published
// events are queued without bound and delivered by a single dispatch
// goroutine, so listeners observe events in publication order.
package events

import (
	"fmt"
	"sync"

	"github.com/gammazero/deque"
	"github.com/rs/zerolog"
)

// Topics published outside the download package.
const (
	TopicWorkerExited = "WorkerExited"
	topicExit         = "ExitEvent"
)

// Event is what listeners receive.
type Event struct {
	Topic   string
	Payload any
}

// Listener handles one event. It runs on the dispatch goroutine; a slow
// listener delays every later event.
type Listener func(Event)

type subscription struct {
	id    uint64
	topic string // empty matches every topic
	fn    Listener
}

// Bus is an unbounded FIFO event bus with a single consumer goroutine.
type Bus struct {
	log zerolog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  *deque.Deque[Event]
	closed bool

	subMu  sync.RWMutex
	subs   []subscription
	nextID uint64

	done chan struct{}
}

// New starts the dispatch goroutine.
func New(log zerolog.Logger) *Bus {
	b := &Bus{
		log:   log.With().Str("component", "events").Logger(),
		queue: deque.New[Event](),
		done:  make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	go b.run()
	return b
}

// Subscribe registers fn for topic and returns a function removing it.
func (b *Bus) Subscribe(topic string, fn Listener) func() {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, topic: topic, fn: fn})
	return func() { b.unsubscribe(id) }
}

// SubscribeAll registers fn for every topic.
func (b *Bus) SubscribeAll(fn Listener) func() { return b.Subscribe("", fn) }

func (b *Bus) unsubscribe(id uint64) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish enqueues an event and returns immediately. Events published after
// Close are dropped.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.log.Debug().Str("topic", topic).Msg("publish after close dropped")
		return
	}
	b.queue.PushBack(Event{Topic: topic, Payload: payload})
	b.mu.Unlock()
	b.cond.Signal()
	eventsPublished.WithLabelValues(topic).Inc()
}

// Close enqueues the exit sentinel behind pending events and waits for the
// dispatch goroutine to drain them and return.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	b.queue.PushBack(Event{Topic: topicExit})
	b.mu.Unlock()
	b.cond.Signal()
	<-b.done
}

func (b *Bus) run() {
	defer close(b.done)
	for {
		b.mu.Lock()
		for b.queue.Len() == 0 {
			b.cond.Wait()
		}
		ev := b.queue.PopFront()
		b.mu.Unlock()
		if ev.Topic == topicExit {
			return
		}
		b.dispatch(ev)
	}
}

func (b *Bus) dispatch(ev Event) {
	b.subMu.RLock()
	targets := make([]Listener, 0, len(b.subs))
	for _, s := range b.subs {
		if s.topic == "" || s.topic == ev.Topic {
			targets = append(targets, s.fn)
		}
	}
	b.subMu.RUnlock()
	for _, fn := range targets {
		b.deliver(fn, ev)
	}
}

func (b *Bus) deliver(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Str("topic", ev.Topic).Str("panic", fmt.Sprint(r)).Msg("event listener panicked")
		}
	}()
	fn(ev)
}
