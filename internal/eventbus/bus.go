package eventbus

import (
	"context"
	"sync"
)

// Streams published by the daemon.
const (
	StreamSend     = "send"
	StreamActivity = "activity"
)

// Event is one published item on a named stream.
type Event struct {
	Stream  string `json:"stream"`
	Payload any    `json:"payload"`
}

type subscriber struct {
	streams map[string]struct{}
	ch      chan Event
}

// Bus is an in-process fan-out of log append events, feeding the websocket
// stream. Log rows are already persisted by the store, so the bus keeps no
// history of its own.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscriber
}

func NewBus() *Bus {
	return &Bus{subs: map[int]*subscriber{}}
}

// Subscribe returns a channel receiving events for the given streams (all
// streams when the list is empty). The subscription ends and the channel
// closes when ctx is done.
func (b *Bus) Subscribe(ctx context.Context, streams []string) <-chan Event {
	ch := make(chan Event, 64)
	streamSet := map[string]struct{}{}
	for _, s := range streams {
		if s == "" {
			continue
		}
		streamSet[s] = struct{}{}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscriber{streams: streamSet, ch: ch}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

// Publish fans the event out to matching subscribers.
func (b *Bus) Publish(stream string, payload any) {
	event := Event{Stream: stream, Payload: payload}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if len(sub.streams) > 0 {
			if _, ok := sub.streams[stream]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- event:
		default:
			// Drop if subscriber is slow.
		}
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
