// Package events provides in-process pub/sub for operator-facing
// notifications. The Bus fans events out to in-process subscribers
// (the WebSocket hub, the MQTT mirror); the Hub relays them to
// connected operator clients. The bus is nil-safe: Publish on a nil
// *Bus is a no-op, so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourcePoller identifies events from the mailbox poll loop.
	SourcePoller = "poller"
	// SourceAutoReply identifies events from the auto-reply service.
	SourceAutoReply = "autoreply"
	// SourceOperator identifies events caused by operator actions.
	SourceOperator = "operator"
)

// Kind constants describe the type of event within a source.
const (
	// KindTickStart signals the beginning of a mailbox tick.
	// Data: since_days, max.
	KindTickStart = "tick_start"
	// KindTickComplete signals the end of a mailbox tick.
	// Data: fetched, parsed, newly_ingested, failed.
	KindTickComplete = "tick_complete"
	// KindRefresh instructs operator UIs to re-query their view.
	// Data: scope, reason.
	KindRefresh = "refresh"
	// KindSuggestion signals a new auto-reply suggestion.
	// Data: message_id, log_id, send_mode, sent.
	KindSuggestion = "suggestion"
	// KindStaffAlert signals an escalation requiring attention.
	// Data: message_id, intent, escalation_level.
	KindStaffAlert = "staff_alert"
)

// Event is a single operational event.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive
// events on buffered channels; slow subscribers miss events rather
// than blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs, so
	// Unsubscribe can accept the caller's <-chan view.
	recvToSend map[<-chan Event]chan Event
}

// NewBus creates an event bus ready for use.
func NewBus() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: a full
// subscriber channel drops the event for that subscriber. Safe on a
// nil receiver.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually Unsubscribe to avoid resource leaks.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call twice.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
