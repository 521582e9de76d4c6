// Package events fans tree changes out to SSE subscribers.
package events

import (
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/fruitsalade/docnav/internal/metrics"
	"github.com/fruitsalade/docnav/pkg/protocol"
)

// Actions carried by tree_changed events.
const (
	ActionMove   = "move"
	ActionRename = "rename"
	ActionAccess = "access"
	ActionCreate = "create"
	ActionDelete = "delete"
)

const subscriberBuffer = 64

// Audience is what a subscriber is allowed to see.
type Audience int

const (
	// Public subscribers are anonymous and only learn that something changed
	// when the node is outside the public projection.
	Public Audience = iota
	// Members see every node id.
	Members
)

// Broadcaster publishes tree changes. Slow subscribers lose events rather
// than block publishers; any event is enough to trigger a refetch.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[chan protocol.Event]Audience
	now  func() time.Time
}

// NewBroadcaster creates a broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[chan protocol.Event]Audience),
		now:  time.Now,
	}
}

// Subscribe registers a subscriber. Call Unsubscribe when done.
func (b *Broadcaster) Subscribe(aud Audience) chan protocol.Event {
	ch := make(chan protocol.Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = aud
	n := len(b.subs)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(n)
	return ch
}

// Unsubscribe removes ch and closes it. Repeated calls are harmless.
func (b *Broadcaster) Unsubscribe(ch chan protocol.Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	n := len(b.subs)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(n)
}

// TreeChanged announces a change to nodeID. hidden marks a node that was not
// publicly visible before or after the change; public subscribers then get
// an event without id or action.
func (b *Broadcaster) TreeChanged(nodeID, action string, hidden bool) {
	full := protocol.Event{
		Type:      protocol.EventTreeChanged,
		NodeID:    nodeID,
		Action:    action,
		Timestamp: b.now().Unix(),
	}
	redacted := full
	if hidden {
		redacted.NodeID, redacted.Action = "", ""
	}

	b.mu.RLock()
	for ch, aud := range b.subs {
		ev := full
		if aud == Public {
			ev = redacted
		}
		select {
		case ch <- ev:
		default:
		}
	}
	b.mu.RUnlock()
	metrics.RecordSSEEvent(full.Type)
}

// Count returns the number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// MarshalEvent encodes an event for the data line of an SSE frame.
func MarshalEvent(e protocol.Event) ([]byte, error) {
	return json.Marshal(e)
}
