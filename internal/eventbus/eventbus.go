// Package eventbus fans broker-internal events out to the frontend. It
// implements the acp.EventSink and agentmgr.StatusSink interfaces so the
// transport and agent-manager layers can emit events without depending on
// how they are ultimately delivered (websocket subscribers, and
// optionally a NATS subject for out-of-process consumers).
package eventbus

import (
	"encoding/json"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/openagentbroker/acpbroker/internal/acp"
	"github.com/openagentbroker/acpbroker/internal/logger"
)

// Event is one frontend-facing envelope: a discriminator and its payload.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// PermissionTracker lets the bus notify the session manager of an
// outstanding permission request so it can be resolved on cancellation.
type PermissionTracker interface {
	TrackPermissionRequest(sessionID, requestID string)
}

// Bus is a process-local pub/sub fan-out, optionally mirrored to a NATS
// subject for external consumers.
type Bus struct {
	log *logger.Logger

	mu          sync.RWMutex
	subscribers map[string]chan Event

	tracker PermissionTracker

	nc      *nats.Conn
	subject string
}

// New constructs a Bus. If natsURL is non-empty, events are also
// published to natsSubject on that NATS server; a connection failure is
// logged and does not prevent local delivery.
func New(log *logger.Logger, natsURL, natsSubject string) *Bus {
	b := &Bus{
		log:         log.WithFields(zap.String("component", "eventbus")),
		subscribers: make(map[string]chan Event),
		subject:     natsSubject,
	}
	if natsURL != "" {
		nc, err := nats.Connect(natsURL)
		if err != nil {
			b.log.Warn("nats connect failed, continuing with local fan-out only", zap.Error(err))
		} else {
			b.nc = nc
		}
	}
	return b
}

// SetPermissionTracker wires the session manager in after construction,
// breaking the import cycle between eventbus and session.
func (b *Bus) SetPermissionTracker(tracker PermissionTracker) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tracker = tracker
}

// Subscribe registers a new frontend connection and returns its event
// channel plus an unsubscribe function.
func (b *Bus) Subscribe(id string) (<-chan Event, func()) {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
		close(ch)
	}
}

func (b *Bus) publish(eventType string, payload any) {
	event := Event{Type: eventType, Payload: payload}

	b.mu.RLock()
	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.log.Warn("dropping event for slow subscriber", zap.String("subscriber", id), zap.String("type", eventType))
		}
	}
	b.mu.RUnlock()

	if b.nc != nil {
		if data, err := json.Marshal(event); err == nil {
			_ = b.nc.Publish(b.subject, data)
		}
	}
}

// SessionUpdate implements acp.EventSink.
func (b *Bus) SessionUpdate(sessionID string, update acp.UpdateEvent) {
	b.publish("session:update", map[string]any{"sessionId": sessionID, "update": update})
}

// PermissionRequest implements acp.EventSink.
func (b *Bus) PermissionRequest(event acp.PermissionRequestEvent) {
	b.mu.RLock()
	tracker := b.tracker
	b.mu.RUnlock()
	if tracker != nil {
		tracker.TrackPermissionRequest(event.SessionID, event.RequestID)
	}
	b.publish("session:permission-request", event)
}

// PermissionResolved implements acp.EventSink.
func (b *Bus) PermissionResolved(requestID string) {
	b.publish("session:permission-resolved", map[string]string{"requestId": requestID})
}

// AgentStatusChange implements agentmgr.StatusSink.
func (b *Bus) AgentStatusChange(connectionID, status string) {
	b.publish("agent:status-change", map[string]string{"connectionId": connectionID, "status": status})
}

// Close tears down the NATS connection, if any.
func (b *Bus) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
}
