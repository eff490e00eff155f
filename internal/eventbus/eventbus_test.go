package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openagentbroker/acpbroker/internal/acp"
	"github.com/openagentbroker/acpbroker/internal/logger"
)

type fakeTracker struct {
	sessionID, requestID string
}

func (f *fakeTracker) TrackPermissionRequest(sessionID, requestID string) {
	f.sessionID = sessionID
	f.requestID = requestID
}

func waitForEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestSubscribeReceivesAgentStatusChange(t *testing.T) {
	bus := New(logger.Default(), "", "")
	ch, unsubscribe := bus.Subscribe("client-1")
	defer unsubscribe()

	bus.AgentStatusChange("conn-1", "connected")

	event := waitForEvent(t, ch)
	assert.Equal(t, "agent:status-change", event.Type)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(logger.Default(), "", "")
	ch, unsubscribe := bus.Subscribe("client-2")
	unsubscribe()

	_, open := <-ch
	assert.False(t, open)
}

func TestPermissionRequestNotifiesTracker(t *testing.T) {
	bus := New(logger.Default(), "", "")
	tracker := &fakeTracker{}
	bus.SetPermissionTracker(tracker)

	ch, unsubscribe := bus.Subscribe("client-3")
	defer unsubscribe()

	bus.PermissionRequest(acp.PermissionRequestEvent{SessionID: "sess-1", RequestID: "req-1"})

	require.Eventually(t, func() bool { return tracker.requestID == "req-1" }, time.Second, time.Millisecond)
	event := waitForEvent(t, ch)
	assert.Equal(t, "session:permission-request", event.Type)
}

func TestSlowSubscriberDropsEventsWithoutBlocking(t *testing.T) {
	bus := New(logger.Default(), "", "")
	_, unsubscribe := bus.Subscribe("slow-client")
	defer unsubscribe()

	for i := 0; i < 100; i++ {
		bus.AgentStatusChange("conn-1", "connected")
	}
}
