package pushbus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awaregh/platform/pkg/models"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// dial spins up a server that attaches every connection to the bus under
// the given tenant, and returns a connected client socket.
func dial(t *testing.T, bus *Bus, tenantID string) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		bus.Attach(conn, tenantID, "user-"+tenantID)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func subscribe(t *testing.T, conn *websocket.Conn, runID string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]string{"action": "subscribe", "runId": runID}))
	// give the reader goroutine a beat to register the subscription
	time.Sleep(50 * time.Millisecond)
}

func readMessage(t *testing.T, conn *websocket.Conn) (*Message, bool) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, false
	}
	var msg Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	return &msg, true
}

func event(runID string, typ models.EventType) *models.Event {
	return &models.Event{
		ID:        "ev-1",
		RunID:     runID,
		StepKey:   "a",
		Type:      typ,
		Payload:   map[string]any{"k": "v"},
		Timestamp: time.Now().UTC(),
	}
}

func TestSubscriberReceivesItsRunEvents(t *testing.T) {
	bus := New(hclog.NewNullLogger())
	conn := dial(t, bus, "tenant-1")
	subscribe(t, conn, "run-1")

	bus.Broadcast("tenant-1", event("run-1", models.EventStepCompleted))

	msg, ok := readMessage(t, conn)
	require.True(t, ok, "expected a pushed event")
	assert.Equal(t, models.EventStepCompleted, msg.Type)
	assert.Equal(t, "run-1", msg.RunID)
	assert.Equal(t, "a", msg.StepKey)
	assert.Equal(t, "v", msg.Data["k"])
}

func TestUnsubscribedRunsAreFiltered(t *testing.T) {
	bus := New(hclog.NewNullLogger())
	conn := dial(t, bus, "tenant-1")
	subscribe(t, conn, "run-1")

	bus.Broadcast("tenant-1", event("run-other", models.EventStepCompleted))

	_, ok := readMessage(t, conn)
	assert.False(t, ok, "events for unsubscribed runs must not be delivered")
}

func TestCrossTenantEventsAreFiltered(t *testing.T) {
	bus := New(hclog.NewNullLogger())
	conn := dial(t, bus, "tenant-1")
	subscribe(t, conn, "run-1")

	// same run id, different tenant
	bus.Broadcast("tenant-2", event("run-1", models.EventStepCompleted))

	_, ok := readMessage(t, conn)
	assert.False(t, ok, "cross-tenant events must not be delivered")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New(hclog.NewNullLogger())
	conn := dial(t, bus, "tenant-1")
	subscribe(t, conn, "run-1")

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "unsubscribe", "runId": "run-1"}))
	time.Sleep(50 * time.Millisecond)

	bus.Broadcast("tenant-1", event("run-1", models.EventStepCompleted))

	_, ok := readMessage(t, conn)
	assert.False(t, ok)
}

func TestShutdownSendsGoingAway(t *testing.T) {
	bus := New(hclog.NewNullLogger())
	conn := dial(t, bus, "tenant-1")
	subscribe(t, conn, "run-1")

	closed := make(chan int, 1)
	conn.SetCloseHandler(func(code int, _ string) error {
		closed <- code
		return nil
	})

	go bus.Shutdown(context.Background())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	select {
	case code := <-closed:
		assert.Equal(t, websocket.CloseGoingAway, code)
	default:
		t.Fatal("no close frame observed")
	}
}
