package ingest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-buglewicz/photo-lens/internal/events"
)

func dialProgress(t *testing.T, broker *events.Broker) *websocket.Conn {
	t.Helper()
	h := NewProgressHandler(broker, discardLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/ingest/progress", h.Progress)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/ingest/progress"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestProgressHandlerSendsConnectedFrame(t *testing.T) {
	broker := events.NewBroker()
	conn := dialProgress(t, broker)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "connected", frame["type"])
}

func TestProgressHandlerStreamsEvents(t *testing.T) {
	broker := events.NewBroker()
	conn := dialProgress(t, broker)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, "connected", frame["type"])

	// The subscriber registers asynchronously with the handler loop.
	waitForSubscriber(t, broker)

	broker.Publish(events.FileEvent{
		Type:      events.EventTypeFileProcessed,
		BatchID:   "batch-ws",
		Filename:  "IMG_0001.jpg",
		Processed: 1,
		Timestamp: time.Now().UTC(),
	})

	var ev map[string]any
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.EventTypeFileProcessed, ev["type"])
	assert.Equal(t, "batch-ws", ev["batch_id"])
	assert.Equal(t, "IMG_0001.jpg", ev["filename"])
	assert.Equal(t, float64(1), ev["processed"])
}

func TestProgressHandlerDetachesOnClose(t *testing.T) {
	broker := events.NewBroker()
	conn := dialProgress(t, broker)
	waitForSubscriber(t, broker)

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if broker.SubscriberCount() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("subscriber was not detached after the socket closed")
}

func waitForSubscriber(t *testing.T, broker *events.Broker) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if broker.SubscriberCount() > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("handler never subscribed to the broker")
}
