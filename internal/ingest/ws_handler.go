package ingest

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/p-buglewicz/photo-lens/internal/events"
)

// heartbeatInterval is how long the progress socket stays silent before
// a keep-alive frame is sent.
const heartbeatInterval = 30 * time.Second

// ProgressHandler streams live per-file ingestion events over a
// WebSocket. Delivery is best-effort: a subscriber that attaches
// mid-run only sees events emitted after attachment.
type ProgressHandler struct {
	broker   *events.Broker
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewProgressHandler(broker *events.Broker, log *slog.Logger) *ProgressHandler {
	return &ProgressHandler{
		broker: broker,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Progress handles GET /ws/ingest/progress.
func (h *ProgressHandler) Progress(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch, unsubscribe := h.broker.Subscribe()
	defer unsubscribe()

	if err := conn.WriteJSON(map[string]string{"type": "connected"}); err != nil {
		return
	}

	// Reader goroutine: the client never sends payloads, but reading is
	// required to notice disconnects and process control frames.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTimer(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if !heartbeat.Stop() {
				select {
				case <-heartbeat.C:
				default:
				}
			}
			heartbeat.Reset(heartbeatInterval)
		case <-heartbeat.C:
			if err := conn.WriteJSON(map[string]string{"type": "heartbeat"}); err != nil {
				return
			}
			heartbeat.Reset(heartbeatInterval)
		case <-disconnected:
			return
		case <-r.Context().Done():
			return
		}
	}
}
