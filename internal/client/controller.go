// Package client implements the ingestion tracking controller: it
// triggers a batch, then follows it to completion by reconciling two
// independent observation paths: periodic status polling and the live
// WebSocket progress feed. Polled status alone decides terminal state;
// push events only add per-file detail.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is the controller's lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateDone     State = "done"
	StateError    State = "error"
)

const (
	defaultPollInterval     = 2 * time.Second
	defaultReconnectBackoff = 2 * time.Second
	// statusPageSize keeps the tracked batch visible even when other
	// runs start concurrently.
	statusPageSize = 50
)

// BatchStatus mirrors the wire shape of one batch record.
type BatchStatus struct {
	BatchID        string  `json:"batch_id"`
	Status         string  `json:"status"`
	ProcessedFiles int     `json:"processed_files"`
	SkippedFiles   int     `json:"skipped_files"`
	TotalFiles     *int    `json:"total_files"`
	StartedAt      string  `json:"started_at"`
	CompletedAt    *string `json:"completed_at"`
	ErrorMessage   string  `json:"error_message,omitempty"`
}

// ProgressEvent mirrors one push-channel frame.
type ProgressEvent struct {
	Type      string `json:"type"`
	BatchID   string `json:"batch_id"`
	Filename  string `json:"filename"`
	Processed int    `json:"processed"`
}

// Options tunes the controller.
type Options struct {
	// Limit and Reprocess are forwarded to the trigger request.
	Limit     int
	Reprocess bool
	// PollInterval is the status poll cadence (default 2s).
	PollInterval time.Duration
	// ReconnectBackoff is the wait before re-dialing a dropped
	// subscription (default 2s).
	ReconnectBackoff time.Duration
	// OnEvent is invoked for every push event of the tracked batch.
	OnEvent func(ProgressEvent)
	// OnStatus is invoked after every successful poll.
	OnStatus func(BatchStatus)
}

// Controller runs one trigger-and-track session. It is single use.
type Controller struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
	opts       Options

	mu      sync.RWMutex
	state   State
	batchID string
}

// New creates a controller for the server at baseURL (e.g.
// "http://localhost:8080").
func New(baseURL string, log *slog.Logger, opts Options) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.ReconnectBackoff <= 0 {
		opts.ReconnectBackoff = defaultReconnectBackoff
	}
	return &Controller{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
		opts:       opts,
		state:      StateIdle,
	}
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// BatchID returns the tracked batch ID, once known.
func (c *Controller) BatchID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.batchID
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run triggers a batch and tracks it to a terminal state. It returns
// the final polled batch record. All local state updates happen on this
// goroutine; the subscription goroutine only feeds a channel.
func (c *Controller) Run(ctx context.Context) (BatchStatus, error) {
	c.setState(StateStarting)

	batchID, err := c.trigger(ctx)
	if err != nil {
		c.setState(StateError)
		return BatchStatus{}, err
	}
	c.mu.Lock()
	c.batchID = batchID
	c.state = StateActive
	c.mu.Unlock()
	c.log.Info("batch triggered", "batch_id", batchID)

	events := make(chan ProgressEvent, 16)
	subCtx, cancelSub := context.WithCancel(ctx)
	defer cancelSub()
	go c.maintainSubscription(subCtx, events)

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.setState(StateError)
			return BatchStatus{}, ctx.Err()

		case ev := <-events:
			if ev.BatchID != batchID {
				continue
			}
			if c.opts.OnEvent != nil {
				c.opts.OnEvent(ev)
			}

		case <-ticker.C:
			st, err := c.fetchStatus(ctx, batchID)
			if err != nil {
				c.setState(StateError)
				return BatchStatus{}, err
			}
			if c.opts.OnStatus != nil {
				c.opts.OnStatus(st)
			}
			switch st.Status {
			case "completed":
				c.setState(StateDone)
				return st, nil
			case "failed":
				c.setState(StateError)
				return st, fmt.Errorf("batch %s failed: %s", batchID, st.ErrorMessage)
			}
		}
	}
}

func (c *Controller) trigger(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/ingest/start?reprocess=%t", c.baseURL, c.opts.Reprocess)
	if c.opts.Limit > 0 {
		url = fmt.Sprintf("%s&limit=%d", url, c.opts.Limit)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("trigger ingestion: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read trigger response: %w", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("trigger rejected: %s - %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var envelope struct {
		Success bool `json:"success"`
		Data    struct {
			BatchID string `json:"batch_id"`
			Status  string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", fmt.Errorf("decode trigger response: %w", err)
	}
	if envelope.Data.BatchID == "" {
		return "", errors.New("trigger response missing batch_id")
	}
	return envelope.Data.BatchID, nil
}

func (c *Controller) fetchStatus(ctx context.Context, batchID string) (BatchStatus, error) {
	url := fmt.Sprintf("%s/ingest/status?limit=%d", c.baseURL, statusPageSize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return BatchStatus{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return BatchStatus{}, fmt.Errorf("poll status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return BatchStatus{}, fmt.Errorf("poll status: %s", resp.Status)
	}

	var envelope struct {
		Success bool `json:"success"`
		Data    struct {
			Items []BatchStatus `json:"items"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return BatchStatus{}, fmt.Errorf("decode status response: %w", err)
	}

	for _, item := range envelope.Data.Items {
		if item.BatchID == batchID {
			return item, nil
		}
	}
	return BatchStatus{}, fmt.Errorf("batch %s not in recent status page", batchID)
}

// maintainSubscription holds a push-channel subscription open for the
// life of ctx, re-dialing after ReconnectBackoff whenever the
// connection drops. Events are forwarded to out; frames that are not
// file_processed (connected, heartbeat) are discarded.
func (c *Controller) maintainSubscription(ctx context.Context, out chan<- ProgressEvent) {
	wsURL := strings.Replace(c.baseURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL += "/ws/ingest/progress"

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := dialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			c.log.Debug("subscription dial failed", "error", err)
		} else {
			c.readEvents(ctx, conn, out)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.opts.ReconnectBackoff):
		}
	}
}

func (c *Controller) readEvents(ctx context.Context, conn *websocket.Conn, out chan<- ProgressEvent) {
	defer conn.Close()

	// Unblock the read loop when the controller stops tracking.
	readDone := make(chan struct{})
	defer close(readDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-readDone:
		}
	}()

	for {
		var ev ProgressEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() == nil {
				c.log.Debug("subscription dropped", "error", err)
			}
			return
		}
		if ev.Type != "file_processed" {
			continue
		}
		select {
		case out <- ev:
		default:
			// The poll path remains authoritative; drop rather than block.
		}
	}
}
