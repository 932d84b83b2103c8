package ingest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/p-buglewicz/photo-lens/internal/httpx"
)

const (
	defaultStatusLimit = 20
	maxStatusLimit     = 200
)

type HTTPHandler struct {
	svc *Service
}

func NewHTTPHandler(svc *Service) *HTTPHandler {
	return &HTTPHandler{svc: svc}
}

// Start handles POST /ingest/start
// @Summary Trigger a background ingestion batch
// @Description Creates the batch record and starts the worker; returns before processing finishes
// @Tags ingest
// @Produce json
// @Param limit query int false "Maximum number of items to process"
// @Param reprocess query bool false "Overwrite already-ingested photos"
// @Param takeout_path query string false "Override TAKEOUT_PATH for this run"
// @Param batch_id query string false "Caller-supplied batch identifier"
// @Success 202 {object} httpx.SuccessResponse
// @Failure 400 {object} httpx.ErrorResponse
// @Failure 409 {object} httpx.ErrorResponse
// @Router /ingest/start [post]
func (h *HTTPHandler) Start(w http.ResponseWriter, r *http.Request) {
	req := StartRequest{
		BatchID:     r.URL.Query().Get("batch_id"),
		TakeoutPath: r.URL.Query().Get("takeout_path"),
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			httpx.JSONError(w, r, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		req.Limit = &limit
	}
	if raw := r.URL.Query().Get("reprocess"); raw != "" {
		reprocess, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.JSONError(w, r, http.StatusBadRequest, "INVALID_REPROCESS", "reprocess must be a boolean")
			return
		}
		req.Reprocess = &reprocess
	}

	b, err := h.svc.Start(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateBatch):
			httpx.JSONError(w, r, http.StatusConflict, "DUPLICATE_BATCH", "batch_id already exists")
		case errors.Is(err, ErrTakeoutPath):
			httpx.JSONError(w, r, http.StatusBadRequest, "INVALID_TAKEOUT_PATH", err.Error())
		default:
			httpx.JSONError(w, r, http.StatusInternalServerError, "START_FAILED", err.Error())
		}
		return
	}

	httpx.JSONAccepted(w, r, map[string]string{
		"batch_id": b.BatchID,
		"status":   string(b.Status),
	})
}

// batchResponse is the wire shape of one batch record.
type batchResponse struct {
	BatchID        string  `json:"batch_id"`
	Status         string  `json:"status"`
	ProcessedFiles int     `json:"processed_files"`
	SkippedFiles   int     `json:"skipped_files"`
	TotalFiles     *int    `json:"total_files"`
	StartedAt      string  `json:"started_at"`
	CompletedAt    *string `json:"completed_at"`
	ErrorMessage   string  `json:"error_message,omitempty"`
}

func toBatchResponse(b Batch) batchResponse {
	resp := batchResponse{
		BatchID:        b.BatchID,
		Status:         string(b.Status),
		ProcessedFiles: b.ProcessedFiles,
		SkippedFiles:   b.SkippedFiles,
		TotalFiles:     b.TotalFiles,
		StartedAt:      b.StartedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		ErrorMessage:   b.ErrorMessage,
	}
	if b.CompletedAt != nil {
		s := b.CompletedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00")
		resp.CompletedAt = &s
	}
	return resp
}

// Status handles GET /ingest/status
// @Summary List recent ingestion batches
// @Tags ingest
// @Produce json
// @Param limit query int false "Page size (1-200, default 20)"
// @Success 200 {object} httpx.SuccessResponse
// @Router /ingest/status [get]
func (h *HTTPHandler) Status(w http.ResponseWriter, r *http.Request) {
	limit := defaultStatusLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.JSONError(w, r, http.StatusBadRequest, "INVALID_LIMIT", "limit must be an integer")
			return
		}
		limit = parsed
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxStatusLimit {
		limit = maxStatusLimit
	}

	batches, err := h.svc.ListRecent(r.Context(), limit)
	if err != nil {
		httpx.JSONError(w, r, http.StatusInternalServerError, "STATUS_FAILED", err.Error())
		return
	}

	items := make([]batchResponse, 0, len(batches))
	for _, b := range batches {
		items = append(items, toBatchResponse(b))
	}
	httpx.JSONSuccess(w, r, map[string]any{"items": items})
}

// Config handles /ingest/config for GET, PUT and DELETE: runtime
// overrides for the takeout path and trigger defaults.
func (h *HTTPHandler) Config(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httpx.JSONSuccess(w, r, h.svc.Config())
	case http.MethodPut:
		var update ConfigUpdate
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			httpx.JSONError(w, r, http.StatusBadRequest, "INVALID_BODY", "malformed config payload")
			return
		}
		cfg, err := h.svc.UpdateConfig(update)
		if err != nil {
			httpx.JSONError(w, r, http.StatusBadRequest, "INVALID_TAKEOUT_PATH", err.Error())
			return
		}
		httpx.JSONSuccess(w, r, cfg)
	case http.MethodDelete:
		h.svc.ClearConfig()
		httpx.JSONNoContent(w)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
