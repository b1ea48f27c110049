package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/SmartGenzAI1/Aii-sub000/internal/gateway/router"
	"github.com/SmartGenzAI1/Aii-sub000/internal/shared/database"
	"github.com/SmartGenzAI1/Aii-sub000/internal/shared/models"
)

type ChatHandler struct {
	router *router.Router
	db     *database.DB
}

// NewChatHandler builds the chat API handler. db may be nil, in which
// case request logging is skipped.
func NewChatHandler(rt *router.Router, db *database.DB) *ChatHandler {
	return &ChatHandler{
		router: rt,
		db:     db,
	}
}

type chatRequest struct {
	Prompt string `json:"prompt"`
	Tier   string `json:"tier"`
}

type chunkEvent struct {
	Content string `json:"content"`
}

type errorEvent struct {
	Error string `json:"error"`
}

// HandleChat handles POST /api/v1/chat. The response is a Server-Sent
// Events stream: one data event per model chunk, then "data: [DONE]".
// A failure after output has started is reported as a final error
// event instead of [DONE].
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Prompt == "" {
		http.Error(w, "prompt is required", http.StatusBadRequest)
		return
	}
	if req.Tier == "" {
		req.Tier = string(models.TierBalanced)
	}
	tier, err := models.ParseTier(req.Tier)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	routeReq := router.Request{
		Prompt:   req.Prompt,
		Tier:     tier,
		UserID:   r.Header.Get("X-User-ID"),
		ClientIP: ClientIP(r),
	}

	stream, err := h.router.Route(ctx, routeReq)
	if err != nil {
		h.writeRouteError(w, err)
		h.logRequest(ctx, routeReq, nil, time.Since(startTime), err)
		return
	}
	defer stream.Close()

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Relay chunks as they arrive
	var streamErr error
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			streamErr = err
			data, _ := json.Marshal(errorEvent{Error: err.Error()})
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
			break
		}

		data, _ := json.Marshal(chunkEvent{Content: chunk})
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	if streamErr == nil {
		fmt.Fprintf(w, "data: [DONE]\n\n")
		flusher.Flush()
	}

	h.logRequest(ctx, routeReq, stream, time.Since(startTime), streamErr)
}

// HandleQuota handles GET /api/v1/quota
func (h *ChatHandler) HandleQuota(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		http.Error(w, "X-User-ID header is required", http.StatusBadRequest)
		return
	}

	info, err := h.router.Quota(r.Context(), userID)
	if err != nil {
		http.Error(w, "failed to load quota", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// HandleStatus handles GET /api/v1/status. Instances that run their own
// health monitor answer from memory; an instance with probing disabled
// serves the snapshot a probing instance persisted.
func (h *ChatHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status := h.router.ProviderStatus()
	if len(status) == 0 && h.db != nil {
		persisted, err := h.db.ListProviderStatus(r.Context())
		if err != nil {
			http.Error(w, "failed to load provider status", http.StatusInternalServerError)
			return
		}
		status = persisted
	}
	if status == nil {
		status = []models.ProviderStatus{}
	}
	writeJSON(w, http.StatusOK, status)
}

// writeRouteError maps routing failures onto HTTP status codes. Callers
// only ever see the router's public messages.
func (h *ChatHandler) writeRouteError(w http.ResponseWriter, err error) {
	var re *models.RouteError
	if !errors.As(err, &re) {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	switch re.Kind {
	case models.ErrRateLimited:
		w.Header().Set("Retry-After", strconv.Itoa(int(re.RetryAfter.Seconds())))
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error": re.Message,
		})
	case models.ErrQuotaExceeded:
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error": re.Message,
			"quota": re.Quota,
		})
	case models.ErrAllProvidersUnavailable:
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error": re.Message,
		})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": re.Message,
		})
	}
}

// logRequest records the outcome of a chat request. stream is nil when
// the request was rejected before reaching any provider.
func (h *ChatHandler) logRequest(ctx context.Context, req router.Request, stream *router.Stream, duration time.Duration, err error) {
	if h.db == nil {
		return
	}

	entry := &models.RequestLog{
		RequestID: RequestIDFromContext(ctx),
		UserID:    req.UserID,
		Tier:      string(req.Tier),
		Status:    "ok",
		LatencyMs: int(duration.Milliseconds()),
	}
	if stream != nil {
		entry.Provider = stream.Provider()
		entry.Model = stream.Model()
		entry.FailoverUsed = stream.FailoverUsed()
		entry.Chunks = stream.Chunks()
	}
	if err != nil {
		entry.Status = "error"
		var re *models.RouteError
		if errors.As(err, &re) {
			entry.Status = string(re.Kind)
		}
		errMsg := err.Error()
		entry.ErrorMessage = &errMsg
	}

	// Log asynchronously to avoid blocking the response
	go h.db.LogRequest(context.Background(), entry)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
