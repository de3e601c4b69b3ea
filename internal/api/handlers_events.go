package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/mhutchins/hookline/internal/delivery"
)

type EventHandler struct {
	dispatcher *delivery.Dispatcher
}

func NewEventHandler(dispatcher *delivery.Dispatcher) *EventHandler {
	return &EventHandler{dispatcher: dispatcher}
}

type dispatchRequest struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

const maxPayloadSize = 256 * 1024 // 256KB

// Dispatch is the trigger API: business-event producers POST here and get a
// 202 as soon as the fan-out records exist. Slow or unreachable subscribers
// never surface to the caller.
func (h *EventHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadSize)
	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Event == "" {
		writeError(w, http.StatusBadRequest, "event is required")
		return
	}
	if len(req.Payload) == 0 {
		writeError(w, http.StatusBadRequest, "payload is required")
		return
	}

	created, err := h.dispatcher.Dispatch(r.Context(), req.Event, req.Payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to dispatch event")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"event":      req.Event,
		"deliveries": created,
	})
}

func pageParams(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}
