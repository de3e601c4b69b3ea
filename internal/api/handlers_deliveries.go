package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mhutchins/hookline/internal/delivery"
	"github.com/mhutchins/hookline/internal/models"
	"github.com/mhutchins/hookline/internal/storage"
)

type DeliveryHandler struct {
	store storage.Storage
	queue delivery.Queue
}

func NewDeliveryHandler(store storage.Storage, queue delivery.Queue) *DeliveryHandler {
	return &DeliveryHandler{store: store, queue: queue}
}

func (h *DeliveryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := h.store.GetDelivery(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get delivery")
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "delivery not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Redeliver is an operator override: it puts a permanently failed delivery
// back into retrying and enqueues it for one more attempt. The attempt
// counter keeps counting, so a further failure makes it terminal again.
func (h *DeliveryHandler) Redeliver(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := h.store.GetDelivery(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get delivery")
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "delivery not found")
		return
	}
	if d.Status != models.DeliveryFailed {
		writeError(w, http.StatusConflict, "only failed deliveries can be redelivered")
		return
	}

	d.Status = models.DeliveryRetrying
	d.UpdatedAt = time.Now().UTC()
	if err := h.store.UpdateDelivery(r.Context(), d); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update delivery")
		return
	}
	if !h.queue.Enqueue(d.ID) {
		// Left retrying with a spent budget the sweeper would skip, so roll
		// the record back and let the caller retry.
		d.Status = models.DeliveryFailed
		d.UpdatedAt = time.Now().UTC()
		if err := h.store.UpdateDelivery(r.Context(), d); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to update delivery")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "delivery queue is full, try again later")
		return
	}

	writeJSON(w, http.StatusAccepted, d)
}
