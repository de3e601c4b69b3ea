package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mhutchins/hookline/internal/models"
	"github.com/mhutchins/hookline/internal/storage"
)

type EndpointHandler struct {
	store             storage.Storage
	defaultMaxRetries int
}

func NewEndpointHandler(store storage.Storage, defaultMaxRetries int) *EndpointHandler {
	return &EndpointHandler{store: store, defaultMaxRetries: defaultMaxRetries}
}

type createEndpointRequest struct {
	Name       string            `json:"name"`
	URL        string            `json:"url"`
	Events     []string          `json:"events"`
	Headers    map[string]string `json:"headers"`
	MaxRetries *int              `json:"max_retries"`
}

// createEndpointResponse is the only place the signing secret is ever
// returned; subscribers must store it at creation time.
type createEndpointResponse struct {
	*models.Endpoint
	Secret string `json:"secret"`
}

func validDestinationURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (h *EndpointHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if !validDestinationURL(req.URL) {
		writeError(w, http.StatusBadRequest, "url must be a valid HTTP or HTTPS URL")
		return
	}
	maxRetries := h.defaultMaxRetries
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			writeError(w, http.StatusBadRequest, "max_retries must be non-negative")
			return
		}
		maxRetries = *req.MaxRetries
	}

	now := time.Now().UTC()
	ep := &models.Endpoint{
		ID:         models.NewID("ep"),
		Name:       req.Name,
		URL:        req.URL,
		Secret:     models.NewSecret(),
		Events:     req.Events,
		Headers:    req.Headers,
		MaxRetries: maxRetries,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if ep.Events == nil {
		ep.Events = []string{}
	}
	if ep.Headers == nil {
		ep.Headers = map[string]string{}
	}

	if err := h.store.CreateEndpoint(r.Context(), ep); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create endpoint")
		return
	}

	writeJSON(w, http.StatusCreated, createEndpointResponse{Endpoint: ep, Secret: ep.Secret})
}

func (h *EndpointHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ep, err := h.store.GetEndpoint(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get endpoint")
		return
	}
	if ep == nil {
		writeError(w, http.StatusNotFound, "endpoint not found")
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (h *EndpointHandler) List(w http.ResponseWriter, r *http.Request) {
	eps, err := h.store.ListEndpoints(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list endpoints")
		return
	}
	if eps == nil {
		eps = []models.Endpoint{}
	}
	writeJSON(w, http.StatusOK, eps)
}

type updateEndpointRequest struct {
	Name       *string           `json:"name"`
	URL        string            `json:"url"`
	Events     []string          `json:"events"`
	Headers    map[string]string `json:"headers"`
	MaxRetries *int              `json:"max_retries"`
}

func (h *EndpointHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ep, err := h.store.GetEndpoint(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get endpoint")
		return
	}
	if ep == nil {
		writeError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	var req updateEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.URL != "" {
		if !validDestinationURL(req.URL) {
			writeError(w, http.StatusBadRequest, "url must be a valid HTTP or HTTPS URL")
			return
		}
		ep.URL = req.URL
	}
	if req.Name != nil {
		ep.Name = *req.Name
	}
	if req.Events != nil {
		ep.Events = req.Events
	}
	if req.Headers != nil {
		ep.Headers = req.Headers
	}
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			writeError(w, http.StatusBadRequest, "max_retries must be non-negative")
			return
		}
		ep.MaxRetries = *req.MaxRetries
	}

	if err := h.store.UpdateEndpoint(r.Context(), ep); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update endpoint")
		return
	}

	writeJSON(w, http.StatusOK, ep)
}

func (h *EndpointHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ep, err := h.store.GetEndpoint(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get endpoint")
		return
	}
	if ep == nil {
		writeError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	if err := h.store.DeleteEndpoint(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete endpoint")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// setActive backs both the activate and deactivate routes. Deactivation is a
// soft flag: the endpoint stops receiving new deliveries but its history
// stays queryable.
func (h *EndpointHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id := chi.URLParam(r, "id")
	ep, err := h.store.GetEndpoint(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get endpoint")
		return
	}
	if ep == nil {
		writeError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	if err := h.store.SetEndpointActive(r.Context(), id, active); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update endpoint")
		return
	}

	ep.Active = active
	writeJSON(w, http.StatusOK, ep)
}

func (h *EndpointHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *EndpointHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *EndpointHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ep, err := h.store.GetEndpoint(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get endpoint")
		return
	}
	if ep == nil {
		writeError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	limit, offset := pageParams(r)
	deliveries, err := h.store.ListDeliveriesByEndpoint(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list deliveries")
		return
	}
	if deliveries == nil {
		deliveries = []models.Delivery{}
	}
	writeJSON(w, http.StatusOK, deliveries)
}
