package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhutchins/hookline/internal/api"
	"github.com/mhutchins/hookline/internal/config"
	"github.com/mhutchins/hookline/internal/delivery"
	"github.com/mhutchins/hookline/internal/models"
	"github.com/mhutchins/hookline/internal/storage"
)

type testEnv struct {
	store  storage.Storage
	queue  *delivery.DeliveryQueue
	router http.Handler
}

func newTestEnv(t *testing.T, authToken string) *testEnv {
	return newTestEnvQueue(t, authToken, 64)
}

func newTestEnvQueue(t *testing.T, authToken string, queueSize int) *testEnv {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { store.Close() })

	log := zerolog.Nop()
	// The queue is never started: enqueued ids just sit in the buffer, which
	// is enough to assert dispatch side effects.
	queue := delivery.NewDeliveryQueue(queueSize, 1, log)
	dispatcher := delivery.NewDispatcher(store, queue, log)

	cfg := config.Config{}
	cfg.Delivery.MaxRetries = 3
	cfg.API.AuthToken = authToken

	srv := api.NewServer(cfg, store, dispatcher, queue, log)
	return &testEnv{store: store, queue: queue, router: srv.Router()}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), into))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateEndpoint(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(t, http.MethodPost, "/api/v1/endpoints", map[string]interface{}{
		"name":   "crm sync",
		"url":    "https://crm.example.com/hooks",
		"events": []string{"member.created"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		ID         string `json:"id"`
		Secret     string `json:"secret"`
		MaxRetries int    `json:"max_retries"`
		Active     bool   `json:"active"`
	}
	decode(t, w, &resp)
	assert.NotEmpty(t, resp.ID)
	assert.Contains(t, resp.Secret, "whsec_")
	assert.Equal(t, 3, resp.MaxRetries, "default budget from config")
	assert.True(t, resp.Active)

	// The secret appears only in the creation response.
	w = env.do(t, http.MethodGet, "/api/v1/endpoints/"+resp.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), resp.Secret)
}

func TestCreateEndpoint_validation(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(t, http.MethodPost, "/api/v1/endpoints", map[string]interface{}{"name": "no url"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/endpoints", map[string]interface{}{"url": "ftp://nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/endpoints", map[string]interface{}{
		"url": "https://ok.example.com", "max_retries": -1,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDispatchEvent_fanOut(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(t, http.MethodPost, "/api/v1/endpoints", map[string]interface{}{
		"url": "https://a.example.com", "events": []string{"member.created"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	w = env.do(t, http.MethodPost, "/api/v1/endpoints", map[string]interface{}{
		"url": "https://b.example.com", "events": []string{"donation.received"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/events", map[string]interface{}{
		"event":   "member.created",
		"payload": map[string]string{"id": "123"},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		Event      string `json:"event"`
		Deliveries int    `json:"deliveries"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "member.created", resp.Event)
	assert.Equal(t, 1, resp.Deliveries)
}

func TestDispatchEvent_validation(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(t, http.MethodPost, "/api/v1/events", map[string]interface{}{
		"payload": map[string]string{"id": "123"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/events", map[string]interface{}{
		"event": "member.created",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeactivateEndpoint_stopsFanOut(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(t, http.MethodPost, "/api/v1/endpoints", map[string]interface{}{
		"url": "https://a.example.com", "events": []string{"member.created"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		ID string `json:"id"`
	}
	decode(t, w, &created)

	w = env.do(t, http.MethodPatch, "/api/v1/endpoints/"+created.ID+"/deactivate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ep models.Endpoint
	decode(t, w, &ep)
	assert.False(t, ep.Active)

	w = env.do(t, http.MethodPost, "/api/v1/events", map[string]interface{}{
		"event":   "member.created",
		"payload": map[string]string{"id": "123"},
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp struct {
		Deliveries int `json:"deliveries"`
	}
	decode(t, w, &resp)
	assert.Zero(t, resp.Deliveries)
}

func TestGetDelivery_notFound(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, http.MethodGet, "/api/v1/deliveries/dlv_nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRedeliver(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	now := time.Now().UTC()
	ep := &models.Endpoint{ID: "ep_1", URL: "https://a.example.com", Secret: "whsec_x", MaxRetries: 3, Active: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, env.store.CreateEndpoint(ctx, ep))
	failed := &models.Delivery{ID: "dlv_failed", EndpointID: "ep_1", Event: "member.created",
		Payload: json.RawMessage(`{}`), Status: models.DeliveryFailed, Attempts: 3, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, env.store.CreateDelivery(ctx, failed))
	pending := &models.Delivery{ID: "dlv_pending", EndpointID: "ep_1", Event: "member.created",
		Payload: json.RawMessage(`{}`), Status: models.DeliveryPending, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, env.store.CreateDelivery(ctx, pending))

	w := env.do(t, http.MethodPost, "/api/v1/deliveries/dlv_failed/redeliver", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	d, err := env.store.GetDelivery(ctx, "dlv_failed")
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryRetrying, d.Status)
	assert.True(t, env.queue.Pending("dlv_failed"))

	w = env.do(t, http.MethodPost, "/api/v1/deliveries/dlv_pending/redeliver", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "only failed deliveries can be redelivered")
}

func TestRedeliver_queueFull(t *testing.T) {
	env := newTestEnvQueue(t, "", 1)
	ctx := context.Background()

	now := time.Now().UTC()
	ep := &models.Endpoint{ID: "ep_1", URL: "https://a.example.com", Secret: "whsec_x", MaxRetries: 3, Active: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, env.store.CreateEndpoint(ctx, ep))
	failed := &models.Delivery{ID: "dlv_failed", EndpointID: "ep_1", Event: "member.created",
		Payload: json.RawMessage(`{}`), Status: models.DeliveryFailed, Attempts: 3, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, env.store.CreateDelivery(ctx, failed))

	require.True(t, env.queue.Enqueue("dlv_filler"))

	w := env.do(t, http.MethodPost, "/api/v1/deliveries/dlv_failed/redeliver", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	d, err := env.store.GetDelivery(ctx, "dlv_failed")
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryFailed, d.Status,
		"a refused enqueue rolls the record back so redeliver can be retried")
	assert.False(t, env.queue.Pending("dlv_failed"))
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var stats storage.Stats
	decode(t, w, &stats)
	assert.Zero(t, stats.TotalDeliveries)
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, "s3cret")

	w := env.do(t, http.MethodGet, "/api/v1/endpoints", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/endpoints", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/endpoints", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health and metrics stay open.
	w = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
