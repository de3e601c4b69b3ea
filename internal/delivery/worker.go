package delivery

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/mhutchins/hookline/internal/metrics"
	"github.com/mhutchins/hookline/internal/models"
	"github.com/mhutchins/hookline/internal/signing"
	"github.com/mhutchins/hookline/internal/storage"
)

// Wire protocol headers. The three X-Webhook-* headers and Content-Type are
// protected: endpoint custom headers are merged first, so they can add or
// override anything else (including User-Agent) but never these.
const (
	HeaderEvent      = "X-Webhook-Event"
	HeaderSignature  = "X-Webhook-Signature"
	HeaderDeliveryID = "X-Webhook-Delivery-Id"

	UserAgent = "Hookline/0.2"
)

// Outcome is the result of processing one delivery. RetryIn > 0 means the
// record was left retrying and should be re-enqueued after that delay.
type Outcome struct {
	Delivered bool
	RetryIn   time.Duration
}

// Worker performs the transmission for one delivery record: it signs the
// stored payload, POSTs it, and folds the response or failure back into the
// record. It never propagates transmission errors to callers.
type Worker struct {
	store     storage.Storage
	transport Transport
	queue     Queue
	baseDelay time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

func NewWorker(store storage.Storage, transport Transport, queue Queue, baseDelay time.Duration, log zerolog.Logger) *Worker {
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	return &Worker{
		store:     store,
		transport: transport,
		queue:     queue,
		baseDelay: baseDelay,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Deliver transmits the delivery once and schedules the backoff retry when
// the record is left retrying. It returns true only on a 2xx response.
func (w *Worker) Deliver(ctx context.Context, deliveryID string) bool {
	out := w.Process(ctx, deliveryID)
	if out.RetryIn > 0 && w.queue != nil {
		w.queue.EnqueueAfter(deliveryID, out.RetryIn)
	}
	return out.Delivered
}

// Process runs one transmission attempt without touching the queue; the
// queue's consume loop uses it so the retry is scheduled only after the
// delivery id has been released from the in-flight set.
func (w *Worker) Process(ctx context.Context, deliveryID string) Outcome {
	d, err := w.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		w.log.Error().Err(err).Str("delivery_id", deliveryID).Msg("failed to load delivery")
		return Outcome{}
	}
	if d == nil {
		metrics.DeliveriesNotFound.Inc()
		w.log.Warn().Str("delivery_id", deliveryID).Msg("delivery not found, dropping")
		return Outcome{}
	}
	if d.Terminal() {
		w.log.Debug().Str("delivery_id", d.ID).Str("status", string(d.Status)).Msg("skipping terminal delivery")
		return Outcome{Delivered: d.Status == models.DeliverySuccess}
	}

	ep, err := w.store.GetEndpoint(ctx, d.EndpointID)
	if err != nil || ep == nil {
		w.log.Error().Err(err).Str("delivery_id", d.ID).Str("endpoint_id", d.EndpointID).Msg("failed to load endpoint for delivery")
		return Outcome{}
	}

	now := w.now()
	marked, err := w.store.MarkAttempt(ctx, d.ID, now)
	if err != nil {
		w.log.Error().Err(err).Str("delivery_id", d.ID).Msg("failed to record attempt")
		return Outcome{}
	}
	if !marked {
		// Lost the race against another writer; the record is no longer sendable.
		w.log.Debug().Str("delivery_id", d.ID).Msg("delivery no longer sendable, skipping")
		return Outcome{}
	}
	d.Attempts++
	d.LastAttemptAt = &now
	metrics.AttemptsTotal.Inc()

	body := []byte(d.Payload)
	result := w.transport.Post(ctx, Request{
		URL:     ep.URL,
		Body:    body,
		Headers: buildHeaders(ep, d, body),
	})

	switch {
	case result.Failure == FailureNone && IsSuccess(result.StatusCode):
		code := result.StatusCode
		d.Status = models.DeliverySuccess
		d.ResponseCode = &code
		d.ResponseBody = models.Truncate(result.Body, models.MaxResponseBody)
		d.Error = ""
		w.log.Info().
			Str("delivery_id", d.ID).
			Str("event", d.Event).
			Int("status_code", code).
			Int64("latency_ms", result.LatencyMs).
			Msg("delivery succeeded")

	case result.Failure == FailureNone:
		code := result.StatusCode
		d.ResponseCode = &code
		d.ResponseBody = models.Truncate(result.Body, models.MaxResponseBody)
		d.Error = fmt.Sprintf("HTTP %d", code)
		w.retryOrFail(d, ep)

	case result.Failure == FailureOther:
		// Unclassified failures are terminal regardless of remaining budget.
		d.Error = models.Truncate(result.Err, models.MaxErrorLen)
		d.Status = models.DeliveryFailed
		w.log.Warn().
			Str("delivery_id", d.ID).
			Int("attempts", d.Attempts).
			Str("error", d.Error).
			Msg("delivery failed on unclassified error")

	default:
		d.Error = models.Truncate(result.Err, models.MaxErrorLen)
		w.retryOrFail(d, ep)
	}

	if err := w.store.UpdateDelivery(ctx, d); err != nil {
		w.log.Error().Err(err).Str("delivery_id", d.ID).Msg("failed to persist delivery state")
		return Outcome{}
	}
	metrics.DeliveriesTotal.WithLabelValues(string(d.Status)).Inc()

	out := Outcome{Delivered: d.Status == models.DeliverySuccess}
	if d.Status == models.DeliveryRetrying {
		out.RetryIn = Backoff(w.baseDelay, d.Attempts)
	}
	return out
}

func (w *Worker) retryOrFail(d *models.Delivery, ep *models.Endpoint) {
	if d.Attempts < ep.MaxRetries {
		d.Status = models.DeliveryRetrying
		w.log.Info().
			Str("delivery_id", d.ID).
			Int("attempt", d.Attempts).
			Int("max_retries", ep.MaxRetries).
			Str("error", d.Error).
			Msg("delivery scheduled for retry")
		return
	}
	d.Status = models.DeliveryFailed
	w.log.Warn().
		Str("delivery_id", d.ID).
		Int("attempts", d.Attempts).
		Str("error", d.Error).
		Msg("delivery permanently failed")
}

func buildHeaders(ep *models.Endpoint, d *models.Delivery, body []byte) http.Header {
	h := http.Header{}
	h.Set("User-Agent", UserAgent)
	for k, v := range ep.Headers {
		h.Set(k, v)
	}
	// Protected headers win over custom ones.
	h.Set("Content-Type", "application/json")
	h.Set(HeaderEvent, d.Event)
	h.Set(HeaderSignature, signing.Header(signing.Sign(ep.Secret, body)))
	h.Set(HeaderDeliveryID, d.ID)
	return h
}
