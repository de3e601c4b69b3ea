package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mhutchins/hookline/internal/metrics"
	"github.com/mhutchins/hookline/internal/models"
	"github.com/mhutchins/hookline/internal/storage"
)

// Dispatcher fans an event out to every active subscribed endpoint, creating
// one pending delivery per endpoint and enqueuing it for transmission. It
// never blocks on transmission and never lets one endpoint's failure stop
// the rest of the fan-out.
type Dispatcher struct {
	store storage.Storage
	queue Queue
	log   zerolog.Logger
	now   func() time.Time
}

func NewDispatcher(store storage.Storage, queue Queue, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store: store,
		queue: queue,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch creates and enqueues one delivery per subscribed endpoint and
// returns the number created. The only errors returned are input validation
// and registry lookup failures; per-endpoint persistence errors are logged
// and absorbed.
func (dp *Dispatcher) Dispatch(ctx context.Context, event string, payload json.RawMessage) (int, error) {
	if event == "" {
		return 0, fmt.Errorf("dispatch: event name is required")
	}

	endpoints, err := dp.store.FindSubscribed(ctx, event)
	if err != nil {
		return 0, fmt.Errorf("dispatch: find subscribed endpoints: %w", err)
	}
	metrics.DispatchesTotal.Inc()

	created := 0
	now := dp.now()
	for _, ep := range endpoints {
		d := &models.Delivery{
			ID:         models.NewID("dlv"),
			EndpointID: ep.ID,
			Event:      event,
			Payload:    payload,
			Status:     models.DeliveryPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := dp.store.CreateDelivery(ctx, d); err != nil {
			dp.log.Error().Err(err).
				Str("endpoint_id", ep.ID).
				Str("event", event).
				Msg("failed to create delivery, continuing fan-out")
			continue
		}
		created++
		metrics.DeliveriesCreated.Inc()
		if !dp.queue.Enqueue(d.ID) {
			// Row stays pending; the sweeper re-enqueues it once the queue
			// has room again.
			dp.log.Warn().
				Str("delivery_id", d.ID).
				Str("endpoint_id", ep.ID).
				Msg("enqueue dropped, delivery deferred to sweeper")
		}
	}

	dp.log.Info().
		Str("event", event).
		Int("deliveries", created).
		Msg("event dispatched")
	return created, nil
}
