package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mhutchins/hookline/internal/metrics"
	"github.com/mhutchins/hookline/internal/storage"
)

// DefaultPendingGrace is how long a pending delivery may sit untouched
// before the sweeper treats its enqueue as lost.
const DefaultPendingGrace = time.Minute

// Sweeper re-enqueues deliveries stranded by a lost in-memory enqueue. It
// covers two states: retrying records whose backoff timer died with the
// process, and pending records whose initial enqueue was dropped (full
// queue, restart before the consumer got to them). Safe to run repeatedly;
// the queue's per-id guard skips anything already queued or in flight.
type Sweeper struct {
	store storage.Storage
	queue Queue
	batch int
	grace time.Duration
	log   zerolog.Logger
	now   func() time.Time
}

func NewSweeper(store storage.Storage, queue Queue, batch int, grace time.Duration, log zerolog.Logger) *Sweeper {
	if batch <= 0 {
		batch = 100
	}
	if grace <= 0 {
		grace = DefaultPendingGrace
	}
	return &Sweeper{
		store: store,
		queue: queue,
		batch: batch,
		grace: grace,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// RetryFailed enqueues every retryable delivery plus any pending delivery
// older than the grace window, and returns the number actually enqueued.
// The grace keeps freshly dispatched records out of the sweep while their
// original enqueue is still working through the queue.
func (s *Sweeper) RetryFailed(ctx context.Context) (int, error) {
	deliveries, err := s.store.ListRetryable(ctx, s.batch)
	if err != nil {
		return 0, fmt.Errorf("sweep: list retryable deliveries: %w", err)
	}
	stale, err := s.store.ListStalePending(ctx, s.now().Add(-s.grace), s.batch)
	if err != nil {
		return 0, fmt.Errorf("sweep: list stale pending deliveries: %w", err)
	}
	deliveries = append(deliveries, stale...)

	enqueued := 0
	for _, d := range deliveries {
		if s.queue.Enqueue(d.ID) {
			enqueued++
		}
	}

	if enqueued > 0 {
		metrics.SweeperRequeued.Add(float64(enqueued))
		s.log.Info().Int("requeued", enqueued).Int("retryable", len(deliveries)).Msg("sweep complete")
	}
	return enqueued, nil
}
