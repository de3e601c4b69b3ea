package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Queue schedules delivery ids for transmission. Both methods return false
// when the id is already queued, scheduled, or in flight. That per-id guard
// makes sweeper passes idempotent and prevents double-sends.
type Queue interface {
	Enqueue(id string) bool
	EnqueueAfter(id string, delay time.Duration) bool
}

// Deliverer consumes one delivery id. Satisfied by *Worker.
type Deliverer interface {
	Process(ctx context.Context, id string) Outcome
}

// DeliveryQueue is an in-process Queue backed by a bounded channel and a
// fixed pool of consumer goroutines. An id stays in the pending set from
// enqueue until its transmission finishes, so at most one attempt per id is
// ever in flight.
type DeliveryQueue struct {
	ch      chan string
	workers int
	log     zerolog.Logger

	mu      sync.Mutex
	pending map[string]struct{}

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewDeliveryQueue(size, workers int, log zerolog.Logger) *DeliveryQueue {
	if size <= 0 {
		size = 1024
	}
	if workers <= 0 {
		workers = 1
	}
	return &DeliveryQueue{
		ch:      make(chan string, size),
		workers: workers,
		log:     log,
		pending: make(map[string]struct{}),
		stop:    make(chan struct{}),
	}
}

func (q *DeliveryQueue) Enqueue(id string) bool {
	if !q.claim(id) {
		return false
	}
	select {
	case q.ch <- id:
		return true
	default:
		q.release(id)
		q.log.Warn().Str("delivery_id", id).Msg("delivery queue full, dropping enqueue")
		return false
	}
}

func (q *DeliveryQueue) EnqueueAfter(id string, delay time.Duration) bool {
	if delay <= 0 {
		return q.Enqueue(id)
	}
	if !q.claim(id) {
		return false
	}
	q.schedule(id, delay)
	return true
}

// schedule arms the retry timer for an already claimed id. The claim is held
// until the id is consumed or the queue stops.
func (q *DeliveryQueue) schedule(id string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		select {
		case q.ch <- id:
		case <-q.stop:
			q.release(id)
		}
	})
}

func (q *DeliveryQueue) claim(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.pending[id]; ok {
		return false
	}
	q.pending[id] = struct{}{}
	return true
}

func (q *DeliveryQueue) release(id string) {
	q.mu.Lock()
	delete(q.pending, id)
	q.mu.Unlock()
}

// Pending reports whether id is queued, scheduled, or in flight.
func (q *DeliveryQueue) Pending(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[id]
	return ok
}

// Start launches the consumer pool.
func (q *DeliveryQueue) Start(ctx context.Context, d Deliverer) {
	q.log.Info().Int("workers", q.workers).Msg("starting delivery queue")
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-q.stop:
					return
				case <-ctx.Done():
					return
				case id := <-q.ch:
					q.consume(ctx, d, id)
				}
			}
		}()
	}
}

func (q *DeliveryQueue) consume(ctx context.Context, d Deliverer, id string) {
	out := d.Process(ctx, id)
	if out.RetryIn > 0 {
		// Keep the claim across the backoff window so a concurrent sweep
		// cannot re-enqueue the id early and skip the delay.
		q.schedule(id, out.RetryIn)
		return
	}
	q.release(id)
}

func (q *DeliveryQueue) Stop() {
	q.log.Info().Msg("stopping delivery queue")
	close(q.stop)
	q.wg.Wait()
	q.log.Info().Msg("delivery queue stopped")
}
