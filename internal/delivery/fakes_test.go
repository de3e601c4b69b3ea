package delivery_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mhutchins/hookline/internal/delivery"
	"github.com/mhutchins/hookline/internal/models"
	"github.com/mhutchins/hookline/internal/storage"
)

// fakeStore implements the slice of storage.Storage the engine touches;
// everything else panics via the embedded nil interface.
type fakeStore struct {
	storage.Storage

	mu         sync.Mutex
	endpoints  map[string]*models.Endpoint
	deliveries map[string]*models.Delivery

	markRefused   bool
	failCreateFor map[string]bool
	updates       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		endpoints:     make(map[string]*models.Endpoint),
		deliveries:    make(map[string]*models.Delivery),
		failCreateFor: make(map[string]bool),
	}
}

func (s *fakeStore) addEndpoint(ep models.Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[ep.ID] = &ep
}

func (s *fakeStore) addDelivery(d models.Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[d.ID] = &d
}

func (s *fakeStore) delivery(id string) models.Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.deliveries[id]
}

func (s *fakeStore) deliveryIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id := range s.deliveries {
		ids = append(ids, id)
	}
	return ids
}

func (s *fakeStore) GetEndpoint(ctx context.Context, id string) (*models.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return nil, nil
	}
	cp := *ep
	return &cp, nil
}

func (s *fakeStore) GetDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (s *fakeStore) MarkAttempt(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markRefused {
		return false, nil
	}
	d, ok := s.deliveries[id]
	if !ok || (d.Status != models.DeliveryPending && d.Status != models.DeliveryRetrying) {
		return false, nil
	}
	d.Attempts++
	t := at
	d.LastAttemptAt = &t
	return true, nil
}

func (s *fakeStore) UpdateDelivery(ctx context.Context, d *models.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.deliveries[d.ID] = &cp
	s.updates++
	return nil
}

func (s *fakeStore) CreateDelivery(ctx context.Context, d *models.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreateFor[d.EndpointID] {
		return fmt.Errorf("insert failed")
	}
	cp := *d
	s.deliveries[d.ID] = &cp
	return nil
}

func (s *fakeStore) FindSubscribed(ctx context.Context, event string) ([]models.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Endpoint
	for _, ep := range s.endpoints {
		if ep.Active && ep.Subscribed(event) {
			out = append(out, *ep)
		}
	}
	return out, nil
}

func (s *fakeStore) ListRetryable(ctx context.Context, limit int) ([]models.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Delivery
	for _, d := range s.deliveries {
		ep, ok := s.endpoints[d.EndpointID]
		if d.Status == models.DeliveryRetrying && ok && d.Attempts < ep.MaxRetries {
			out = append(out, *d)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Delivery
	for _, d := range s.deliveries {
		if d.Status == models.DeliveryPending && d.UpdatedAt.Before(cutoff) {
			out = append(out, *d)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// fakeTransport replays scripted results and records every request. The last
// result repeats once the script runs out.
type fakeTransport struct {
	mu       sync.Mutex
	results  []*delivery.Result
	requests []delivery.Request
	onPost   func(req delivery.Request)
}

func (t *fakeTransport) Post(ctx context.Context, req delivery.Request) *delivery.Result {
	t.mu.Lock()
	t.requests = append(t.requests, req)
	res := t.results[0]
	if len(t.results) > 1 {
		t.results = t.results[1:]
	}
	onPost := t.onPost
	t.mu.Unlock()
	if onPost != nil {
		onPost(req)
	}
	return res
}

func (t *fakeTransport) calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

func (t *fakeTransport) lastRequest() delivery.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requests[len(t.requests)-1]
}

// recordQueue captures scheduling calls without running anything.
type recordQueue struct {
	mu       sync.Mutex
	enqueued []string
	delayed  map[string]time.Duration
}

func newRecordQueue() *recordQueue {
	return &recordQueue{delayed: make(map[string]time.Duration)}
}

func (q *recordQueue) Enqueue(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, id)
	return true
}

func (q *recordQueue) EnqueueAfter(id string, d time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.delayed[id] = d
	return true
}

func (q *recordQueue) enqueuedIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.enqueued...)
}

func (q *recordQueue) delayFor(id string) (time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	d, ok := q.delayed[id]
	return d, ok
}
