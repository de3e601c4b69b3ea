package storage

import (
	"context"
	"time"

	"github.com/mhutchins/hookline/internal/models"
)

// Storage is the durable backing for the endpoint registry and the delivery
// record store. Lookups return (nil, nil) when the row does not exist.
type Storage interface {
	// Endpoint registry
	CreateEndpoint(ctx context.Context, ep *models.Endpoint) error
	GetEndpoint(ctx context.Context, id string) (*models.Endpoint, error)
	ListEndpoints(ctx context.Context) ([]models.Endpoint, error)
	UpdateEndpoint(ctx context.Context, ep *models.Endpoint) error
	DeleteEndpoint(ctx context.Context, id string) error
	SetEndpointActive(ctx context.Context, id string, active bool) error
	// FindSubscribed returns the active endpoints whose event list contains
	// event. Order is unspecified.
	FindSubscribed(ctx context.Context, event string) ([]models.Endpoint, error)

	// Delivery records
	CreateDelivery(ctx context.Context, d *models.Delivery) error
	GetDelivery(ctx context.Context, id string) (*models.Delivery, error)
	UpdateDelivery(ctx context.Context, d *models.Delivery) error
	ListDeliveriesByEndpoint(ctx context.Context, endpointID string, limit, offset int) ([]models.Delivery, error)
	// MarkAttempt increments the attempt counter and stamps the attempt time
	// iff the delivery is still in a sendable state (pending or retrying).
	// It returns false when the record is terminal or missing, which makes a
	// stale enqueue a no-op instead of a duplicate transmission.
	MarkAttempt(ctx context.Context, id string, at time.Time) (bool, error)
	// ListRetryable returns deliveries in status retrying whose attempt count
	// is still below the owning endpoint's retry budget.
	ListRetryable(ctx context.Context, limit int) ([]models.Delivery, error)
	// ListStalePending returns pending deliveries last touched before cutoff.
	// These are records whose in-memory enqueue was lost (full queue, process
	// restart) and that would otherwise never be attempted.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Delivery, error)

	// Stats
	GetStats(ctx context.Context) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

type Stats struct {
	TotalDeliveries int64   `json:"total_deliveries"`
	SuccessCount    int64   `json:"success_count"`
	FailedCount     int64   `json:"failed_count"`
	PendingCount    int64   `json:"pending_count"`
	RetryingCount   int64   `json:"retrying_count"`
	SuccessRate     float64 `json:"success_rate"`
	TotalEndpoints  int64   `json:"total_endpoints"`
	ActiveEndpoints int64   `json:"active_endpoints"`
}
