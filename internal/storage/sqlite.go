package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mhutchins/hookline/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS endpoints (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL,
			secret TEXT NOT NULL,
			events TEXT NOT NULL DEFAULT '[]',
			headers TEXT NOT NULL DEFAULT '{}',
			max_retries INTEGER NOT NULL DEFAULT 3,
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id TEXT PRIMARY KEY,
			endpoint_id TEXT NOT NULL REFERENCES endpoints(id) ON DELETE CASCADE,
			event TEXT NOT NULL,
			payload TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			response_code INTEGER,
			response_body TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			last_attempt_at DATETIME,
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_endpoints_active ON endpoints(active)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_endpoint ON deliveries(endpoint_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_retrying ON deliveries(status) WHERE status IN ('pending', 'retrying')`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- Endpoints ---

func (s *SQLiteStorage) CreateEndpoint(ctx context.Context, ep *models.Endpoint) error {
	events, _ := json.Marshal(ep.Events)
	headers, _ := json.Marshal(ep.Headers)
	active := 0
	if ep.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO endpoints (id, name, url, secret, events, headers, max_retries, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ep.ID, ep.Name, ep.URL, ep.Secret, string(events), string(headers), ep.MaxRetries, active, ep.CreatedAt, ep.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) scanEndpoint(row interface{ Scan(...interface{}) error }) (*models.Endpoint, error) {
	var ep models.Endpoint
	var events, headers string
	var active int
	err := row.Scan(&ep.ID, &ep.Name, &ep.URL, &ep.Secret, &events, &headers, &ep.MaxRetries, &active, &ep.CreatedAt, &ep.UpdatedAt)
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(events), &ep.Events)
	json.Unmarshal([]byte(headers), &ep.Headers)
	ep.Active = active == 1
	return &ep, nil
}

const endpointCols = `id, name, url, secret, events, headers, max_retries, active, created_at, updated_at`

func (s *SQLiteStorage) GetEndpoint(ctx context.Context, id string) (*models.Endpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+endpointCols+` FROM endpoints WHERE id = ?`, id)
	ep, err := s.scanEndpoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ep, err
}

func (s *SQLiteStorage) ListEndpoints(ctx context.Context) ([]models.Endpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+endpointCols+` FROM endpoints ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var endpoints []models.Endpoint
	for rows.Next() {
		ep, err := s.scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, *ep)
	}
	return endpoints, rows.Err()
}

func (s *SQLiteStorage) UpdateEndpoint(ctx context.Context, ep *models.Endpoint) error {
	events, _ := json.Marshal(ep.Events)
	headers, _ := json.Marshal(ep.Headers)
	active := 0
	if ep.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE endpoints SET name = ?, url = ?, events = ?, headers = ?, max_retries = ?, active = ?, updated_at = ? WHERE id = ?`,
		ep.Name, ep.URL, string(events), string(headers), ep.MaxRetries, active, time.Now().UTC(), ep.ID,
	)
	return err
}

func (s *SQLiteStorage) DeleteEndpoint(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM endpoints WHERE id = ?`, id)
	return err
}

func (s *SQLiteStorage) SetEndpointActive(ctx context.Context, id string, active bool) error {
	a := 0
	if active {
		a = 1
	}
	_, err := s.db.ExecContext(ctx, `UPDATE endpoints SET active = ?, updated_at = ? WHERE id = ?`, a, time.Now().UTC(), id)
	return err
}

func (s *SQLiteStorage) FindSubscribed(ctx context.Context, event string) ([]models.Endpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+endpointCols+` FROM endpoints WHERE active = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var endpoints []models.Endpoint
	for rows.Next() {
		ep, err := s.scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		if ep.Subscribed(event) {
			endpoints = append(endpoints, *ep)
		}
	}
	return endpoints, rows.Err()
}

// --- Deliveries ---

const deliveryCols = `id, endpoint_id, event, payload, status, response_code, response_body, attempts, last_attempt_at, error, created_at, updated_at`

func (s *SQLiteStorage) CreateDelivery(ctx context.Context, d *models.Delivery) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries (`+deliveryCols+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.EndpointID, d.Event, string(d.Payload), d.Status, d.ResponseCode, d.ResponseBody,
		d.Attempts, d.LastAttemptAt, d.Error, d.CreatedAt, d.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) scanDelivery(row interface{ Scan(...interface{}) error }) (*models.Delivery, error) {
	var d models.Delivery
	var payload string
	err := row.Scan(&d.ID, &d.EndpointID, &d.Event, &payload, &d.Status, &d.ResponseCode, &d.ResponseBody,
		&d.Attempts, &d.LastAttemptAt, &d.Error, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Payload = json.RawMessage(payload)
	return &d, nil
}

func (s *SQLiteStorage) GetDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deliveryCols+` FROM deliveries WHERE id = ?`, id)
	d, err := s.scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func (s *SQLiteStorage) UpdateDelivery(ctx context.Context, d *models.Delivery) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET status = ?, response_code = ?, response_body = ?, attempts = ?, last_attempt_at = ?, error = ?, updated_at = ?
		 WHERE id = ?`,
		d.Status, d.ResponseCode, d.ResponseBody, d.Attempts, d.LastAttemptAt, d.Error, time.Now().UTC(), d.ID,
	)
	return err
}

func (s *SQLiteStorage) ListDeliveriesByEndpoint(ctx context.Context, endpointID string, limit, offset int) ([]models.Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deliveryCols+` FROM deliveries WHERE endpoint_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		endpointID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectDeliveries(rows)
}

func (s *SQLiteStorage) MarkAttempt(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET attempts = attempts + 1, last_attempt_at = ?, updated_at = ?
		 WHERE id = ? AND status IN ('pending', 'retrying')`,
		at, at, id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLiteStorage) ListRetryable(ctx context.Context, limit int) ([]models.Delivery, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.endpoint_id, d.event, d.payload, d.status, d.response_code, d.response_body, d.attempts, d.last_attempt_at, d.error, d.created_at, d.updated_at
		 FROM deliveries d
		 JOIN endpoints e ON e.id = d.endpoint_id
		 WHERE d.status = 'retrying' AND d.attempts < e.max_retries
		 ORDER BY d.updated_at ASC LIMIT ?`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectDeliveries(rows)
}

func (s *SQLiteStorage) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Delivery, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deliveryCols+` FROM deliveries WHERE status = 'pending' AND updated_at < ? ORDER BY updated_at ASC LIMIT ?`,
		cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectDeliveries(rows)
}

func (s *SQLiteStorage) collectDeliveries(rows *sql.Rows) ([]models.Delivery, error) {
	var deliveries []models.Delivery
	for rows.Next() {
		d, err := s.scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, *d)
	}
	return deliveries, rows.Err()
}

// --- Stats ---

func (s *SQLiteStorage) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries`).Scan(&stats.TotalDeliveries)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries WHERE status = 'success'`).Scan(&stats.SuccessCount)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries WHERE status = 'failed'`).Scan(&stats.FailedCount)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries WHERE status = 'pending'`).Scan(&stats.PendingCount)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries WHERE status = 'retrying'`).Scan(&stats.RetryingCount)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM endpoints`).Scan(&stats.TotalEndpoints)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM endpoints WHERE active = 1`).Scan(&stats.ActiveEndpoints)

	if stats.TotalDeliveries > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.TotalDeliveries) * 100
	}

	return stats, nil
}
