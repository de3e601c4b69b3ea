package models

import "time"

// Endpoint is a registered HTTP destination subscribed to named events.
// The secret signs every outbound request body and is never included in
// JSON output; surfaces that need it (endpoint creation, CLI) expose it
// explicitly.
type Endpoint struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	URL        string            `json:"url"`
	Secret     string            `json:"-"`
	Events     []string          `json:"events"`
	Headers    map[string]string `json:"headers,omitempty"`
	MaxRetries int               `json:"max_retries"`
	Active     bool              `json:"active"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Subscribed reports whether the endpoint's event list contains event.
// Matching is exact; an empty list subscribes to nothing.
func (e *Endpoint) Subscribed(event string) bool {
	for _, ev := range e.Events {
		if ev == event {
			return true
		}
	}
	return false
}
