package models

import (
	"encoding/json"
	"time"
)

type DeliveryStatus string

const (
	DeliveryPending  DeliveryStatus = "pending"
	DeliverySuccess  DeliveryStatus = "success"
	DeliveryRetrying DeliveryStatus = "retrying"
	DeliveryFailed   DeliveryStatus = "failed"
)

// Storage bounds for diagnostic fields.
const (
	MaxResponseBody = 2000
	MaxErrorLen     = 512
)

// Delivery tracks the attempt lifecycle of sending one event payload to one
// endpoint. It is created pending by the dispatcher and from then on mutated
// only by the delivery worker; success and failed are terminal.
type Delivery struct {
	ID            string          `json:"id"`
	EndpointID    string          `json:"endpoint_id"`
	Event         string          `json:"event"`
	Payload       json.RawMessage `json:"payload"`
	Status        DeliveryStatus  `json:"status"`
	ResponseCode  *int            `json:"response_code,omitempty"`
	ResponseBody  string          `json:"response_body,omitempty"`
	Attempts      int             `json:"attempts"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Terminal reports whether the delivery has reached a final state.
func (d *Delivery) Terminal() bool {
	return d.Status == DeliverySuccess || d.Status == DeliveryFailed
}

// Truncate caps s at n bytes.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
