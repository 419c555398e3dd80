package domain

import (
	"encoding/json"
	"time"
)

// OperationType is the kind of queued write.
type OperationType string

const (
	OpSet    OperationType = "set"
	OpUpdate OperationType = "update"
	OpRemove OperationType = "remove"
)

// Operation is a pending write awaiting delivery to the transactional store.
type Operation struct {
	ID         string          `json:"id"`
	Type       OperationType   `json:"type"`
	Path       string          `json:"path"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Retries    int             `json:"retries"`
	LastError  string          `json:"last_error,omitempty"`
	NextTryAt  *time.Time      `json:"next_try_at,omitempty"`
}

// CacheEntry is the last known value of a path.
type CacheEntry struct {
	Path      string          `json:"path"`
	Value     json.RawMessage `json:"value"`
	Timestamp time.Time       `json:"timestamp"`
}

// Stale reports whether the entry is older than maxAge. A zero maxAge never expires.
func (e CacheEntry) Stale(maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(e.Timestamp) > maxAge
}
