// Package storage provides SQLite persistence for the dispatch client:
// session slots, the last state snapshot, the scan journal and per-route
// progress marks.
package storage

import "time"

// Slot is a persisted session key/value pair
type Slot struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CachedSnapshot is the raw state JSON from the last successful fetch
type CachedSnapshot struct {
	Payload    []byte    `json:"-"`
	ServerTime string    `json:"server_time"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// ScanOutcome records what the flow did with a scan
type ScanOutcome string

const (
	ScanApplied  ScanOutcome = "applied"
	ScanDeferred ScanOutcome = "deferred"
	ScanRejected ScanOutcome = "rejected"
	ScanIgnored  ScanOutcome = "ignored"
	ScanFailed   ScanOutcome = "failed"
)

// ScanEntry is one row of the scan journal
type ScanEntry struct {
	ID        string      `json:"id"`
	Raw       string      `json:"raw"`
	Kind      string      `json:"kind,omitempty"`
	Worker    string      `json:"worker,omitempty"`
	RouteID   string      `json:"route_id,omitempty"`
	Outcome   ScanOutcome `json:"outcome"`
	Detail    string      `json:"detail,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// RouteProgress is the highest stop index observed for a route
type RouteProgress struct {
	RouteID   string    `json:"route_id"`
	StopIdx   int       `json:"stop_idx"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}
