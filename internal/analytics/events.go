// Package analytics tracks query traffic. The Collector records every query
// event into an in-process Aggregator and forwards batches to Kafka; the
// SnapshotStore periodically persists aggregated stats to Postgres.
package analytics

import "time"

// QueryEvent describes one answered query.
type QueryEvent struct {
	Op        string    `json:"op"`
	Field     string    `json:"field,omitempty"`
	Query     string    `json:"query"`
	Total     int       `json:"total"`
	Returned  int       `json:"returned"`
	LatencyMs int64     `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	Failed    bool      `json:"failed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}
