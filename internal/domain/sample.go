package domain

import "time"

// Metric sample categories.
const (
	CategoryNodeConnect      = "NodeConnect"
	CategoryInitialDetection = "InitialDetection"
	CategoryMarketUpdate     = "MarketUpdate"
)

// MetricSample is one timestamped latency/success observation for an
// operation against a specific node. Samples are append-only.
type MetricSample struct {
	Category  string    `json:"category"`
	Timestamp time.Time `json:"timestamp"`
	Latency   float64   `json:"latency"` // seconds
	Node      string    `json:"node"`
	Success   bool      `json:"success"`
}

// CategoryStats is a rolling-window aggregate over samples of one category.
type CategoryStats struct {
	Category    string  `json:"event"`
	Count       int64   `json:"count"`
	AvgLatency  float64 `json:"avgLatency"`
	MinLatency  float64 `json:"minLatency"`
	MaxLatency  float64 `json:"maxLatency"`
	SuccessRate float64 `json:"successRate"` // percent
}
