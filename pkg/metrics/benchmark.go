package metrics

import (
	"sort"
	"sync"
	"time"
)

// benchmarkWindow bounds the in-memory measurement buffer. Older
// measurements are dropped oldest-first.
const benchmarkWindow = 10000

// Measurement is one recorded decision latency.
type Measurement struct {
	Timestamp time.Time
	Endpoint  string
	LatencyMS float64
	Verdict   string
}

// BenchmarkCollector accumulates decision latencies and verdict counts
// for the trust-spec and benchmark reports.
type BenchmarkCollector struct {
	mu             sync.Mutex
	measurements   []Measurement
	verdictCounts  map[string]int
	totalDecisions int
	now            func() time.Time
}

// NewBenchmarkCollector returns an empty collector.
func NewBenchmarkCollector() *BenchmarkCollector {
	return &BenchmarkCollector{
		verdictCounts: make(map[string]int),
		now:           time.Now,
	}
}

// RecordDecision appends one measurement to the window.
func (c *BenchmarkCollector) RecordDecision(verdict string, latencyMS float64, endpoint string) {
	if endpoint == "" {
		endpoint = "/execute"
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.measurements = append(c.measurements, Measurement{
		Timestamp: c.now(),
		Endpoint:  endpoint,
		LatencyMS: latencyMS,
		Verdict:   verdict,
	})
	if len(c.measurements) > benchmarkWindow {
		c.measurements = c.measurements[len(c.measurements)-benchmarkWindow:]
	}
	c.verdictCounts[verdict]++
	c.totalDecisions++
}

// LatencyStats summarizes the latency distribution.
type LatencyStats struct {
	Count    int     `json:"count"`
	MedianMS float64 `json:"median_ms"`
	P95MS    float64 `json:"p95_ms"`
	P99MS    float64 `json:"p99_ms"`
	MinMS    float64 `json:"min_ms"`
	MaxMS    float64 `json:"max_ms"`
	MeanMS   float64 `json:"mean_ms"`
}

// Stats returns latency statistics, optionally filtered by endpoint.
func (c *BenchmarkCollector) Stats(endpoint string) LatencyStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	latencies := make([]float64, 0, len(c.measurements))
	for _, m := range c.measurements {
		if endpoint != "" && m.Endpoint != endpoint {
			continue
		}
		latencies = append(latencies, m.LatencyMS)
	}
	if len(latencies) == 0 {
		return LatencyStats{}
	}

	sort.Float64s(latencies)
	var sum float64
	for _, l := range latencies {
		sum += l
	}
	return LatencyStats{
		Count:    len(latencies),
		MedianMS: median(latencies),
		P95MS:    percentile(latencies, 0.95),
		P99MS:    percentile(latencies, 0.99),
		MinMS:    latencies[0],
		MaxMS:    latencies[len(latencies)-1],
		MeanMS:   sum / float64(len(latencies)),
	}
}

// BlockRate summarizes verdict proportions.
type BlockRate struct {
	TotalDecisions      int     `json:"total_decisions"`
	BlockRatePercent    float64 `json:"block_rate_percent"`
	AllowRatePercent    float64 `json:"allow_rate_percent"`
	EscalateRatePercent float64 `json:"escalate_rate_percent"`
	BlockCount          int     `json:"block_count"`
	AllowCount          int     `json:"allow_count"`
	EscalateCount       int     `json:"escalate_count"`
}

// BlockRate returns the verdict distribution across all recorded
// decisions.
func (c *BenchmarkCollector) BlockRate() BlockRate {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.totalDecisions == 0 {
		return BlockRate{}
	}
	block := c.verdictCounts["BLOCK"]
	allow := c.verdictCounts["ALLOW"]
	escalate := c.verdictCounts["ESCALATE"]
	total := float64(c.totalDecisions)
	return BlockRate{
		TotalDecisions:      c.totalDecisions,
		BlockRatePercent:    float64(block) / total * 100,
		AllowRatePercent:    float64(allow) / total * 100,
		EscalateRatePercent: float64(escalate) / total * 100,
		BlockCount:          block,
		AllowCount:          allow,
		EscalateCount:       escalate,
	}
}

// Latency targets in milliseconds. Local means gateway and agent on
// the same host.
const (
	TargetLocalMS   = 25
	TargetNetworkMS = 50
)

// LatencyReport is the latency section of the benchmark report.
type LatencyReport struct {
	LatencyStats
	TargetLocalMS      float64 `json:"target_local_ms"`
	TargetNetworkMS    float64 `json:"target_network_ms"`
	MeetsLocalTarget   bool    `json:"meets_local_target"`
	MeetsNetworkTarget bool    `json:"meets_network_target"`
}

// Report is the full benchmark report.
type Report struct {
	Latency   LatencyReport `json:"latency"`
	BlockRate BlockRate     `json:"block_rate"`
	Timestamp string        `json:"timestamp"`
}

// Report builds the benchmark report across all endpoints.
func (c *BenchmarkCollector) Report() Report {
	stats := c.Stats("")
	return Report{
		Latency: LatencyReport{
			LatencyStats:       stats,
			TargetLocalMS:      TargetLocalMS,
			TargetNetworkMS:    TargetNetworkMS,
			MeetsLocalTarget:   stats.MedianMS <= TargetLocalMS,
			MeetsNetworkTarget: stats.MedianMS <= TargetNetworkMS,
		},
		BlockRate: c.BlockRate(),
		Timestamp: c.now().UTC().Format(time.RFC3339),
	}
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(float64(n) * p)
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}
