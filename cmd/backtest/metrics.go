package main

import (
	"sort"
	"sync"
	"time"
)

// Confusion counts outcomes with default (HighRisk) as the positive class.
type Confusion struct {
	TruePositives  int64 // Defaulted, predicted HighRisk
	FalsePositives int64 // Repaid, predicted HighRisk
	TrueNegatives  int64 // Repaid, predicted LowRisk
	FalseNegatives int64 // Defaulted, predicted LowRisk
}

func (c *Confusion) add(predictedHighRisk, defaulted bool) {
	switch {
	case predictedHighRisk && defaulted:
		c.TruePositives++
	case predictedHighRisk:
		c.FalsePositives++
	case defaulted:
		c.FalseNegatives++
	default:
		c.TrueNegatives++
	}
}

func (c Confusion) total() int64 {
	return c.TruePositives + c.FalsePositives + c.TrueNegatives + c.FalseNegatives
}

func (c Confusion) Precision() float64 {
	return ratio(c.TruePositives, c.TruePositives+c.FalsePositives)
}

func (c Confusion) Recall() float64 {
	return ratio(c.TruePositives, c.TruePositives+c.FalseNegatives)
}

func (c Confusion) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func (c Confusion) Accuracy() float64 {
	return ratio(c.TruePositives+c.TrueNegatives, c.total())
}

func ratio(n, d int64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// Metrics tracks backtest results. Safe for concurrent use.
type Metrics struct {
	mu sync.Mutex

	// Final is the fused decision; Model is the raw classifier output.
	Final Confusion
	Model Confusion

	Processed  int64
	Defaulted  int64
	Overridden int64
	Rejected   int64 // 4xx from the service
	Errors     int64

	latencies []time.Duration
}

// Outcome is the service's answer for one application.
type Outcome struct {
	FinalHighRisk bool
	RawHighRisk   bool
	Overridden    bool
}

func (m *Metrics) record(app Application, out *Outcome, latency time.Duration, rejected bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Processed++
	m.latencies = append(m.latencies, latency)

	switch {
	case rejected:
		m.Rejected++
		return
	case err != nil:
		m.Errors++
		return
	}

	if app.Defaulted {
		m.Defaulted++
	}
	if out.Overridden {
		m.Overridden++
	}
	m.Final.add(out.FinalHighRisk, app.Defaulted)
	m.Model.add(out.RawHighRisk, app.Defaulted)
}

// OverrideRate is the share of scored applications the rules escalated.
func (m *Metrics) OverrideRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ratio(m.Overridden, m.Final.total())
}

// Percentile returns the q-th latency percentile, q in [0, 1].
func (m *Metrics) Percentile(q float64) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}

// MeanLatency returns the average request latency.
func (m *Metrics) MeanLatency() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.latencies) == 0 {
		return 0
	}
	var sum time.Duration
	for _, l := range m.latencies {
		sum += l
	}
	return sum / time.Duration(len(m.latencies))
}
