package connpool

import (
	"sync"
	"time"
)

// minSpeedWindow/maxSpeedDuration bound the delta-based speed sample so a
// burst doesn't get diluted by a long idle gap, nor a fresh sample get
// reported off a near-zero window (teacher's pkg/usenet/nntp/pool.go
// GetSpeed, same constants, same decay-on-idle behavior).
const (
	minSpeedWindow   = 0.05
	maxSpeedDuration = 5.0
	speedDecay       = 0.35
)

// Metrics tracks cumulative bytes read through the pool and derives a
// rolling throughput sample, grounded on the teacher's ClientPool
// TrackRead/GetSpeed/TotalMegabytes (spec.md SUPPLEMENTED FEATURES).
type Metrics struct {
	mu             sync.Mutex
	totalBytesRead int64
	lastTotalBytes int64
	lastSpeed      float64
	lastCheck      time.Time
}

func newMetrics() *Metrics {
	return &Metrics{lastCheck: time.Now()}
}

// TrackRead records n bytes read through some connection in this pool.
func (m *Metrics) TrackRead(n int) {
	m.mu.Lock()
	m.totalBytesRead += int64(n)
	m.mu.Unlock()
}

// GetSpeed returns the current throughput in Mbps, sampled since the last
// call, decaying toward zero when nothing has been read.
func (m *Metrics) GetSpeed() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	duration := now.Sub(m.lastCheck).Seconds()
	m.lastCheck = now

	if duration < minSpeedWindow {
		return m.lastSpeed
	}
	if duration > maxSpeedDuration {
		duration = maxSpeedDuration
	}

	delta := m.totalBytesRead - m.lastTotalBytes
	m.lastTotalBytes = m.totalBytesRead

	if delta > 0 {
		m.lastSpeed = (float64(delta) * 8) / (1024 * 1024) / duration
	} else {
		m.lastSpeed *= speedDecay
		if m.lastSpeed < 0.1 {
			m.lastSpeed = 0
		}
	}
	return m.lastSpeed
}

// TotalMegabytes returns the cumulative bytes read through this pool, in MB.
func (m *Metrics) TotalMegabytes() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.totalBytesRead) / (1024 * 1024)
}

// Metrics exposes this pool's throughput tracker.
func (p *Pool) Metrics() *Metrics { return p.metrics }
