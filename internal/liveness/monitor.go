// Package liveness measures inbound pacing. The tickrate is advisory and is
// never used for correctness decisions.
package liveness

import (
	"math"
	"sync"
	"time"
)

const (
	// WindowSize caps the number of inter-arrival samples kept.
	WindowSize = 150

	// NoiseFloor filters gaps from frames that were coalesced into one read.
	NoiseFloor = 2.0 // milliseconds
)

// Monitor keeps a sliding window of inter-arrival gaps. Voice frames are
// not fed to it. It is safe for concurrent use.
type Monitor struct {
	mu       sync.Mutex
	window   [WindowSize]float64
	n        int // samples held
	next     int // ring write position
	last     time.Time
	tickrate float64
}

// Observe records an arrival at now.
func (m *Monitor) Observe(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.last.IsZero() {
		m.record(float64(now.Sub(m.last)) / float64(time.Millisecond))
	}
	m.last = now
}

// ObserveGap records a gap in milliseconds directly.
func (m *Monitor) ObserveGap(ms float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(ms)
}

func (m *Monitor) record(ms float64) {
	if ms <= NoiseFloor {
		return
	}

	m.window[m.next] = ms
	m.next = (m.next + 1) % WindowSize
	if m.n < WindowSize {
		m.n++
	}

	var sum float64
	for i := 0; i < m.n; i++ {
		sum += m.window[i]
	}
	m.tickrate = math.Round(1000/(sum/float64(m.n))*100) / 100
}

// Tickrate returns arrivals per second over the window, rounded to two
// decimals, or 0 before the first qualifying gap.
func (m *Monitor) Tickrate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tickrate
}

// Samples returns the number of gaps in the window.
func (m *Monitor) Samples() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.n
}

// LastActivity returns the time of the most recent arrival.
func (m *Monitor) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Touch marks activity without recording a gap.
func (m *Monitor) Touch(now time.Time) {
	m.mu.Lock()
	m.last = now
	m.mu.Unlock()
}

// Idle reports whether nothing has arrived for longer than timeout.
func (m *Monitor) Idle(now time.Time, timeout time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.last.IsZero() && now.Sub(m.last) > timeout
}

// Reset clears the window and the last arrival.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window = [WindowSize]float64{}
	m.n = 0
	m.next = 0
	m.last = time.Time{}
	m.tickrate = 0
}
