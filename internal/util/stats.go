package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Process-wide traffic counters
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide frame/connection counter shared by the hub and
// the client links.
var Stats = &stats{}

type stats struct {
	TotalConns  atomic.Int64 // cumulative connections accepted or dialed
	ClosedConns atomic.Int64 // cumulative connections torn down
	FramesSent  atomic.Int64
	FramesRecv  atomic.Int64
	BytesSent   atomic.Int64 // frame bytes written, length prefix included
	BytesRecv   atomic.Int64
}

func (s *stats) AddConn()    { s.TotalConns.Add(1) }
func (s *stats) RemoveConn() { s.ClosedConns.Add(1) }

func (s *stats) AddSent(n int) {
	s.FramesSent.Add(1)
	s.BytesSent.Add(int64(n))
}

func (s *stats) AddRecv(n int) {
	s.FramesRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs traffic statistics every
// interval while there is activity. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		secs := interval.Seconds()
		var prev snapshot
		for {
			select {
			case <-ticker.C:
				cur := takeSnapshot()
				d := cur.sub(prev)
				if d.conns > 0 || d.closed > 0 || d.framesIn > 0 || d.framesOut > 0 {
					pterm.DefaultLogger.Info(formatStats(
						float64(d.bytesIn)/secs, float64(d.bytesOut)/secs,
						float64(d.framesIn)/secs, float64(d.framesOut)/secs,
						d.conns, d.closed,
					))
				}
				prev = cur
			case <-ctx.Done():
				return
			}
		}
	}()
}

type snapshot struct {
	conns, closed       int64
	framesIn, framesOut int64
	bytesIn, bytesOut   int64
}

func takeSnapshot() snapshot {
	return snapshot{
		conns:     Stats.TotalConns.Load(),
		closed:    Stats.ClosedConns.Load(),
		framesIn:  Stats.FramesRecv.Load(),
		framesOut: Stats.FramesSent.Load(),
		bytesIn:   Stats.BytesRecv.Load(),
		bytesOut:  Stats.BytesSent.Load(),
	}
}

func (s snapshot) sub(o snapshot) snapshot {
	return snapshot{
		conns:     s.conns - o.conns,
		closed:    s.closed - o.closed,
		framesIn:  s.framesIn - o.framesIn,
		framesOut: s.framesOut - o.framesOut,
		bytesIn:   s.bytesIn - o.bytesIn,
		bytesOut:  s.bytesOut - o.bytesOut,
	}
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a fixed-width (8 chars) string,
// e.g. "99.0   B", " 1.5 KiB", "98.9 GiB".
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats renders one reporter line.
func formatStats(inB, outB, inF, outF float64, conns, closed int64) string {
	return fmt.Sprintf("In: %s/s %6.1f fps | Out: %s/s %6.1f fps | Conn: %2d↑ %2d↓",
		formatBytes(inB), inF,
		formatBytes(outB), outF,
		conns, closed,
	)
}
