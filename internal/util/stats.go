package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide relay/queue counter set.
var Stats = &stats{}

type stats struct {
	Opened      atomic.Int64 // connections that reached Connected
	Closed      atomic.Int64 // connections that fired their disconnect
	Failed      atomic.Int64 // outbound dials that never connected
	FramesSent  atomic.Int64 // envelopes written to a socket
	FramesRecv  atomic.Int64 // envelopes parsed off a socket
	Rejected    atomic.Int64 // frames that failed to parse
	TasksDone   atomic.Int64 // attachment tasks that returned nil
	TasksFailed atomic.Int64 // attachment tasks that returned an error
}

func (s *stats) AddOpened()   { s.Opened.Add(1) }
func (s *stats) AddClosed()   { s.Closed.Add(1) }
func (s *stats) AddFailed()   { s.Failed.Add(1) }
func (s *stats) AddSent()     { s.FramesSent.Add(1) }
func (s *stats) AddRecv()     { s.FramesRecv.Add(1) }
func (s *stats) AddRejected() { s.Rejected.Add(1) }

// AddTask records a finished attachment task.
func (s *stats) AddTask(err error) {
	if err != nil {
		s.TasksFailed.Add(1)
		return
	}
	s.TasksDone.Add(1)
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Opened, Closed, Failed           int64
	FramesSent, FramesRecv, Rejected int64
	TasksDone, TasksFailed           int64
}

// Snapshot loads every counter.
func (s *stats) Snapshot() Snapshot {
	return Snapshot{
		Opened:      s.Opened.Load(),
		Closed:      s.Closed.Load(),
		Failed:      s.Failed.Load(),
		FramesSent:  s.FramesSent.Load(),
		FramesRecv:  s.FramesRecv.Load(),
		Rejected:    s.Rejected.Load(),
		TasksDone:   s.TasksDone.Load(),
		TasksFailed: s.TasksFailed.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs activity every interval,
// skipping quiet intervals. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		prev := Stats.Snapshot()
		for {
			select {
			case <-ticker.C:
				cur := Stats.Snapshot()
				if line, active := formatStats(prev, cur); active {
					pterm.DefaultLogger.Info(line)
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatStats describes the delta between two snapshots. The boolean is
// false when nothing happened in between.
func formatStats(prev, cur Snapshot) (string, bool) {
	up := cur.Opened - prev.Opened
	down := cur.Closed - prev.Closed
	sent := cur.FramesSent - prev.FramesSent
	recv := cur.FramesRecv - prev.FramesRecv
	bad := cur.Rejected - prev.Rejected
	tasks := (cur.TasksDone + cur.TasksFailed) - (prev.TasksDone + prev.TasksFailed)

	if up == 0 && down == 0 && sent == 0 && recv == 0 && bad == 0 && tasks == 0 {
		return "", false
	}
	return fmt.Sprintf("Conn: %2d↑ %2d↓ (%d live) | Frames: %4d out %4d in %2d bad | Tasks: %2d",
		up, down, cur.Opened-cur.Closed, sent, recv, bad, tasks), true
}
