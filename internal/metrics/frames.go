// Package metrics records per-frame processing times and samples process
// resource usage for the CLI and the processing service.
package metrics

import (
	"time"

	"feature-overlay/internal/debug/timing"

	"go.uber.org/atomic"
)

const frameOperation = "frame"

// FrameStats summarises the most recent frame times plus lifetime counters.
type FrameStats struct {
	Processed uint64
	Failed    uint64
	Window    int
	Samples   int
	Last      time.Duration
	Average   time.Duration
	Min       time.Duration
	Max       time.Duration
}

// FPS derives a frame rate from the average frame time.
func (s FrameStats) FPS() float64 {
	if s.Average <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.Average)
}

// FrameTimer keeps a rolling window of successful frame durations.
// Failed frames are counted but do not enter the window.
type FrameTimer struct {
	tracker   *timing.Tracker
	window    int
	processed atomic.Uint64
	failed    atomic.Uint64
}

func NewFrameTimer(window int) *FrameTimer {
	if window <= 0 {
		window = timing.DefaultWindow
	}
	return &FrameTimer{
		tracker: timing.NewTracker(window),
		window:  window,
	}
}

// Observe records one frame. A non-nil err marks the frame as failed.
func (t *FrameTimer) Observe(d time.Duration, err error) {
	if err != nil {
		t.failed.Inc()
		return
	}
	t.processed.Inc()
	t.tracker.Observe(frameOperation, d)
}

func (t *FrameTimer) Stats() FrameStats {
	summary := t.tracker.Summary(frameOperation)
	return FrameStats{
		Processed: t.processed.Load(),
		Failed:    t.failed.Load(),
		Window:    t.window,
		Samples:   summary.Count,
		Last:      summary.Last,
		Average:   summary.Average,
		Min:       summary.Min,
		Max:       summary.Max,
	}
}

// Reset clears the window and the counters.
func (t *FrameTimer) Reset() {
	t.tracker.Reset(frameOperation)
	t.processed.Store(0)
	t.failed.Store(0)
}
