package debug

import (
	"sort"
	"time"

	"feature-overlay/internal/debug/memtracker"
	"feature-overlay/internal/debug/timing"
	"feature-overlay/internal/logger"
	"feature-overlay/internal/opencv/safe"
)

type Config struct {
	TrackMats    bool
	StackTraces  bool
	TimingWindow int
}

func DefaultConfig() Config {
	return Config{
		TrackMats:    false,
		StackTraces:  false,
		TimingWindow: timing.DefaultWindow,
	}
}

// Coordinator owns the optional native-memory tracker and the stage timer
// and reports on both at shutdown.
type Coordinator struct {
	logger     logger.Logger
	timing     *timing.Tracker
	memTracker *memtracker.Tracker
}

func NewCoordinator(config Config, log logger.Logger) *Coordinator {
	if log == nil {
		log = logger.NoOpLogger{}
	}

	dc := &Coordinator{
		logger: log,
		timing: timing.NewTracker(config.TimingWindow),
	}
	if config.TrackMats {
		dc.memTracker = memtracker.NewTracker(config.StackTraces)
	}
	return dc
}

// MatTracker returns the tracker to hand to safe.Mat constructors, or nil
// when tracking is off.
func (dc *Coordinator) MatTracker() safe.MemoryTracker {
	if dc.memTracker == nil {
		return nil
	}
	return dc.memTracker
}

func (dc *Coordinator) Timing() *timing.Tracker {
	return dc.timing
}

// TagCount is the number of live Mats carrying one tag.
type TagCount struct {
	Tag   string
	Count int
	Bytes int64
}

type LeakReport struct {
	Stats  memtracker.MemoryStats
	ByTag  []TagCount
	Oldest time.Time
}

// Leaks groups live tracked Mats by tag, largest count first.
func (dc *Coordinator) Leaks() LeakReport {
	if dc.memTracker == nil {
		return LeakReport{}
	}

	report := LeakReport{Stats: dc.memTracker.GetStats()}
	outstanding := dc.memTracker.Outstanding()
	if len(outstanding) == 0 {
		return report
	}
	report.Oldest = outstanding[0].AllocatedAt

	counts := make(map[string]*TagCount)
	for _, info := range outstanding {
		tc, ok := counts[info.Tag]
		if !ok {
			tc = &TagCount{Tag: info.Tag}
			counts[info.Tag] = tc
		}
		tc.Count++
		tc.Bytes += info.Size
	}
	for _, tc := range counts {
		report.ByTag = append(report.ByTag, *tc)
	}
	sort.Slice(report.ByTag, func(i, j int) bool {
		if report.ByTag[i].Count != report.ByTag[j].Count {
			return report.ByTag[i].Count > report.ByTag[j].Count
		}
		return report.ByTag[i].Tag < report.ByTag[j].Tag
	})
	return report
}

// Shutdown logs stage timings and any Mats still alive.
func (dc *Coordinator) Shutdown() {
	for _, op := range dc.timing.Operations() {
		s := dc.timing.Summary(op)
		dc.logger.Debug("DebugCoordinator", "stage timing", map[string]interface{}{
			"operation": op,
			"count":     s.Count,
			"avg_ms":    float64(s.Average.Microseconds()) / 1000,
			"max_ms":    float64(s.Max.Microseconds()) / 1000,
		})
	}

	if dc.memTracker == nil {
		return
	}

	report := dc.Leaks()
	if len(report.ByTag) == 0 {
		dc.logger.Debug("DebugCoordinator", "no outstanding Mats", map[string]interface{}{
			"allocations": report.Stats.AllocationCount,
		})
		return
	}
	for _, tc := range report.ByTag {
		dc.logger.Warning("DebugCoordinator", "outstanding Mats at shutdown", map[string]interface{}{
			"tag":   tc.Tag,
			"count": tc.Count,
			"bytes": tc.Bytes,
		})
	}
}
