package timing

import (
	"context"
	"sort"
	"sync"
	"time"
)

type timingKey struct{}

// DefaultWindow matches the number of frame times the camera host kept on screen.
const DefaultWindow = 100

type TimingInfo struct {
	Operation string
	StartTime time.Time
}

// Summary describes the durations currently held for one operation.
type Summary struct {
	Operation string
	Count     int
	Last      time.Duration
	Average   time.Duration
	Min       time.Duration
	Max       time.Duration
}

// Tracker keeps the most recent durations per operation in a bounded window.
type Tracker struct {
	timings map[string][]time.Duration
	window  int
	mu      sync.RWMutex
}

func NewTracker(window int) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{
		timings: make(map[string][]time.Duration),
		window:  window,
	}
}

func (tt *Tracker) StartTiming(ctx context.Context, operation string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, timingKey{}, TimingInfo{
		Operation: operation,
		StartTime: time.Now(),
	})
}

// EndTiming records the time elapsed since the matching StartTiming call.
func (tt *Tracker) EndTiming(ctx context.Context) time.Duration {
	timingInfo, ok := ctx.Value(timingKey{}).(TimingInfo)
	if !ok {
		return 0
	}

	duration := time.Since(timingInfo.StartTime)
	tt.Observe(timingInfo.Operation, duration)
	return duration
}

func (tt *Tracker) Observe(operation string, duration time.Duration) {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	durations := tt.timings[operation]
	if len(durations) >= tt.window {
		durations = append(durations[:0], durations[len(durations)-tt.window+1:]...)
	}
	tt.timings[operation] = append(durations, duration)
}

func (tt *Tracker) GetTimings(operation string) []time.Duration {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	timings := tt.timings[operation]
	if timings == nil {
		return nil
	}

	result := make([]time.Duration, len(timings))
	copy(result, timings)
	return result
}

func (tt *Tracker) Summary(operation string) Summary {
	summary := Summary{Operation: operation}

	timings := tt.GetTimings(operation)
	if len(timings) == 0 {
		return summary
	}

	var total time.Duration
	summary.Min = timings[0]
	for _, duration := range timings {
		total += duration
		summary.Min = min(summary.Min, duration)
		summary.Max = max(summary.Max, duration)
	}

	summary.Count = len(timings)
	summary.Last = timings[len(timings)-1]
	summary.Average = total / time.Duration(len(timings))
	return summary
}

func (tt *Tracker) Reset(operation string) {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	if operation == "" {
		tt.timings = make(map[string][]time.Duration)
	} else {
		delete(tt.timings, operation)
	}
}

// Operations lists the operations with recorded durations, sorted.
func (tt *Tracker) Operations() []string {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	ops := make([]string, 0, len(tt.timings))
	for op := range tt.timings {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}
