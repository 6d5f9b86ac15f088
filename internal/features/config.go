package features

import (
	"go.uber.org/atomic"
)

const (
	// DefaultTargetCount is the keypoint budget before anyone touches the slider.
	DefaultTargetCount = 1000
	// SliderScale converts a normalized slider position into a keypoint budget.
	SliderScale = 200
)

// Config is the per-call detector configuration. A TargetCount of zero or
// less means "detect nothing".
type Config struct {
	TargetCount int
}

func DefaultConfig() Config {
	return Config{TargetCount: DefaultTargetCount}
}

// TargetFromSlider maps a slider value to a keypoint budget, truncating toward
// zero. Out-of-range values are passed through unchanged.
func TargetFromSlider(value float64) int {
	return int(value * SliderScale)
}

// Control is the adjustable keypoint budget shared between a host's slider
// and the processing path. Reads and writes are atomic; each processing call
// takes one Snapshot and uses it throughout.
type Control struct {
	target *atomic.Int64
}

func NewControl(initial int) *Control {
	return &Control{target: atomic.NewInt64(int64(initial))}
}

// SetFromSlider stores TargetFromSlider(value) and returns it.
func (c *Control) SetFromSlider(value float64) int {
	n := TargetFromSlider(value)
	c.target.Store(int64(n))
	return n
}

func (c *Control) Set(n int) {
	c.target.Store(int64(n))
}

func (c *Control) Target() int {
	return int(c.target.Load())
}

func (c *Control) Snapshot() Config {
	return Config{TargetCount: c.Target()}
}
