package features

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTargetFromSlider(t *testing.T) {
	tests := []struct {
		slider float64
		want   int
	}{
		{5.0, 1000},
		{0.0, 0},
		{0.5, 100},
		{2.499, 499},
		{-1.0, -200},
		{-0.001, 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, TargetFromSlider(tt.slider), "slider %v", tt.slider)
	}
}

func TestControl(t *testing.T) {
	c := NewControl(DefaultTargetCount)
	assert.Equal(t, DefaultConfig(), c.Snapshot())

	assert.Equal(t, 1000, c.SetFromSlider(5.0))
	assert.Equal(t, 1000, c.Target())

	assert.Equal(t, 0, c.SetFromSlider(0.0))
	assert.Equal(t, Config{TargetCount: 0}, c.Snapshot())

	c.Set(42)
	assert.Equal(t, 42, c.Target())
}

func TestControlConcurrentWriters(t *testing.T) {
	c := NewControl(0)

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(v float64) {
			defer wg.Done()
			c.SetFromSlider(v)
			_ = c.Snapshot()
		}(float64(i))
	}
	wg.Wait()

	got := c.Target()
	assert.Zero(t, got%SliderScale)
	assert.GreaterOrEqual(t, got, SliderScale)
	assert.LessOrEqual(t, got, 50*SliderScale)
}
