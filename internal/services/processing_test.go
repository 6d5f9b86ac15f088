package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"feature-overlay/internal/debug/memtracker"
	"feature-overlay/internal/features"
	"feature-overlay/internal/frame"
	"feature-overlay/internal/pattern"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T, mutate func(*ProcessingConfig)) *ProcessingService {
	t.Helper()
	cfg := DefaultProcessingConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	ps, err := NewProcessingService(cfg)
	require.NoError(t, err)
	t.Cleanup(ps.Shutdown)
	return ps
}

func TestProcessImageBlankFrame(t *testing.T) {
	ps := newService(t, nil)
	buf := make([]byte, frame.ExpectedLen(frame.DefaultHeight, frame.DefaultWidth))

	out, err := ps.ProcessImage(context.Background(), buf)
	require.NoError(t, err)
	assert.Len(t, out, len(buf))

	stats := ps.Stats()
	assert.EqualValues(t, 1, stats.Processed)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, 1, stats.Samples)
	assert.Equal(t, 100, stats.Window)
}

func TestProcessImageShapeMismatch(t *testing.T) {
	ps := newService(t, nil)

	out, err := ps.ProcessImage(context.Background(), make([]byte, 100))
	assert.Nil(t, out)

	var shapeErr *frame.ShapeMismatchError
	require.True(t, errors.As(err, &shapeErr))
	assert.Equal(t, 100, shapeErr.Got)
	assert.Equal(t, frame.ExpectedLen(480, 640), shapeErr.Want)

	stats := ps.Stats()
	assert.EqualValues(t, 1, stats.Failed)
	assert.Zero(t, stats.Samples)
}

func TestProcessFrameZeroSized(t *testing.T) {
	ps := newService(t, nil)

	_, err := ps.ProcessFrame(context.Background(), nil, 0, 0)
	var detErr *features.DetectionError
	assert.True(t, errors.As(err, &detErr))
}

func TestProcessFrameCallerDimensions(t *testing.T) {
	ps := newService(t, nil)
	buf := pattern.Blocks(240, 320, 48, 48)

	out, err := ps.ProcessFrame(context.Background(), buf, 240, 320)
	require.NoError(t, err)
	assert.Len(t, out, len(buf))
	assert.NotEqual(t, buf, out)
}

func TestSetFeatureCount(t *testing.T) {
	ps := newService(t, nil)
	assert.Equal(t, features.DefaultTargetCount, ps.FeatureCount())

	assert.Equal(t, 1000, ps.SetFeatureCount(5.0))
	assert.Equal(t, 1000, ps.FeatureCount())

	assert.Equal(t, 0, ps.SetFeatureCount(0))
	assert.Equal(t, 0, ps.FeatureCount())

	buf := pattern.Blocks(frame.DefaultHeight, frame.DefaultWidth, 48, 48)
	out, err := ps.ProcessImage(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, buf, out, "zero target passes the frame through")

	ps.SetTarget(42)
	assert.Equal(t, 42, ps.FeatureCount())
}

func TestEndToEndCorners(t *testing.T) {
	ps := newService(t, nil)
	buf := pattern.Blocks(frame.DefaultHeight, frame.DefaultWidth, 48, 48)
	original := append([]byte(nil), buf...)

	out, err := ps.ProcessImage(context.Background(), buf)
	require.NoError(t, err)
	assert.Len(t, out, len(original))
	assert.NotEqual(t, original, out)
	assert.Equal(t, original, buf, "caller buffer must not be written")
}

func TestConcurrentFramesAndSlider(t *testing.T) {
	ps := newService(t, nil)
	buf := pattern.Blocks(frame.DefaultHeight, frame.DefaultWidth, 48, 48)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := ps.ProcessImage(context.Background(), buf)
			assert.NoError(t, err)
		}()
		go func(v float64) {
			defer wg.Done()
			ps.SetFeatureCount(v)
		}(float64(i))
	}
	wg.Wait()

	assert.EqualValues(t, 6, ps.Stats().Processed)
}

func TestMatsReleasedOnShutdown(t *testing.T) {
	tracker := memtracker.NewTracker(false)
	cfg := DefaultProcessingConfig()
	cfg.MemoryTracker = tracker

	ps, err := NewProcessingService(cfg)
	require.NoError(t, err)

	buf := pattern.Blocks(frame.DefaultHeight, frame.DefaultWidth, 48, 48)
	for i := 0; i < 3; i++ {
		_, err := ps.ProcessImage(context.Background(), buf)
		require.NoError(t, err)
	}
	assert.NotZero(t, tracker.GetStats().AllocationCount)

	ps.Shutdown()
	assert.Empty(t, tracker.Outstanding())
	assert.Zero(t, ps.MemoryStats().ActiveMats)
}

func TestNewProcessingServiceRejectsBadConfig(t *testing.T) {
	cfg := DefaultProcessingConfig()
	cfg.Width = 0
	_, err := NewProcessingService(cfg)
	assert.Error(t, err)

	cfg = DefaultProcessingConfig()
	cfg.Options.KernelSize = 2
	_, err = NewProcessingService(cfg)
	assert.Error(t, err)
}
