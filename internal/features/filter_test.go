package features

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"feature-overlay/internal/frame"
	"feature-overlay/internal/opencv/memory"
	"feature-overlay/internal/opencv/safe"
	"feature-overlay/internal/pattern"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

const (
	height = frame.DefaultHeight
	width  = frame.DefaultWidth
)

func newFilter(t *testing.T) *Filter {
	t.Helper()
	f, err := NewFilter(DefaultOptions(), nil, nil)
	require.NoError(t, err)
	return f
}

func decode(t *testing.T, buf []byte) *frame.Grid {
	t.Helper()
	g, err := frame.Decode(buf, height, width)
	require.NoError(t, err)
	t.Cleanup(g.Close)
	return g
}

func encode(t *testing.T, g *frame.Grid) []byte {
	t.Helper()
	out, err := frame.Encode(g)
	require.NoError(t, err)
	return out
}

func TestApplyBlankFrame(t *testing.T) {
	buf := make([]byte, frame.ExpectedLen(height, width))
	g := decode(t, buf)

	out, err := newFilter(t).Apply(context.Background(), g, DefaultConfig())
	require.NoError(t, err)
	defer out.Close()

	assert.Equal(t, height, out.Rows())
	assert.Equal(t, width, out.Cols())
	assert.Equal(t, frame.Channels, out.Channels())
	assert.Len(t, encode(t, out), len(buf))
}

func TestApplyZeroTargetIsPassThrough(t *testing.T) {
	buf := pattern.Blocks(height, width, 48, 48)
	g := decode(t, buf)
	f := newFilter(t)

	for _, target := range []int{0, -5} {
		cfg := Config{TargetCount: target}

		kps, err := f.Detect(context.Background(), g, cfg)
		require.NoError(t, err)
		assert.Empty(t, kps)

		out, err := f.Apply(context.Background(), g, cfg)
		require.NoError(t, err)
		assert.Equal(t, buf, encode(t, out))
		out.Close()
	}
}

func TestApplyDrawsOnlyAroundKeypoints(t *testing.T) {
	buf := pattern.Blocks(height, width, 48, 48)
	original := append([]byte(nil), buf...)
	g := decode(t, buf)
	f := newFilter(t)
	ctx := context.Background()

	kps, err := f.Detect(ctx, g, DefaultConfig())
	require.NoError(t, err)
	require.NotEmpty(t, kps, "corner pattern must yield keypoints")
	assert.LessOrEqual(t, len(kps), DefaultTargetCount)

	out, err := f.Apply(ctx, g, DefaultConfig())
	require.NoError(t, err)
	defer out.Close()

	got := encode(t, out)
	require.Len(t, got, len(original))
	assert.Equal(t, original, encode(t, g), "input grid must stay untouched")
	assert.NotEqual(t, original, got)

	thickness := float64(DefaultOptions().Thickness)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := (y*width + x) * 4
			if string(got[i:i+4]) == string(original[i:i+4]) {
				continue
			}
			assert.Truef(t, nearKeypoint(kps, x, y, thickness+1.5),
				"pixel (%d,%d) changed outside every keypoint circle", x, y)
		}
	}
}

func nearKeypoint(kps []Keypoint, x, y int, slack float64) bool {
	for _, kp := range kps {
		c := kp.Center()
		d := math.Hypot(float64(x-c.X), float64(y-c.Y))
		if d <= float64(kp.Radius())+slack {
			return true
		}
	}
	return false
}

func TestApplyRespectsTargetCount(t *testing.T) {
	g := decode(t, pattern.Blocks(height, width, 24, 24))
	f := newFilter(t)

	kps, err := f.Detect(context.Background(), g, Config{TargetCount: 5})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(kps), 5)
}

func TestApplyIsDeterministic(t *testing.T) {
	g := decode(t, pattern.Checkerboard(height, width, 40))
	f := newFilter(t)
	ctx := context.Background()

	first, err := f.Apply(ctx, g, DefaultConfig())
	require.NoError(t, err)
	defer first.Close()

	second, err := f.Apply(ctx, g, DefaultConfig())
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, encode(t, first), encode(t, second))
}

func TestApplyWithPooledScratch(t *testing.T) {
	mem := memory.NewManager(nil, nil)
	defer mem.Cleanup()

	f, err := NewFilter(DefaultOptions(), mem, nil)
	require.NoError(t, err)
	g := decode(t, pattern.Blocks(height, width, 48, 48))

	for i := 0; i < 3; i++ {
		out, err := f.Apply(context.Background(), g, DefaultConfig())
		require.NoError(t, err)
		out.Close()
	}

	stats := mem.GetStats()
	assert.EqualValues(t, 2, stats.PoolMisses)
	assert.EqualValues(t, 4, stats.PoolHits)
	assert.Zero(t, stats.ActiveMats)
}

func TestApplyConcurrentCallers(t *testing.T) {
	g := decode(t, pattern.Blocks(height, width, 48, 48))
	f := newFilter(t)
	control := NewControl(DefaultTargetCount)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			control.SetFromSlider(float64(i))
			out, err := f.Apply(context.Background(), g, control.Snapshot())
			if err != nil {
				errs <- err
				return
			}
			out.Close()
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestApplyWithEqualization(t *testing.T) {
	opts := DefaultOptions()
	opts.Equalize = true
	f, err := NewFilter(opts, nil, nil)
	require.NoError(t, err)

	buf := pattern.Blocks(height, width, 48, 48)
	out, err := f.Apply(context.Background(), decode(t, buf), DefaultConfig())
	require.NoError(t, err)
	defer out.Close()
	assert.Len(t, encode(t, out), len(buf))

	opts.CLAHETileSize = 0
	_, err = NewFilter(opts, nil, nil)
	assert.Error(t, err)
}

func TestDetectionErrors(t *testing.T) {
	f := newFilter(t)

	empty, err := frame.Decode(nil, 0, 0)
	require.NoError(t, err)
	defer empty.Close()

	threeChannel, err := safe.NewMat(8, 8, gocv.MatTypeCV8UC3)
	require.NoError(t, err)
	rgb := frame.FromMat(threeChannel)
	defer rgb.Close()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	valid := decode(t, make([]byte, frame.ExpectedLen(height, width)))

	tests := []struct {
		name string
		ctx  context.Context
		grid *frame.Grid
	}{
		{"nil grid", context.Background(), nil},
		{"zero sized grid", context.Background(), empty},
		{"three channels", context.Background(), rgb},
		{"cancelled", cancelled, valid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := f.Apply(tt.ctx, tt.grid, DefaultConfig())
			assert.Nil(t, out)

			var detErr *DetectionError
			require.True(t, errors.As(err, &detErr), "got %v", err)
			assert.NotEmpty(t, detErr.Stage)
		})
	}

	_, err = f.Apply(cancelled, valid, DefaultConfig())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOptionsValidate(t *testing.T) {
	assert.NoError(t, DefaultOptions().Validate())

	bad := DefaultOptions()
	bad.KernelSize = 20
	bad.ScaleFactor = 1
	bad.Thickness = 0

	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kernel size 20")
	assert.Contains(t, err.Error(), "scale factor")
	assert.Contains(t, err.Error(), "thickness")

	_, err = NewFilter(bad, nil, nil)
	assert.Error(t, err)
}

func TestOverlayPlainKeypoints(t *testing.T) {
	opts := DefaultOptions()
	opts.RichKeypoints = false
	f, err := NewFilter(opts, nil, nil)
	require.NoError(t, err)

	g := decode(t, make([]byte, frame.ExpectedLen(height, width)))
	out, err := f.Overlay(g, []Keypoint{{X: 100, Y: 100, Size: 40, Angle: 0}})
	require.NoError(t, err)
	defer out.Close()
	got := encode(t, out)

	green := func(x, y int) bool {
		return got[(y*width+x)*4+1] == 255
	}
	assert.True(t, green(103, 100), "fixed radius circle")
	assert.True(t, green(100, 97))
	assert.False(t, green(120, 100), "size based radius not used")
	assert.False(t, green(110, 100), "no orientation tick")
	assert.False(t, green(100, 100))
}

func TestKeypointGeometry(t *testing.T) {
	kp := Keypoint{X: 10.4, Y: 20.6, Size: 31}
	assert.Equal(t, 10, kp.Center().X)
	assert.Equal(t, 21, kp.Center().Y)
	assert.Equal(t, 16, kp.Radius())
	assert.Equal(t, 1, Keypoint{Size: 0.5}.Radius())
}
