package filters

import (
	"context"
	"testing"

	"feature-overlay/internal/opencv/safe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func newMat(t *testing.T, rows, cols int, mt gocv.MatType) *safe.Mat {
	t.Helper()
	m, err := safe.NewMat(rows, cols, mt)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestGaussianFilterValidate(t *testing.T) {
	assert.NoError(t, NewGaussianFilter(DefaultKernelSize, DefaultSigma).Validate())
	assert.Error(t, NewGaussianFilter(4, 0).Validate())
	assert.Error(t, NewGaussianFilter(5, -1).Validate())
}

func TestGaussianFilterApply(t *testing.T) {
	src := newMat(t, 32, 32, gocv.MatTypeCV8UC4)
	dst := newMat(t, 32, 32, gocv.MatTypeCV8UC4)

	g := NewGaussianFilter(DefaultKernelSize, DefaultSigma)
	require.NoError(t, g.Apply(context.Background(), src, dst))

	wrong := newMat(t, 16, 32, gocv.MatTypeCV8UC4)
	assert.Error(t, g.Apply(context.Background(), src, wrong))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, g.Apply(ctx, src, dst), context.Canceled)
}

func TestGrayscaleConverter(t *testing.T) {
	gray := newMat(t, 8, 8, gocv.MatTypeCV8UC1)
	conv := NewGrayscaleConverter()
	ctx := context.Background()

	for _, mt := range []gocv.MatType{gocv.MatTypeCV8UC1, gocv.MatTypeCV8UC3, gocv.MatTypeCV8UC4} {
		require.NoError(t, conv.Apply(ctx, newMat(t, 8, 8, mt), gray))
	}

	assert.Error(t, conv.Apply(ctx, newMat(t, 8, 8, gocv.MatTypeCV8UC4), newMat(t, 8, 8, gocv.MatTypeCV8UC3)))
}

func TestCLAHEFilter(t *testing.T) {
	c := NewCLAHEFilter(DefaultCLAHEClipLimit, DefaultCLAHETileSize)
	require.NoError(t, c.Validate())

	src := newMat(t, 64, 64, gocv.MatTypeCV8UC1)
	dst := newMat(t, 64, 64, gocv.MatTypeCV8UC1)
	require.NoError(t, c.Apply(context.Background(), src, dst))

	assert.Error(t, c.Apply(context.Background(), newMat(t, 64, 64, gocv.MatTypeCV8UC4), dst))
	assert.Error(t, NewCLAHEFilter(0, 8).Validate())
	assert.Error(t, NewCLAHEFilter(2, 0).Validate())
}
