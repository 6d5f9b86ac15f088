package debug

import (
	"testing"
	"time"

	"feature-overlay/internal/opencv/safe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestCoordinatorWithoutTracking(t *testing.T) {
	dc := NewCoordinator(DefaultConfig(), nil)

	assert.Nil(t, dc.MatTracker())
	assert.Empty(t, dc.Leaks().ByTag)
	dc.Shutdown()
}

func TestCoordinatorLeakReport(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TrackMats = true
	dc := NewCoordinator(cfg, nil)

	tracker := dc.MatTracker()
	require.NotNil(t, tracker)

	a, err := safe.NewMatWithTracker(4, 4, gocv.MatTypeCV8UC1, tracker, "gray")
	require.NoError(t, err)
	b, err := safe.NewMatWithTracker(4, 4, gocv.MatTypeCV8UC1, tracker, "gray")
	require.NoError(t, err)
	c, err := safe.NewMatWithTracker(2, 2, gocv.MatTypeCV8UC4, tracker, "frame")
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	report := dc.Leaks()
	require.Len(t, report.ByTag, 2)
	assert.Equal(t, TagCount{Tag: "gray", Count: 2, Bytes: 32}, report.ByTag[0])
	assert.Equal(t, TagCount{Tag: "frame", Count: 1, Bytes: 16}, report.ByTag[1])
	assert.False(t, report.Oldest.IsZero())

	c.Close()
	assert.Len(t, dc.Leaks().ByTag, 1)

	dc.Timing().Observe("load", time.Millisecond)
	dc.Shutdown()
}
