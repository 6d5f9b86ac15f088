package safe

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

type recordingTracker struct {
	mu     sync.Mutex
	live   map[uintptr]int64
	frees  int
	allocs int
}

func newRecordingTracker() *recordingTracker {
	return &recordingTracker{live: make(map[uintptr]int64)}
}

func (r *recordingTracker) TrackAllocation(ptr uintptr, size int64, tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[ptr] = size
	r.allocs++
}

func (r *recordingTracker) TrackDeallocation(ptr uintptr, tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, ptr)
	r.frees++
}

func TestNewMatFromBytes(t *testing.T) {
	data := make([]byte, 4*3*4)
	for i := range data {
		data[i] = byte(i)
	}

	mat, err := NewMatFromBytes(4, 3, gocv.MatTypeCV8UC4, data, nil, "view")
	require.NoError(t, err)
	defer mat.Close()

	assert.Equal(t, 4, mat.Rows())
	assert.Equal(t, 3, mat.Cols())
	assert.Equal(t, 4, mat.Channels())
	assert.EqualValues(t, len(data), mat.Size())

	out, err := mat.ToBytes()
	require.NoError(t, err)
	assert.Equal(t, data, out)

	out[0] = 99
	again, err := mat.ToBytes()
	require.NoError(t, err)
	assert.Equal(t, byte(0), again[0], "ToBytes returns a copy")
}

func TestNewMatFromBytesRejectsBadInput(t *testing.T) {
	_, err := NewMatFromBytes(4, 3, gocv.MatTypeCV8UC4, make([]byte, 10), nil, "")
	assert.Error(t, err)

	_, err = NewMatFromBytes(0, 3, gocv.MatTypeCV8UC4, nil, nil, "")
	assert.Error(t, err)

	_, err = NewMat(-1, 5, gocv.MatTypeCV8UC1)
	assert.Error(t, err)
}

func TestCloneIsIndependent(t *testing.T) {
	src, err := NewMat(2, 2, gocv.MatTypeCV8UC1)
	require.NoError(t, err)
	defer src.Close()

	clone, err := src.Clone()
	require.NoError(t, err)
	defer clone.Close()

	assert.NotEqual(t, src.ID(), clone.ID())
	assert.Equal(t, src.Rows(), clone.Rows())
	assert.Equal(t, src.Type(), clone.Type())
}

func TestCloseIsIdempotentAndTracked(t *testing.T) {
	tracker := newRecordingTracker()

	mat, err := NewMatWithTracker(8, 8, gocv.MatTypeCV8UC3, tracker, "scratch")
	require.NoError(t, err)
	assert.Equal(t, 1, tracker.allocs)
	assert.EqualValues(t, 8*8*3, tracker.live[mat.trackingKey()])

	mat.Close()
	mat.Close()
	assert.False(t, mat.IsValid())
	assert.True(t, mat.Empty())
	assert.Zero(t, mat.Rows())
	assert.Equal(t, 1, tracker.frees)
	assert.Empty(t, tracker.live)

	_, err = mat.Clone()
	assert.Error(t, err)
	_, err = mat.ToBytes()
	assert.Error(t, err)
}

func TestNewEmpty(t *testing.T) {
	mat := NewEmpty("empty")
	defer mat.Close()

	assert.True(t, mat.IsValid())
	assert.True(t, mat.Empty())
	assert.Error(t, ValidateMatForOperation(mat, "test"))
}

func TestValidators(t *testing.T) {
	mat, err := NewMat(4, 4, gocv.MatTypeCV8UC4)
	require.NoError(t, err)
	defer mat.Close()

	assert.NoError(t, ValidateMatForOperation(mat, "test"))
	assert.NoError(t, ValidateChannels(mat, 4, "test"))
	assert.Error(t, ValidateChannels(mat, 1, "test"))
	assert.Error(t, ValidateMatForOperation(nil, "test"))

	assert.NoError(t, ValidateKernelSize(21, "blur"))
	assert.Error(t, ValidateKernelSize(20, "blur"))
	assert.Error(t, ValidateKernelSize(0, "blur"))
}
