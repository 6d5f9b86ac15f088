// Package frame converts flat BGRA pixel buffers to and from OpenCV Mats.
//
// A buffer holds height*width*4 unsigned bytes in row-major order with the
// four channel samples of each pixel packed together. Decoding does not copy:
// the returned Grid is a view over the caller's buffer, which must therefore
// stay unmodified until the Grid is closed.
package frame

import (
	"fmt"
	"math"

	"feature-overlay/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// Channels is the fixed sample count per pixel.
const Channels = 4

const (
	DefaultHeight = 480
	DefaultWidth  = 640
)

// ShapeMismatchError reports a buffer whose length disagrees with the
// declared dimensions.
type ShapeMismatchError struct {
	Height   int
	Width    int
	Channels int
	Want     int
	Got      int
}

func (e *ShapeMismatchError) Error() string {
	if e.Want < 0 {
		return fmt.Sprintf("frame: invalid dimensions %dx%dx%d", e.Height, e.Width, e.Channels)
	}
	return fmt.Sprintf("frame: buffer of %d bytes does not match %dx%dx%d (want %d)",
		e.Got, e.Height, e.Width, e.Channels, e.Want)
}

// ExpectedLen returns the buffer length for the given dimensions.
func ExpectedLen(height, width int) int {
	return height * width * Channels
}

// checkShape rejects dimensions OpenCV cannot address, including products
// that would overflow int, before comparing the buffer length.
func checkShape(buf []byte, height, width int) error {
	valid := height >= 0 && width >= 0 && height <= math.MaxInt32 && width <= math.MaxInt32 &&
		(width == 0 || height <= math.MaxInt/(width*Channels))
	want := -1
	if valid {
		want = ExpectedLen(height, width)
	}
	if !valid || len(buf) != want {
		return &ShapeMismatchError{
			Height:   height,
			Width:    width,
			Channels: Channels,
			Want:     want,
			Got:      len(buf),
		}
	}
	return nil
}

// Grid is a height x width x 4 view over pixel data.
type Grid struct {
	mat  *safe.Mat
	data []byte
}

// Decode reinterprets buf as a height x width BGRA grid.
func Decode(buf []byte, height, width int) (*Grid, error) {
	return DecodeTracked(buf, height, width, nil)
}

// DecodeTracked is Decode with the native allocation reported to memTracker.
func DecodeTracked(buf []byte, height, width int, memTracker safe.MemoryTracker) (*Grid, error) {
	if err := checkShape(buf, height, width); err != nil {
		return nil, err
	}

	if len(buf) == 0 {
		return &Grid{mat: safe.NewEmpty("decoded_frame")}, nil
	}

	mat, err := safe.NewMatFromBytes(height, width, gocv.MatTypeCV8UC4, buf, memTracker, "decoded_frame")
	if err != nil {
		return nil, fmt.Errorf("frame: decode %dx%d: %w", height, width, err)
	}

	return &Grid{mat: mat, data: buf}, nil
}

// Encode flattens g back into a fresh buffer with the layout Decode accepts.
func Encode(g *Grid) ([]byte, error) {
	if g == nil || g.mat == nil {
		return nil, fmt.Errorf("frame: encode of nil grid")
	}
	out, err := g.mat.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("frame: encode: %w", err)
	}
	return out, nil
}

// FromMat takes ownership of mat as a grid. Callers use it to hand a filter
// result back through the adapter.
func FromMat(mat *safe.Mat) *Grid {
	return &Grid{mat: mat}
}

func (g *Grid) Rows() int     { return g.mat.Rows() }
func (g *Grid) Cols() int     { return g.mat.Cols() }
func (g *Grid) Channels() int { return g.mat.Channels() }

// Len is the byte length Encode will return.
func (g *Grid) Len() int {
	return g.Rows() * g.Cols() * g.Channels()
}

func (g *Grid) Empty() bool {
	return g.mat == nil || g.mat.Empty()
}

// Mat exposes the underlying safe Mat for OpenCV calls.
func (g *Grid) Mat() *safe.Mat {
	return g.mat
}

// Clone copies the pixels into an independent grid.
func (g *Grid) Clone() (*Grid, error) {
	mat, err := g.mat.Clone()
	if err != nil {
		return nil, fmt.Errorf("frame: clone: %w", err)
	}
	return &Grid{mat: mat}, nil
}

// Close releases the native Mat. The source buffer is released to the GC.
func (g *Grid) Close() {
	if g == nil || g.mat == nil {
		return
	}
	g.mat.Close()
	g.data = nil
}
