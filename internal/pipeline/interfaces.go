// Package pipeline feeds frames from image files or PDF pages through a
// FrameProcessor and writes the results back to disk.
package pipeline

import (
	"context"
	"image"
)

// Source yields a fixed number of frames addressable by index.
type Source interface {
	Count() int
	Frame(index int) (image.Image, error)
	// Name is a file-system safe stem for the frame's output file.
	Name(index int) string
	Close() error
}

// FrameProcessor turns a BGRA buffer of its configured size into another.
type FrameProcessor interface {
	ProcessImage(ctx context.Context, buf []byte) ([]byte, error)
	Dimensions() (height, width int)
}
