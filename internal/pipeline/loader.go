package pipeline

import (
	"image"

	"feature-overlay/internal/frame"

	"golang.org/x/image/draw"
)

// Loader converts decoded images into BGRA frame buffers.
type Loader struct {
	Scaler draw.Scaler
}

func NewLoader() *Loader {
	return &Loader{Scaler: draw.CatmullRom}
}

// ToBuffer stretches img to height x width and packs it as BGRA.
func (l *Loader) ToBuffer(img image.Image, height, width int) []byte {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))

	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Dx() == width && rgba.Bounds().Dy() == height {
		draw.Draw(dst, dst.Bounds(), rgba, rgba.Bounds().Min, draw.Src)
	} else {
		l.Scaler.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	}

	return frame.FromRGBA(dst)
}
