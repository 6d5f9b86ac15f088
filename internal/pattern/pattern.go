// Package pattern generates synthetic BGRA frames with known structure.
package pattern

import (
	"fmt"
	"image"
	"image/color"

	"feature-overlay/internal/frame"

	"github.com/skip2/go-qrcode"
	"golang.org/x/image/draw"
)

type Kind string

const (
	KindCheckerboard Kind = "checkerboard"
	KindBlocks       Kind = "blocks"
	KindQR           Kind = "qr"
	KindBlank        Kind = "blank"
)

// Generate builds a height x width frame of the given kind with default sizing.
func Generate(kind Kind, height, width int) ([]byte, error) {
	switch kind {
	case KindCheckerboard:
		return Checkerboard(height, width, 40), nil
	case KindBlocks:
		return Blocks(height, width, 48, 48), nil
	case KindQR:
		return QR(height, width, "feature-overlay")
	case KindBlank:
		return make([]byte, frame.ExpectedLen(height, width)), nil
	default:
		return nil, fmt.Errorf("pattern: unknown kind %q", kind)
	}
}

// Checkerboard alternates black and white squares of the given edge length.
func Checkerboard(height, width, square int) []byte {
	square = max(1, square)
	buf := make([]byte, frame.ExpectedLen(height, width))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if (x/square+y/square)%2 == 0 {
				setGray(buf, width, x, y, 255)
			} else {
				setGray(buf, width, x, y, 0)
			}
		}
	}
	return buf
}

// Blocks draws isolated white squares separated by black gaps, which gives
// the detector clean L-shaped corners.
func Blocks(height, width, size, gap int) []byte {
	size = max(1, size)
	gap = max(1, gap)
	period := size + gap

	buf := make([]byte, frame.ExpectedLen(height, width))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			inside := (x%period) >= gap && (y%period) >= gap
			if inside {
				setGray(buf, width, x, y, 255)
			} else {
				setGray(buf, width, x, y, 0)
			}
		}
	}
	return buf
}

// QR renders content as a QR code centred on a white frame.
func QR(height, width int, content string) ([]byte, error) {
	code, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("pattern: qr: %w", err)
	}

	side := min(height, width)
	symbol := code.Image(side)

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	offset := image.Point{X: (width - side) / 2, Y: (height - side) / 2}
	target := image.Rectangle{Min: offset, Max: offset.Add(image.Point{X: side, Y: side})}
	draw.NearestNeighbor.Scale(canvas, target, symbol, symbol.Bounds(), draw.Over, nil)

	return frame.FromRGBA(canvas), nil
}

func setGray(buf []byte, width, x, y int, v uint8) {
	i := (y*width + x) * 4
	buf[i], buf[i+1], buf[i+2], buf[i+3] = v, v, v, 255
}
