package frame

import (
	"image"
)

// FromRGBA packs an RGBA image into a BGRA buffer.
func FromRGBA(img *image.RGBA) []byte {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	buf := make([]byte, ExpectedLen(height, width))
	for y := 0; y < height; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		for x := 0; x < width; x++ {
			s := row[x*4 : x*4+4]
			d := buf[(y*width+x)*4:]
			d[0], d[1], d[2], d[3] = s[2], s[1], s[0], s[3]
		}
	}
	return buf
}

// ToRGBA unpacks a BGRA buffer. With opaque set the alpha channel is
// forced to 255, which is how camera frames are displayed.
func ToRGBA(buf []byte, height, width int, opaque bool) (*image.RGBA, error) {
	if err := checkShape(buf, height, width); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < len(buf); i += Channels {
		img.Pix[i] = buf[i+2]
		img.Pix[i+1] = buf[i+1]
		img.Pix[i+2] = buf[i]
		if opaque {
			img.Pix[i+3] = 255
		} else {
			img.Pix[i+3] = buf[i+3]
		}
	}
	return img, nil
}
