package pipeline

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"feature-overlay/internal/frame"
	"feature-overlay/internal/logger"

	"gocv.io/x/gocv"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// Saver writes BGRA frames as image files, rotating them first when the
// display orientation differs from the capture orientation.
type Saver struct {
	rotate      int
	jpegQuality int
	logger      logger.Logger
}

func NewSaver(rotate, jpegQuality int, log logger.Logger) (*Saver, error) {
	switch rotate {
	case 0, 90, 180, 270:
	default:
		return nil, fmt.Errorf("pipeline: rotation %d must be 0, 90, 180 or 270", rotate)
	}
	if jpegQuality < 1 || jpegQuality > 100 {
		jpegQuality = 95
	}
	if log == nil {
		log = logger.NoOpLogger{}
	}
	return &Saver{rotate: rotate, jpegQuality: jpegQuality, logger: log}, nil
}

// Save encodes buf to path, choosing the format from the extension.
func (s *Saver) Save(path string, buf []byte, height, width int) error {
	format, err := FormatFor(path)
	if err != nil {
		return err
	}

	img, err := s.Render(buf, height, width)
	if err != nil {
		return err
	}

	// Encode into a temp file next to path so a failed write never leaves a
	// truncated image behind.
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	tmp := f.Name()

	if err := Encode(f, img, format, s.jpegQuality); err != nil {
		f.Close()
		os.Remove(tmp)
		s.logger.Error("ImageSaver", err, map[string]interface{}{
			"path":   path,
			"format": format,
		})
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("pipeline: %w", err)
	}

	s.logger.Debug("ImageSaver", "frame saved", map[string]interface{}{
		"path":   path,
		"format": format,
		"rotate": s.rotate,
	})
	return nil
}

// Render unpacks buf into an opaque RGBA image after rotation.
func (s *Saver) Render(buf []byte, height, width int) (*image.RGBA, error) {
	if s.rotate == 0 {
		return frame.ToRGBA(buf, height, width, true)
	}

	g, err := frame.Decode(buf, height, width)
	if err != nil {
		return nil, err
	}
	defer g.Close()
	if g.Empty() {
		return nil, fmt.Errorf("pipeline: cannot rotate an empty frame")
	}

	dst := gocv.NewMat()
	defer dst.Close()

	gocv.Rotate(g.Mat().GetMat(), &dst, rotateFlag(s.rotate))
	if dst.Empty() {
		return nil, fmt.Errorf("pipeline: rotation by %d failed", s.rotate)
	}

	return frame.ToRGBA(dst.ToBytes(), dst.Rows(), dst.Cols(), true)
}

func rotateFlag(degrees int) gocv.RotateFlag {
	switch degrees {
	case 180:
		return gocv.Rotate180Clockwise
	case 270:
		return gocv.Rotate90CounterClockwise
	default:
		return gocv.Rotate90Clockwise
	}
}

// FormatFor maps an output path's extension to an encoder name.
func FormatFor(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "png", nil
	case ".jpg", ".jpeg":
		return "jpeg", nil
	case ".bmp":
		return "bmp", nil
	case ".tif", ".tiff":
		return "tiff", nil
	default:
		return "", fmt.Errorf("pipeline: unsupported output type %q", filepath.Ext(path))
	}
}

func Encode(w io.Writer, img image.Image, format string, jpegQuality int) error {
	var err error
	switch format {
	case "png":
		err = png.Encode(w, img)
	case "jpeg":
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: jpegQuality})
	case "bmp":
		err = bmp.Encode(w, img)
	case "tiff":
		err = tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("pipeline: unknown format %q", format)
	}
	if err != nil {
		return fmt.Errorf("pipeline: encode %s: %w", format, err)
	}
	return nil
}
