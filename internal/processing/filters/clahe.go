package filters

import (
	"context"
	"fmt"
	"image"

	"feature-overlay/internal/opencv/safe"

	"gocv.io/x/gocv"
)

const (
	DefaultCLAHEClipLimit = 3.0
	DefaultCLAHETileSize  = 8
)

// CLAHEFilter equalises local contrast on a single channel image so that
// corners in dim or washed-out regions clear the detector threshold.
type CLAHEFilter struct {
	ClipLimit float64
	TileSize  int
}

func NewCLAHEFilter(clipLimit float64, tileSize int) *CLAHEFilter {
	return &CLAHEFilter{ClipLimit: clipLimit, TileSize: tileSize}
}

func (c *CLAHEFilter) Name() string {
	return "clahe_filter"
}

func (c *CLAHEFilter) Validate() error {
	if c.ClipLimit <= 0 {
		return fmt.Errorf("CLAHE clip limit %.2f must be positive", c.ClipLimit)
	}
	if c.TileSize < 1 {
		return fmt.Errorf("CLAHE tile size %d must be at least 1", c.TileSize)
	}
	return nil
}

// Apply equalises input into dst. Both must be 8-bit single channel Mats of
// the same size.
func (c *CLAHEFilter) Apply(ctx context.Context, input, dst *safe.Mat) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := c.Validate(); err != nil {
		return err
	}
	if err := safe.ValidateMatForOperation(input, "CLAHE"); err != nil {
		return err
	}
	if err := safe.ValidateMatForOperation(dst, "CLAHE output"); err != nil {
		return err
	}
	if err := safe.ValidateChannels(input, 1, "CLAHE"); err != nil {
		return err
	}
	if dst.Type() != gocv.MatTypeCV8UC1 || dst.Rows() != input.Rows() || dst.Cols() != input.Cols() {
		return fmt.Errorf("CLAHE output must be %dx%d single channel", input.Cols(), input.Rows())
	}

	clahe := gocv.NewCLAHEWithParams(c.ClipLimit, image.Point{X: c.TileSize, Y: c.TileSize})
	defer clahe.Close()

	srcMat := input.GetMat()
	dstMat := dst.GetMat()

	clahe.Apply(srcMat, &dstMat)

	return nil
}
