package filters

import (
	"context"
	"fmt"

	"feature-overlay/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// GrayscaleConverter produces the single channel image the keypoint detector works on.
type GrayscaleConverter struct{}

func NewGrayscaleConverter() *GrayscaleConverter {
	return &GrayscaleConverter{}
}

func (g *GrayscaleConverter) Name() string {
	return "grayscale_converter"
}

// Apply converts input into dst, an 8-bit single channel Mat of the same size.
func (g *GrayscaleConverter) Apply(ctx context.Context, input, dst *safe.Mat) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := safe.ValidateMatForOperation(input, "grayscale conversion"); err != nil {
		return err
	}
	if err := safe.ValidateMatForOperation(dst, "grayscale output"); err != nil {
		return err
	}
	if dst.Type() != gocv.MatTypeCV8UC1 || dst.Rows() != input.Rows() || dst.Cols() != input.Cols() {
		return fmt.Errorf("grayscale output must be %dx%d single channel", input.Cols(), input.Rows())
	}

	srcMat := input.GetMat()
	dstMat := dst.GetMat()

	switch input.Channels() {
	case 1:
		return input.CopyTo(dst)
	case 3:
		gocv.CvtColor(srcMat, &dstMat, gocv.ColorBGRToGray)
	case 4:
		gocv.CvtColor(srcMat, &dstMat, gocv.ColorBGRAToGray)
	default:
		return fmt.Errorf("unsupported channel count for grayscale conversion: %d", input.Channels())
	}

	return nil
}
