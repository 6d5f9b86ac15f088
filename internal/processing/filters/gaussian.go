package filters

import (
	"context"
	"fmt"
	"image"

	"feature-overlay/internal/opencv/safe"

	"gocv.io/x/gocv"
)

const (
	DefaultKernelSize = 21
	// DefaultSigma of zero lets OpenCV derive sigma from the kernel size.
	DefaultSigma = 0.0
)

// GaussianFilter smooths a frame with a fixed square kernel.
type GaussianFilter struct {
	KernelSize int
	Sigma      float64
}

func NewGaussianFilter(kernelSize int, sigma float64) *GaussianFilter {
	return &GaussianFilter{KernelSize: kernelSize, Sigma: sigma}
}

func (g *GaussianFilter) Name() string {
	return "gaussian_filter"
}

// Validate rejects kernels OpenCV would refuse.
func (g *GaussianFilter) Validate() error {
	if err := safe.ValidateKernelSize(g.KernelSize, g.Name()); err != nil {
		return err
	}
	if g.Sigma < 0 {
		return fmt.Errorf("sigma %.3f must not be negative", g.Sigma)
	}
	return nil
}

// Apply writes the blurred input into dst, which must match the input geometry.
func (g *GaussianFilter) Apply(ctx context.Context, input, dst *safe.Mat) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := g.Validate(); err != nil {
		return err
	}
	if err := safe.ValidateMatForOperation(input, "Gaussian blur"); err != nil {
		return err
	}
	if err := safe.ValidateMatForOperation(dst, "Gaussian blur output"); err != nil {
		return err
	}
	if dst.Rows() != input.Rows() || dst.Cols() != input.Cols() || dst.Type() != input.Type() {
		return fmt.Errorf("Gaussian blur output is %dx%d %s, input is %dx%d %s",
			dst.Cols(), dst.Rows(), safe.TypeName(dst.Type()),
			input.Cols(), input.Rows(), safe.TypeName(input.Type()))
	}

	srcMat := input.GetMat()
	dstMat := dst.GetMat()

	gocv.GaussianBlur(srcMat, &dstMat, image.Point{X: g.KernelSize, Y: g.KernelSize}, g.Sigma, g.Sigma, gocv.BorderDefault)

	if dstMat.Empty() {
		return fmt.Errorf("Gaussian blur produced an empty Mat")
	}
	return nil
}
