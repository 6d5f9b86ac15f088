// Package features implements the feature overlay filter: a Gaussian blur
// to suppress noise, ORB keypoint detection on the blurred frame, and a
// keypoint overlay drawn onto a copy of the unblurred input.
package features

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"feature-overlay/internal/frame"
	"feature-overlay/internal/logger"
	"feature-overlay/internal/opencv/memory"
	"feature-overlay/internal/opencv/safe"
	"feature-overlay/internal/processing/filters"

	"gocv.io/x/gocv"
)

// Keypoint is a detected feature location.
type Keypoint struct {
	X, Y     float64
	Size     float64
	Angle    float64 // degrees, negative when the detector reports none
	Response float64
	Octave   int
}

// plainRadius is the fixed circle radius used when keypoint size and
// orientation are not drawn.
const plainRadius = 3

// Radius is the overlay circle radius for the keypoint.
func (k Keypoint) Radius() int {
	return max(1, int(math.Round(k.Size/2)))
}

func (k Keypoint) Center() image.Point {
	return image.Point{X: int(math.Round(k.X)), Y: int(math.Round(k.Y))}
}

// Options fixes everything about the filter except the keypoint budget.
type Options struct {
	KernelSize    int
	Sigma         float64
	ScaleFactor   float32
	Levels        int
	EdgeThreshold int
	PatchSize     int
	FastThreshold int
	Color         color.RGBA
	Thickness     int
	// RichKeypoints sizes circles by keypoint scale and adds an orientation
	// tick. Otherwise every keypoint gets a small fixed circle.
	RichKeypoints bool

	// Equalize runs CLAHE on the grayscale frame before detection.
	Equalize       bool
	CLAHEClipLimit float64
	CLAHETileSize  int
}

func DefaultOptions() Options {
	return Options{
		KernelSize:    filters.DefaultKernelSize,
		Sigma:         filters.DefaultSigma,
		ScaleFactor:   1.2,
		Levels:        8,
		EdgeThreshold: 31,
		PatchSize:     31,
		FastThreshold: 20,
		Color:         color.RGBA{R: 0, G: 255, B: 0, A: 255},
		Thickness:     1,
		RichKeypoints: true,

		CLAHEClipLimit: filters.DefaultCLAHEClipLimit,
		CLAHETileSize:  filters.DefaultCLAHETileSize,
	}
}

// Validate reports option values the detector or drawing calls cannot use.
func (o Options) Validate() error {
	var errs []error
	if err := safe.ValidateKernelSize(o.KernelSize, "feature filter"); err != nil {
		errs = append(errs, err)
	}
	if o.Sigma < 0 {
		errs = append(errs, fmt.Errorf("sigma %.3f must not be negative", o.Sigma))
	}
	if o.ScaleFactor <= 1 {
		errs = append(errs, fmt.Errorf("scale factor %.2f must be greater than 1", o.ScaleFactor))
	}
	if o.Levels < 1 {
		errs = append(errs, fmt.Errorf("pyramid levels %d must be at least 1", o.Levels))
	}
	if o.PatchSize < 2 || o.EdgeThreshold < 0 || o.FastThreshold < 0 {
		errs = append(errs, fmt.Errorf("invalid ORB geometry: patch=%d edge=%d fast=%d",
			o.PatchSize, o.EdgeThreshold, o.FastThreshold))
	}
	if o.Thickness < 1 {
		errs = append(errs, fmt.Errorf("overlay thickness %d must be at least 1", o.Thickness))
	}
	if o.Equalize {
		if err := filters.NewCLAHEFilter(o.CLAHEClipLimit, o.CLAHETileSize).Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Filter runs blur, detection and overlay. It holds no per-call state and
// is safe for concurrent use.
type Filter struct {
	opts      Options
	blur      *filters.GaussianFilter
	grayscale *filters.GrayscaleConverter
	equalize  *filters.CLAHEFilter
	memory    *memory.Manager
	logger    logger.Logger
}

// NewFilter builds a filter. mem may be nil, in which case scratch Mats are
// allocated and freed on every call.
func NewFilter(opts Options, mem *memory.Manager, log logger.Logger) (*Filter, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("features: %w", err)
	}
	if log == nil {
		log = logger.NoOpLogger{}
	}
	f := &Filter{
		opts:      opts,
		blur:      filters.NewGaussianFilter(opts.KernelSize, opts.Sigma),
		grayscale: filters.NewGrayscaleConverter(),
		memory:    mem,
		logger:    log,
	}
	if opts.Equalize {
		f.equalize = filters.NewCLAHEFilter(opts.CLAHEClipLimit, opts.CLAHETileSize)
	}
	return f, nil
}

func (f *Filter) Options() Options {
	return f.opts
}

// Apply returns a new grid showing the detected keypoints over the original
// pixels. The input grid is not modified.
func (f *Filter) Apply(ctx context.Context, g *frame.Grid, cfg Config) (*frame.Grid, error) {
	keypoints, err := f.Detect(ctx, g, cfg)
	if err != nil {
		return nil, err
	}

	out, err := f.Overlay(g, keypoints)
	if err != nil {
		return nil, err
	}

	f.logger.Debug("FeatureFilter", "overlay rendered", map[string]interface{}{
		"target":    cfg.TargetCount,
		"keypoints": len(keypoints),
	})
	return out, nil
}

// Detect blurs a scratch copy of g and runs ORB on it, returning at most
// cfg.TargetCount keypoints ranked by the detector.
func (f *Filter) Detect(ctx context.Context, g *frame.Grid, cfg Config) ([]Keypoint, error) {
	if err := validateGrid(g); err != nil {
		return nil, detectionErr("validate", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, detectionErr("validate", err)
	}
	if cfg.TargetCount <= 0 {
		return []Keypoint{}, nil
	}

	src := g.Mat()

	blurred, err := f.scratch(src.Rows(), src.Cols(), src.Type(), "blurred")
	if err != nil {
		return nil, detectionErr("blur", err)
	}
	defer f.release(blurred)

	if err := f.blur.Apply(ctx, src, blurred); err != nil {
		return nil, detectionErr("blur", err)
	}

	gray, err := f.scratch(src.Rows(), src.Cols(), gocv.MatTypeCV8UC1, "gray")
	if err != nil {
		return nil, detectionErr("grayscale", err)
	}
	defer f.release(gray)

	if err := f.grayscale.Apply(ctx, blurred, gray); err != nil {
		return nil, detectionErr("grayscale", err)
	}

	if f.equalize != nil {
		equalized, err := f.scratch(src.Rows(), src.Cols(), gocv.MatTypeCV8UC1, "equalized")
		if err != nil {
			return nil, detectionErr("equalize", err)
		}
		defer f.release(equalized)

		if err := f.equalize.Apply(ctx, gray, equalized); err != nil {
			return nil, detectionErr("equalize", err)
		}
		gray = equalized
	}

	if err := ctx.Err(); err != nil {
		return nil, detectionErr("detect", err)
	}

	return f.detectORB(gray, cfg.TargetCount), nil
}

func (f *Filter) detectORB(gray *safe.Mat, target int) []Keypoint {
	orb := gocv.NewORBWithParams(
		target,
		f.opts.ScaleFactor,
		f.opts.Levels,
		f.opts.EdgeThreshold,
		0,
		2,
		gocv.ORBScoreTypeHarris,
		f.opts.PatchSize,
		f.opts.FastThreshold,
	)
	defer orb.Close()

	mask := gocv.NewMat()
	defer mask.Close()

	cvKeypoints, descriptors := orb.DetectAndCompute(gray.GetMat(), mask)
	descriptors.Close()

	keypoints := make([]Keypoint, 0, len(cvKeypoints))
	for _, kp := range cvKeypoints {
		keypoints = append(keypoints, Keypoint{
			X:        kp.X,
			Y:        kp.Y,
			Size:     kp.Size,
			Angle:    kp.Angle,
			Response: kp.Response,
			Octave:   kp.Octave,
		})
	}

	// ORB splits the budget across pyramid levels and can overshoot it
	// slightly. Keep the strongest responses.
	if len(keypoints) > target {
		sort.SliceStable(keypoints, func(i, j int) bool {
			return keypoints[i].Response > keypoints[j].Response
		})
		keypoints = keypoints[:target]
	}
	return keypoints
}

// Overlay draws keypoints onto a clone of g.
func (f *Filter) Overlay(g *frame.Grid, keypoints []Keypoint) (*frame.Grid, error) {
	if err := validateGrid(g); err != nil {
		return nil, detectionErr("overlay", err)
	}

	out, err := g.Clone()
	if err != nil {
		return nil, detectionErr("overlay", err)
	}

	canvas := out.Mat().GetMat()
	for _, kp := range keypoints {
		center := kp.Center()
		radius := plainRadius
		if f.opts.RichKeypoints {
			radius = kp.Radius()
		}
		gocv.Circle(&canvas, center, radius, f.opts.Color, f.opts.Thickness)

		if f.opts.RichKeypoints && kp.Angle >= 0 {
			rad := kp.Angle * math.Pi / 180
			tip := image.Point{
				X: int(math.Round(kp.X + float64(radius)*math.Cos(rad))),
				Y: int(math.Round(kp.Y + float64(radius)*math.Sin(rad))),
			}
			gocv.Line(&canvas, center, tip, f.opts.Color, f.opts.Thickness)
		}
	}

	return out, nil
}

func (f *Filter) scratch(rows, cols int, matType gocv.MatType, tag string) (*safe.Mat, error) {
	if f.memory != nil {
		return f.memory.GetMat(rows, cols, matType, tag)
	}
	return safe.NewMat(rows, cols, matType)
}

func (f *Filter) release(mat *safe.Mat) {
	if f.memory != nil {
		f.memory.ReleaseMat(mat)
		return
	}
	mat.Close()
}

func validateGrid(g *frame.Grid) error {
	if g == nil {
		return fmt.Errorf("nil grid")
	}
	if err := safe.ValidateMatForOperation(g.Mat(), "feature detection"); err != nil {
		return err
	}
	return safe.ValidateChannels(g.Mat(), frame.Channels, "feature detection")
}
