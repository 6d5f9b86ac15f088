package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"feature-overlay/internal/logger"

	"golang.org/x/sync/errgroup"
)

// FrameFailure records one frame that could not be processed.
type FrameFailure struct {
	Index int
	Name  string
	Err   error
}

type BatchReport struct {
	Frames    int
	Succeeded int
	Failed    int
	Outputs   []string
	Failures  []FrameFailure
	Duration  time.Duration
}

// Batch runs every frame of a Source through a FrameProcessor on a bounded
// number of workers. A failing frame is recorded and the batch continues.
type Batch struct {
	processor FrameProcessor
	loader    *Loader
	saver     *Saver
	workers   int
	extension string
	logger    logger.Logger
}

type BatchOption func(*Batch)

func WithWorkers(n int) BatchOption {
	return func(b *Batch) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithExtension sets the output file type, e.g. ".jpg".
func WithExtension(ext string) BatchOption {
	return func(b *Batch) {
		b.extension = ext
	}
}

func WithLogger(log logger.Logger) BatchOption {
	return func(b *Batch) {
		if log != nil {
			b.logger = log
		}
	}
}

func NewBatch(processor FrameProcessor, loader *Loader, saver *Saver, opts ...BatchOption) (*Batch, error) {
	b := &Batch{
		processor: processor,
		loader:    loader,
		saver:     saver,
		workers:   runtime.NumCPU(),
		extension: ".png",
		logger:    logger.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(b)
	}

	if _, err := FormatFor("frame" + b.extension); err != nil {
		return nil, err
	}
	return b, nil
}

// Run processes src into outDir. The returned error is non-nil only when
// the batch could not start or ctx was cancelled.
func (b *Batch) Run(ctx context.Context, src Source, outDir string) (*BatchReport, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	start := time.Now()
	report := &BatchReport{Frames: src.Count()}
	var mu sync.Mutex

	b.logger.Info("Batch", "batch started", map[string]interface{}{
		"frames":  report.Frames,
		"workers": b.workers,
		"out_dir": outDir,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	for i := 0; i < report.Frames; i++ {
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			out, err := b.processFrame(gctx, src, i, outDir)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				report.Failed++
				report.Failures = append(report.Failures, FrameFailure{Index: i, Name: src.Name(i), Err: err})
				b.logger.Warning("Batch", "frame failed", map[string]interface{}{
					"index": i,
					"name":  src.Name(i),
					"error": err.Error(),
				})
				return nil
			}
			report.Succeeded++
			report.Outputs = append(report.Outputs, out)
			return nil
		})
	}

	err := g.Wait()

	sort.Strings(report.Outputs)
	sort.Slice(report.Failures, func(i, j int) bool { return report.Failures[i].Index < report.Failures[j].Index })
	report.Duration = time.Since(start)

	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return report, fmt.Errorf("pipeline: batch interrupted: %w", err)
	}

	b.logger.Info("Batch", "batch finished", map[string]interface{}{
		"succeeded":   report.Succeeded,
		"failed":      report.Failed,
		"duration_ms": report.Duration.Milliseconds(),
	})
	return report, nil
}

func (b *Batch) processFrame(ctx context.Context, src Source, index int, outDir string) (string, error) {
	img, err := src.Frame(index)
	if err != nil {
		return "", err
	}

	height, width := b.processor.Dimensions()
	buf := b.loader.ToBuffer(img, height, width)

	out, err := b.processor.ProcessImage(ctx, buf)
	if err != nil {
		return "", err
	}

	path := filepath.Join(outDir, src.Name(index)+b.extension)
	if err := b.saver.Save(path, out, height, width); err != nil {
		return "", err
	}
	return path, nil
}
