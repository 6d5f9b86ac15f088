package services

import (
	"context"
	"fmt"
	"time"

	"feature-overlay/internal/features"
	"feature-overlay/internal/frame"
	"feature-overlay/internal/logger"
	"feature-overlay/internal/metrics"
	"feature-overlay/internal/opencv/memory"
	"feature-overlay/internal/opencv/safe"
)

// ProcessingConfig wires a ProcessingService.
type ProcessingConfig struct {
	Height        int
	Width         int
	InitialTarget int
	Options       features.Options
	TimingWindow  int
	PoolSize      int
	MemoryTracker safe.MemoryTracker
	Logger        logger.Logger
}

func DefaultProcessingConfig() ProcessingConfig {
	return ProcessingConfig{
		Height:        frame.DefaultHeight,
		Width:         frame.DefaultWidth,
		InitialTarget: features.DefaultTargetCount,
		Options:       features.DefaultOptions(),
		TimingWindow:  100,
		PoolSize:      memory.DefaultPoolSize,
	}
}

// ProcessingService is the buffer-in, buffer-out entry point: decode,
// detect and overlay, encode.
type ProcessingService struct {
	height  int
	width   int
	filter  *features.Filter
	control *features.Control
	memory  *memory.Manager
	tracker safe.MemoryTracker
	timer   *metrics.FrameTimer
	logger  logger.Logger
}

func NewProcessingService(cfg ProcessingConfig) (*ProcessingService, error) {
	if cfg.Height <= 0 || cfg.Width <= 0 {
		return nil, fmt.Errorf("services: frame dimensions %dx%d must be positive", cfg.Width, cfg.Height)
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NoOpLogger{}
	}

	memMgr := memory.NewManager(log, cfg.MemoryTracker)
	if cfg.PoolSize > 0 {
		memMgr.SetPoolSize(cfg.PoolSize)
	}

	filter, err := features.NewFilter(cfg.Options, memMgr, log)
	if err != nil {
		memMgr.Shutdown()
		return nil, err
	}

	return &ProcessingService{
		height:  cfg.Height,
		width:   cfg.Width,
		filter:  filter,
		control: features.NewControl(cfg.InitialTarget),
		memory:  memMgr,
		tracker: cfg.MemoryTracker,
		timer:   metrics.NewFrameTimer(cfg.TimingWindow),
		logger:  log,
	}, nil
}

// ProcessImage processes a buffer of the configured dimensions.
func (ps *ProcessingService) ProcessImage(ctx context.Context, buf []byte) ([]byte, error) {
	return ps.ProcessFrame(ctx, buf, ps.height, ps.width)
}

// ProcessFrame processes a buffer with caller-supplied dimensions. The
// feature target is read once, when the call starts.
func (ps *ProcessingService) ProcessFrame(ctx context.Context, buf []byte, height, width int) ([]byte, error) {
	cfg := ps.control.Snapshot()
	start := time.Now()

	ps.logger.Debug("ProcessingService", "frame received", map[string]interface{}{
		"height": height,
		"width":  width,
		"bytes":  len(buf),
		"target": cfg.TargetCount,
	})

	out, err := ps.process(ctx, buf, height, width, cfg)
	elapsed := time.Since(start)
	ps.timer.Observe(elapsed, err)

	if err != nil {
		ps.logger.Error("ProcessingService", err, map[string]interface{}{
			"height":      height,
			"width":       width,
			"duration_ms": elapsed.Milliseconds(),
		})
		return nil, err
	}

	ps.logger.Info("ProcessingService", "frame processed", map[string]interface{}{
		"height":      height,
		"width":       width,
		"target":      cfg.TargetCount,
		"duration_ms": elapsed.Milliseconds(),
	})
	return out, nil
}

func (ps *ProcessingService) process(ctx context.Context, buf []byte, height, width int, cfg features.Config) ([]byte, error) {
	grid, err := frame.DecodeTracked(buf, height, width, ps.tracker)
	if err != nil {
		return nil, err
	}
	defer grid.Close()

	result, err := ps.filter.Apply(ctx, grid, cfg)
	if err != nil {
		return nil, err
	}
	defer result.Close()

	return frame.Encode(result)
}

// SetFeatureCount stores int(slider*200) as the new target and returns it.
func (ps *ProcessingService) SetFeatureCount(slider float64) int {
	n := ps.control.SetFromSlider(slider)
	ps.logger.Debug("ProcessingService", "feature count updated", map[string]interface{}{
		"slider": slider,
		"target": n,
	})
	return n
}

// SetTarget stores n directly.
func (ps *ProcessingService) SetTarget(n int) {
	ps.control.Set(n)
}

func (ps *ProcessingService) FeatureCount() int {
	return ps.control.Target()
}

func (ps *ProcessingService) Dimensions() (height, width int) {
	return ps.height, ps.width
}

func (ps *ProcessingService) Stats() metrics.FrameStats {
	return ps.timer.Stats()
}

func (ps *ProcessingService) MemoryStats() memory.Stats {
	return ps.memory.GetStats()
}

// Shutdown releases pooled scratch Mats.
func (ps *ProcessingService) Shutdown() {
	stats := ps.memory.GetStats()
	ps.memory.Shutdown()
	ps.logger.Info("ProcessingService", "shutdown", map[string]interface{}{
		"frames_processed": ps.timer.Stats().Processed,
		"mats_allocated":   stats.TotalAllocated,
		"mats_released":    stats.TotalReleased,
	})
}
