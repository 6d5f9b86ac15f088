package memory

import (
	"fmt"
	"sync"

	"feature-overlay/internal/logger"
	"feature-overlay/internal/opencv/safe"

	"gocv.io/x/gocv"
)

const (
	DefaultPoolSize  = 4
	DefaultMaxActive = 512 * 1024 * 1024
)

// Manager hands out scratch Mats keyed by geometry and takes them back for
// reuse. Frames of one fixed size hit the same pool every time.
type Manager struct {
	pools       map[PoolKey]*Pool
	allocations map[uint64]int64
	poolSize    int
	mu          sync.Mutex
	stats       Stats
	logger      logger.Logger
	memTracker  safe.MemoryTracker
}

type PoolKey struct {
	Rows    int
	Cols    int
	MatType gocv.MatType
}

type Stats struct {
	TotalAllocated int64
	TotalReleased  int64
	ActiveMats     int64
	PooledMats     int64
	PoolHits       int64
	PoolMisses     int64
	MaxAllowed     int64
}

func NewManager(log logger.Logger, memTracker safe.MemoryTracker) *Manager {
	if log == nil {
		log = logger.NoOpLogger{}
	}
	return &Manager{
		pools:       make(map[PoolKey]*Pool),
		allocations: make(map[uint64]int64),
		poolSize:    DefaultPoolSize,
		stats: Stats{
			MaxAllowed: DefaultMaxActive,
		},
		logger:     log,
		memTracker: memTracker,
	}
}

func (m *Manager) SetPoolSize(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if size > 0 {
		m.poolSize = size
	}
}

func (m *Manager) GetMat(rows, cols int, matType gocv.MatType, tag string) (*safe.Mat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := m.stats.TotalAllocated - m.stats.TotalReleased
	if active > m.stats.MaxAllowed {
		return nil, fmt.Errorf("memory limit exceeded: %d bytes active", active)
	}

	key := PoolKey{Rows: rows, Cols: cols, MatType: matType}

	if pool, exists := m.pools[key]; exists {
		if mat := pool.Get(); mat != nil {
			m.stats.PoolHits++
			m.stats.PooledMats--
			m.track(mat)
			return mat, nil
		}
	}

	m.stats.PoolMisses++
	mat, err := safe.NewMatWithTracker(rows, cols, matType, m.memTracker, tag)
	if err != nil {
		return nil, err
	}

	m.track(mat)
	m.logger.Debug("MemoryManager", "allocated scratch Mat", map[string]interface{}{
		"tag":  tag,
		"size": fmt.Sprintf("%dx%d", cols, rows),
	})
	return mat, nil
}

func (m *Manager) track(mat *safe.Mat) {
	size := mat.Size()
	m.allocations[mat.ID()] = size
	m.stats.TotalAllocated += size
	m.stats.ActiveMats++
}

func (m *Manager) ReleaseMat(mat *safe.Mat) {
	if mat == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := mat.ID()
	size, exists := m.allocations[id]
	if !exists {
		m.logger.Warning("MemoryManager", "releasing untracked Mat", map[string]interface{}{
			"tag": mat.Tag(),
		})
		mat.Close()
		return
	}

	delete(m.allocations, id)
	m.stats.TotalReleased += size
	m.stats.ActiveMats--

	key := PoolKey{
		Rows:    mat.Rows(),
		Cols:    mat.Cols(),
		MatType: mat.Type(),
	}

	pool, exists := m.pools[key]
	if !exists {
		pool = NewPool(key, m.poolSize)
		m.pools[key] = pool
	}

	if pool.Put(mat) {
		m.stats.PooledMats++
		return
	}

	mat.Close()
}

func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Cleanup closes the idle Mats held in the pools. Mats still handed out are
// left to their owners and only counted in the log.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	matCount := 0
	for key, pool := range m.pools {
		matCount += pool.Cleanup()
		delete(m.pools, key)
	}
	m.stats.PooledMats = 0

	m.logger.Debug("MemoryManager", "pools drained", map[string]interface{}{
		"closed":      matCount,
		"outstanding": len(m.allocations),
	})
}

// Shutdown lets the manager register with the shutdown manager.
func (m *Manager) Shutdown() {
	m.Cleanup()
}
