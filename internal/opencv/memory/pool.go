package memory

import (
	"sync"

	"feature-overlay/internal/opencv/safe"
)

// Pool holds idle Mats of one geometry. Mats that no longer match the key
// are refused on Put and closed on Get.
type Pool struct {
	key     PoolKey
	mats    []*safe.Mat
	maxSize int
	mu      sync.Mutex
}

func NewPool(key PoolKey, maxSize int) *Pool {
	return &Pool{
		key:     key,
		mats:    make([]*safe.Mat, 0, maxSize),
		maxSize: maxSize,
	}
}

func (p *Pool) Key() PoolKey {
	return p.key
}

func (p *Pool) fits(mat *safe.Mat) bool {
	return mat != nil && mat.IsValid() && !mat.Empty() &&
		mat.Rows() == p.key.Rows && mat.Cols() == p.key.Cols && mat.Type() == p.key.MatType
}

func (p *Pool) Get() *safe.Mat {
	p.mu.Lock()
	defer p.mu.Unlock()

	for n := len(p.mats); n > 0; n = len(p.mats) {
		mat := p.mats[n-1]
		p.mats[n-1] = nil
		p.mats = p.mats[:n-1]

		if p.fits(mat) {
			return mat
		}
		mat.Close()
	}
	return nil
}

// Put keeps mat for reuse. It reports false when mat does not match the
// pool geometry or the pool is full; the caller still owns mat then.
func (p *Pool) Put(mat *safe.Mat) bool {
	if !p.fits(mat) {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.mats) >= p.maxSize {
		return false
	}
	p.mats = append(p.mats, mat)
	return true
}

func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.mats)
}

// Cleanup closes every idle Mat and returns how many there were.
func (p *Pool) Cleanup() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	count := len(p.mats)
	for i, mat := range p.mats {
		mat.Close()
		p.mats[i] = nil
	}
	p.mats = p.mats[:0]
	return count
}
