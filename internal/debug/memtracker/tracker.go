package memtracker

import (
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"
)

type AllocationInfo struct {
	Size        int64
	Tag         string
	AllocatedAt time.Time
	StackTrace  []uintptr
}

type MemoryStats struct {
	TotalAllocated   int64
	TotalDeallocated int64
	CurrentlyActive  int64
	AllocationCount  int64
	UntrackedFrees   int64
}

// Tracker records native Mat allocations handed to it by safe.Mat.
type Tracker struct {
	allocations    map[uintptr]AllocationInfo
	mu             sync.RWMutex
	stackTraces    bool
	totalAlloc     atomic.Int64
	totalDealloc   atomic.Int64
	allocCount     atomic.Int64
	untrackedFrees atomic.Int64
}

func NewTracker(enableStackTraces bool) *Tracker {
	return &Tracker{
		allocations: make(map[uintptr]AllocationInfo),
		stackTraces: enableStackTraces,
	}
}

func (mt *Tracker) TrackAllocation(ptr uintptr, size int64, tag string) {
	mt.totalAlloc.Add(size)
	mt.allocCount.Inc()

	info := AllocationInfo{
		Size:        size,
		Tag:         tag,
		AllocatedAt: time.Now(),
	}

	if mt.stackTraces {
		var pcs [32]uintptr
		n := runtime.Callers(3, pcs[:])
		info.StackTrace = pcs[:n]
	}

	mt.mu.Lock()
	mt.allocations[ptr] = info
	mt.mu.Unlock()
}

func (mt *Tracker) TrackDeallocation(ptr uintptr, tag string) {
	mt.mu.Lock()
	info, exists := mt.allocations[ptr]
	if exists {
		delete(mt.allocations, ptr)
		mt.totalDealloc.Add(info.Size)
	} else {
		mt.untrackedFrees.Inc()
	}
	mt.mu.Unlock()
}

func (mt *Tracker) GetAllocations() map[uintptr]AllocationInfo {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	result := make(map[uintptr]AllocationInfo, len(mt.allocations))
	for k, v := range mt.allocations {
		result[k] = v
	}
	return result
}

// Outstanding lists live allocations, oldest first.
func (mt *Tracker) Outstanding() []AllocationInfo {
	allocs := mt.GetAllocations()
	result := make([]AllocationInfo, 0, len(allocs))
	for _, info := range allocs {
		result = append(result, info)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AllocatedAt.Before(result[j].AllocatedAt)
	})
	return result
}

func (mt *Tracker) GetStats() MemoryStats {
	mt.mu.RLock()
	currentlyActive := int64(len(mt.allocations))
	mt.mu.RUnlock()

	return MemoryStats{
		TotalAllocated:   mt.totalAlloc.Load(),
		TotalDeallocated: mt.totalDealloc.Load(),
		CurrentlyActive:  currentlyActive,
		AllocationCount:  mt.allocCount.Load(),
		UntrackedFrees:   mt.untrackedFrees.Load(),
	}
}
