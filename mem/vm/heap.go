package vm

import (
	"log"
	"sync"
)

// UnlimitedHeap is a KernelHeap that never runs out. It still counts the
// objects in use.
type UnlimitedHeap struct {
	lock  sync.Mutex
	inUse int
}

// Alloc reserves n objects.
func (h *UnlimitedHeap) Alloc(n int) error {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.inUse += n

	return nil
}

// Free releases n objects.
func (h *UnlimitedHeap) Free(n int) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.inUse -= n
	if h.inUse < 0 {
		log.Panic("kernel heap freed more objects than allocated")
	}
}

// InUse returns the number of objects currently allocated.
func (h *UnlimitedHeap) InUse() int {
	h.lock.Lock()
	defer h.lock.Unlock()

	return h.inUse
}

// LimitedHeap is a KernelHeap that holds at most Limit objects.
type LimitedHeap struct {
	lock  sync.Mutex
	limit int
	inUse int
}

// NewLimitedHeap creates a heap that can hold limit objects.
func NewLimitedHeap(limit int) *LimitedHeap {
	return &LimitedHeap{limit: limit}
}

// Alloc reserves n objects, or returns ErrOutOfMemory.
func (h *LimitedHeap) Alloc(n int) error {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.inUse+n > h.limit {
		return ErrOutOfMemory
	}

	h.inUse += n

	return nil
}

// Free releases n objects.
func (h *LimitedHeap) Free(n int) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.inUse -= n
	if h.inUse < 0 {
		log.Panic("kernel heap freed more objects than allocated")
	}
}

// InUse returns the number of objects currently allocated.
func (h *LimitedHeap) InUse() int {
	h.lock.Lock()
	defer h.lock.Unlock()

	return h.inUse
}

// Limit returns the capacity of the heap.
func (h *LimitedHeap) Limit() int {
	return h.limit
}
