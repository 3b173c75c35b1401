// Package frame provides a physical frame allocator with per-frame reference
// counts. Frame numbers start at 1; frame 0 stands for allocation failure.
package frame

import (
	"log"
	"sync"

	"github.com/sarchlab/mipsvm/mem/vm"
)

// An Allocator manages a fixed pool of physical frames. It implements
// vm.FrameAllocator.
type Allocator struct {
	lock sync.Mutex
	refs []uint32
	free []vm.PFN
}

// NewAllocator creates an allocator over frames 1 to numFrames.
func NewAllocator(numFrames int) *Allocator {
	if numFrames < 0 {
		log.Panicf("negative number of frames %d", numFrames)
	}

	a := &Allocator{
		refs: make([]uint32, numFrames+1),
		free: make([]vm.PFN, 0, numFrames),
	}

	for pfn := numFrames; pfn >= 1; pfn-- {
		a.free = append(a.free, vm.PFN(pfn))
	}

	return a
}

// AllocFrame takes a frame off the free list. It returns vm.InvalidFrame when
// no frame is left.
func (a *Allocator) AllocFrame() vm.PFN {
	a.lock.Lock()
	defer a.lock.Unlock()

	if len(a.free) == 0 {
		return vm.InvalidFrame
	}

	pfn := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	a.refs[pfn] = 1

	return pfn
}

// RefFrame adds a reference to an allocated frame.
func (a *Allocator) RefFrame(pfn vm.PFN) {
	a.lock.Lock()
	defer a.lock.Unlock()

	a.frameMustBeAllocated(pfn)
	a.refs[pfn]++
}

// FreeFrame drops a reference and returns the frame to the free list when no
// reference is left.
func (a *Allocator) FreeFrame(pfn vm.PFN) {
	a.lock.Lock()
	defer a.lock.Unlock()

	a.frameMustBeAllocated(pfn)

	a.refs[pfn]--
	if a.refs[pfn] == 0 {
		a.free = append(a.free, pfn)
	}
}

// RefCount returns the number of references to the frame.
func (a *Allocator) RefCount(pfn vm.PFN) int {
	a.lock.Lock()
	defer a.lock.Unlock()

	if int(pfn) >= len(a.refs) {
		return 0
	}

	return int(a.refs[pfn])
}

// NumFrames returns the size of the pool.
func (a *Allocator) NumFrames() int {
	return len(a.refs) - 1
}

// NumFree returns the number of frames on the free list.
func (a *Allocator) NumFree() int {
	a.lock.Lock()
	defer a.lock.Unlock()

	return len(a.free)
}

func (a *Allocator) frameMustBeAllocated(pfn vm.PFN) {
	if !pfn.Valid() || int(pfn) >= len(a.refs) {
		log.Panicf("frame %d does not exist", pfn)
	}

	if a.refs[pfn] == 0 {
		log.Panicf("frame %d is not allocated", pfn)
	}
}
