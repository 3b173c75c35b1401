package proc

import (
	"github.com/sarchlab/mipsvm/mem/vm"
	"github.com/sarchlab/mipsvm/mem/vm/frame"
	"github.com/sarchlab/mipsvm/mem/vm/tlb"
	"github.com/sarchlab/mipsvm/sim"
)

// A Builder can build a process Table together with the machine it runs on.
type Builder struct {
	numFrames       int
	numTLBEntries   int
	numBuckets      int
	kernelHeapLimit int
	seed            int64
}

// MakeBuilder creates a builder with the default machine configuration.
func MakeBuilder() Builder {
	return Builder{
		numFrames:     1024,
		numTLBEntries: tlb.DefaultNumEntries,
		numBuckets:    vm.DefaultNumBuckets,
		seed:          1,
	}
}

// WithNumFrames sets the number of physical frames.
func (b Builder) WithNumFrames(n int) Builder {
	b.numFrames = n
	return b
}

// WithNumTLBEntries sets the number of TLB slots.
func (b Builder) WithNumTLBEntries(n int) Builder {
	b.numTLBEntries = n
	return b
}

// WithNumBuckets sets the number of buckets of every page table.
func (b Builder) WithNumBuckets(n int) Builder {
	b.numBuckets = n
	return b
}

// WithKernelHeapLimit caps the number of kernel objects the virtual memory
// system may hold. Zero means unlimited.
func (b Builder) WithKernelHeapLimit(n int) Builder {
	b.kernelHeapLimit = n
	return b
}

// WithRandSeed sets the seed of the TLB random replacement.
func (b Builder) WithRandSeed(seed int64) Builder {
	b.seed = seed
	return b
}

// Build creates the machine and an empty process table.
func (b Builder) Build() *Table {
	t := &Table{
		HookableBase: sim.NewHookableBase(),
		procs:        make(map[PID]*Process),
		nextPID:      1,
	}

	t.tlb = tlb.MakeBuilder().
		WithNumEntries(b.numTLBEntries).
		WithRandSeed(b.seed).
		Build("TLB")
	t.frames = frame.NewAllocator(b.numFrames)

	if b.kernelHeapLimit > 0 {
		t.heap = vm.NewLimitedHeap(b.kernelHeapLimit)
	} else {
		t.heap = &vm.UnlimitedHeap{}
	}

	t.platform = vm.Platform{
		Frames:     t.frames,
		Heap:       t.heap,
		TLB:        t.tlb,
		NumBuckets: b.numBuckets,
	}

	t.cpu = vm.NewCPU(t.tlb)
	t.resolver = vm.MakeBuilder().
		WithTLB(t.tlb).
		WithCPU(t.cpu).
		Build()

	return t
}
