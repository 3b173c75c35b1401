package vm

// A FrameAllocator hands out single physical frames. Frames are reference
// counted so that a forked address space can keep pointing at the frames of
// its parent.
type FrameAllocator interface {
	// AllocFrame returns a frame with a reference count of one, or
	// InvalidFrame if physical memory is exhausted.
	AllocFrame() PFN

	// RefFrame adds a reference to an allocated frame.
	RefFrame(pfn PFN)

	// FreeFrame drops a reference. The frame returns to the free pool when
	// the last reference is dropped.
	FreeFrame(pfn PFN)
}

// A TLBEntry maps one virtual page to one physical frame. Dirty marks the
// entry as writable; a store through a clean entry raises FaultReadOnly.
type TLBEntry struct {
	VPN   VPN
	PFN   PFN
	Dirty bool
	Valid bool
}

// TLB is the array of translation slots the hardware consults.
type TLB interface {
	// FlushAll invalidates every slot.
	FlushAll()

	// WriteRandom writes the entry into a slot chosen by the hardware.
	WriteRandom(entry TLBEntry)

	// WriteAt writes the entry into the given slot.
	WriteAt(index int, entry TLBEntry)

	// Invalidate drops the slot mapping the page, if any.
	Invalidate(vpn VPN)
}

// KernelHeap accounts for the kernel objects the virtual memory system
// creates: address spaces, page table storage, regions and page table
// entries. Each object costs one unit.
type KernelHeap interface {
	// Alloc reserves n objects. It returns ErrOutOfMemory if the heap cannot
	// hold them, in which case nothing is reserved.
	Alloc(n int) error

	// Free releases n objects.
	Free(n int)
}
