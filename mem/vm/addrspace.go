package vm

import (
	"fmt"
	"log"
	"sync"

	"github.com/sarchlab/mipsvm/sim"
)

// A Platform bundles the collaborators an address space relies on. All address
// spaces created from one Platform share its frame allocator, kernel heap and
// TLB.
type Platform struct {
	Frames     FrameAllocator
	Heap       KernelHeap
	TLB        TLB
	NumBuckets int
}

func (p Platform) mustBeComplete() {
	if p.Frames == nil {
		log.Panic("platform has no frame allocator")
	}

	if p.Heap == nil {
		log.Panic("platform has no kernel heap")
	}

	if p.TLB == nil {
		log.Panic("platform has no TLB")
	}
}

func (p Platform) numBuckets() int {
	if p.NumBuckets == 0 {
		return DefaultNumBuckets
	}

	return p.NumBuckets
}

// An AddressSpace is the view of memory of one process. It owns one region
// list and one page table. All methods are safe for concurrent use by the
// threads of the process.
type AddressSpace struct {
	lock      sync.Mutex
	id        string
	platform  Platform
	regions   RegionList
	pageTable *PageTable
	loading   bool
	stackTop  VAddr
	destroyed bool
}

// Create allocates an empty address space. It fails with ErrOutOfMemory if the
// kernel heap cannot hold the address space object and its page table.
func Create(p Platform) (*AddressSpace, error) {
	p.mustBeComplete()

	if err := p.Heap.Alloc(1); err != nil {
		return nil, fmt.Errorf("creating address space: %w", err)
	}

	if err := p.Heap.Alloc(1); err != nil {
		p.Heap.Free(1)
		return nil, fmt.Errorf("creating page table: %w", err)
	}

	id := sim.GetIDGenerator().Generate()
	as := &AddressSpace{
		id:        id,
		platform:  p,
		pageTable: NewPageTable(p.numBuckets(), id),
	}

	return as, nil
}

// ID returns the identity of the address space.
func (as *AddressSpace) ID() string {
	return as.id
}

// Duplicate creates a new address space holding a copy of every region and
// every page table entry of as. The copy shares physical frames with as; each
// shared frame gains one reference. On failure every partial allocation of the
// new address space is released.
func (as *AddressSpace) Duplicate() (*AddressSpace, error) {
	as.lock.Lock()
	defer as.lock.Unlock()

	as.mustBeAlive()

	dup, err := Create(as.platform)
	if err != nil {
		return nil, err
	}

	for _, r := range as.regions.regions {
		if err := as.platform.Heap.Alloc(1); err != nil {
			dup.Destroy()
			return nil, fmt.Errorf("copying region %s: %w", r, err)
		}

		dup.regions.regions = append(dup.regions.regions, r)
	}

	err = as.pageTable.copyTo(dup.pageTable, func(pte PTE) error {
		if err := as.platform.Heap.Alloc(1); err != nil {
			return fmt.Errorf("copying page 0x%x: %w", uint64(pte.VPN), err)
		}

		as.platform.Frames.RefFrame(pte.PFN)

		return nil
	})
	if err != nil {
		dup.Destroy()
		return nil, err
	}

	dup.stackTop = as.stackTop
	dup.loading = as.loading

	return dup, nil
}

// Destroy releases every region and every page table entry, drops the frame
// reference each entry holds, and releases the page table and the address
// space object. The address space must not be used afterwards.
func (as *AddressSpace) Destroy() {
	as.lock.Lock()
	defer as.lock.Unlock()

	as.mustBeAlive()

	nRegions := as.regions.clear()
	ptes := as.pageTable.clear()

	for _, pte := range ptes {
		as.platform.Frames.FreeFrame(pte.PFN)
	}

	as.platform.Heap.Free(nRegions + len(ptes) + 2)
	as.destroyed = true
}

func (as *AddressSpace) mustBeAlive() {
	if as.destroyed {
		log.Panicf("address space %s used after destroy", as.id)
	}
}

// DefineRegion adds the region [base, base+size), widened to page boundaries.
// Regions are defined while the program image is loaded, before the address
// space runs.
func (as *AddressSpace) DefineRegion(
	base VAddr,
	size uint64,
	readable, writable, executable bool,
) error {
	r, err := NewRegion(base, size, readable, writable, executable)
	if err != nil {
		return err
	}

	as.lock.Lock()
	defer as.lock.Unlock()

	return as.insertRegion(r)
}

func (as *AddressSpace) insertRegion(r Region) error {
	as.mustBeAlive()

	if err := as.platform.Heap.Alloc(1); err != nil {
		return fmt.Errorf("defining region %s: %w", r, err)
	}

	if err := as.regions.Insert(r); err != nil {
		as.platform.Heap.Free(1)
		return err
	}

	return nil
}

// PrepareLoad marks the start of program loading. Until CompleteLoad, every
// region is mapped writable so that the loader can fill read-only segments.
func (as *AddressSpace) PrepareLoad() error {
	as.lock.Lock()
	defer as.lock.Unlock()

	as.mustBeAlive()
	as.loading = true

	return nil
}

// CompleteLoad ends program loading and restores region permissions. The TLB
// is flushed so that no writable entry created during loading survives.
func (as *AddressSpace) CompleteLoad() error {
	as.lock.Lock()
	defer as.lock.Unlock()

	as.mustBeAlive()

	if as.loading {
		as.loading = false
		as.platform.TLB.FlushAll()
	}

	return nil
}

// DefineStack reserves the user stack as a read-write region of StackPages
// pages below UserStackTop and returns the initial stack pointer. Stack pages
// are faulted in on first use.
func (as *AddressSpace) DefineStack() (VAddr, error) {
	as.lock.Lock()
	defer as.lock.Unlock()

	as.mustBeAlive()

	if as.stackTop != 0 {
		return as.stackTop, nil
	}

	size := uint64(StackPages) << PageShift
	r := Region{
		Base:     UserStackTop - VAddr(size),
		NPages:   StackPages,
		Readable: true,
		Writable: true,
	}

	if err := as.insertRegion(r); err != nil {
		return 0, err
	}

	as.stackTop = UserStackTop

	return as.stackTop, nil
}

// Regions returns a copy of the regions in address order.
func (as *AddressSpace) Regions() []Region {
	as.lock.Lock()
	defer as.lock.Unlock()

	return as.regions.Regions()
}

// PageTable gives direct access to the page table. Callers must not use it
// concurrently with faults on the same address space.
func (as *AddressSpace) PageTable() *PageTable {
	return as.pageTable
}

// Translate returns the frame that backs the address.
func (as *AddressSpace) Translate(v VAddr) (PFN, error) {
	as.lock.Lock()
	defer as.lock.Unlock()

	as.mustBeAlive()

	pte, found := as.pageTable.Find(v)
	if !found {
		return InvalidFrame, fmt.Errorf("%w: %s", ErrNotFound, v)
	}

	return pte.PFN, nil
}

// UnmapPage evicts the page that contains the address: its entry is removed,
// its TLB slot invalidated and its frame reference dropped.
func (as *AddressSpace) UnmapPage(v VAddr) error {
	as.lock.Lock()
	defer as.lock.Unlock()

	as.mustBeAlive()

	pte, found := as.pageTable.Remove(v)
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, v)
	}

	as.platform.TLB.Invalidate(pte.VPN)
	as.platform.Frames.FreeFrame(pte.PFN)
	as.platform.Heap.Free(1)

	return nil
}

// Stats describes the address space.
type Stats struct {
	ID        string     `json:"id"`
	Regions   int        `json:"regions"`
	Resident  int        `json:"resident"`
	Loading   bool       `json:"loading"`
	StackTop  VAddr      `json:"stack_top"`
	PageTable TableStats `json:"page_table"`
}

// Stats reports the size and shape of the address space.
func (as *AddressSpace) Stats() Stats {
	as.lock.Lock()
	defer as.lock.Unlock()

	return Stats{
		ID:        as.id,
		Regions:   as.regions.Len(),
		Resident:  as.pageTable.Len(),
		Loading:   as.loading,
		StackTop:  as.stackTop,
		PageTable: as.pageTable.Stats(),
	}
}

// mapping returns the TLB entry for a resident page. The entry is writable
// only if the page lies in a writable region, or the image is being loaded.
func (as *AddressSpace) mapping(pte PTE) TLBEntry {
	dirty := as.loading
	if r, ok := as.regions.Lookup(pte.VPN.Addr()); ok && r.Writable {
		dirty = true
	}

	return TLBEntry{VPN: pte.VPN, PFN: pte.PFN, Dirty: dirty, Valid: true}
}
