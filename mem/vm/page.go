// Package vm implements per-process virtual memory for a machine with a small,
// software-refilled TLB. An AddressSpace owns a list of regions, which says
// what may legally be mapped, and a hashed page table, which records the pages
// currently backed by a physical frame. The Resolver turns TLB misses into new
// mappings or classified faults.
package vm

import "fmt"

const (
	// PageShift is log2 of the page size.
	PageShift = 12

	// PageSize is the size of a virtual page and of a physical frame.
	PageSize = 1 << PageShift

	// PageOffsetMask selects the offset bits of an address.
	PageOffsetMask = PageSize - 1

	// UserStackTop is the first address above the user stack.
	UserStackTop VAddr = 0x80000000

	// StackPages is the number of pages reserved for the user stack.
	StackPages = 16
)

// VAddr is a user virtual address.
type VAddr uint64

// PAddr is a physical address.
type PAddr uint64

// VPN is a virtual page number.
type VPN uint64

// PFN is a physical frame number. Frame 0 is never handed out.
type PFN uint64

// InvalidFrame is returned by frame allocators when memory is exhausted.
const InvalidFrame PFN = 0

// VPN returns the page that contains the address.
func (v VAddr) VPN() VPN {
	return VPN(v >> PageShift)
}

// Offset returns the offset of the address within its page.
func (v VAddr) Offset() uint64 {
	return uint64(v) & PageOffsetMask
}

// AlignDown rounds the address down to a page boundary.
func (v VAddr) AlignDown() VAddr {
	return v &^ PageOffsetMask
}

// AlignUp rounds the address up to a page boundary.
func (v VAddr) AlignUp() VAddr {
	return (v + PageOffsetMask) &^ PageOffsetMask
}

func (v VAddr) String() string {
	return fmt.Sprintf("0x%08x", uint64(v))
}

// Addr returns the first address of the page.
func (p VPN) Addr() VAddr {
	return VAddr(p) << PageShift
}

// Addr returns the first physical address of the frame.
func (f PFN) Addr() PAddr {
	return PAddr(f) << PageShift
}

// Valid tells if the frame number can refer to real memory.
func (f PFN) Valid() bool {
	return f != InvalidFrame
}
