package vm

import (
	"fmt"
	"sync"
)

// A CPU tracks the address space that is current on one processor. The TLB
// only ever caches translations of the current address space.
type CPU struct {
	lock    sync.Mutex
	tlb     TLB
	current *AddressSpace
}

// NewCPU creates a CPU that refills the given TLB.
func NewCPU(tlb TLB) *CPU {
	return &CPU{tlb: tlb}
}

// Current returns the current address space, or nil when the processor runs a
// kernel thread with no user memory.
func (c *CPU) Current() *AddressSpace {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.current
}

// SetCurrent switches the processor to the address space and activates it. A
// nil address space leaves the TLB as it is.
func (c *CPU) SetCurrent(as *AddressSpace) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.current = as
	c.activateLocked()
}

// Activate makes the TLB consistent with the current address space by
// flushing every slot.
func (c *CPU) Activate() {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.activateLocked()
}

func (c *CPU) activateLocked() {
	if c.current == nil {
		return
	}

	c.tlb.FlushAll()
}

// Deactivate flushes the TLB before the current address space is switched
// out.
func (c *CPU) Deactivate() {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.activateLocked()
}

// A Shootdown is a request from another processor to invalidate a
// translation.
type Shootdown struct {
	FromCPU int
	VPN     VPN
}

// Shootdown handles a cross-processor invalidation request. Multiprocessor
// TLB coherence is not supported, so it always panics with an error wrapping
// ErrUnsupportedOperation.
func (c *CPU) Shootdown(s Shootdown) {
	panic(fmt.Errorf("%w: tlb shootdown of page 0x%x from cpu %d",
		ErrUnsupportedOperation, uint64(s.VPN), s.FromCPU))
}
