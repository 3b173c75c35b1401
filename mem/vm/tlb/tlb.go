// Package tlb models a small, fully associative, software-refilled TLB. Every
// slot holds one translation; the kernel writes slots explicitly and the
// hardware raises a fault whenever a lookup misses.
package tlb

import (
	"log"
	"math/rand"
	"sync"

	"github.com/sarchlab/mipsvm/mem/vm"
	"github.com/sarchlab/mipsvm/sim"
)

// HookPosTLBAccess is triggered on every slot write, invalidation and lookup.
// The hook item is the action name ("write", "invalidate", "flush", "hit",
// "miss", "readonly") and the detail is the vm.TLBEntry involved.
var HookPosTLBAccess = &sim.HookPos{Name: "TLBAccess"}

// Stats counts TLB activity.
type Stats struct {
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
	ReadOnly uint64 `json:"read_only"`
	Writes   uint64 `json:"writes"`
	Flushes  uint64 `json:"flushes"`
}

// An Array is the TLB. It implements vm.TLB.
type Array struct {
	*sim.HookableBase

	lock  sync.Mutex
	name  string
	slots []vm.TLBEntry
	rand  *rand.Rand
	stats Stats
}

// Name returns the name of the TLB.
func (a *Array) Name() string {
	return a.name
}

// NumEntries returns the number of slots.
func (a *Array) NumEntries() int {
	return len(a.slots)
}

// FlushAll invalidates every slot.
func (a *Array) FlushAll() {
	a.lock.Lock()
	defer a.lock.Unlock()

	for i := range a.slots {
		a.slots[i] = vm.TLBEntry{}
	}

	a.stats.Flushes++
	a.trace("flush", vm.TLBEntry{})
}

// WriteRandom writes the entry into a random slot. If a slot already maps the
// page, that slot is overwritten instead so that a page never appears twice.
func (a *Array) WriteRandom(e vm.TLBEntry) {
	a.lock.Lock()
	defer a.lock.Unlock()

	index, found := a.probe(e.VPN)
	if !found {
		index = a.rand.Intn(len(a.slots))
	}

	a.write(index, e)
}

// WriteAt writes the entry into the given slot. Any other slot mapping the same
// page is invalidated.
func (a *Array) WriteAt(index int, e vm.TLBEntry) {
	a.lock.Lock()
	defer a.lock.Unlock()

	a.slotMustExist(index)

	if other, found := a.probe(e.VPN); found && other != index {
		a.slots[other] = vm.TLBEntry{}
	}

	a.write(index, e)
}

func (a *Array) write(index int, e vm.TLBEntry) {
	a.slots[index] = e
	a.stats.Writes++
	a.trace("write", e)
}

// Read returns the content of a slot.
func (a *Array) Read(index int) vm.TLBEntry {
	a.lock.Lock()
	defer a.lock.Unlock()

	a.slotMustExist(index)

	return a.slots[index]
}

// Probe returns the slot that maps the page.
func (a *Array) Probe(vpn vm.VPN) (int, bool) {
	a.lock.Lock()
	defer a.lock.Unlock()

	return a.probe(vpn)
}

func (a *Array) probe(vpn vm.VPN) (int, bool) {
	for i, e := range a.slots {
		if e.Valid && e.VPN == vpn {
			return i, true
		}
	}

	return 0, false
}

// Invalidate drops the slot that maps the page, if any.
func (a *Array) Invalidate(vpn vm.VPN) {
	a.lock.Lock()
	defer a.lock.Unlock()

	index, found := a.probe(vpn)
	if !found {
		return
	}

	e := a.slots[index]
	a.slots[index] = vm.TLBEntry{}
	a.trace("invalidate", e)
}

// Translate performs a hardware lookup. On a hit it returns the physical
// address. Otherwise ok is false and kind tells which fault the hardware
// raises: FaultRead or FaultWrite on a miss, FaultReadOnly on a store through
// a clean entry.
func (a *Array) Translate(
	v vm.VAddr,
	write bool,
) (paddr vm.PAddr, kind vm.FaultKind, ok bool) {
	a.lock.Lock()
	defer a.lock.Unlock()

	index, found := a.probe(v.VPN())
	if !found {
		a.stats.Misses++
		a.trace("miss", vm.TLBEntry{VPN: v.VPN()})

		if write {
			return 0, vm.FaultWrite, false
		}

		return 0, vm.FaultRead, false
	}

	e := a.slots[index]
	if write && !e.Dirty {
		a.stats.ReadOnly++
		a.trace("readonly", e)

		return 0, vm.FaultReadOnly, false
	}

	a.stats.Hits++
	a.trace("hit", e)

	return e.PFN.Addr() + vm.PAddr(v.Offset()), 0, true
}

// Entries returns a copy of every slot, valid or not.
func (a *Array) Entries() []vm.TLBEntry {
	a.lock.Lock()
	defer a.lock.Unlock()

	out := make([]vm.TLBEntry, len(a.slots))
	copy(out, a.slots)

	return out
}

// NumValid returns the number of valid slots.
func (a *Array) NumValid() int {
	a.lock.Lock()
	defer a.lock.Unlock()

	n := 0
	for _, e := range a.slots {
		if e.Valid {
			n++
		}
	}

	return n
}

// Stats returns the activity counters.
func (a *Array) Stats() Stats {
	a.lock.Lock()
	defer a.lock.Unlock()

	return a.stats
}

func (a *Array) slotMustExist(index int) {
	if index < 0 || index >= len(a.slots) {
		log.Panicf("TLB %s has no slot %d", a.name, index)
	}
}

func (a *Array) trace(what string, e vm.TLBEntry) {
	if a.NumHooks() == 0 {
		return
	}

	a.InvokeHook(sim.HookCtx{
		Domain: a,
		Pos:    HookPosTLBAccess,
		Item:   what,
		Detail: e,
	})
}
