package vm

import (
	"fmt"
	"sync/atomic"

	"github.com/sarchlab/mipsvm/sim"
)

// FaultKind tells why the hardware trapped.
type FaultKind int

// The kinds of faults raised by the TLB.
const (
	// FaultRead is a load from a page with no TLB entry.
	FaultRead FaultKind = iota

	// FaultWrite is a store to a page with no TLB entry.
	FaultWrite

	// FaultReadOnly is a store through a TLB entry that is not dirty.
	FaultReadOnly
)

func (k FaultKind) String() string {
	switch k {
	case FaultRead:
		return "read"
	case FaultWrite:
		return "write"
	case FaultReadOnly:
		return "readonly"
	default:
		return fmt.Sprintf("FaultKind(%d)", int(k))
	}
}

// FaultOutcome tells how a fault was resolved.
type FaultOutcome int

// The possible outcomes of a fault.
const (
	// FaultHit means the page was resident and the TLB was refilled.
	FaultHit FaultOutcome = iota

	// FaultFilled means a fresh frame was allocated and mapped.
	FaultFilled

	// FaultFailed means the fault could not be resolved.
	FaultFailed
)

func (o FaultOutcome) String() string {
	switch o {
	case FaultHit:
		return "hit"
	case FaultFilled:
		return "filled"
	case FaultFailed:
		return "failed"
	default:
		return fmt.Sprintf("FaultOutcome(%d)", int(o))
	}
}

// HookPosFault marks the end of every fault resolution. The hook item is a
// FaultRecord.
var HookPosFault = &sim.HookPos{Name: "VMFault"}

// A FaultRecord describes one resolved, or unresolved, fault.
type FaultRecord struct {
	AddressSpace string
	Kind         FaultKind
	VAddr        VAddr
	PFN          PFN
	Outcome      FaultOutcome
	Err          error
}

// ResolverStats counts fault outcomes.
type ResolverStats struct {
	Hits     uint64 `json:"hits"`
	Fills    uint64 `json:"fills"`
	Failures uint64 `json:"failures"`
}

// A Resolver handles TLB faults. It looks the page up in the page table of the
// faulting address space, and on a miss checks the region list and backs the
// page with a new frame.
type Resolver struct {
	*sim.HookableBase

	cpu *CPU
	tlb TLB

	hits     atomic.Uint64
	fills    atomic.Uint64
	failures atomic.Uint64
}

// CPU returns the processor whose faults the resolver handles.
func (r *Resolver) CPU() *CPU {
	return r.cpu
}

// Stats returns the fault counters.
func (r *Resolver) Stats() ResolverStats {
	return ResolverStats{
		Hits:     r.hits.Load(),
		Fills:    r.fills.Load(),
		Failures: r.failures.Load(),
	}
}

// HandleFault is the trap entry point. It resolves the fault against the
// current address space of the processor. A nil return means the faulting
// instruction can be retried; otherwise the error is a *FaultError and the
// faulting process should be terminated.
func (r *Resolver) HandleFault(kind FaultKind, v VAddr) error {
	return r.Resolve(r.cpu.Current(), kind, v)
}

// Resolve resolves a fault against the given address space.
func (r *Resolver) Resolve(as *AddressSpace, kind FaultKind, v VAddr) error {
	switch kind {
	case FaultReadOnly:
		return r.fail(as, kind, v, ErrProtectionViolation)
	case FaultRead, FaultWrite:
		return r.resolveMiss(as, kind, v)
	default:
		panic(fmt.Sprintf("unknown fault kind %d", int(kind)))
	}
}

func (r *Resolver) resolveMiss(as *AddressSpace, kind FaultKind, v VAddr) error {
	if as == nil {
		return r.fail(nil, kind, v, ErrUnmappedAddress)
	}

	as.lock.Lock()
	defer as.lock.Unlock()

	as.mustBeAlive()

	pte, found := as.pageTable.Find(v)
	if found {
		r.tlb.WriteRandom(as.mapping(pte))
		r.hits.Add(1)
		r.record(as, kind, v, pte.PFN, FaultHit, nil)

		return nil
	}

	if _, ok := as.regions.Lookup(v); !ok {
		return r.fail(as, kind, v, ErrUnmappedAddress)
	}

	pfn := as.platform.Frames.AllocFrame()
	if !pfn.Valid() {
		return r.fail(as, kind, v, ErrOutOfMemory)
	}

	if err := as.platform.Heap.Alloc(1); err != nil {
		as.platform.Frames.FreeFrame(pfn)
		return r.fail(as, kind, v, err)
	}

	pte = PTE{VPN: v.VPN(), PFN: pfn}
	as.pageTable.Insert(pte)
	r.tlb.WriteRandom(as.mapping(pte))

	r.fills.Add(1)
	r.record(as, kind, v, pfn, FaultFilled, nil)

	return nil
}

func (r *Resolver) fail(
	as *AddressSpace,
	kind FaultKind,
	v VAddr,
	err error,
) error {
	r.failures.Add(1)
	r.record(as, kind, v, InvalidFrame, FaultFailed, err)

	return &FaultError{Kind: kind, VAddr: v, Err: err}
}

func (r *Resolver) record(
	as *AddressSpace,
	kind FaultKind,
	v VAddr,
	pfn PFN,
	outcome FaultOutcome,
	err error,
) {
	if r.NumHooks() == 0 {
		return
	}

	rec := FaultRecord{
		Kind:    kind,
		VAddr:   v,
		PFN:     pfn,
		Outcome: outcome,
		Err:     err,
	}

	if as != nil {
		rec.AddressSpace = as.id
	}

	r.InvokeHook(sim.HookCtx{
		Domain: r,
		Pos:    HookPosFault,
		Item:   rec,
	})
}
