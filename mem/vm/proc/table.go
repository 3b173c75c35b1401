// Package proc keeps the processes of a single-processor machine and drives
// the virtual memory system on their behalf: it builds address spaces when
// programs are loaded, duplicates them on fork, destroys them on exit, and
// turns unresolvable faults into process termination.
package proc

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/sarchlab/mipsvm/mem/vm"
	"github.com/sarchlab/mipsvm/mem/vm/frame"
	"github.com/sarchlab/mipsvm/mem/vm/tlb"
	"github.com/sarchlab/mipsvm/sim"
)

// PID stands for Process ID.
type PID uint32

// ErrNoProcess reports an unknown or already terminated process.
var ErrNoProcess = errors.New("no such process")

// State is the life-cycle state of a process.
type State int

// Process states.
const (
	Running State = iota
	Exited
	Killed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Exited:
		return "exited"
	case Killed:
		return "killed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// A Process is a user program with its own address space.
type Process struct {
	PID          PID
	Parent       PID
	State        State
	StackPointer vm.VAddr
	ExitReason   error

	as *vm.AddressSpace
}

// AddressSpace returns the address space of a running process, or nil once it
// has terminated.
func (p *Process) AddressSpace() *vm.AddressSpace {
	return p.as
}

// A Segment describes one region of a program image.
type Segment struct {
	Base vm.VAddr
	Size uint64
	Perm string
}

// HookPosProcess is triggered when a process is spawned, forked or
// terminated. The hook item is a ProcessEvent.
var HookPosProcess = &sim.HookPos{Name: "Process"}

// A ProcessEvent records a change in the life of a process.
type ProcessEvent struct {
	PID          PID
	Parent       PID
	What         string
	AddressSpace string
	Err          error
}

type usageHeap interface {
	vm.KernelHeap
	InUse() int
}

// A Table holds the processes of the machine.
type Table struct {
	*sim.HookableBase

	lock     sync.Mutex
	platform vm.Platform
	tlb      *tlb.Array
	frames   *frame.Allocator
	heap     usageHeap
	cpu      *vm.CPU
	resolver *vm.Resolver
	procs    map[PID]*Process
	nextPID  PID
	current  PID
}

// TLB returns the TLB of the machine.
func (t *Table) TLB() *tlb.Array {
	return t.tlb
}

// Frames returns the physical frame allocator.
func (t *Table) Frames() *frame.Allocator {
	return t.frames
}

// Resolver returns the fault resolver.
func (t *Table) Resolver() *vm.Resolver {
	return t.resolver
}

// KernelObjects returns the number of kernel objects held by the virtual
// memory system.
func (t *Table) KernelObjects() int {
	return t.heap.InUse()
}

// Spawn creates a process running a program made of the given segments. The
// address space is loaded and its stack defined; no page is resident yet.
func (t *Table) Spawn(segments []Segment) (PID, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	as, err := vm.Create(t.platform)
	if err != nil {
		return 0, err
	}

	sp, err := t.load(as, segments)
	if err != nil {
		as.Destroy()
		return 0, err
	}

	p := t.add(as, 0, sp)
	t.notify(p, "spawn", nil)

	return p.PID, nil
}

func (t *Table) load(as *vm.AddressSpace, segments []Segment) (vm.VAddr, error) {
	if err := as.PrepareLoad(); err != nil {
		return 0, err
	}

	for _, s := range segments {
		r, w, x, err := vm.ParsePerm(s.Perm)
		if err != nil {
			return 0, err
		}

		if err := as.DefineRegion(s.Base, s.Size, r, w, x); err != nil {
			return 0, err
		}
	}

	if err := as.CompleteLoad(); err != nil {
		return 0, err
	}

	return as.DefineStack()
}

func (t *Table) add(as *vm.AddressSpace, parent PID, sp vm.VAddr) *Process {
	p := &Process{
		PID:          t.nextPID,
		Parent:       parent,
		State:        Running,
		StackPointer: sp,
		as:           as,
	}

	t.nextPID++
	t.procs[p.PID] = p

	return p
}

// Fork creates a child process with a copy of the address space of the parent.
func (t *Table) Fork(parent PID) (PID, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	p, err := t.running(parent)
	if err != nil {
		return 0, err
	}

	as, err := p.as.Duplicate()
	if err != nil {
		return 0, fmt.Errorf("fork of process %d: %w", parent, err)
	}

	child := t.add(as, parent, p.StackPointer)
	t.notify(child, "fork", nil)

	return child.PID, nil
}

// Exit terminates a process normally and releases its address space.
func (t *Table) Exit(pid PID) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	p, err := t.running(pid)
	if err != nil {
		return err
	}

	t.terminate(p, Exited, nil)

	return nil
}

func (t *Table) terminate(p *Process, state State, reason error) {
	if t.current == p.PID {
		t.cpu.Deactivate()
		t.cpu.SetCurrent(nil)
		t.current = 0
	}

	id := p.as.ID()
	p.as.Destroy()
	p.as = nil
	p.State = state
	p.ExitReason = reason

	t.notifyWithID(p, state.String(), id, reason)
}

// Switch makes the process the one running on the processor.
func (t *Table) Switch(pid PID) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.switchTo(pid)
}

func (t *Table) switchTo(pid PID) error {
	p, err := t.running(pid)
	if err != nil {
		return err
	}

	if t.current == pid {
		return nil
	}

	t.cpu.SetCurrent(p.as)
	t.current = pid

	return nil
}

// Current returns the running process, or 0 if none.
func (t *Table) Current() PID {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.current
}

// maxTrapsPerAccess bounds the faults one access may raise: a miss, then a
// store to the clean entry just installed.
const maxTrapsPerAccess = 3

// Access performs a load or a store at the address on behalf of the process,
// switching to it first. TLB faults are handed to the resolver. A fault the
// resolver cannot resolve kills the process and is returned.
func (t *Table) Access(pid PID, v vm.VAddr, write bool) (vm.PAddr, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if err := t.switchTo(pid); err != nil {
		return 0, err
	}

	for i := 0; i < maxTrapsPerAccess; i++ {
		paddr, kind, ok := t.tlb.Translate(v, write)
		if ok {
			return paddr, nil
		}

		err := t.resolver.HandleFault(kind, v)
		if err != nil {
			t.terminate(t.procs[pid], Killed, err)
			return 0, err
		}
	}

	log.Panicf("access to %s by process %d does not settle", v, pid)

	return 0, nil
}

// Unmap evicts the page that holds the address from the process.
func (t *Table) Unmap(pid PID, v vm.VAddr) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	p, err := t.running(pid)
	if err != nil {
		return err
	}

	return p.as.UnmapPage(v)
}

// Process returns the process with the given ID, running or not.
func (t *Table) Process(pid PID) (*Process, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	p, found := t.procs[pid]

	return p, found
}

// Inspect calls f with the address space of a running process. The process
// cannot run, fork or terminate while f runs.
func (t *Table) Inspect(pid PID, f func(as *vm.AddressSpace) error) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	p, err := t.running(pid)
	if err != nil {
		return err
	}

	return f(p.as)
}

// Info summarizes a process.
type Info struct {
	PID     PID       `json:"pid"`
	Parent  PID       `json:"parent"`
	State   string    `json:"state"`
	Reason  string    `json:"reason,omitempty"`
	Current bool      `json:"current"`
	Memory  *vm.Stats `json:"memory,omitempty"`
}

// List summarizes every process in PID order.
func (t *Table) List() []Info {
	t.lock.Lock()
	defer t.lock.Unlock()

	out := make([]Info, 0, len(t.procs))
	for _, p := range t.procs {
		info := Info{
			PID:     p.PID,
			Parent:  p.Parent,
			State:   p.State.String(),
			Current: p.PID == t.current,
		}

		if p.ExitReason != nil {
			info.Reason = p.ExitReason.Error()
		}

		if p.as != nil {
			stats := p.as.Stats()
			info.Memory = &stats
		}

		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })

	return out
}

func (t *Table) running(pid PID) (*Process, error) {
	p, found := t.procs[pid]
	if !found || p.State != Running {
		return nil, fmt.Errorf("%w: %d", ErrNoProcess, pid)
	}

	return p, nil
}

func (t *Table) notify(p *Process, what string, err error) {
	t.notifyWithID(p, what, p.as.ID(), err)
}

func (t *Table) notifyWithID(p *Process, what, asID string, err error) {
	if t.NumHooks() == 0 {
		return
	}

	t.InvokeHook(sim.HookCtx{
		Domain: t,
		Pos:    HookPosProcess,
		Item: ProcessEvent{
			PID:          p.PID,
			Parent:       p.Parent,
			What:         what,
			AddressSpace: asID,
			Err:          err,
		},
	})
}
