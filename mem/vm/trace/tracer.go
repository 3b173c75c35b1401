// Package trace provides tracers that record the faults and the process life
// cycle of the virtual memory system.
package trace

import (
	"log"
	"sync"

	"github.com/rs/xid"

	"github.com/sarchlab/mipsvm/datarecording"
	"github.com/sarchlab/mipsvm/mem/vm"
	"github.com/sarchlab/mipsvm/mem/vm/proc"
	"github.com/sarchlab/mipsvm/sim"
)

// FaultTable and ProcessTable name the tables written by the database tracer.
const (
	FaultTable   = "vm_faults"
	ProcessTable = "vm_processes"
)

// FaultEntry is one row of the fault table.
type FaultEntry struct {
	ID           string `json:"id"`
	Seq          uint64 `json:"seq"`
	AddressSpace string `json:"address_space"`
	Kind         string `json:"kind"`
	VAddr        uint64 `json:"vaddr"`
	PFN          uint64 `json:"pfn"`
	Outcome      string `json:"outcome"`
	Error        string `json:"error"`
}

// ProcessEntry is one row of the process table.
type ProcessEntry struct {
	ID           string `json:"id"`
	Seq          uint64 `json:"seq"`
	PID          uint32 `json:"pid"`
	Parent       uint32 `json:"parent"`
	What         string `json:"what"`
	AddressSpace string `json:"address_space"`
	Error        string `json:"error"`
}

// A tracer prints one line per event into a logger.
type tracer struct {
	lock   sync.Mutex
	seq    uint64
	logger *log.Logger
}

// NewTracer creates a tracer that logs faults and process events. It can be
// attached to a vm.Resolver, a proc.Table, or both.
func NewTracer(logger *log.Logger) sim.Hook {
	return &tracer{logger: logger}
}

func (t *tracer) Func(ctx sim.HookCtx) {
	t.lock.Lock()
	defer t.lock.Unlock()

	switch ctx.Pos {
	case vm.HookPosFault:
		r := ctx.Item.(vm.FaultRecord)
		t.seq++
		t.logger.Printf("fault, %d, %s, %s, %s, %s, %d, %s\n",
			t.seq, r.AddressSpace, r.Kind, r.VAddr, r.Outcome, r.PFN,
			errString(r.Err))
	case proc.HookPosProcess:
		e := ctx.Item.(proc.ProcessEvent)
		t.seq++
		t.logger.Printf("process, %d, %d, %d, %s, %s, %s\n",
			t.seq, e.PID, e.Parent, e.What, e.AddressSpace, errString(e.Err))
	}
}

// A dbTracer writes events into a data recorder.
type dbTracer struct {
	lock         sync.Mutex
	seq          uint64
	dataRecorder datarecording.DataRecorder
}

// NewDBTracer creates a tracer that stores faults and process events as rows
// of the vm_faults and vm_processes tables.
func NewDBTracer(dataRecorder datarecording.DataRecorder) sim.Hook {
	t := &dbTracer{dataRecorder: dataRecorder}

	t.dataRecorder.CreateTable(FaultTable, FaultEntry{})
	t.dataRecorder.CreateTable(ProcessTable, ProcessEntry{})

	return t
}

func (t *dbTracer) Func(ctx sim.HookCtx) {
	t.lock.Lock()
	defer t.lock.Unlock()

	switch ctx.Pos {
	case vm.HookPosFault:
		r := ctx.Item.(vm.FaultRecord)
		t.seq++
		t.dataRecorder.InsertData(FaultTable, FaultEntry{
			ID:           xid.New().String(),
			Seq:          t.seq,
			AddressSpace: r.AddressSpace,
			Kind:         r.Kind.String(),
			VAddr:        uint64(r.VAddr),
			PFN:          uint64(r.PFN),
			Outcome:      r.Outcome.String(),
			Error:        errString(r.Err),
		})
	case proc.HookPosProcess:
		e := ctx.Item.(proc.ProcessEvent)
		t.seq++
		t.dataRecorder.InsertData(ProcessTable, ProcessEntry{
			ID:           xid.New().String(),
			Seq:          t.seq,
			PID:          uint32(e.PID),
			Parent:       uint32(e.Parent),
			What:         e.What,
			AddressSpace: e.AddressSpace,
			Error:        errString(e.Err),
		})
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
