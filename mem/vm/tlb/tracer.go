package tlb

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/sarchlab/mipsvm/mem/vm"
	"github.com/sarchlab/mipsvm/sim"
)

// A Tracer writes one CSV line for every TLB action.
type Tracer struct {
	writer io.Writer
	seq    atomic.Uint64
}

// NewTracer produce a new Tracer, injecting the dependency of a writer.
func NewTracer(w io.Writer) *Tracer {
	t := new(Tracer)
	t.writer = w

	return t
}

// Func prints the tlb trace information.
func (t *Tracer) Func(ctx sim.HookCtx) {
	if ctx.Pos != HookPosTLBAccess {
		return
	}

	what, ok := ctx.Item.(string)
	if !ok {
		return
	}

	e, _ := ctx.Detail.(vm.TLBEntry)

	_, err := fmt.Fprintf(t.writer,
		"%d,%s,%s,0x%x,0x%x,%t\n",
		t.seq.Add(1),
		ctx.Domain.(*Array).Name(),
		what,
		uint64(e.VPN),
		uint64(e.PFN),
		e.Dirty)
	if err != nil {
		panic(err)
	}
}
