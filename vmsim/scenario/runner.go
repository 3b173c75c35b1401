package scenario

import (
	"errors"
	"fmt"
	"log"

	"github.com/sarchlab/mipsvm/mem/vm"
	"github.com/sarchlab/mipsvm/mem/vm/proc"
)

// ErrUnexpectedOutcome reports a step whose outcome differs from its
// expectation.
var ErrUnexpectedOutcome = errors.New("unexpected outcome")

// A Runner executes scenarios against a process table.
type Runner struct {
	table  *proc.Table
	logger *log.Logger

	// BeforeStep and AfterStep, if set, are called around every step.
	BeforeStep func(i int, step Step)
	AfterStep  func(i int, step Step, err error)
}

// NewRunner creates a runner that reports every step to the logger.
func NewRunner(table *proc.Table, logger *log.Logger) *Runner {
	return &Runner{
		table:  table,
		logger: logger,
	}
}

// Run executes the steps in order. It stops at the first step whose outcome
// does not match its expectation. Errors of steps without expectation are
// logged and do not stop the run.
func (r *Runner) Run(s *Scenario) error {
	r.logger.Printf("scenario %q, %d steps\n", s.Name, len(s.Steps))

	for i, step := range s.Steps {
		if r.BeforeStep != nil {
			r.BeforeStep(i, step)
		}

		msg, err := r.exec(step)

		if err != nil {
			r.logger.Printf("%3d %-6s %s: %v\n", i+1, step.Op, msg, err)
		} else {
			r.logger.Printf("%3d %-6s %s\n", i+1, step.Op, msg)
		}

		if r.AfterStep != nil {
			r.AfterStep(i, step, err)
		}

		if mismatch := r.check(step, err); mismatch != nil {
			return fmt.Errorf("step %d: %w", i+1, mismatch)
		}
	}

	return nil
}

func (r *Runner) check(step Step, err error) error {
	if step.Expect == "" {
		return nil
	}

	want, _ := ParseExpectation(step.Expect)

	switch {
	case want == nil && err != nil:
		return fmt.Errorf("%w: want ok, got %v", ErrUnexpectedOutcome, err)
	case want != nil && !errors.Is(err, want):
		return fmt.Errorf("%w: want %v, got %v", ErrUnexpectedOutcome, want, err)
	}

	return nil
}

func (r *Runner) exec(step Step) (string, error) {
	pid := proc.PID(step.PID)
	v := vm.VAddr(step.Addr)

	switch step.Op {
	case OpSpawn:
		child, err := r.table.Spawn(step.Segments())
		return fmt.Sprintf("-> pid %d", child), err
	case OpFork:
		child, err := r.table.Fork(pid)
		return fmt.Sprintf("pid %d -> pid %d", pid, child), err
	case OpExit:
		return fmt.Sprintf("pid %d", pid), r.table.Exit(pid)
	case OpSwitch:
		return fmt.Sprintf("pid %d", pid), r.table.Switch(pid)
	case OpRead, OpWrite:
		paddr, err := r.table.Access(pid, v, step.Op == OpWrite)
		return fmt.Sprintf("pid %d %s -> 0x%x", pid, v, uint64(paddr)), err
	case OpUnmap:
		return fmt.Sprintf("pid %d %s", pid, v), r.table.Unmap(pid, v)
	case OpDump:
		r.dump()
		return "", nil
	default:
		return "", fmt.Errorf("%w: unknown op %q", vm.ErrInvalidArgument, step.Op)
	}
}

func (r *Runner) dump() {
	for _, info := range r.table.List() {
		if info.Memory == nil {
			r.logger.Printf("    pid %d parent %d %s %s\n",
				info.PID, info.Parent, info.State, info.Reason)

			continue
		}

		pt := info.Memory.PageTable
		r.logger.Printf(
			"    pid %d parent %d %s regions %d resident %d chain %d/%d\n",
			info.PID, info.Parent, info.State,
			info.Memory.Regions, info.Memory.Resident,
			pt.LongestChain, pt.OccupiedBuckets)
	}

	tlbStats := r.table.TLB().Stats()
	faults := r.table.Resolver().Stats()
	r.logger.Printf(
		"    tlb hits %d misses %d; faults hit %d filled %d failed %d; "+
			"frames free %d/%d\n",
		tlbStats.Hits, tlbStats.Misses,
		faults.Hits, faults.Fills, faults.Failures,
		r.table.Frames().NumFree(), r.table.Frames().NumFrames())
}
