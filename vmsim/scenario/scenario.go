// Package scenario loads and runs scripted workloads against a process table.
// A scenario is a YAML document listing process operations and memory
// accesses, each optionally with the outcome it must produce.
package scenario

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sarchlab/mipsvm/mem/vm"
	"github.com/sarchlab/mipsvm/mem/vm/proc"
)

// Op names an operation of a step.
type Op string

// The supported operations.
const (
	OpSpawn  Op = "spawn"
	OpFork   Op = "fork"
	OpExit   Op = "exit"
	OpSwitch Op = "switch"
	OpRead   Op = "read"
	OpWrite  Op = "write"
	OpUnmap  Op = "unmap"
	OpDump   Op = "dump"
)

// A Region is a segment of a program image.
type Region struct {
	Base uint64 `yaml:"base"`
	Size uint64 `yaml:"size"`
	Perm string `yaml:"perm"`
}

// A Step is one operation of a scenario.
type Step struct {
	Op      Op       `yaml:"op"`
	PID     uint32   `yaml:"pid,omitempty"`
	Addr    uint64   `yaml:"addr,omitempty"`
	Regions []Region `yaml:"regions,omitempty"`

	// Expect is the outcome the step must have: "ok", or one of the error
	// names accepted by ParseExpectation. Empty means unchecked.
	Expect string `yaml:"expect,omitempty"`
}

// A Scenario is a named list of steps.
type Scenario struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Load reads a scenario from a YAML file.
func Load(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Decode(f)
}

// Decode reads a scenario from a YAML stream and validates it.
func Decode(r io.Reader) (*Scenario, error) {
	s := &Scenario{}

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(s); err != nil {
		return nil, fmt.Errorf("decoding scenario: %w", err)
	}

	if err := s.validate(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Scenario) validate() error {
	for i, step := range s.Steps {
		if err := step.validate(); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	return nil
}

func (s Step) validate() error {
	switch s.Op {
	case OpSpawn:
		if len(s.Regions) == 0 {
			return fmt.Errorf("%w: spawn without regions", vm.ErrInvalidArgument)
		}
	case OpFork, OpExit, OpSwitch, OpRead, OpWrite, OpUnmap:
		if s.PID == 0 {
			return fmt.Errorf("%w: %s without pid", vm.ErrInvalidArgument, s.Op)
		}
	case OpDump:
	default:
		return fmt.Errorf("%w: unknown op %q", vm.ErrInvalidArgument, s.Op)
	}

	if s.Expect != "" {
		if _, err := ParseExpectation(s.Expect); err != nil {
			return err
		}
	}

	return nil
}

// Segments converts the regions of a spawn step into a program image.
func (s Step) Segments() []proc.Segment {
	segs := make([]proc.Segment, 0, len(s.Regions))
	for _, r := range s.Regions {
		segs = append(segs, proc.Segment{
			Base: vm.VAddr(r.Base),
			Size: r.Size,
			Perm: r.Perm,
		})
	}

	return segs
}

var expectations = map[string]error{
	"unmapped":   vm.ErrUnmappedAddress,
	"protection": vm.ErrProtectionViolation,
	"oom":        vm.ErrOutOfMemory,
	"invalid":    vm.ErrInvalidArgument,
	"not-found":  vm.ErrNotFound,
	"no-process": proc.ErrNoProcess,
}

// ParseExpectation returns the error a step is expected to fail with, or nil
// for "ok".
func ParseExpectation(s string) (want error, err error) {
	if s == "ok" {
		return nil, nil
	}

	want, found := expectations[s]
	if !found {
		return nil, fmt.Errorf("%w: unknown expectation %q",
			vm.ErrInvalidArgument, s)
	}

	return want, nil
}
