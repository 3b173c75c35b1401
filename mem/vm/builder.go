package vm

import (
	"log"

	"github.com/sarchlab/mipsvm/sim"
)

// A Builder can build a fault Resolver.
type Builder struct {
	tlb TLB
	cpu *CPU
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{}
}

// WithTLB sets the TLB the resolver refills.
func (b Builder) WithTLB(tlb TLB) Builder {
	b.tlb = tlb
	return b
}

// WithCPU sets the processor whose current address space HandleFault uses. If
// not set, a new CPU over the TLB is created.
func (b Builder) WithCPU(cpu *CPU) Builder {
	b.cpu = cpu
	return b
}

// Build creates a Resolver.
func (b Builder) Build() *Resolver {
	if b.tlb == nil {
		log.Panic("resolver needs a TLB")
	}

	cpu := b.cpu
	if cpu == nil {
		cpu = NewCPU(b.tlb)
	}

	return &Resolver{
		HookableBase: sim.NewHookableBase(),
		cpu:          cpu,
		tlb:          b.tlb,
	}
}
