package tlb

import (
	"log"
	"math/rand"

	"github.com/sarchlab/mipsvm/mem/vm"
	"github.com/sarchlab/mipsvm/sim"
)

// DefaultNumEntries is the number of slots of the MIPS R3000 TLB.
const DefaultNumEntries = 64

// A Builder can build TLBs
type Builder struct {
	numEntries int
	seed       int64
}

// MakeBuilder returns a Builder
func MakeBuilder() Builder {
	return Builder{
		numEntries: DefaultNumEntries,
		seed:       1,
	}
}

// WithNumEntries sets the number of slots in the TLB.
func (b Builder) WithNumEntries(n int) Builder {
	b.numEntries = n
	return b
}

// WithRandSeed sets the seed of the random slot picker used by WriteRandom.
func (b Builder) WithRandSeed(seed int64) Builder {
	b.seed = seed
	return b
}

// Build creates a new TLB with every slot invalid.
func (b Builder) Build(name string) *Array {
	if b.numEntries <= 0 {
		log.Panicf("TLB %s must have at least one entry", name)
	}

	a := &Array{
		HookableBase: sim.NewHookableBase(),
		name:         name,
		slots:        make([]vm.TLBEntry, b.numEntries),
		rand:         rand.New(rand.NewSource(b.seed)),
	}

	return a
}
