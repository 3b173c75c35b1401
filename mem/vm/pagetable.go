package vm

import (
	"fmt"
	"log"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// DefaultNumBuckets is the number of hash buckets of a page table.
const DefaultNumBuckets = 256

// A PTE records that a virtual page is resident in a physical frame.
type PTE struct {
	VPN VPN
	PFN PFN
}

// A PageTable is an open hash table from virtual page numbers to resident
// frames. Each bucket owns its collision chain. The table is not safe for
// concurrent use; the owning AddressSpace serializes access.
type PageTable struct {
	seed    uint64
	buckets [][]PTE
	count   int
}

// NewPageTable creates an empty page table. The identity of the owner is mixed
// into the hash so that two tables do not share a collision pattern. The
// number of buckets must be a power of two.
func NewPageTable(numBuckets int, identity string) *PageTable {
	if numBuckets <= 0 || numBuckets&(numBuckets-1) != 0 {
		log.Panicf("number of buckets must be a power of two, got %d",
			numBuckets)
	}

	return &PageTable{
		seed:    xxhash.Sum64String(identity),
		buckets: make([][]PTE, numBuckets),
	}
}

// NumBuckets returns the number of hash buckets.
func (t *PageTable) NumBuckets() int {
	return len(t.buckets)
}

// Len returns the number of resident pages.
func (t *PageTable) Len() int {
	return t.count
}

// BucketOf returns the bucket that holds the page. Consecutive pages land in
// consecutive buckets, modulo a per-table permutation.
func (t *PageTable) BucketOf(vpn VPN) int {
	return int((t.seed ^ uint64(vpn)) & uint64(len(t.buckets)-1))
}

// Find returns the entry of the page that contains the address.
func (t *PageTable) Find(v VAddr) (PTE, bool) {
	return t.Lookup(v.VPN())
}

// Lookup returns the entry of the page.
func (t *PageTable) Lookup(vpn VPN) (PTE, bool) {
	chain := t.buckets[t.BucketOf(vpn)]

	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i].VPN == vpn {
			return chain[i], true
		}
	}

	return PTE{}, false
}

// Insert puts the entry at the head of its chain. It does not look for an
// existing entry of the same page; the caller must know there is none.
func (t *PageTable) Insert(pte PTE) {
	b := t.BucketOf(pte.VPN)
	t.buckets[b] = append(t.buckets[b], pte)
	t.count++
}

// MustInsert inserts the entry and panics if the page is already resident.
func (t *PageTable) MustInsert(pte PTE) {
	if _, found := t.Lookup(pte.VPN); found {
		log.Panicf("page 0x%x already resident", uint64(pte.VPN))
	}

	t.Insert(pte)
}

// Remove unlinks the entry of the page that contains the address and returns
// it. It does nothing if the page is not resident.
func (t *PageTable) Remove(v VAddr) (PTE, bool) {
	vpn := v.VPN()
	b := t.BucketOf(vpn)
	chain := t.buckets[b]

	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i].VPN != vpn {
			continue
		}

		pte := chain[i]
		t.buckets[b] = append(chain[:i], chain[i+1:]...)
		t.count--

		return pte, true
	}

	return PTE{}, false
}

// Entries returns every entry sorted by virtual page number.
func (t *PageTable) Entries() []PTE {
	out := make([]PTE, 0, t.count)
	for _, chain := range t.buckets {
		out = append(out, chain...)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].VPN < out[j].VPN })

	return out
}

// CopyAll returns a new table, owned by identity, holding a copy of every
// entry. The copy keeps the hash of t, so every entry sits in the same bucket
// and at the same chain position as in t.
func (t *PageTable) CopyAll(identity string) *PageTable {
	dst := NewPageTable(len(t.buckets), identity)

	err := t.copyTo(dst, nil)
	if err != nil {
		panic(err)
	}

	return dst
}

// copyTo copies t into the empty table dst bucket for bucket, oldest entry of
// each chain first. dst adopts the seed of t. The charge function is called
// before each copy; copying stops at its first error, leaving the entries
// copied so far in dst.
func (t *PageTable) copyTo(dst *PageTable, charge func(PTE) error) error {
	if len(dst.buckets) != len(t.buckets) {
		return fmt.Errorf("%w: copying %d buckets into %d",
			ErrInvalidArgument, len(t.buckets), len(dst.buckets))
	}

	if dst.count != 0 {
		return fmt.Errorf("%w: copying into a table with %d entries",
			ErrInvalidArgument, dst.count)
	}

	dst.seed = t.seed

	for b, chain := range t.buckets {
		for _, pte := range chain {
			if charge != nil {
				if err := charge(pte); err != nil {
					return err
				}
			}

			dst.buckets[b] = append(dst.buckets[b], pte)
			dst.count++
		}
	}

	return nil
}

// clear drops every entry and returns them.
func (t *PageTable) clear() []PTE {
	out := t.Entries()

	for i := range t.buckets {
		t.buckets[i] = nil
	}

	t.count = 0

	return out
}

// TableStats summarizes the shape of a page table.
type TableStats struct {
	Entries         int `json:"entries"`
	Buckets         int `json:"buckets"`
	OccupiedBuckets int `json:"occupied_buckets"`
	LongestChain    int `json:"longest_chain"`
}

// Stats reports how entries are spread over the buckets.
func (t *PageTable) Stats() TableStats {
	s := TableStats{
		Entries: t.count,
		Buckets: len(t.buckets),
	}

	for _, chain := range t.buckets {
		if len(chain) == 0 {
			continue
		}

		s.OccupiedBuckets++
		if len(chain) > s.LongestChain {
			s.LongestChain = len(chain)
		}
	}

	return s
}
