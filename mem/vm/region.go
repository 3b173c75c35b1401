package vm

import (
	"fmt"
	"sort"
)

// A Region is a page-aligned range of virtual addresses a process may use,
// together with its permissions. Whether the pages are resident is recorded
// elsewhere, in the page table.
type Region struct {
	Base       VAddr
	NPages     uint64
	Readable   bool
	Writable   bool
	Executable bool
}

// NewRegion creates the region covering [base, base+size), widened to page
// boundaries.
func NewRegion(
	base VAddr,
	size uint64,
	readable, writable, executable bool,
) (Region, error) {
	if size == 0 {
		return Region{}, fmt.Errorf("%w: empty region at %s",
			ErrInvalidArgument, base)
	}

	end := base + VAddr(size)
	if end < base {
		return Region{}, fmt.Errorf("%w: region at %s wraps around",
			ErrInvalidArgument, base)
	}

	start := base.AlignDown()
	alignedEnd := end.AlignUp()
	if alignedEnd < end {
		return Region{}, fmt.Errorf("%w: region at %s wraps around",
			ErrInvalidArgument, base)
	}

	r := Region{
		Base:       start,
		NPages:     uint64(alignedEnd-start) >> PageShift,
		Readable:   readable,
		Writable:   writable,
		Executable: executable,
	}

	return r, nil
}

// End returns the first address after the region.
func (r Region) End() VAddr {
	return r.Base + VAddr(r.NPages<<PageShift)
}

// Size returns the size of the region in bytes.
func (r Region) Size() uint64 {
	return r.NPages << PageShift
}

// Contains tells if the address falls inside the region.
func (r Region) Contains(v VAddr) bool {
	return v >= r.Base && v < r.End()
}

// Overlaps tells if two regions share at least one page.
func (r Region) Overlaps(o Region) bool {
	return r.Base < o.End() && o.Base < r.End()
}

// Perm renders the permissions in the "rwx" form.
func (r Region) Perm() string {
	perm := []byte("---")
	if r.Readable {
		perm[0] = 'r'
	}

	if r.Writable {
		perm[1] = 'w'
	}

	if r.Executable {
		perm[2] = 'x'
	}

	return string(perm)
}

func (r Region) String() string {
	return fmt.Sprintf("[%s, %s) %s", r.Base, r.End(), r.Perm())
}

// ParsePerm decodes permissions in the "rwx" form. Dashes and missing letters
// clear the permission.
func ParsePerm(perm string) (readable, writable, executable bool, err error) {
	for _, c := range perm {
		switch c {
		case 'r':
			readable = true
		case 'w':
			writable = true
		case 'x':
			executable = true
		case '-':
		default:
			return false, false, false,
				fmt.Errorf("%w: bad permission %q", ErrInvalidArgument, perm)
		}
	}

	return readable, writable, executable, nil
}

// A RegionList is the set of regions of one address space, kept sorted by base
// address. Regions never overlap.
type RegionList struct {
	regions []Region
}

// Len returns the number of regions.
func (l *RegionList) Len() int {
	return len(l.regions)
}

// Regions returns a copy of the regions in address order.
func (l *RegionList) Regions() []Region {
	out := make([]Region, len(l.regions))
	copy(out, l.regions)

	return out
}

// Insert adds the region. It fails with ErrInvalidArgument, leaving the list
// unchanged, if the region overlaps an existing one.
func (l *RegionList) Insert(r Region) error {
	i := sort.Search(len(l.regions), func(i int) bool {
		return l.regions[i].Base >= r.Base
	})

	if i < len(l.regions) && l.regions[i].Overlaps(r) {
		return fmt.Errorf("%w: region %s overlaps %s",
			ErrInvalidArgument, r, l.regions[i])
	}

	if i > 0 && l.regions[i-1].Overlaps(r) {
		return fmt.Errorf("%w: region %s overlaps %s",
			ErrInvalidArgument, r, l.regions[i-1])
	}

	l.regions = append(l.regions, Region{})
	copy(l.regions[i+1:], l.regions[i:])
	l.regions[i] = r

	return nil
}

// Lookup returns the region that contains the address.
func (l *RegionList) Lookup(v VAddr) (Region, bool) {
	i := sort.Search(len(l.regions), func(i int) bool {
		return l.regions[i].End() > v
	})

	if i < len(l.regions) && l.regions[i].Contains(v) {
		return l.regions[i], true
	}

	return Region{}, false
}

// Clone returns an independent copy of the list.
func (l *RegionList) Clone() RegionList {
	return RegionList{regions: l.Regions()}
}

func (l *RegionList) clear() int {
	n := len(l.regions)
	l.regions = nil

	return n
}
