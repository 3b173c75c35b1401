package vm

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Region", func() {
	It("should widen to page boundaries", func() {
		r, err := NewRegion(0x1234, 0x1000, true, false, true)

		Expect(err).NotTo(HaveOccurred())
		Expect(r.Base).To(Equal(VAddr(0x1000)))
		Expect(r.End()).To(Equal(VAddr(0x3000)))
		Expect(r.NPages).To(Equal(uint64(2)))
		Expect(r.Perm()).To(Equal("r-x"))
	})

	It("should reject empty regions", func() {
		_, err := NewRegion(0x1000, 0, true, true, false)

		Expect(err).To(MatchError(ErrInvalidArgument))
	})

	It("should reject regions that wrap", func() {
		_, err := NewRegion(^VAddr(0)-0x10, 0x100, true, true, false)

		Expect(err).To(MatchError(ErrInvalidArgument))
	})

	It("should parse permissions", func() {
		r, w, x, err := ParsePerm("rw-")

		Expect(err).NotTo(HaveOccurred())
		Expect([]bool{r, w, x}).To(Equal([]bool{true, true, false}))

		_, _, _, err = ParsePerm("rq")
		Expect(err).To(MatchError(ErrInvalidArgument))
	})
})

var _ = Describe("RegionList", func() {
	var (
		l RegionList
	)

	mustRegion := func(base VAddr, pages uint64) Region {
		r, err := NewRegion(base, pages<<PageShift, true, true, false)
		Expect(err).NotTo(HaveOccurred())

		return r
	}

	BeforeEach(func() {
		l = RegionList{}
		Expect(l.Insert(mustRegion(0x10000, 4))).To(Succeed())
		Expect(l.Insert(mustRegion(0x1000, 2))).To(Succeed())
		Expect(l.Insert(mustRegion(0x40000, 1))).To(Succeed())
	})

	It("should keep regions in address order", func() {
		regions := l.Regions()

		Expect(regions).To(HaveLen(3))
		Expect(regions[0].Base).To(Equal(VAddr(0x1000)))
		Expect(regions[1].Base).To(Equal(VAddr(0x10000)))
		Expect(regions[2].Base).To(Equal(VAddr(0x40000)))
	})

	DescribeTable("overlap rejection",
		func(base VAddr, pages uint64) {
			before := l.Regions()

			err := l.Insert(mustRegion(base, pages))

			Expect(err).To(MatchError(ErrInvalidArgument))
			Expect(l.Regions()).To(Equal(before))
		},
		Entry("same base", VAddr(0x1000), uint64(1)),
		Entry("tail overlap", VAddr(0x2000), uint64(4)),
		Entry("head overlap", VAddr(0xf000), uint64(2)),
		Entry("inside", VAddr(0x11000), uint64(1)),
		Entry("covering", VAddr(0x0), uint64(0x100)),
	)

	It("should accept adjacent regions", func() {
		Expect(l.Insert(mustRegion(0x3000, 1))).To(Succeed())
		Expect(l.Insert(mustRegion(0x14000, 1))).To(Succeed())
		Expect(l.Len()).To(Equal(5))
	})

	DescribeTable("lookup",
		func(addr VAddr, found bool, base VAddr) {
			r, ok := l.Lookup(addr)

			Expect(ok).To(Equal(found))
			if found {
				Expect(r.Base).To(Equal(base))
			}
		},
		Entry("first byte", VAddr(0x1000), true, VAddr(0x1000)),
		Entry("last byte", VAddr(0x2fff), true, VAddr(0x1000)),
		Entry("just past the end", VAddr(0x3000), false, VAddr(0)),
		Entry("below all regions", VAddr(0x0), false, VAddr(0)),
		Entry("middle region", VAddr(0x12345), true, VAddr(0x10000)),
		Entry("above all regions", VAddr(0x50000), false, VAddr(0)),
	)

	It("should clone into an independent list", func() {
		cp := l.Clone()

		Expect(cp.Insert(mustRegion(0x80000, 1))).To(Succeed())

		Expect(cp.Len()).To(Equal(4))
		Expect(l.Len()).To(Equal(3))
	})
})
