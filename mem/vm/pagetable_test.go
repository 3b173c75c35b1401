package vm

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("PageTable", func() {
	var (
		pt *PageTable
	)

	BeforeEach(func() {
		pt = NewPageTable(16, "table")
	})

	It("should find inserted pages", func() {
		for i := 0; i < 100; i++ {
			pt.Insert(PTE{VPN: VPN(i + 1), PFN: PFN(1000 + i)})
		}

		for i := 0; i < 100; i++ {
			pte, found := pt.Find(VPN(i+1).Addr() + 0x123)
			Expect(found).To(BeTrue())
			Expect(pte.PFN).To(Equal(PFN(1000 + i)))
		}

		Expect(pt.Len()).To(Equal(100))
	})

	It("should not find pages never inserted", func() {
		pt.Insert(PTE{VPN: 1, PFN: 2})

		_, found := pt.Find(0x2000)

		Expect(found).To(BeFalse())
	})

	It("should not find removed pages", func() {
		pt.Insert(PTE{VPN: 1, PFN: 2})
		pt.Insert(PTE{VPN: 3, PFN: 4})

		pte, removed := pt.Remove(0x1000)

		Expect(removed).To(BeTrue())
		Expect(pte).To(Equal(PTE{VPN: 1, PFN: 2}))
		_, found := pt.Find(0x1000)
		Expect(found).To(BeFalse())
		_, found = pt.Find(0x3000)
		Expect(found).To(BeTrue())
		Expect(pt.Len()).To(Equal(1))
	})

	It("should ignore removing absent pages", func() {
		pt.Insert(PTE{VPN: 1, PFN: 2})

		_, removed := pt.Remove(0x5000)

		Expect(removed).To(BeFalse())
		Expect(pt.Len()).To(Equal(1))
	})

	It("should keep colliding pages apart", func() {
		first := VPN(5)
		for i := 0; i < 8; i++ {
			vpn := first + VPN(i*pt.NumBuckets())
			Expect(pt.BucketOf(vpn)).To(Equal(pt.BucketOf(first)))
			pt.Insert(PTE{VPN: vpn, PFN: PFN(i + 10)})
		}

		for i := 0; i < 8; i++ {
			vpn := first + VPN(i*pt.NumBuckets())
			pte, found := pt.Lookup(vpn)
			Expect(found).To(BeTrue())
			Expect(pte.PFN).To(Equal(PFN(i + 10)))
		}

		pt.Remove((first + VPN(3*pt.NumBuckets())).Addr())

		_, found := pt.Lookup(first + VPN(3*pt.NumBuckets()))
		Expect(found).To(BeFalse())
		_, found = pt.Lookup(first + VPN(4*pt.NumBuckets()))
		Expect(found).To(BeTrue())
		Expect(pt.Stats().LongestChain).To(Equal(7))
	})

	It("should spread sequential pages over all buckets", func() {
		for i := 0; i < 64; i++ {
			pt.Insert(PTE{VPN: VPN(0x400 + i), PFN: PFN(i + 1)})
		}

		stats := pt.Stats()

		Expect(stats.OccupiedBuckets).To(Equal(16))
		Expect(stats.LongestChain).To(Equal(4))
	})

	It("should panic on double insert with MustInsert", func() {
		pt.MustInsert(PTE{VPN: 1, PFN: 2})

		Expect(func() { pt.MustInsert(PTE{VPN: 1, PFN: 3}) }).To(Panic())
	})

	It("should refuse bucket counts that are not powers of two", func() {
		Expect(func() { NewPageTable(12, "x") }).To(Panic())
		Expect(func() { NewPageTable(0, "x") }).To(Panic())
	})

	It("should list entries in page order", func() {
		pt.Insert(PTE{VPN: 9, PFN: 1})
		pt.Insert(PTE{VPN: 2, PFN: 2})
		pt.Insert(PTE{VPN: 5, PFN: 3})

		Expect(pt.Entries()).To(Equal([]PTE{
			{VPN: 2, PFN: 2},
			{VPN: 5, PFN: 3},
			{VPN: 9, PFN: 1},
		}))
	})

	Context("when copied", func() {
		var cp *PageTable

		BeforeEach(func() {
			for i := 0; i < 40; i++ {
				pt.Insert(PTE{VPN: VPN(i), PFN: PFN(i + 100)})
			}

			cp = pt.CopyAll("copy")
		})

		It("should hold the same entries", func() {
			Expect(cp.Entries()).To(Equal(pt.Entries()))
		})

		It("should keep every entry in its bucket", func() {
			for i := 0; i < 40; i++ {
				Expect(cp.BucketOf(VPN(i))).To(Equal(pt.BucketOf(VPN(i))))
			}

			Expect(cp.buckets).To(Equal(pt.buckets))
			Expect(cp.Stats()).To(Equal(pt.Stats()))
		})

		It("should refuse to copy into a table in use", func() {
			dst := NewPageTable(pt.NumBuckets(), "busy")
			dst.Insert(PTE{VPN: 1, PFN: 1})

			Expect(pt.copyTo(dst, nil)).To(MatchError(ErrInvalidArgument))
		})

		It("should not see removals from the original", func() {
			pt.Remove(VPN(7).Addr())

			_, found := cp.Lookup(7)
			Expect(found).To(BeTrue())
		})

		It("should not leak insertions into the original", func() {
			cp.Insert(PTE{VPN: 500, PFN: 1})
			cp.Remove(VPN(8).Addr())

			_, found := pt.Lookup(500)
			Expect(found).To(BeFalse())
			pte, found := pt.Lookup(8)
			Expect(found).To(BeTrue())
			Expect(pte.PFN).To(Equal(PFN(108)))
		})
	})
})
