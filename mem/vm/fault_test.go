package vm

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/mipsvm/sim"
)

var _ = Describe("Resolver", func() {
	var (
		mockCtrl *gomock.Controller
		frames   *MockFrameAllocator
		heap     *MockKernelHeap
		tlb      *MockTLB
		resolver *Resolver
		as       *AddressSpace
		records  []FaultRecord
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		frames = NewMockFrameAllocator(mockCtrl)
		heap = NewMockKernelHeap(mockCtrl)
		tlb = NewMockTLB(mockCtrl)

		heap.EXPECT().Alloc(1).Return(nil).Times(3)

		var err error
		as, err = Create(Platform{Frames: frames, Heap: heap, TLB: tlb})
		Expect(err).NotTo(HaveOccurred())
		Expect(as.DefineRegion(0x1000, 2*PageSize, true, true, false)).
			To(Succeed())

		resolver = MakeBuilder().WithTLB(tlb).Build()

		records = nil
		resolver.AcceptHook(sim.HookFunc(func(ctx sim.HookCtx) {
			Expect(ctx.Pos).To(BeIdenticalTo(HookPosFault))
			records = append(records, ctx.Item.(FaultRecord))
		}))
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should report protection violations without looking anything up",
		func() {
			err := resolver.Resolve(as, FaultReadOnly, 0x1000)

			Expect(err).To(MatchError(ErrProtectionViolation))
			var faultErr *FaultError
			Expect(errors.As(err, &faultErr)).To(BeTrue())
			Expect(faultErr.Kind).To(Equal(FaultReadOnly))
			Expect(faultErr.VAddr).To(Equal(VAddr(0x1000)))
			Expect(as.PageTable().Len()).To(Equal(0))
		})

	It("should report protection violations on unmapped addresses", func() {
		err := resolver.Resolve(as, FaultReadOnly, 0x900000)

		Expect(err).To(MatchError(ErrProtectionViolation))
	})

	It("should report protection violations without an address space", func() {
		err := resolver.Resolve(nil, FaultReadOnly, 0x1000)

		Expect(err).To(MatchError(ErrProtectionViolation))
	})

	It("should report unmapped addresses", func() {
		err := resolver.Resolve(as, FaultRead, 0x5000)

		Expect(err).To(MatchError(ErrUnmappedAddress))
		Expect(records).To(HaveLen(1))
		Expect(records[0].Outcome).To(Equal(FaultFailed))
		Expect(records[0].AddressSpace).To(Equal(as.ID()))
	})

	It("should report unmapped addresses without an address space", func() {
		err := resolver.HandleFault(FaultWrite, 0x1000)

		Expect(err).To(MatchError(ErrUnmappedAddress))
	})

	It("should back a page on its first fault", func() {
		frames.EXPECT().AllocFrame().Return(PFN(7))
		heap.EXPECT().Alloc(1).Return(nil)
		tlb.EXPECT().WriteRandom(TLBEntry{VPN: 1, PFN: 7, Dirty: true, Valid: true})

		err := resolver.Resolve(as, FaultRead, 0x1234)

		Expect(err).NotTo(HaveOccurred())
		pte, found := as.PageTable().Find(0x1000)
		Expect(found).To(BeTrue())
		Expect(pte.PFN).To(Equal(PFN(7)))
		Expect(records).To(ConsistOf(FaultRecord{
			AddressSpace: as.ID(),
			Kind:         FaultRead,
			VAddr:        0x1234,
			PFN:          7,
			Outcome:      FaultFilled,
		}))
	})

	It("should refill the TLB from the page table", func() {
		as.PageTable().Insert(PTE{VPN: 2, PFN: 11})
		tlb.EXPECT().WriteRandom(TLBEntry{VPN: 2, PFN: 11, Dirty: true, Valid: true})

		err := resolver.Resolve(as, FaultWrite, 0x2004)

		Expect(err).NotTo(HaveOccurred())
		Expect(as.PageTable().Len()).To(Equal(1))
		Expect(resolver.Stats().Hits).To(Equal(uint64(1)))
	})

	It("should install clean entries for read-only regions", func() {
		heap.EXPECT().Alloc(1).Return(nil)
		Expect(as.DefineRegion(0x400000, PageSize, true, false, true)).
			To(Succeed())
		frames.EXPECT().AllocFrame().Return(PFN(3))
		heap.EXPECT().Alloc(1).Return(nil)
		tlb.EXPECT().WriteRandom(TLBEntry{VPN: 0x400, PFN: 3, Valid: true})

		err := resolver.Resolve(as, FaultWrite, 0x400010)

		Expect(err).NotTo(HaveOccurred())
	})

	It("should report exhausted physical memory", func() {
		frames.EXPECT().AllocFrame().Return(InvalidFrame)

		err := resolver.Resolve(as, FaultRead, 0x1000)

		Expect(err).To(MatchError(ErrOutOfMemory))
		Expect(as.PageTable().Len()).To(Equal(0))
		Expect(resolver.Stats().Failures).To(Equal(uint64(1)))
	})

	It("should give the frame back if the entry cannot be allocated", func() {
		frames.EXPECT().AllocFrame().Return(PFN(5))
		heap.EXPECT().Alloc(1).Return(ErrOutOfMemory)
		frames.EXPECT().FreeFrame(PFN(5))

		err := resolver.Resolve(as, FaultRead, 0x1000)

		Expect(err).To(MatchError(ErrOutOfMemory))
		Expect(as.PageTable().Len()).To(Equal(0))
	})

	It("should panic on unknown fault kinds", func() {
		Expect(func() { _ = resolver.Resolve(as, FaultKind(42), 0x1000) }).
			To(Panic())
	})

	It("should resolve against the current address space", func() {
		tlb.EXPECT().FlushAll()
		resolver.CPU().SetCurrent(as)
		frames.EXPECT().AllocFrame().Return(PFN(8))
		heap.EXPECT().Alloc(1).Return(nil)
		tlb.EXPECT().WriteRandom(gomock.Any())

		Expect(resolver.HandleFault(FaultRead, 0x1000)).To(Succeed())
		Expect(as.PageTable().Len()).To(Equal(1))
	})
})

var _ = Describe("Fault resolution end to end", func() {
	var (
		frames   *countingFrames
		heap     *UnlimitedHeap
		tlb      *recordingTLB
		platform Platform
		cpu      *CPU
		resolver *Resolver
		a        *AddressSpace
	)

	BeforeEach(func() {
		frames = newCountingFrames(0)
		heap = &UnlimitedHeap{}
		tlb = newRecordingTLB()
		platform = Platform{Frames: frames, Heap: heap, TLB: tlb}
		cpu = NewCPU(tlb)
		resolver = MakeBuilder().WithTLB(tlb).WithCPU(cpu).Build()

		var err error
		a, err = Create(platform)
		Expect(err).NotTo(HaveOccurred())
		Expect(a.DefineRegion(0x1000, 2*PageSize, true, true, false)).
			To(Succeed())
		cpu.SetCurrent(a)
	})

	It("should fill, hit, fault and survive duplication", func() {
		Expect(resolver.HandleFault(FaultRead, 0x1000)).To(Succeed())
		Expect(a.PageTable().Len()).To(Equal(1))
		f1, err := a.Translate(0x1000)
		Expect(err).NotTo(HaveOccurred())
		Expect(tlb.entries[1].PFN).To(Equal(f1))

		Expect(resolver.HandleFault(FaultRead, 0x1000)).To(Succeed())
		Expect(a.PageTable().Len()).To(Equal(1))
		Expect(resolver.Stats()).To(Equal(ResolverStats{Hits: 1, Fills: 1}))

		err = resolver.HandleFault(FaultRead, 0x5000)
		Expect(err).To(MatchError(ErrUnmappedAddress))

		b, err := a.Duplicate()
		Expect(err).NotTo(HaveOccurred())
		b.PageTable().Remove(0x1000)

		_, found := b.PageTable().Find(0x1000)
		Expect(found).To(BeFalse())
		pte, found := a.PageTable().Find(0x1000)
		Expect(found).To(BeTrue())
		Expect(pte.PFN).To(Equal(f1))
	})

	It("should give each page its own frame", func() {
		Expect(resolver.HandleFault(FaultWrite, 0x1000)).To(Succeed())
		Expect(resolver.HandleFault(FaultWrite, 0x2000)).To(Succeed())

		f1, _ := a.Translate(0x1000)
		f2, _ := a.Translate(0x2000)
		Expect(f1).NotTo(Equal(f2))
		Expect(frames.live()).To(Equal(2))
	})

	It("should drop stale translations on address space switch", func() {
		Expect(resolver.HandleFault(FaultRead, 0x1000)).To(Succeed())
		b, err := a.Duplicate()
		Expect(err).NotTo(HaveOccurred())

		cpu.SetCurrent(b)

		Expect(tlb.entries).To(BeEmpty())
		Expect(resolver.HandleFault(FaultRead, 0x1000)).To(Succeed())
		Expect(resolver.Stats().Hits).To(Equal(uint64(1)))
	})

	It("should fault stack pages in lazily", func() {
		sp, err := a.DefineStack()
		Expect(err).NotTo(HaveOccurred())
		Expect(a.PageTable().Len()).To(Equal(0))

		Expect(resolver.HandleFault(FaultWrite, sp-8)).To(Succeed())

		Expect(a.PageTable().Len()).To(Equal(1))
		Expect(tlb.entries[(sp - 8).VPN()].Dirty).To(BeTrue())
	})
})
