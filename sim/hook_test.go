package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type recordingHook struct {
	ctxs []HookCtx
}

func (h *recordingHook) Func(ctx HookCtx) {
	h.ctxs = append(h.ctxs, ctx)
}

var _ = Describe("HookableBase", func() {
	var (
		domain *HookableBase
		pos    *HookPos
	)

	BeforeEach(func() {
		domain = NewHookableBase()
		pos = &HookPos{Name: "Test"}
	})

	It("should invoke hooks in registration order", func() {
		order := []string{}
		domain.AcceptHook(HookFunc(func(HookCtx) { order = append(order, "a") }))
		domain.AcceptHook(HookFunc(func(HookCtx) { order = append(order, "b") }))

		domain.InvokeHook(HookCtx{Domain: domain, Pos: pos})

		Expect(order).To(Equal([]string{"a", "b"}))
		Expect(domain.NumHooks()).To(Equal(2))
	})

	It("should pass the context through", func() {
		hook := &recordingHook{}
		domain.AcceptHook(hook)

		domain.InvokeHook(HookCtx{Domain: domain, Pos: pos, Item: 1, Detail: "x"})

		Expect(hook.ctxs).To(HaveLen(1))
		Expect(hook.ctxs[0].Pos).To(BeIdenticalTo(pos))
		Expect(hook.ctxs[0].Item).To(Equal(1))
		Expect(hook.ctxs[0].Detail).To(Equal("x"))
	})

	It("should do nothing without hooks", func() {
		Expect(func() {
			domain.InvokeHook(HookCtx{Domain: domain, Pos: pos})
		}).NotTo(Panic())
	})
})

var _ = Describe("IDGenerator", func() {
	It("should generate distinct ids", func() {
		gen := GetIDGenerator()

		a := gen.Generate()
		b := gen.Generate()

		Expect(a).NotTo(Equal(b))
	})

	It("should refuse to switch generator after use", func() {
		GetIDGenerator()

		Expect(UseParallelIDGenerator).To(Panic())
	})

	It("should generate xid strings in parallel mode", func() {
		Expect(parallelIDGenerator{}.Generate()).To(HaveLen(20))
	})
})
