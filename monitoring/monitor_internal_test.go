package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mipsvm/mem/vm/proc"
)

var _ = Describe("Monitor", func() {
	var (
		m     *Monitor
		table *proc.Table
		pid   proc.PID
	)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		m.Router().ServeHTTP(rec, req)

		return rec
	}

	BeforeEach(func() {
		table = proc.MakeBuilder().
			WithNumFrames(8).
			WithNumTLBEntries(4).
			WithNumBuckets(8).
			Build()

		var err error
		pid, err = table.Spawn([]proc.Segment{
			{Base: 0x10000000, Size: 0x2000, Perm: "rw-"},
		})
		Expect(err).NotTo(HaveOccurred())
		_, err = table.Access(pid, 0x10001000, true)
		Expect(err).NotTo(HaveOccurred())

		m = NewMonitor()
		m.RegisterProcessTable(table)
	})

	It("should list processes", func() {
		rec := get("/api/procs")

		Expect(rec.Code).To(Equal(http.StatusOK))

		var infos []proc.Info
		Expect(json.Unmarshal(rec.Body.Bytes(), &infos)).To(Succeed())
		Expect(infos).To(HaveLen(1))
		Expect(infos[0].State).To(Equal("running"))
		Expect(infos[0].Memory.Resident).To(Equal(1))
	})

	It("should dump the page table", func() {
		rec := get("/api/pagetable/1")

		Expect(rec.Code).To(Equal(http.StatusOK))

		rsp := pageTableRsp{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.Entries).To(ConsistOf(pteRsp{VPN: "0x10001000", PFN: 1}))
		Expect(rsp.Stats.Entries).To(Equal(1))
	})

	It("should report unknown processes", func() {
		Expect(get("/api/pagetable/7").Code).To(Equal(http.StatusNotFound))
		Expect(get("/api/process/7").Code).To(Equal(http.StatusNotFound))
		Expect(get("/api/pagetable/x").Code).To(Equal(http.StatusBadRequest))
	})

	It("should serialize an address space", func() {
		rec := get("/api/process/1")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.Len()).To(BeNumerically(">", 0))
	})

	It("should list the valid TLB entries", func() {
		rec := get("/api/tlb")

		rsp := tlbRsp{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.Size).To(Equal(4))
		Expect(rsp.Entries).To(HaveLen(1))
		Expect(rsp.Entries[0].Page).To(Equal("0x10001000"))
		Expect(rsp.Entries[0].Dirty).To(BeTrue())
	})

	It("should report fault counters", func() {
		rec := get("/api/faults")

		rsp := faultRsp{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.Resolver.Fills).To(Equal(uint64(1)))
		Expect(rsp.FreeFrames).To(Equal(7))
		Expect(rsp.KernelObjects).To(Equal(5))
	})

	It("should track scenario steps", func() {
		bar := m.CreateProgressBar("scenario", 10)
		bar.FinishStep("spawn", nil)
		bar.FinishStep("read", proc.ErrNoProcess)
		bar.StartStep("write")

		rec := get("/api/progress")

		var bars []map[string]any
		Expect(json.Unmarshal(rec.Body.Bytes(), &bars)).To(Succeed())
		Expect(bars).To(HaveLen(1))
		Expect(bars[0]).To(HaveKeyWithValue("name", "scenario"))
		Expect(bars[0]).To(HaveKeyWithValue("total", 10.0))
		Expect(bars[0]).To(HaveKeyWithValue("done", 2.0))
		Expect(bars[0]).To(HaveKeyWithValue("failed", 1.0))
		Expect(bars[0]).To(HaveKeyWithValue("running", "write"))
		Expect(bars[0]).To(HaveKeyWithValue("last_error", "no such process"))
		Expect(bars[0]["ops"]).To(Equal(map[string]any{
			"spawn": 1.0,
			"read":  1.0,
		}))

		m.CompleteProgressBar(bar)
		rec = get("/api/progress")
		Expect(rec.Body.String()).To(Equal("[]"))
	})

	It("should serve the web page", func() {
		rec := get("/")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(HavePrefix("<!DOCTYPE html>"))
	})

	It("should serve the web page from a directory", func() {
		dir := GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(dir, "index.html"),
			[]byte("<!DOCTYPE html>\n<p>local</p>\n"), 0o644)).To(Succeed())
		m.WithAssetDir(dir)

		rec := get("/")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("local"))
	})
})
