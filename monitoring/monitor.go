// Package monitoring turns a running machine into a web server so that its
// processes, page tables and TLB can be inspected while a workload runs.
package monitoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/mipsvm/mem/vm"
	"github.com/sarchlab/mipsvm/mem/vm/proc"
	"github.com/sarchlab/mipsvm/monitoring/web"
	"github.com/sarchlab/mipsvm/sim"
)

// Monitor serves the state of a process table over HTTP.
type Monitor struct {
	table      *proc.Table
	portNumber int
	assetDir   string

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithAssetDir serves the web page from dir instead of the built-in copy.
func (m *Monitor) WithAssetDir(dir string) *Monitor {
	m.assetDir = dir
	return m
}

// RegisterProcessTable sets the process table to be monitored.
func (m *Monitor) RegisterProcessTable(t *proc.Table) {
	m.table = t
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        sim.GetIDGenerator().Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the handler that serves the monitoring API and the web page.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/procs", m.listProcesses)
	r.HandleFunc("/api/process/{pid}", m.processDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/pagetable/{pid}", m.listPageTable)
	r.HandleFunc("/api/tlb", m.listTLB)
	r.HandleFunc("/api/faults", m.faultStats)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)

	assets, err := web.Assets(m.assetDir)
	dieOnErr(err)
	r.PathPrefix("/").Handler(http.FileServer(assets))

	return r
}

// StartServer starts the monitor as a web server and returns its URL.
func (m *Monitor) StartServer() string {
	http.Handle("/", m.Router())

	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring virtual memory with %s\n", url)

	go func() {
		err := http.Serve(listener, nil)
		dieOnErr(err)
	}()

	return url
}

func (m *Monitor) listProcesses(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.table.List())
}

func (m *Monitor) processDetails(w http.ResponseWriter, r *http.Request) {
	pid, ok := parsePIDOr400(w, mux.Vars(r)["pid"])
	if !ok {
		return
	}

	buf := new(bytes.Buffer)
	err := m.table.Inspect(pid, func(as *vm.AddressSpace) error {
		serializer := goseth.NewSerializer()
		serializer.SetRoot(as)
		serializer.SetMaxDepth(1)

		return serializer.Serialize(buf)
	})

	if m.notFound(w, err) {
		return
	}

	_, err = w.Write(buf.Bytes())
	dieOnErr(err)
}

type fieldReq struct {
	PID       proc.PID `json:"pid,omitempty"`
	FieldName string   `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	req := fieldReq{}

	err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	buf := new(bytes.Buffer)
	err = m.table.Inspect(req.PID, func(as *vm.AddressSpace) error {
		serializer := goseth.NewSerializer()
		serializer.SetRoot(as)
		serializer.SetMaxDepth(1)

		if err := serializer.SetEntryPoint(
			strings.Split(req.FieldName, "."),
		); err != nil {
			return err
		}

		return serializer.Serialize(buf)
	})

	if m.notFound(w, err) {
		return
	}

	_, err = w.Write(buf.Bytes())
	dieOnErr(err)
}

type pteRsp struct {
	VPN string `json:"vpn"`
	PFN uint64 `json:"pfn"`
}

type pageTableRsp struct {
	Stats   vm.TableStats `json:"stats"`
	Entries []pteRsp      `json:"entries"`
}

func (m *Monitor) listPageTable(w http.ResponseWriter, r *http.Request) {
	pid, ok := parsePIDOr400(w, mux.Vars(r)["pid"])
	if !ok {
		return
	}

	rsp := pageTableRsp{Entries: []pteRsp{}}
	err := m.table.Inspect(pid, func(as *vm.AddressSpace) error {
		pt := as.PageTable()
		rsp.Stats = pt.Stats()

		for _, pte := range pt.Entries() {
			rsp.Entries = append(rsp.Entries, pteRsp{
				VPN: pte.VPN.Addr().String(),
				PFN: uint64(pte.PFN),
			})
		}

		return nil
	})

	if m.notFound(w, err) {
		return
	}

	writeJSON(w, rsp)
}

type tlbEntryRsp struct {
	Slot  int    `json:"slot"`
	Page  string `json:"page"`
	PFN   uint64 `json:"pfn"`
	Dirty bool   `json:"dirty"`
}

type tlbRsp struct {
	Name    string        `json:"name"`
	Size    int           `json:"size"`
	Stats   any           `json:"stats"`
	Entries []tlbEntryRsp `json:"entries"`
}

func (m *Monitor) listTLB(w http.ResponseWriter, _ *http.Request) {
	t := m.table.TLB()
	rsp := tlbRsp{
		Name:    t.Name(),
		Size:    t.NumEntries(),
		Stats:   t.Stats(),
		Entries: []tlbEntryRsp{},
	}

	for i, e := range t.Entries() {
		if !e.Valid {
			continue
		}

		rsp.Entries = append(rsp.Entries, tlbEntryRsp{
			Slot:  i,
			Page:  e.VPN.Addr().String(),
			PFN:   uint64(e.PFN),
			Dirty: e.Dirty,
		})
	}

	writeJSON(w, rsp)
}

type faultRsp struct {
	Resolver      vm.ResolverStats `json:"resolver"`
	Frames        int              `json:"frames"`
	FreeFrames    int              `json:"free_frames"`
	KernelObjects int              `json:"kernel_objects"`
}

func (m *Monitor) faultStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, faultRsp{
		Resolver:      m.table.Resolver().Stats(),
		Frames:        m.table.Frames().NumFrames(),
		FreeFrames:    m.table.Frames().NumFree(),
		KernelObjects: m.table.KernelObjects(),
	})
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	writeJSON(w, m.progressBars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	dieOnErr(err)

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func parsePIDOr400(w http.ResponseWriter, s string) (proc.PID, bool) {
	pid, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return 0, false
	}

	return proc.PID(pid), true
}

func (m *Monitor) notFound(w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, proc.ErrNoProcess) {
		w.WriteHeader(http.StatusNotFound)
	} else {
		w.WriteHeader(http.StatusBadRequest)
	}

	fmt.Fprintf(w, "Error: %s", err)

	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
