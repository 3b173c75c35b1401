package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/sarchlab/mipsvm/mem/vm"
	"github.com/sarchlab/mipsvm/mem/vm/proc"
	"github.com/sarchlab/mipsvm/mem/vm/tlb"
	"github.com/sarchlab/mipsvm/monitoring/web"
)

// config holds the parameters of a run.
type config struct {
	Frames     int
	TLBEntries int
	Buckets    int
	HeapLimit  int
	Seed       int64
	Record     string
	Trace      bool
	TraceTLB   bool

	Monitor     bool
	Port        int
	OpenBrowser bool
	MonitorPage string
}

func defaultConfig() config {
	return config{
		Frames:     1024,
		TLBEntries: tlb.DefaultNumEntries,
		Buckets:    vm.DefaultNumBuckets,
		Seed:       1,
	}
}

func (c *config) registerFlags(flags *pflag.FlagSet) {
	flags.IntVar(&c.Frames, "frames", c.Frames,
		"number of physical frames [VMSIM_FRAMES]")
	flags.IntVar(&c.TLBEntries, "tlb-entries", c.TLBEntries,
		"number of TLB slots [VMSIM_TLB_ENTRIES]")
	flags.IntVar(&c.Buckets, "buckets", c.Buckets,
		"page table buckets, a power of two [VMSIM_BUCKETS]")
	flags.IntVar(&c.HeapLimit, "heap-limit", c.HeapLimit,
		"kernel objects the VM system may hold, 0 for unlimited "+
			"[VMSIM_HEAP_LIMIT]")
	flags.Int64Var(&c.Seed, "seed", c.Seed,
		"seed of the TLB random replacement [VMSIM_SEED]")
	flags.StringVar(&c.Record, "record", c.Record,
		"record faults and process events into <record>.sqlite3 "+
			"[VMSIM_RECORD]")
	flags.BoolVar(&c.Trace, "trace", c.Trace,
		"print faults and process events")
	flags.BoolVar(&c.TraceTLB, "trace-tlb", c.TraceTLB,
		"print every TLB lookup, write and flush")
	flags.BoolVar(&c.Monitor, "monitor", c.Monitor,
		"serve the machine state over HTTP")
	flags.IntVar(&c.Port, "port", c.Port,
		"port of the monitoring server, 0 for a random one")
	flags.BoolVar(&c.OpenBrowser, "open-browser", c.OpenBrowser,
		"open the monitoring page in a browser")
	flags.StringVar(&c.MonitorPage, "monitor-page", c.MonitorPage,
		"serve the monitoring page from this directory [VMSIM_MONITOR_PAGE]")
}

// loadEnv reads the .env file, if present, and applies the VMSIM_*
// variables to the fields whose flags were not given.
func (c *config) loadEnv(flags *pflag.FlagSet) error {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	ints := []struct {
		env  string
		flag string
		dst  *int
	}{
		{"VMSIM_FRAMES", "frames", &c.Frames},
		{"VMSIM_TLB_ENTRIES", "tlb-entries", &c.TLBEntries},
		{"VMSIM_BUCKETS", "buckets", &c.Buckets},
		{"VMSIM_HEAP_LIMIT", "heap-limit", &c.HeapLimit},
	}

	for _, v := range ints {
		s, ok := lookupUnset(flags, v.env, v.flag)
		if !ok {
			continue
		}

		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("%s: %w", v.env, err)
		}

		*v.dst = n
	}

	if s, ok := lookupUnset(flags, "VMSIM_SEED", "seed"); ok {
		seed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("VMSIM_SEED: %w", err)
		}

		c.Seed = seed
	}

	if s, ok := lookupUnset(flags, "VMSIM_RECORD", "record"); ok {
		c.Record = s
	}

	if s, ok := lookupUnset(flags, "VMSIM_MONITOR_PAGE", "monitor-page"); ok {
		c.MonitorPage = s
	}

	return nil
}

func lookupUnset(flags *pflag.FlagSet, env, flag string) (string, bool) {
	if flags.Changed(flag) {
		return "", false
	}

	return os.LookupEnv(env)
}

func (c *config) validate() error {
	switch {
	case c.Frames < 0:
		return fmt.Errorf("%w: negative number of frames", vm.ErrInvalidArgument)
	case c.TLBEntries <= 0:
		return fmt.Errorf("%w: TLB needs at least one entry",
			vm.ErrInvalidArgument)
	case c.Buckets <= 0 || c.Buckets&(c.Buckets-1) != 0:
		return fmt.Errorf("%w: %d buckets is not a power of two",
			vm.ErrInvalidArgument, c.Buckets)
	case c.HeapLimit < 0:
		return fmt.Errorf("%w: negative heap limit", vm.ErrInvalidArgument)
	}

	if c.MonitorPage != "" {
		if _, err := web.Assets(c.MonitorPage); err != nil {
			return fmt.Errorf("%w: %v", vm.ErrInvalidArgument, err)
		}
	}

	return nil
}

func (c *config) buildTable() *proc.Table {
	return proc.MakeBuilder().
		WithNumFrames(c.Frames).
		WithNumTLBEntries(c.TLBEntries).
		WithNumBuckets(c.Buckets).
		WithKernelHeapLimit(c.HeapLimit).
		WithRandSeed(c.Seed).
		Build()
}
