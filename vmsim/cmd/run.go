package cmd

import (
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/mipsvm/datarecording"
	"github.com/sarchlab/mipsvm/mem/vm/proc"
	"github.com/sarchlab/mipsvm/mem/vm/tlb"
	"github.com/sarchlab/mipsvm/mem/vm/trace"
	"github.com/sarchlab/mipsvm/monitoring"
	"github.com/sarchlab/mipsvm/sim"
	"github.com/sarchlab/mipsvm/vmsim/scenario"
)

var runConfig = defaultConfig()

var runCmd = &cobra.Command{
	Use:   "run <scenario.yaml>",
	Short: "Run a scenario.",
	Long: "`run <scenario.yaml>` builds a machine, runs the steps of the " +
		"scenario on it, and fails if a step does not have its expected " +
		"outcome.",
	Args: cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := runConfig.loadEnv(cmd.Flags()); err != nil {
			return err
		}

		return runConfig.validate()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := scenario.Load(args[0])
		if err != nil {
			return err
		}

		return run(runConfig, s, log.New(cmd.OutOrStdout(), "", 0))
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runConfig.registerFlags(runCmd.Flags())
}

func run(c config, s *scenario.Scenario, logger *log.Logger) error {
	table := c.buildTable()

	if c.Trace {
		attach(table, trace.NewTracer(logger))
	}

	if c.TraceTLB {
		table.TLB().AcceptHook(tlb.NewTracer(logger.Writer()))
	}

	if c.Record != "" {
		recorder := datarecording.New(c.Record)
		defer recorder.Close()

		attach(table, trace.NewDBTracer(recorder))
	}

	runner := scenario.NewRunner(table, logger)

	var monitor *monitoring.Monitor
	if c.Monitor {
		monitor = startMonitor(c, table)

		bar := monitor.CreateProgressBar(s.Name, uint64(len(s.Steps)))
		runner.BeforeStep = func(_ int, step scenario.Step) {
			bar.StartStep(string(step.Op))
		}
		runner.AfterStep = func(_ int, step scenario.Step, err error) {
			bar.FinishStep(string(step.Op), err)
		}
	}

	err := runner.Run(s)

	if monitor != nil {
		stayUntilInterrupted(err)
	}

	return err
}

// waitForInterrupt blocks until the user presses Ctrl-C.
var waitForInterrupt = func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	<-ch
}

// stayUntilInterrupted keeps the monitor up after the scenario and then ends
// the program with the outcome of the scenario. Exit handlers close any open
// recording.
func stayUntilInterrupted(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Scenario failed: %v\n", err)
	}

	fmt.Fprintln(os.Stderr, "Scenario done. Press Ctrl-C to quit.")
	waitForInterrupt()

	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

func attach(table *proc.Table, hook sim.Hook) {
	table.AcceptHook(hook)
	table.Resolver().AcceptHook(hook)
}

func startMonitor(c config, table *proc.Table) *monitoring.Monitor {
	monitor := monitoring.NewMonitor().WithAssetDir(c.MonitorPage)
	if c.Port != 0 {
		monitor = monitor.WithPortNumber(c.Port)
	}

	monitor.RegisterProcessTable(table)
	url := monitor.StartServer()

	if c.OpenBrowser {
		if err := browser.OpenURL(url); err != nil {
			fmt.Fprintf(os.Stderr, "Cannot open browser: %v\n", err)
		}
	}

	return monitor
}
