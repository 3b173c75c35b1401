package cmd

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sarchlab/mipsvm/datarecording"
	"github.com/sarchlab/mipsvm/mem/vm"
	"github.com/sarchlab/mipsvm/mem/vm/trace"
)

type reportOptions struct {
	Outcome string
	Faults  int
}

var reportOpts reportOptions

var reportCmd = &cobra.Command{
	Use:   "report <recording.sqlite3>",
	Short: "Summarize a recording.",
	Long: "`report <recording.sqlite3>` reads a recording made with " +
		"`run --record` and prints the life of every process and a count " +
		"of faults by kind and outcome.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reader, err := datarecording.NewReader(args[0])
		if err != nil {
			return err
		}
		defer reader.Close()

		return report(cmd.Context(), reader, cmd.OutOrStdout(), reportOpts)
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVar(&reportOpts.Outcome, "outcome", "",
		"only count faults with this outcome: hit, filled or failed")
	reportCmd.Flags().IntVar(&reportOpts.Faults, "faults", 0,
		"also list the first n faults")
}

func report(
	ctx context.Context,
	reader datarecording.DataReader,
	w io.Writer,
	o reportOptions,
) error {
	if ctx == nil {
		ctx = context.Background()
	}

	tables, err := reader.ListTables(ctx)
	if err != nil {
		return err
	}

	for _, t := range []string{trace.ProcessTable, trace.FaultTable} {
		if !slices.Contains(tables, t) {
			return fmt.Errorf("%w: not a recording, table %s is missing",
				vm.ErrInvalidArgument, t)
		}
	}

	reader.MapTable(trace.ProcessTable, trace.ProcessEntry{})
	reader.MapTable(trace.FaultTable, trace.FaultEntry{})

	if err := reportProcesses(ctx, reader, w); err != nil {
		return err
	}

	return reportFaults(ctx, reader, w, o)
}

func reportProcesses(
	ctx context.Context,
	reader datarecording.DataReader,
	w io.Writer,
) error {
	rows, _, err := reader.Query(ctx, trace.ProcessTable,
		datarecording.QueryParams{OrderBy: "Seq"})
	if err != nil {
		return err
	}

	type life struct {
		parent uint32
		events []string
		reason string
	}

	lives := make(map[uint32]*life)

	var order []uint32

	for _, row := range rows {
		e := row.(*trace.ProcessEntry)

		l, found := lives[e.PID]
		if !found {
			l = &life{parent: e.Parent}
			lives[e.PID] = l
			order = append(order, e.PID)
		}

		l.events = append(l.events, e.What)
		if e.Error != "" {
			l.reason = e.Error
		}
	}

	fmt.Fprintf(w, "processes: %d\n", len(order))

	for _, pid := range order {
		l := lives[pid]
		fmt.Fprintf(w, "  pid %d parent %d: %s", pid, l.parent,
			strings.Join(l.events, ", "))

		if l.reason != "" {
			fmt.Fprintf(w, " (%s)", l.reason)
		}

		fmt.Fprintln(w)
	}

	return nil
}

func reportFaults(
	ctx context.Context,
	reader datarecording.DataReader,
	w io.Writer,
	o reportOptions,
) error {
	params := datarecording.QueryParams{OrderBy: "Seq"}
	if o.Outcome != "" {
		params.Where = "Outcome = ?"
		params.Args = []any{o.Outcome}
	}

	rows, total, err := reader.Query(ctx, trace.FaultTable, params)
	if err != nil {
		return err
	}

	counts := make(map[string]int)
	for _, row := range rows {
		e := row.(*trace.FaultEntry)
		counts[fmt.Sprintf("%-8s %-7s", e.Kind, e.Outcome)]++
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	fmt.Fprintf(w, "faults: %d\n", total)

	for _, k := range keys {
		fmt.Fprintf(w, "  %s %d\n", k, counts[k])
	}

	for i, row := range rows {
		if i >= o.Faults {
			break
		}

		e := row.(*trace.FaultEntry)
		fmt.Fprintf(w, "  #%d %s %s %s %s pfn %d %s\n",
			e.Seq, e.AddressSpace, e.Kind, vm.VAddr(e.VAddr), e.Outcome,
			e.PFN, e.Error)
	}

	return nil
}
