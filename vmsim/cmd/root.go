// Package cmd provides the command-line interface of vmsim.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vmsim",
	Short: "vmsim runs scripted workloads on a simulated virtual memory system.",
	Long: `vmsim runs scripted workloads on a simulated virtual memory ` +
		`system. A machine has a software-managed TLB, a pool of physical ` +
		`frames and a hashed page table per process. Machine parameters ` +
		`come from flags, from VMSIM_* environment variables, or from a ` +
		`.env file.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command, runs the one named on
// the command line, and exits. Exiting goes through atexit so that open
// recordings are flushed.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
