// Command vmsim runs scripted workloads on a simulated single-processor
// machine with a software-managed TLB and hashed page tables.
package main

import "github.com/sarchlab/mipsvm/vmsim/cmd"

func main() {
	cmd.Execute()
}
