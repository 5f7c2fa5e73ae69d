// Command storage-core is a thin operational front door onto the
// storage core: bringing a data directory up, running a small pin/insert
// benchmark against it, inspecting buffer pool and lock metrics, and
// demonstrating the lock manager's deadlock detector end to end.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wdcore/engine/logger"
	"github.com/wdcore/engine/server/core/coreerr"
)

func main() {
	root := &cobra.Command{
		Use:   "storage-core",
		Short: "Operational CLI for the storage core runtime",
	}

	var configPath string
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to an ini config file (defaults apply if omitted)")

	root.AddCommand(
		newInitCmd(&configPath),
		newBenchCmd(&configPath),
		newInspectCmd(&configPath),
		newDemoDeadlockCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		if ce, ok := err.(*coreerr.CoreError); ok {
			logger.Errorf("storage-core: %s (%s)", ce.Error(), ce.Kind)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
