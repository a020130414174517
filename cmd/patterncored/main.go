// Command patterncored runs the quorum-governed pattern memory daemon: the
// message bus, memory managers, coordinator, episodic store, and the
// extraction and optimization engines.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:           "patterncored",
		Short:         "Quorum-governed episodic memory and pattern library daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to YAML config (defaults apply when unset)")
	root.AddCommand(newServeCmd(), newArchiveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "patterncored:", err)
		os.Exit(1)
	}
}
