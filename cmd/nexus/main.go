// Command nexus is the operator CLI over the Admin/Bulk Interface
// (spec.md §6): it is not the end-user filesystem CLI the spec excludes,
// but the minimal driver a deployment needs to load zone schemas, create
// tuples, and run checks against a running authorization core, following
// the teacher's cmd/warren root command structure.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	nexuslog "github.com/nexi-lab/nexus/pkg/log"
)

var (
	dataDir  string
	logLevel string
	logJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "nexus",
	Short: "Operator CLI for the Nexus ReBAC authorization core",
}

func init() {
	cobra.OnInitialize(initLogging)

	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "Directory for the tuple store and caches")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit logs as JSON")
}

func initLogging() {
	nexuslog.Init(nexuslog.Config{
		Level:      nexuslog.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
