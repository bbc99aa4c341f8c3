package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexi-lab/nexus/internal/rebac/tuple"
	"github.com/nexi-lab/nexus/pkg/nexus"
)

var resetZoneCmd = &cobra.Command{
	Use:   "reset-zone",
	Short: "Drop all tuples and caches for a zone (reset_zone)",
	RunE:  runResetZone,
}

func init() {
	resetZoneCmd.Flags().String("zone", "", "Zone to reset (required)")
	_ = resetZoneCmd.MarkFlagRequired("zone")
	rootCmd.AddCommand(resetZoneCmd)
}

func runResetZone(cmd *cobra.Command, args []string) error {
	zone, _ := cmd.Flags().GetString("zone")

	n, err := nexus.New(nexus.Config{DataDir: dataDir})
	if err != nil {
		return err
	}
	defer n.Close()

	if err := n.ResetZone(tuple.Zone(zone)); err != nil {
		return err
	}
	fmt.Printf("zone %q reset\n", zone)
	return nil
}
