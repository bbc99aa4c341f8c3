package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexi-lab/nexus/internal/rebac/config"
	"github.com/nexi-lab/nexus/internal/rebac/tuple"
	"github.com/nexi-lab/nexus/pkg/nexus"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a zone's userset rewrite rule manifest",
	Long: `Apply a ZoneRewriteRules manifest from a YAML file.

Example:
  nexus apply -f zone-acme.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML manifest to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	manifest, err := config.LoadZoneManifest(filename)
	if err != nil {
		return err
	}

	n, err := nexus.New(nexus.Config{DataDir: dataDir})
	if err != nil {
		return fmt.Errorf("open nexus: %w", err)
	}
	defer n.Close()

	if err := n.ConfigureZone(tuple.Zone(manifest.Zone), manifest.Schema()); err != nil {
		return fmt.Errorf("persist zone schema: %w", err)
	}
	fmt.Printf("applied %d rewrite rule(s) to zone %q\n", len(manifest.Rules), manifest.Zone)
	return nil
}
