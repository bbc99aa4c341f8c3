package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/nexi-lab/nexus/pkg/metrics"
	"github.com/nexi-lab/nexus/pkg/nexus"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the metrics/health HTTP endpoint for a Nexus instance",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", ":9090", "Listen address for /metrics, /health, /ready")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")

	n, err := nexus.New(nexus.Config{DataDir: dataDir})
	if err != nil {
		return err
	}
	defer n.Close()

	metrics.RegisterComponent("store", true, "")
	metrics.RegisterComponent("revision_broker", true, "")

	collector := metrics.NewCollector(n)
	collector.Start()
	defer collector.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())

	fmt.Printf("nexus serving metrics/health on %s\n", addr)
	return http.ListenAndServe(addr, mux)
}
