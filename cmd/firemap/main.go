package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "firemap",
		Short: "Fire Map Server - wildfire data aggregation service",
		Long: "Aggregates wildfire-related data feeds (fire events, forecasts, satellite\n" +
			"detections, CCTV, wind fields) into cacheable map overlays and serves them\n" +
			"over HTTP alongside user reports and shelter rosters.",
	}

	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
