package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"infra-rag-platform/services"
)

var (
	routeTopK      int
	routeThreshold float64
)

var routeCmd = &cobra.Command{
	Use:   "route <summary>",
	Short: "Show which roles a document summary would be routed to",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRoute,
}

func init() {
	routeCmd.Flags().IntVarP(&routeTopK, "top-k", "k", 0, "number of roles to consider (default from config)")
	routeCmd.Flags().Float64Var(&routeThreshold, "threshold", 0, "minimum similarity (default from config)")
	rootCmd.AddCommand(routeCmd)
}

func runRoute(cmd *cobra.Command, args []string) error {
	req := services.RouteRequest{
		Summary:  strings.Join(args, " "),
		TopK:     routeTopK,
		TenantID: tenantID,
	}
	if cmd.Flags().Changed("threshold") {
		req.Threshold = &routeThreshold
	}

	result, err := roleRouter.Route(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("route failed: %w", err)
	}

	if result.BestMatch == nil {
		cmd.Println("No role matched and no fallback role is configured.")
		return nil
	}
	if result.FallbackUsed {
		cmd.Println("No role cleared the threshold; using the fallback role.")
	}
	for i, m := range result.Matches {
		cmd.Printf("  %d. %s [%s] %.3f %s\n", i+1, m.RoleName, m.Department, m.Similarity, m.Confidence)
	}
	return nil
}
