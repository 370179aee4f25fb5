package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"infra-rag-platform/services"
)

var ingestAutoRoute bool

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Convert and index documents",
	Long: `Converts each file to markdown, splits it into text, table and image units,
and indexes the units for retrieval. Failures of one file do not stop the others.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestAutoRoute, "auto-route", false, "route each document to roles after indexing")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var errs []error

	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, err)
			cmd.PrintErrf("%s: %v\n", path, err)
			continue
		}
		doc, err := converter.Convert(ctx, path, data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			cmd.PrintErrf("%s: %v\n", path, err)
			continue
		}

		ingestedAt := time.Now().UTC()
		stats, err := ingester.Ingest(ctx, services.IngestRequest{
			Document:        doc,
			TenantID:        tenantID,
			AutoRoute:       ingestAutoRoute,
			SourceCreatedAt: &ingestedAt,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			cmd.PrintErrf("%s: %v\n", path, err)
			continue
		}

		cmd.Printf("%s -> %s\n", path, stats.DocumentID)
		cmd.Printf("  pages: %d  units: %d (text %d, tables %d, images %d)  fragments: %d\n",
			stats.TotalPages, stats.ParentUnitCount, stats.TextSectionCount, stats.TableCount, stats.ImageCount, stats.ChildFragmentCount)
		if stats.FailedUnits > 0 {
			cmd.Printf("  failed units: %d\n", stats.FailedUnits)
		}
		for _, a := range stats.Assignments {
			cmd.Printf("  assigned to %s (%s, %.3f, %s)\n", a.RoleName, a.Metadata.Assignment, a.Similarity, a.Confidence)
		}
	}
	return errors.Join(errs...)
}
