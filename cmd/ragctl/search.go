package main

import (
	"strings"

	"github.com/spf13/cobra"

	"infra-rag-platform/models"
	"infra-rag-platform/services"
)

var (
	searchKind string
	searchTopK int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "List the passages retrieved for a query without generating an answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		ctx := cmd.Context()

		var (
			results []models.RetrievalResult
			err     error
		)
		switch kind := models.ContentKind(strings.ToLower(searchKind)); kind {
		case "":
			results, err = searcher.Search(ctx, query, services.SearchOptions{TopK: searchTopK, TenantID: tenantID})
		case models.KindTable:
			results, err = searcher.SearchTables(ctx, query, searchTopK, tenantID)
		case models.KindImage:
			results, err = searcher.SearchImages(ctx, query, searchTopK, tenantID)
		case models.KindText:
			results, err = searcher.SearchText(ctx, query, searchTopK, tenantID)
		default:
			results, err = searcher.Search(ctx, query, services.SearchOptions{TopK: searchTopK, Kinds: []models.ContentKind{kind}, TenantID: tenantID})
		}
		if err != nil {
			return err
		}

		if len(results) == 0 {
			cmd.Println("No matching passages.")
			return nil
		}
		for i, r := range results {
			meta := r.Parent.Metadata
			cmd.Printf("[%d] %.3f %s %s (%s)\n", i+1, r.Similarity, r.Parent.Kind, meta.Source, meta.SectionPath)
			cmd.Printf("    %s\n", firstLine(r.FragmentText))
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchKind, "kind", "", "restrict to one content kind: text, table or image")
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 5, "number of passages to list")
	rootCmd.AddCommand(searchCmd)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
