package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"infra-rag-platform/models"
)

var (
	queryTopK     int
	queryNoTables bool
	queryNoImages bool
	queryJSON     bool
)

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Answer a question with cited sources",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return answer(cmd, strings.Join(args, " "))
	},
}

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Ask questions in a loop until exit",
	Args:  cobra.NoArgs,
	RunE:  runInteractive,
}

func init() {
	for _, c := range []*cobra.Command{queryCmd, interactiveCmd} {
		c.Flags().IntVarP(&queryTopK, "top-k", "k", 5, "number of sources to retrieve")
		c.Flags().BoolVar(&queryNoTables, "no-tables", false, "exclude table units")
		c.Flags().BoolVar(&queryNoImages, "no-images", false, "exclude image units")
	}
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "print the response as JSON")
	rootCmd.AddCommand(queryCmd, interactiveCmd)
}

func answer(cmd *cobra.Command, question string) error {
	tables, images := !queryNoTables, !queryNoImages
	resp, err := answerer.Answer(cmd.Context(), models.QueryRequest{
		Question:      question,
		TopK:          queryTopK,
		IncludeTables: &tables,
		IncludeImages: &images,
		TenantID:      tenantID,
	})
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if queryJSON {
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal response: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Println(resp.Answer)
	if len(resp.Sources) == 0 {
		return nil
	}
	cmd.Println()
	cmd.Println("Sources:")
	for _, s := range resp.Sources {
		location := s.SectionPath
		if s.Page > 0 {
			location = fmt.Sprintf("p. %d, %s", s.Page, location)
		}
		cmd.Printf("  [%d] %s (%s) %s %.3f\n", s.Rank, s.DocumentName, location, s.ContentKind, s.Similarity)
	}
	cmd.Printf("(%d fragments, %d ms)\n", resp.RetrievedFragmentCount, resp.ProcessingTimeMS)
	return nil
}

func runInteractive(cmd *cobra.Command, _ []string) error {
	cmd.Println("Ask a question, or type exit to quit.")
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		cmd.Print("> ")
		if !scanner.Scan() {
			cmd.Println()
			return scanner.Err()
		}
		question := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(question) {
		case "":
			continue
		case "exit", "quit", "q":
			return nil
		}
		if err := answer(cmd, question); err != nil {
			cmd.PrintErrln(err)
		}
		cmd.Println()
	}
}
