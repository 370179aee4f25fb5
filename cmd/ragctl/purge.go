package main

import (
	"errors"

	"github.com/spf13/cobra"
)

var purgeConfirmed bool

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every indexed document, unit and fragment",
	Long:  "Deletes the document index. Roles, assignments and stored objects are kept.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !purgeConfirmed {
			return errors.New("refusing to purge without --yes")
		}
		ctx := cmd.Context()
		if err := purger.Purge(ctx); err != nil {
			return err
		}
		if queryCache != nil {
			if err := queryCache.Invalidate(ctx); err != nil {
				cmd.PrintErrf("warning: query cache not invalidated: %v\n", err)
			}
		}
		cmd.Println("index purged")
		return nil
	},
}

func init() {
	purgeCmd.Flags().BoolVar(&purgeConfirmed, "yes", false, "confirm the purge")
	rootCmd.AddCommand(purgeCmd)
}
