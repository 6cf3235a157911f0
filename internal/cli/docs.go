package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDocsCmd(load ConfigLoader, open Opener) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "List processed and indexed documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, rt, err := setup(cmd, load, open, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			docs, err := rt.Ingest.ListDocuments(cmd.Context())
			if err != nil {
				return fmt.Errorf("list documents: %w", err)
			}
			if asJSON {
				return printJSON(cmd, docs)
			}
			if len(docs) == 0 {
				cmd.Println("No documents.")
				return nil
			}
			cmd.Printf("%-32s %7s %-9s %-7s\n", "ID", "CHUNKS", "PROCESSED", "INDEXED")
			for _, d := range docs {
				cmd.Printf("%-32s %7d %-9t %-7t\n", d.ID, d.Chunks, d.Processed, d.Indexed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}
