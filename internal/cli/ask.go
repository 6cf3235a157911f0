package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"regchat/internal/pipeline"
	"regchat/internal/synth"
)

func newAskCmd(load ConfigLoader, open Opener) *cobra.Command {
	var (
		k      int
		source string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question from the indexed regulations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return errors.New("question must not be empty")
			}
			if k < 0 {
				return fmt.Errorf("k must be >= 0, got %d", k)
			}
			_, rt, err := setup(cmd, load, open, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.Pipeline.Answer(cmd.Context(), question, k, source)
			if err != nil && !(errors.Is(err, synth.ErrGeneration) && res != nil) {
				return fmt.Errorf("ask failed: %w", err)
			}
			if asJSON {
				if outErr := printJSON(cmd, res); outErr != nil {
					return outErr
				}
			} else {
				printAnswer(cmd, res)
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "number of chunks to retrieve (default RETRIEVER_K)")
	cmd.Flags().StringVarP(&source, "source", "s", "", "restrict retrieval to one document id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output the answer as JSON")
	return cmd
}

func printAnswer(cmd *cobra.Command, res *pipeline.Result) {
	if res.Response != "" {
		cmd.Println(res.Response)
		cmd.Println()
	}
	if len(res.Sources) == 0 {
		cmd.Println("No sources.")
		return
	}
	cmd.Println("Sources:")
	for i, s := range res.Sources {
		src, _ := s.Metadata["source"].(string)
		cmd.Printf("  [%d] %s (%.2f)\n", i+1, src, s.Score)
		cmd.Printf("      %s\n", snippet(s.Text, 160))
	}
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
