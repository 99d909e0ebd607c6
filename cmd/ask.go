package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/site-rag/internal/rag"
)

func newAskCmd() *cobra.Command {
	var maxResults int
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question from the indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return errors.New("question is required")
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ans, err := appInstance.Ask(cmd.Context(), question, maxResults)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(ans)
		},
	}
	cmd.Flags().IntVar(&maxResults, "max-results", rag.DefaultMaxResults, "number of chunks to retrieve")
	return cmd
}
