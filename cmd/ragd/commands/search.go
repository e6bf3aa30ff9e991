package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragd-go/internal/logging"
)

// NewSearchCmd constructs the `ragd search` command, which runs a similarity
// search against a project's vector collection.
func NewSearchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search [project_id] [query]",
		Short: "Search a project's indexed chunks",
		Long: `Embed the query and return the most similar indexed chunks, best
match first. Finding nothing is a valid outcome, not an error.

Examples:
  ragd search 1 "how do refunds work?"
  ragd search 1 --limit 10 "onboarding checklist"`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			env, cleanup, err := buildEnv(ctx, log, false)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer cleanup()

			project, err := projectFromArg(ctx, env.Store, args[0])
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			query := strings.Join(args[1:], " ")
			docs, err := env.Pipeline.Search(ctx, project, query, limit)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			if len(docs) == 0 {
				fmt.Println("no results")
				return nil
			}
			for i, doc := range docs {
				fmt.Printf("%d. [%.4f] %s\n", i+1, doc.Score, doc.Text)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of results (default: 5)")

	return cmd
}
