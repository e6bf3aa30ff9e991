package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragd-go/internal/logging"
)

// NewIndexCmd constructs the `ragd index` command, which embeds a project's
// chunks and pushes them into the vector collection.
func NewIndexCmd() *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "index [project_id]",
		Short: "Embed a project's chunks into the vector collection",
		Long: `Embed a project's stored chunks and push them into its vector
collection, page by page.

With --reset, the collection and the stored chunks are deleted instead and
nothing is re-indexed; process the project again to rebuild.

Examples:
  ragd index 1
  ragd index 1 --reset`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			env, cleanup, err := buildEnv(ctx, log, false)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			defer cleanup()

			project, err := projectFromArg(ctx, env.Store, args[0])
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}

			result, err := env.Pipeline.Index(ctx, project, reset)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}

			if result.Reset {
				fmt.Printf("reset project %d: deleted collection and %d chunk(s)\n",
					project.ProjectID, result.DeletedChunks)
				return nil
			}
			fmt.Printf("indexed %d chunk(s) for project %d\n", result.Indexed, project.ProjectID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "Delete the collection and stored chunks instead of indexing")

	return cmd
}
