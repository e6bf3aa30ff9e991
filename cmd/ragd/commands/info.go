package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragd-go/internal/logging"
)

// NewInfoCmd constructs the `ragd info` command, which prints a project's
// collection and chunk state.
func NewInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info [project_id]",
		Short: "Show a project's index state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			env, cleanup, err := buildEnv(ctx, log, false)
			if err != nil {
				return fmt.Errorf("info: %w", err)
			}
			defer cleanup()

			project, err := projectFromArg(ctx, env.Store, args[0])
			if err != nil {
				return fmt.Errorf("info: %w", err)
			}

			info, err := env.Pipeline.Info(ctx, project)
			if err != nil {
				return fmt.Errorf("info: %w", err)
			}

			fmt.Printf("project:        %d\n", project.ProjectID)
			fmt.Printf("collection:     %s\n", info.Collection.Name)
			fmt.Printf("indexed vectors: %d\n", info.Collection.RecordCount)
			fmt.Printf("stored chunks:  %d\n", info.StoredChunks)
			return nil
		},
	}

	return cmd
}
