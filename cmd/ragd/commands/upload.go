package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragd-go/internal/logging"
)

// NewUploadCmd constructs the `ragd upload` command, which stores a local
// file as a project asset.
func NewUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload [project_id] [file]",
		Short: "Store a local file as a project asset",
		Long: `Copy a local text file into a project's asset store.

The stored asset name is returned; pass it to 'ragd process --file' to chunk
a single asset, or run 'ragd process' without it to process everything.

Examples:
  ragd upload 1 ./docs/handbook.txt
  ragd upload 1 README.md`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			env, cleanup, err := buildEnv(ctx, log, false)
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}
			defer cleanup()

			project, err := projectFromArg(ctx, env.Store, args[0])
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}

			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}
			defer f.Close()

			asset, err := env.Processor.SaveUpload(ctx, project, filepath.Base(args[1]), f)
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}

			fmt.Printf("stored %s (%d bytes) in project %d\n", asset.Name, asset.Size, project.ProjectID)
			return nil
		},
	}

	return cmd
}
