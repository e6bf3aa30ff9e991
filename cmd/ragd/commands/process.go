package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragd-go/internal/logging"
	"github.com/54b3r/ragd-go/internal/pipeline"
	"github.com/54b3r/ragd-go/internal/process"
)

// NewProcessCmd constructs the `ragd process` command, which splits a
// project's stored assets into chunks.
func NewProcessCmd() *cobra.Command {
	var fileID string
	var chunkSize int
	var overlap int
	var reset bool

	cmd := &cobra.Command{
		Use:   "process [project_id]",
		Short: "Split a project's assets into chunks",
		Long: `Load a project's stored assets, split their text into overlapping
chunks, and persist the chunks for indexing.

With --reset, the project's existing chunks and vector collection are
dropped first and the assets are re-processed from scratch.

Examples:
  ragd process 1
  ragd process 1 --file abc123_handbook.txt
  ragd process 1 --chunk-size 300 --overlap 30 --reset`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			env, cleanup, err := buildEnv(ctx, log, false)
			if err != nil {
				return fmt.Errorf("process: %w", err)
			}
			defer cleanup()

			project, err := projectFromArg(ctx, env.Store, args[0])
			if err != nil {
				return fmt.Errorf("process: %w", err)
			}

			result, err := env.Processor.Process(ctx, project, &process.Options{
				AssetName:    fileID,
				ChunkSize:    chunkSize,
				ChunkOverlap: overlap,
				Reset:        reset,
				Collection:   pipeline.CollectionName(env.Embedder.EmbeddingSize(), project.ProjectID),
			})
			if err != nil {
				return fmt.Errorf("process: %w", err)
			}

			fmt.Printf("processed %d file(s), inserted %d chunk(s)\n",
				result.ProcessedFiles, result.InsertedChunks)
			return nil
		},
	}

	cmd.Flags().StringVar(&fileID, "file", "", "Process a single stored asset by name (default: all)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Maximum characters per chunk (default: 500)")
	cmd.Flags().IntVar(&overlap, "overlap", 0, "Characters shared between consecutive chunks (default: 50)")
	cmd.Flags().BoolVar(&reset, "reset", false, "Drop existing chunks and vector collection before processing")

	return cmd
}
