// Package commands defines all Cobra CLI commands for the ragd binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/ragd-go/internal/audit"
	"github.com/54b3r/ragd-go/internal/config"
	"github.com/54b3r/ragd-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragd",
		Short: "ragd — a retrieval-augmented generation backend",
		Long: `ragd indexes project documents into a vector database and answers
questions about them with an LLM.

Upload text files into a project, process them into chunks, push the chunks
into the vector index, then search it or generate grounded answers. Projects
are isolated: each has its own assets, chunks, and vector collection.

Providers are selected via environment variables (GENERATION_PROVIDER,
EMBEDDING_PROVIDER, VECTORDB_PROVIDER) or a YAML config file
(~/.ragd/config.yaml). See 'ragd --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.ragd/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewUploadCmd(),
		NewProcessCmd(),
		NewIndexCmd(),
		NewSearchCmd(),
		NewAskCmd(),
		NewInfoCmd(),
		NewVersionCmd(),
	)

	return root
}
