package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/54b3r/ragd-go/internal/logging"
	"github.com/54b3r/ragd-go/internal/server"
	"github.com/54b3r/ragd-go/internal/tasks"
	"github.com/54b3r/ragd-go/internal/tracing"
)

// NewServeCmd constructs the `ragd serve` command, which starts the HTTP
// server exposing the RAG API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ragd HTTP server",
		Long: `Start the ragd HTTP server on localhost.

The server exposes a REST API for uploads, processing, indexing, search, and
answer generation. Processing and indexing run as background tasks that
clients poll by task id.

Examples:
  ragd serve
  ragd serve --port 9090
  VECTORDB_PROVIDER=pgvector ragd serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting",
				slog.String("generation_provider", os.Getenv("GENERATION_PROVIDER")),
				slog.String("vectordb_provider", os.Getenv("VECTORDB_PROVIDER")),
			)

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			env, cleanup, err := buildEnv(ctx, log, true)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer cleanup()

			runner := tasks.NewRunner(&tasks.Config{Logger: log})

			// YAML config and env fill in the bind address unless flags
			// were given explicitly.
			if !cmd.Flags().Changed("host") {
				if v := os.Getenv("RAGD_HOST"); v != "" {
					host = v
				}
			}
			if !cmd.Flags().Changed("port") {
				if v, err := strconv.Atoi(os.Getenv("RAGD_PORT")); err == nil && v > 0 {
					port = v
				}
			}

			vdbName := os.Getenv("VECTORDB_PROVIDER")
			if vdbName == "" {
				vdbName = "vectordb"
			}

			srv, err := server.New(&server.Deps{
				Store:         env.Store,
				Processor:     env.Processor,
				Pipeline:      env.Pipeline,
				Runner:        runner,
				EmbeddingSize: env.Embedder.EmbeddingSize(),
			}, &server.Config{
				Host:   host,
				Port:   port,
				Logger: log,
				APIKey: os.Getenv("RAGD_API_KEY"),
				Pingers: []server.Pinger{
					server.NewDependencyPinger(env.Store, "sqlite"),
					server.NewDependencyPinger(env.VectorDB, vdbName),
				},
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			err = srv.Start(ctx)

			// Let in-flight background tasks finish before closing stores.
			runner.Wait()
			return err
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
