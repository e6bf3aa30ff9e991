package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragd-go/internal/logging"
)

// NewAskCmd constructs the `ragd ask` command, which answers a question from
// a project's indexed documents.
func NewAskCmd() *cobra.Command {
	var limit int
	var showPrompt bool

	cmd := &cobra.Command{
		Use:   "ask [project_id] [question]",
		Short: "Answer a question from a project's indexed documents",
		Long: `Retrieve the chunks most relevant to the question and generate an
answer grounded in them.

Examples:
  ragd ask 1 "what is our refund policy?"
  ragd ask 1 --limit 10 "summarise the onboarding process"`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			env, cleanup, err := buildEnv(ctx, log, true)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer cleanup()

			project, err := projectFromArg(ctx, env.Store, args[0])
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			question := strings.Join(args[1:], " ")
			result, err := env.Pipeline.Answer(ctx, project, question, limit)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			if result.Answer == "" {
				fmt.Println("no relevant documents found")
				return nil
			}
			if showPrompt {
				fmt.Println(result.FullPrompt)
				fmt.Println("---")
			}
			fmt.Println(result.Answer)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of retrieved documents (default: 5)")
	cmd.Flags().BoolVar(&showPrompt, "show-prompt", false, "Print the assembled prompt before the answer")

	return cmd
}
