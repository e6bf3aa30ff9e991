// Command ragd is the entry point for the ragd RAG backend. It provides a
// CLI interface (via Cobra) for the indexing and retrieval pipelines and an
// HTTP server exposing them as a REST API.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/ragd-go/cmd/ragd/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
