package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rlmd/internal/engine"
	"rlmd/internal/model"
)

var auditGlob string

// auditCmd scans a repository for a pattern
var auditCmd = &cobra.Command{
	Use:   "audit [pattern]",
	Short: "Scan the repository for a regex pattern",
	Long: `Runs the code search tool directly, without any model involvement.
The pattern is matched case-insensitively, line by line.

Example:
  rlmd audit --repo-root ./src --glob '*.go' 'password\s*='`,
	Args: cobra.ExactArgs(1),
	RunE: runAudit,
}

func init() {
	auditCmd.Flags().StringVar(&auditGlob, "glob", "", "file name glob, e.g. '*.go'")
}

func runAudit(cmd *cobra.Command, args []string) error {
	client := model.NewFromConfig(cmd.Context(), cfg)
	eng := engine.New(client, cfg)

	matches, err := eng.RunCodeAudit(cmd.Context(), args[0], "", auditGlob,
		func(msg string, percent int) {
			fmt.Fprintln(os.Stderr, "  ...", msg)
		})
	if err != nil {
		return fmt.Errorf("audit failed: %w", err)
	}

	if len(matches) == 0 {
		fmt.Println("no matches found")
		return nil
	}
	for _, m := range matches {
		fmt.Printf("%s:%d: %s\n", m.File, m.Line, m.Snippet)
	}
	fmt.Printf("\n%d matches\n", len(matches))
	return nil
}
