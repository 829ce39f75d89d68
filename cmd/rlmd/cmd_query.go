package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rlmd/internal/engine"
	"rlmd/internal/model"
)

var (
	queryDocs      []string
	queryDecompose bool
	queryQuiet     bool
)

// queryCmd answers a single query from the command line
var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Answer a single query with the reasoning loop",
	Long: `Runs one query through the engine and prints the answer.

Documents are supplied as file paths with --doc (repeatable). With
--decompose the query is split into concurrent sub-tasks and the results
synthesized; otherwise a single reasoning session handles it.

Example:
  rlmd query --doc invoice1.txt --doc invoice2.txt "Do these invoices match?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringArrayVar(&queryDocs, "doc", nil, "context document file (repeatable)")
	queryCmd.Flags().BoolVar(&queryDecompose, "decompose", false, "split the query into concurrent sub-tasks")
	queryCmd.Flags().BoolVarP(&queryQuiet, "quiet", "q", false, "suppress progress output")
}

func runQuery(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")

	documents := make([]string, 0, len(queryDocs))
	for _, path := range queryDocs {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read document %s: %w", path, err)
		}
		documents = append(documents, string(data))
	}

	client := model.NewFromConfig(cmd.Context(), cfg)
	eng := engine.New(client, cfg)

	var onProgress engine.ProgressFunc
	if !queryQuiet {
		onProgress = func(msg string) {
			fmt.Fprintln(os.Stderr, "  ...", msg)
		}
	}

	resp := eng.ProcessQuery(cmd.Context(), question, documents,
		engine.Options{Decompose: queryDecompose}, onProgress)

	logger.Info("query finished",
		zap.String("status", resp.Status),
		zap.Int("iterations", resp.IterationsUsed))

	if resp.Status != engine.StatusCompleted {
		return fmt.Errorf("query failed: %s", resp.Result)
	}

	fmt.Println(resp.Result)
	if len(resp.SubAgentResults) > 0 && !queryQuiet {
		fmt.Fprintf(os.Stderr, "\n%d sub-tasks:\n", len(resp.SubAgentResults))
		for _, t := range resp.SubAgentResults {
			fmt.Fprintf(os.Stderr, "  [%d] %s: %s\n", t.TaskID+1, t.Status, t.Description)
		}
	}
	return nil
}
