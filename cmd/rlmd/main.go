package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"rlmd/internal/config"
	"rlmd/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string
	provider   string
	repoRoot   string

	// Logger
	logger *zap.Logger

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "rlmd",
	Short: "rlmd - Recursive Language Model engine",
	Long: `rlmd runs an iterative model-driven reasoning loop over a stateful
code-execution sandbox, with depth-bounded recursive sub-queries and a
decompose/fan-out/synthesize orchestrator for multi-part queries.

Subcommands:
  serve   run the HTTP job surface
  query   answer a single query from the command line
  audit   scan a repository for a pattern without a model`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if configPath == "" {
			configPath = config.DefaultPath()
		}
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if provider != "" {
			cfg.LLM.Provider = provider
		}
		if repoRoot != "" {
			cfg.Search.RepoRoot = repoRoot
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		cwd, err := os.Getwd()
		if err != nil {
			cwd = "."
		}
		if err := logging.Initialize(cwd); err != nil {
			logger.Warn("file logging unavailable", zap.Error(err))
		}
		logging.Boot("rlmd starting: provider=%s", cfg.LLM.Provider)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default .rlm/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&provider, "provider", "", "model provider override (azure, gemini, noop)")
	rootCmd.PersistentFlags().StringVar(&repoRoot, "repo-root", "", "repository root for code search")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(auditCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
