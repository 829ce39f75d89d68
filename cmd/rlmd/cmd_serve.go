package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rlmd/internal/engine"
	"rlmd/internal/jobs"
	"rlmd/internal/model"
	"rlmd/internal/web"
)

var serveAddr string

// serveCmd runs the HTTP job surface
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP audit job surface",
	Long: `Serves the background audit API:

  POST /audit/start           start an audit scenario, returns a job id
  GET  /audit/status/{jobID}  poll job progress and results
  GET  /healthz               liveness probe
  GET  /metrics               Prometheus metrics`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	client := model.NewFromConfig(cmd.Context(), cfg)
	eng := engine.New(client, cfg)
	store := jobs.NewStore()
	srv := web.NewServer(eng, store, cfg)

	logger.Info("serving audit API",
		zap.String("addr", cfg.Server.Addr),
		zap.String("provider", cfg.LLM.Provider))
	return srv.ListenAndServe()
}
