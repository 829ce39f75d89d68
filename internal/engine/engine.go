// Package engine implements the recursive reasoning loop and the facade that
// routes queries either to a single session or through the task orchestrator.
package engine

import (
	"context"
	"fmt"

	"rlmd/internal/config"
	"rlmd/internal/logging"
	"rlmd/internal/model"
	"rlmd/internal/orchestrator"
	"rlmd/internal/search"
)

// Options selects the processing strategy for one query.
type Options struct {
	// Decompose routes the query through the orchestrator instead of a
	// single reasoning session.
	Decompose bool
}

// Engine is the top-level entry point. One Engine serves any number of
// concurrent queries; per-query state lives in sessions and orchestrator
// runs, never on the Engine itself.
type Engine struct {
	client model.Client
	cfg    *config.Config
}

// New creates an engine over the given model backend and configuration.
func New(client model.Client, cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Engine{client: client, cfg: cfg}
}

// ProcessQuery answers a query against the given documents. With
// opts.Decompose set, the query is split into concurrent sub-tasks and the
// results synthesized; otherwise a single root session reasons over it.
// onProgress may be nil.
func (e *Engine) ProcessQuery(ctx context.Context, query string, documents []string, opts Options, onProgress ProgressFunc) *Response {
	if opts.Decompose {
		return e.processDecomposed(ctx, query, documents, onProgress)
	}
	session := NewSession(e.client, e.sessionConfig(), 0, onProgress)
	return session.Run(ctx, query, documents)
}

func (e *Engine) processDecomposed(ctx context.Context, query string, documents []string, onProgress ProgressFunc) *Response {
	logging.Engine("orchestrated query: %s", preview(query, 80))

	orc := orchestrator.New(e.client, orchestrator.Config{
		DocContextCount:    3,
		DocContextChars:    2000,
		SearchRoot:         e.cfg.Search.RepoRoot,
		SearchMaxResults:   e.cfg.Search.MaxResults,
		SearchMaxFileBytes: e.cfg.Search.MaxFileBytes,
		SearchIgnore:       e.cfg.Search.Ignore,
	})

	var notify func(string)
	if onProgress != nil {
		notify = func(msg string) { onProgress(msg) }
	}
	res := orc.Run(ctx, query, documents, notify)

	steps := make([]string, 0, len(res.SubTasks)+1)
	for _, t := range res.SubTasks {
		steps = append(steps, "sub-task "+t.Description+": "+t.Status)
	}
	return &Response{
		Status:          StatusCompleted,
		Result:          res.Answer,
		ReasoningSteps:  steps,
		SubAgentResults: res.SubTasks,
		IterationsUsed:  1,
	}
}

// AuditProgressFunc receives progress from a code audit: a human-readable
// message plus a coarse completion percentage. Best-effort, like session
// progress callbacks.
type AuditProgressFunc func(message string, percent int)

// RunCodeAudit scans a repository for a pattern without any model
// involvement. An empty repoRoot falls back to the configured one. Progress
// is narrated at scan start and completion; onProgress may be nil. It backs
// the code_audit scenario and the audit CLI.
func (e *Engine) RunCodeAudit(ctx context.Context, pattern, repoRoot, glob string, onProgress AuditProgressFunc) ([]search.Match, error) {
	notify := func(message string, percent int) {
		if onProgress == nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				logging.Get(logging.CategoryEngine).Error("audit progress callback panic: %v", r)
			}
		}()
		onProgress(message, percent)
	}

	if repoRoot == "" {
		repoRoot = e.cfg.Search.RepoRoot
	}

	notify("Starting code audit: "+pattern, 30)
	matches, err := search.Search(ctx, search.Query{
		Pattern:      pattern,
		Root:         repoRoot,
		Glob:         glob,
		Ignore:       e.cfg.Search.Ignore,
		MaxResults:   e.cfg.Search.MaxResults,
		MaxFileBytes: e.cfg.Search.MaxFileBytes,
	})
	if err != nil {
		return nil, err
	}

	notify(fmt.Sprintf("Code audit found %d matches", len(matches)), 90)
	return matches, nil
}

// sessionConfig derives the per-session knobs from the engine configuration.
func (e *Engine) sessionConfig() SessionConfig {
	return SessionConfig{
		MaxIterations:       e.cfg.Engine.MaxIterations,
		RecursionDepthLimit: e.cfg.Engine.RecursionDepthLimit,
		OutputCap:           e.cfg.Engine.OutputCap,
		ExecTimeout:         e.cfg.ExecTimeout(),
		SearchRoot:          e.cfg.Search.RepoRoot,
		SearchMaxResults:    e.cfg.Search.MaxResults,
		SearchMaxFileBytes:  e.cfg.Search.MaxFileBytes,
		SearchIgnore:        e.cfg.Search.Ignore,
	}
}
