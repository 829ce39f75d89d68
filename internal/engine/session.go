package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rlmd/internal/contextwin"
	"rlmd/internal/logging"
	"rlmd/internal/metrics"
	"rlmd/internal/model"
	"rlmd/internal/orchestrator"
	"rlmd/internal/sandbox"
	"rlmd/internal/search"
)

// Response statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// RecursionRefusal is returned to interpreted code that calls Query once the
// depth limit is reached. The text goes back to the model verbatim.
const RecursionRefusal = "Recursion depth exceeded. Please solve this without further recursion."

// subQueryFailPrefix marks a child session failure in the text returned to
// interpreted code.
const subQueryFailPrefix = "Sub-query failed: "

// outputPreviewLen bounds the execution output excerpt in progress messages.
const outputPreviewLen = 50

// ProgressFunc receives human-readable progress messages from a running
// session. Callbacks are best-effort: a panicking callback is swallowed and
// never aborts the loop.
type ProgressFunc func(message string)

// SessionConfig carries the knobs of one reasoning session. Children inherit
// it unchanged; only the depth differs.
type SessionConfig struct {
	MaxIterations       int
	RecursionDepthLimit int
	OutputCap           int
	ExecTimeout         time.Duration

	SearchRoot         string
	SearchMaxResults   int
	SearchMaxFileBytes int
	SearchIgnore       []string
}

// Response is the outcome of one session (or one orchestrated run).
type Response struct {
	Status          string                 `json:"status"`
	Result          string                 `json:"result"`
	ReasoningSteps  []string               `json:"reasoning_steps"`
	SubAgentResults []orchestrator.SubTask `json:"sub_agent_results,omitempty"`
	IterationsUsed  int                    `json:"iterations_used"`
}

// Session runs the iterative reasoning loop at one recursion depth. Each
// session owns a fresh sandbox; sibling and child sessions never share
// interpreter state.
type Session struct {
	client model.Client
	cfg    SessionConfig
	depth  int
	notify ProgressFunc
	steps  []string
}

// NewSession creates a session at the given recursion depth.
func NewSession(client model.Client, cfg SessionConfig, depth int, notify ProgressFunc) *Session {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 30
	}
	if cfg.OutputCap <= 0 {
		cfg.OutputCap = 2000
	}
	return &Session{client: client, cfg: cfg, depth: depth, notify: notify}
}

const systemPromptFormat = `You are a recursive reasoning engine operating at depth %d.
You answer the user's query step by step using a persistent Go interpreter.

Available inside the interpreter:
  Docs []string                                the context documents
  Query(prompt string, docs []string) string   ask a sub-agent a smaller question
  Search(pattern, glob string) string          case-insensitive regex search over the repository

Respond in exactly ONE of two ways:
1. A single fenced Go code block of statements to execute. Print anything you
   want to observe with fmt.Println. Interpreter state persists across
   iterations, so variables you define stay available.
2. The marker FINAL_ANSWER: followed by your complete answer, once you are done.

Keep code fragments small and inspect Docs before recursing with Query.`

// Run drives the loop to completion and never returns an error: every
// failure mode is folded into a failed Response so callers get a uniform
// outcome to report.
func (s *Session) Run(ctx context.Context, query string, documents []string) *Response {
	logging.Engine("session start: depth=%d docs=%d", s.depth, len(documents))
	s.progress(fmt.Sprintf("Starting reasoning session (depth %d)", s.depth))

	usage := contextwin.NewManager(0).EstimateUsage(documents, query)
	logging.Context("estimated context: %d tokens, within limit: %v", usage.TotalTokens, usage.WithinLimit)
	if !usage.WithinLimit {
		s.progress(fmt.Sprintf("Warning: estimated context of %d tokens exceeds the window budget", usage.TotalTokens))
	}

	sb, err := sandbox.New(sandbox.WithExecTimeout(s.cfg.ExecTimeout))
	if err != nil {
		return s.fail(0, fmt.Sprintf("failed to create sandbox: %v", err))
	}
	if err := sb.Seed(documents, s.subQueryFunc(ctx), s.searchFunc(ctx)); err != nil {
		return s.fail(0, fmt.Sprintf("failed to seed sandbox: %v", err))
	}

	systemPrompt := fmt.Sprintf(systemPromptFormat, s.depth)
	turns := []model.Turn{{Role: "user", Content: "Query: " + query}}

	for iter := 1; iter <= s.cfg.MaxIterations; iter++ {
		if ctx.Err() != nil {
			return s.fail(iter, "session cancelled: "+ctx.Err().Error())
		}

		s.progress(fmt.Sprintf("Iteration %d/%d: consulting model", iter, s.cfg.MaxIterations))

		reply, err := s.client.CompleteChat(ctx, systemPrompt, turns)
		if err != nil {
			if errors.Is(err, model.ErrNotConfigured) {
				return s.degraded(query, documents)
			}
			logging.Get(logging.CategoryEngine).Error("model call failed at depth %d: %v", s.depth, err)
			return s.fail(iter, fmt.Sprintf("model call failed: %v", err))
		}
		turns = append(turns, model.Turn{Role: "assistant", Content: reply})
		s.steps = append(s.steps, fmt.Sprintf("iteration %d: %s", iter, preview(reply, 200)))

		action := ParseReply(reply)
		switch action.Kind {
		case KindFinalAnswer:
			s.progress("Final answer produced")
			metrics.SessionIterations.Observe(float64(iter))
			logging.Engine("session done: depth=%d iterations=%d", s.depth, iter)
			return &Response{
				Status:         StatusCompleted,
				Result:         action.Text,
				ReasoningSteps: s.steps,
				IterationsUsed: iter,
			}

		case KindCode:
			s.progress(fmt.Sprintf("Iteration %d: executing code", iter))
			metrics.SandboxExecutions.Inc()
			out := capOutput(sb.Execute(ctx, action.Text), s.cfg.OutputCap)
			s.progress("Output: " + preview(out, outputPreviewLen))
			turns = append(turns, model.Turn{Role: "user", Content: "EXECUTION OUTPUT:\n" + out})

		default:
			logging.EngineDebug("unrecognized reply at depth %d iteration %d", s.depth, iter)
			turns = append(turns, model.Turn{
				Role:    "user",
				Content: "Respond with a fenced Go code block to execute, or with FINAL_ANSWER: followed by your answer.",
			})
		}
	}

	metrics.SessionIterations.Observe(float64(s.cfg.MaxIterations))
	return s.fail(s.cfg.MaxIterations, "max iterations exceeded without final answer")
}

// subQueryFunc builds the recursive callable seeded into the sandbox. Depth
// is checked here, before any child is created, so the refusal costs nothing.
func (s *Session) subQueryFunc(ctx context.Context) sandbox.SubQueryFunc {
	return func(prompt string, docs []string) string {
		if s.depth >= s.cfg.RecursionDepthLimit {
			logging.Engine("sub-query refused at depth %d", s.depth)
			return RecursionRefusal
		}
		s.progress("Spawning sub-query at depth " + fmt.Sprint(s.depth+1))
		child := NewSession(s.client, s.cfg, s.depth+1, s.notify)
		resp := child.Run(ctx, prompt, docs)
		if resp.Status != StatusCompleted {
			return subQueryFailPrefix + resp.Result
		}
		return resp.Result
	}
}

// searchFunc builds the code search callable seeded into the sandbox.
func (s *Session) searchFunc(ctx context.Context) sandbox.SearchFunc {
	return func(pattern, glob string) string {
		matches, err := search.Search(ctx, search.Query{
			Pattern:      pattern,
			Root:         s.cfg.SearchRoot,
			Glob:         glob,
			Ignore:       s.cfg.SearchIgnore,
			MaxResults:   s.cfg.SearchMaxResults,
			MaxFileBytes: s.cfg.SearchMaxFileBytes,
		})
		if err != nil {
			return "search failed: " + err.Error()
		}
		return search.Format(matches)
	}
}

// degraded is the offline path taken when no model backend is configured.
// It completes with a clearly labeled placeholder so callers and demos keep
// working without credentials.
func (s *Session) degraded(query string, documents []string) *Response {
	s.progress("No model backend configured, returning placeholder result")
	logging.Engine("degraded path at depth %d", s.depth)
	return &Response{
		Status: StatusCompleted,
		Result: fmt.Sprintf("[no model backend configured] placeholder analysis of %q over %d documents",
			preview(query, 80), len(documents)),
		ReasoningSteps: append(s.steps, "degraded path: model backend missing"),
		IterationsUsed: 0,
	}
}

func (s *Session) fail(iterations int, reason string) *Response {
	s.progress("Session failed: " + reason)
	return &Response{
		Status:         StatusFailed,
		Result:         reason,
		ReasoningSteps: s.steps,
		IterationsUsed: iterations,
	}
}

// progress invokes the callback, shielding the loop from callback panics.
func (s *Session) progress(message string) {
	if s.notify == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryEngine).Error("progress callback panic: %v", r)
		}
	}()
	s.notify(message)
}

// capOutput truncates execution output to the configured feedback budget.
func capOutput(out string, limit int) string {
	if len(out) <= limit {
		return out
	}
	return out[:limit] + "\n...[output truncated]"
}

// preview returns the first n characters of one line of s.
func preview(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
