// Package orchestrator implements the decompose / fan-out / synthesize flow:
// one model call splits a query into sub-tasks, the sub-tasks run
// concurrently, and a final model call merges the surviving results.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"rlmd/internal/contextwin"
	"rlmd/internal/logging"
	"rlmd/internal/metrics"
	"rlmd/internal/model"
	"rlmd/internal/search"
)

// SynthesisFailed is the degraded answer returned when the synthesis model
// call fails. Sub-task results are still reported alongside it.
const SynthesisFailed = "Synthesis failed. Please retry."

// Sub-task statuses.
const (
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// SubTask is the per-task record reported back to the caller. TaskID is the
// submission index, so the slice order always matches decomposition order
// regardless of which goroutine finished first.
type SubTask struct {
	TaskID      int    `json:"task_id"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Result      string `json:"result"`
	ToolCall    string `json:"tool_call,omitempty"`
}

// Result is the outcome of one orchestrated run.
type Result struct {
	Answer   string
	SubTasks []SubTask
}

// Config carries the orchestrator knobs.
type Config struct {
	MaxTasks        int // upper bound on decomposition width
	DocContextCount int // documents given to each sub-task
	DocContextChars int // per-document truncation for sub-task context

	SearchRoot         string
	SearchMaxResults   int
	SearchMaxFileBytes int
	SearchIgnore       []string
}

// DefaultConfig returns the standard orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		MaxTasks:        5,
		DocContextCount: 3,
		DocContextChars: 2000,
	}
}

// Orchestrator coordinates one decompose / fan-out / synthesize pass.
type Orchestrator struct {
	client model.Client
	cfg    Config
}

// New creates an orchestrator backed by the given model client.
func New(client model.Client, cfg Config) *Orchestrator {
	if cfg.MaxTasks <= 0 {
		cfg.MaxTasks = 5
	}
	if cfg.DocContextCount <= 0 {
		cfg.DocContextCount = 3
	}
	if cfg.DocContextChars <= 0 {
		cfg.DocContextChars = 2000
	}
	return &Orchestrator{client: client, cfg: cfg}
}

// Run executes the full flow. It never returns an error: decomposition
// failures collapse to a single task, sub-task failures are recorded and
// excluded from synthesis, and a synthesis failure yields a fixed degraded
// answer. notify may be nil.
func (o *Orchestrator) Run(ctx context.Context, query string, documents []string, notify func(string)) *Result {
	if notify == nil {
		notify = func(string) {}
	}

	tasks := o.decompose(ctx, query)
	notify(fmt.Sprintf("Decomposed query into %d sub-tasks", len(tasks)))
	logging.Orchestrator("decomposed into %d tasks", len(tasks))

	docContext := contextwin.Prefix(documents, o.cfg.DocContextCount, o.cfg.DocContextChars)

	results := make([]SubTask, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	for i, desc := range tasks {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i] = SubTask{
						TaskID:      i,
						Description: desc,
						Status:      TaskFailed,
						Result:      fmt.Sprintf("sub-task panicked: %v", r),
					}
					logging.Get(logging.CategoryOrchestrator).Error("sub-task %d panic: %v", i, r)
				}
			}()
			results[i] = o.runTask(gctx, i, desc, docContext)
			notify(fmt.Sprintf("Sub-task %d/%d %s", i+1, len(tasks), results[i].Status))
			return nil
		})
	}
	g.Wait()

	var survivors []SubTask
	for _, r := range results {
		metrics.SubTasks.WithLabelValues(r.Status).Inc()
		if r.Status == TaskCompleted {
			survivors = append(survivors, r)
		}
	}
	logging.Orchestrator("fan-out complete: %d/%d sub-tasks succeeded", len(survivors), len(results))

	notify("Synthesizing final answer")
	answer := o.synthesize(ctx, query, survivors)

	return &Result{Answer: answer, SubTasks: results}
}

const decomposeSystem = `You split a complex query into independent sub-tasks.
Respond with ONLY a JSON array of 3 to 5 short task description strings.
Each sub-task must be answerable on its own. No prose outside the array.`

var jsonArrayRe = regexp.MustCompile(`(?s)\[.*\]`)

// decompose asks the model to split the query. Any failure, including an
// unparseable reply, falls back to treating the whole query as one task.
func (o *Orchestrator) decompose(ctx context.Context, query string) []string {
	reply, err := o.client.CompleteWithSystem(ctx, decomposeSystem, query)
	if err != nil {
		logging.Orchestrator("decompose call failed, using single task: %v", err)
		return []string{query}
	}

	raw := jsonArrayRe.FindString(reply)
	if raw == "" {
		logging.OrchestratorDebug("no JSON array in decompose reply")
		return []string{query}
	}

	var tasks []string
	if err := json.Unmarshal([]byte(raw), &tasks); err != nil {
		logging.OrchestratorDebug("decompose reply unmarshal failed: %v", err)
		return []string{query}
	}

	var clean []string
	for _, t := range tasks {
		if t = strings.TrimSpace(t); t != "" {
			clean = append(clean, t)
		}
	}
	if len(clean) == 0 {
		return []string{query}
	}
	if len(clean) > o.cfg.MaxTasks {
		clean = clean[:o.cfg.MaxTasks]
	}
	return clean
}

const subTaskSystem = `You are a focused sub-agent answering one narrow task.
If the task requires searching the code repository, respond with ONLY this
JSON object and nothing else: {"tool_call": "<regex pattern>"}
Otherwise answer the task directly and concisely.`

// toolCallRequest is the single-field JSON convention a sub-agent uses to
// request a repository search.
type toolCallRequest struct {
	ToolCall string `json:"tool_call"`
}

// runTask executes one sub-task: a model call, optionally followed by a code
// search when the reply is a tool call request.
func (o *Orchestrator) runTask(ctx context.Context, id int, desc string, docContext []string) SubTask {
	prompt := "Task: " + desc
	if len(docContext) > 0 {
		prompt += "\n\nContext documents:\n" + strings.Join(docContext, "\n---\n")
	}

	reply, err := o.client.CompleteWithSystem(ctx, subTaskSystem, prompt)
	if err != nil {
		logging.Orchestrator("sub-task %d failed: %v", id, err)
		return SubTask{TaskID: id, Description: desc, Status: TaskFailed, Result: err.Error()}
	}

	task := SubTask{TaskID: id, Description: desc, Status: TaskCompleted, Result: strings.TrimSpace(reply)}

	var req toolCallRequest
	if err := json.Unmarshal([]byte(strings.TrimSpace(reply)), &req); err == nil && req.ToolCall != "" {
		task.ToolCall = req.ToolCall
		task.Result = o.runToolCall(ctx, req.ToolCall)
	}
	return task
}

// runToolCall performs the requested repository search and folds the capped
// results into result text.
func (o *Orchestrator) runToolCall(ctx context.Context, pattern string) string {
	logging.Orchestrator("tool call: search %q", pattern)
	matches, err := search.Search(ctx, search.Query{
		Pattern:      pattern,
		Root:         o.cfg.SearchRoot,
		Ignore:       o.cfg.SearchIgnore,
		MaxResults:   o.cfg.SearchMaxResults,
		MaxFileBytes: o.cfg.SearchMaxFileBytes,
	})
	if err != nil {
		return fmt.Sprintf("search for %q failed: %v", pattern, err)
	}
	return fmt.Sprintf("code search results for %q:\n%s", pattern, search.Format(matches))
}

const synthesizeSystem = `You merge sub-task results into one coherent answer
to the original query. Be direct and complete; do not mention the sub-tasks.`

// synthesize merges surviving sub-task results. Failed tasks were excluded by
// the caller; failure here degrades to a fixed retryable answer.
func (o *Orchestrator) synthesize(ctx context.Context, query string, survivors []SubTask) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Original query: %s\n\nSub-task results:\n", query)
	for _, t := range survivors {
		fmt.Fprintf(&sb, "\n[%d] %s\n%s\n", t.TaskID+1, t.Description, t.Result)
	}

	answer, err := o.client.CompleteWithSystem(ctx, synthesizeSystem, sb.String())
	if err != nil {
		logging.Orchestrator("synthesis failed: %v", err)
		return SynthesisFailed
	}
	return strings.TrimSpace(answer)
}
