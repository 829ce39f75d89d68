package web

import (
	"context"
	"fmt"

	"rlmd/internal/engine"
	"rlmd/internal/jobs"
	"rlmd/internal/logging"
)

// Built-in audit scenarios.
const (
	// ScenarioInvoiceAudit reasons over invoice documents in a single
	// session.
	ScenarioInvoiceAudit = "invoice_audit"
	// ScenarioMultiPart decomposes the query into concurrent sub-tasks.
	ScenarioMultiPart = "multi_part"
	// ScenarioCodeAudit scans the repository for a pattern without a model.
	ScenarioCodeAudit = "code_audit"
)

func validScenario(name string) bool {
	switch name {
	case ScenarioInvoiceAudit, ScenarioMultiPart, ScenarioCodeAudit:
		return true
	}
	return false
}

const defaultAuditPattern = `(?i)(password|secret|api_key)\s*=`

// mockInvoiceDocs keeps the invoice scenarios demoable when the caller
// supplies no documents. The planted inconsistencies give the model
// something to find.
var mockInvoiceDocs = []string{
	`INVOICE #2024-0117
Vendor: Northwind Office Supply
Date: 2024-03-02
  10x Standing desk @ $450.00 ....... $4,500.00
  25x Monitor arm @ $89.00 .......... $2,225.00
Subtotal: $6,725.00
Tax (8%): $538.00
TOTAL: $7,623.00`,
	`INVOICE #2024-0117
Vendor: Northwind Office Supply
Date: 2024-03-09
  10x Standing desk @ $450.00 ....... $4,500.00
  25x Monitor arm @ $89.00 .......... $2,225.00
Subtotal: $6,725.00
Tax (8%): $538.00
TOTAL: $7,263.00`,
	`EXPENSE POLICY (excerpt)
Single purchases above $5,000 require prior written approval.
Duplicate invoice numbers must be escalated to finance.
All totals must equal subtotal plus tax.`,
}

// runAuditTask executes one scenario in the background, streaming progress
// into the job store. All failure paths land the job in a terminal state; a
// job must never be left running.
func (s *Server) runAuditTask(jobID string, req startAuditRequest) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryHTTP).Error("audit task %s panic: %v", jobID, r)
			s.store.Update(jobID, fmt.Sprintf("internal error: %v", r),
				jobs.SetState(jobs.StatusFailed))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout())
	defer cancel()

	s.store.Update(jobID, "audit started: "+req.Scenario,
		jobs.SetState(jobs.StatusRunning), jobs.SetPercent(5))

	onProgress := func(msg string) {
		s.store.Update(jobID, msg)
	}

	switch req.Scenario {
	case ScenarioCodeAudit:
		s.runCodeAudit(ctx, jobID, req)
	default:
		s.runQueryAudit(ctx, jobID, req, onProgress)
	}
}

func (s *Server) runQueryAudit(ctx context.Context, jobID string, req startAuditRequest, onProgress engine.ProgressFunc) {
	query := req.Query
	if query == "" {
		query = "Audit these invoices for duplicates, arithmetic errors and policy violations. List every finding."
	}
	docs := req.Documents
	if len(docs) == 0 {
		docs = mockInvoiceDocs
	}

	opts := engine.Options{Decompose: req.Scenario == ScenarioMultiPart}

	s.store.Update(jobID, "processing query", jobs.SetPercent(20))
	resp := s.engine.ProcessQuery(ctx, query, docs, opts, onProgress)

	result := map[string]any{
		"status":          resp.Status,
		"result":          resp.Result,
		"reasoning_steps": resp.ReasoningSteps,
		"iterations_used": resp.IterationsUsed,
	}
	if len(resp.SubAgentResults) > 0 {
		result["sub_agent_results"] = resp.SubAgentResults
	}

	if resp.Status != engine.StatusCompleted {
		// Failure detail goes into the message and logs; result stays
		// unset on failed jobs.
		s.store.Update(jobID, "audit failed: "+resp.Result,
			jobs.SetState(jobs.StatusFailed))
		return
	}
	s.store.Update(jobID, "audit complete",
		jobs.SetState(jobs.StatusCompleted), jobs.SetPercent(100), jobs.SetResult(result))
}

func (s *Server) runCodeAudit(ctx context.Context, jobID string, req startAuditRequest) {
	pattern := req.Pattern
	if pattern == "" {
		pattern = defaultAuditPattern
	}

	matches, err := s.engine.RunCodeAudit(ctx, pattern, "", "", func(msg string, percent int) {
		s.store.Update(jobID, msg, jobs.SetPercent(percent))
	})
	if err != nil {
		s.store.Update(jobID, "code audit failed: "+err.Error(),
			jobs.SetState(jobs.StatusFailed))
		return
	}

	s.store.Update(jobID, fmt.Sprintf("code audit complete: %d matches", len(matches)),
		jobs.SetState(jobs.StatusCompleted), jobs.SetPercent(100),
		jobs.SetResult(map[string]any{
			"pattern": pattern,
			"count":   len(matches),
			"matches": matches,
		}))
}
