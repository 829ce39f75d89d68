// Package sandbox provides the stateful code-execution environment bound to
// one reasoning session. Code fragments are interpreted Go, executed by yaegi
// in-process: no compilation step, no shell, and interpreter state persists
// across calls so later fragments see variables defined earlier.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"rlmd/internal/logging"
	"rlmd/internal/metrics"
)

// NoOutput is returned when execution produced nothing on stdout/stderr.
// It distinguishes "ran silently" from "did not run".
const NoOutput = "[code executed with no output]"

// SubQueryFunc is the recursive sub-query callable exposed to interpreted
// code as Query(prompt, docs). It must never panic; failures come back as
// result text.
type SubQueryFunc func(prompt string, docs []string) string

// SearchFunc is the code-search callable exposed to interpreted code as
// Search(pattern, glob).
type SearchFunc func(pattern, glob string) string

// Sandbox is a persistent interpreter scoped to one session. The interpreter
// global scope acts as the module-level namespace; each Execute call adds a
// statement-level scope on top of it. Not safe for concurrent use: the owning
// session serializes calls.
type Sandbox struct {
	interp      *interp.Interpreter
	out         *bytes.Buffer
	execTimeout time.Duration
	seeded      bool
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithExecTimeout bounds the wall-clock time of a single Execute call.
// Zero disables the bound.
func WithExecTimeout(d time.Duration) Option {
	return func(s *Sandbox) { s.execTimeout = d }
}

// New creates a sandbox with the Go standard library available to
// interpreted code.
func New(opts ...Option) (*Sandbox, error) {
	out := &bytes.Buffer{}
	i := interp.New(interp.Options{
		Stdout: out,
		Stderr: out,
	})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load stdlib symbols: %w", err)
	}

	// Pre-import the packages generated code leans on, so fragments can
	// call fmt.Println without their own import clause.
	preamble := `import ("fmt"; "strings"; "strconv"; "sort"; "regexp"; "math")`
	if _, err := i.Eval(preamble); err != nil {
		return nil, fmt.Errorf("failed to import interpreter preamble: %w", err)
	}

	s := &Sandbox{
		interp:      i,
		out:         out,
		execTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Seed binds the session's document set and the two tool callables into the
// interpreter under an importable "rlm" package, then dot-imports it so
// generated code can reference Docs, Query and Search directly.
func (s *Sandbox) Seed(docs []string, subQuery SubQueryFunc, codeSearch SearchFunc) error {
	if s.seeded {
		return fmt.Errorf("sandbox already seeded")
	}
	if docs == nil {
		docs = []string{}
	}
	if subQuery == nil {
		subQuery = func(string, []string) string { return "sub-query not available" }
	}
	if codeSearch == nil {
		codeSearch = func(string, string) string { return "code search not available" }
	}

	exports := interp.Exports{
		"rlm/rlm": {
			"Docs":   reflect.ValueOf(docs),
			"Query":  reflect.ValueOf((func(string, []string) string)(subQuery)),
			"Search": reflect.ValueOf((func(string, string) string)(codeSearch)),
		},
	}
	if err := s.interp.Use(exports); err != nil {
		return fmt.Errorf("failed to bind session symbols: %w", err)
	}
	if _, err := s.interp.Eval(`import . "rlm"`); err != nil {
		return fmt.Errorf("failed to import session symbols: %w", err)
	}

	s.seeded = true
	logging.Sandbox("sandbox seeded: %d documents", len(docs))
	return nil
}

// Execute runs one code fragment and returns whatever it printed to
// stdout/stderr. Any runtime fault (bad syntax, undefined name, interpreted
// panic, timeout) is captured and returned as output text, never as an
// error: the reasoning loop feeds faults back to the model as observations.
func (s *Sandbox) Execute(ctx context.Context, code string) (output string) {
	s.out.Reset()

	defer func() {
		// Interpreter bridging can panic on pathological fragments. The
		// loop contract is that faults are data, so swallow and report.
		if r := recover(); r != nil {
			metrics.SandboxFaults.Inc()
			output = fmt.Sprintf("error executing code:\npanic: %v", r)
			logging.Get(logging.CategorySandbox).Error("interpreter panic: %v", r)
		}
	}()

	if s.execTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.execTimeout)
		defer cancel()
	}

	start := time.Now()
	_, err := s.interp.EvalWithContext(ctx, code)
	elapsed := time.Since(start)

	logging.SandboxDebug("execute: %d chars in %v (err=%v)", len(code), elapsed, err != nil)

	if err != nil {
		metrics.SandboxFaults.Inc()
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return fmt.Sprintf("error executing code:\nexecution timed out after %v", s.execTimeout)
		case ctx.Err() != nil:
			return "error executing code:\nexecution cancelled"
		}
		return formatFault(err, s.out.String())
	}

	if s.out.Len() == 0 {
		return NoOutput
	}
	return s.out.String()
}

// formatFault renders an evaluation error plus any partial output as a
// readable trace for the model.
func formatFault(err error, partial string) string {
	var sb strings.Builder
	sb.WriteString("error executing code:\n")
	if p, ok := err.(interp.Panic); ok {
		fmt.Fprintf(&sb, "panic: %v\n", p.Value)
	} else {
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	if partial != "" {
		sb.WriteString("partial output:\n")
		sb.WriteString(partial)
	}
	return sb.String()
}
