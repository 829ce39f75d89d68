package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rlmd/internal/model"
)

// scriptedClient returns canned replies in order and records the turn
// history of every chat call.
type scriptedClient struct {
	mu        sync.Mutex
	replies   []string
	err       error
	calls     int
	lastTurns []model.Turn
}

func (c *scriptedClient) next() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	if c.calls >= len(c.replies) {
		return "", errors.New("script exhausted")
	}
	reply := c.replies[c.calls]
	c.calls++
	return reply, nil
}

func (c *scriptedClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.next()
}

func (c *scriptedClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.next()
}

func (c *scriptedClient) CompleteChat(ctx context.Context, systemPrompt string, turns []model.Turn) (string, error) {
	c.mu.Lock()
	c.lastTurns = append([]model.Turn(nil), turns...)
	c.mu.Unlock()
	return c.next()
}

func testSessionConfig() SessionConfig {
	return SessionConfig{
		MaxIterations:       10,
		RecursionDepthLimit: 3,
		OutputCap:           2000,
	}
}

func TestSessionFinalAnswerFirstIteration(t *testing.T) {
	client := &scriptedClient{replies: []string{"FINAL_ANSWER: blue"}}
	s := NewSession(client, testSessionConfig(), 0, nil)

	resp := s.Run(context.Background(), "What color is the sky?", nil)

	require.Equal(t, StatusCompleted, resp.Status)
	assert.Equal(t, "blue", resp.Result)
	assert.Equal(t, 1, resp.IterationsUsed)
}

func TestSessionExecutesCodeAndFeedsOutputBack(t *testing.T) {
	client := &scriptedClient{replies: []string{
		"```go\nfmt.Println(21 * 2)\n```",
		"FINAL_ANSWER: 42",
	}}
	s := NewSession(client, testSessionConfig(), 0, nil)

	resp := s.Run(context.Background(), "what is 21*2", nil)

	require.Equal(t, StatusCompleted, resp.Status)
	assert.Equal(t, 2, resp.IterationsUsed)

	// The second chat call must have seen the execution output.
	last := client.lastTurns[len(client.lastTurns)-1]
	assert.Equal(t, "user", last.Role)
	assert.Contains(t, last.Content, "EXECUTION OUTPUT")
	assert.Contains(t, last.Content, "42")
}

func TestSessionInterpreterStatePersists(t *testing.T) {
	client := &scriptedClient{replies: []string{
		"```go\nx := 10\n```",
		"```go\nfmt.Println(x + 5)\n```",
		"FINAL_ANSWER: done",
	}}
	s := NewSession(client, testSessionConfig(), 0, nil)

	resp := s.Run(context.Background(), "count things", nil)

	require.Equal(t, StatusCompleted, resp.Status)
	last := client.lastTurns[len(client.lastTurns)-1]
	assert.Contains(t, last.Content, "15", "second fragment should see x from the first")
}

func TestSessionDocsSeededIntoSandbox(t *testing.T) {
	client := &scriptedClient{replies: []string{
		"```go\nfmt.Println(Docs[0])\n```",
		"FINAL_ANSWER: ok",
	}}
	s := NewSession(client, testSessionConfig(), 0, nil)

	resp := s.Run(context.Background(), "read the doc", []string{"invoice says $100"})

	require.Equal(t, StatusCompleted, resp.Status)
	last := client.lastTurns[len(client.lastTurns)-1]
	assert.Contains(t, last.Content, "invoice says $100")
}

func TestSessionFaultFedBackAsObservation(t *testing.T) {
	client := &scriptedClient{replies: []string{
		"```go\nfmt.Println(undefinedVariable)\n```",
		"FINAL_ANSWER: recovered",
	}}
	s := NewSession(client, testSessionConfig(), 0, nil)

	resp := s.Run(context.Background(), "q", nil)

	require.Equal(t, StatusCompleted, resp.Status, "a code fault must not end the session")
	last := client.lastTurns[len(client.lastTurns)-1]
	assert.Contains(t, last.Content, "error executing code")
}

func TestSessionBudgetExhaustion(t *testing.T) {
	cfg := testSessionConfig()
	cfg.MaxIterations = 2
	client := &scriptedClient{replies: []string{"hmm.", "still thinking."}}
	s := NewSession(client, cfg, 0, nil)

	resp := s.Run(context.Background(), "q", nil)

	require.Equal(t, StatusFailed, resp.Status)
	assert.Equal(t, "max iterations exceeded without final answer", resp.Result)
	assert.Equal(t, 2, resp.IterationsUsed)
}

func TestSessionModelErrorIsFatal(t *testing.T) {
	client := &scriptedClient{err: errors.New("backend exploded")}
	s := NewSession(client, testSessionConfig(), 0, nil)

	resp := s.Run(context.Background(), "q", nil)

	require.Equal(t, StatusFailed, resp.Status)
	assert.Contains(t, resp.Result, "model call failed")
	assert.Contains(t, resp.Result, "backend exploded")
}

func TestSessionDegradedWithoutBackend(t *testing.T) {
	s := NewSession(model.NoopClient{}, testSessionConfig(), 0, nil)

	resp := s.Run(context.Background(), "q", []string{"doc"})

	require.Equal(t, StatusCompleted, resp.Status)
	assert.Contains(t, resp.Result, "no model backend configured")
	assert.Equal(t, 0, resp.IterationsUsed)
}

func TestSubQueryRefusedAtDepthLimit(t *testing.T) {
	cfg := testSessionConfig()
	cfg.RecursionDepthLimit = 2
	s := NewSession(&scriptedClient{}, cfg, 2, nil)

	fn := s.subQueryFunc(context.Background())
	assert.Equal(t, RecursionRefusal, fn("go deeper", nil))
}

func TestSubQueryChildFailurePrefixed(t *testing.T) {
	client := &scriptedClient{err: errors.New("boom")}
	s := NewSession(client, testSessionConfig(), 0, nil)

	fn := s.subQueryFunc(context.Background())
	got := fn("child question", nil)
	assert.Contains(t, got, "Sub-query failed: ")
	assert.Contains(t, got, "boom")
}

func TestSubQueryChildAnswerReturned(t *testing.T) {
	client := &scriptedClient{replies: []string{"FINAL_ANSWER: child says hi"}}
	s := NewSession(client, testSessionConfig(), 0, nil)

	fn := s.subQueryFunc(context.Background())
	assert.Equal(t, "child says hi", fn("child question", nil))
}

func TestSessionProgressCallbackPanicTolerated(t *testing.T) {
	client := &scriptedClient{replies: []string{"FINAL_ANSWER: fine"}}
	s := NewSession(client, testSessionConfig(), 0, func(string) {
		panic("observer bug")
	})

	resp := s.Run(context.Background(), "q", nil)
	require.Equal(t, StatusCompleted, resp.Status)
	assert.Equal(t, "fine", resp.Result)
}

func TestSessionProgressMessages(t *testing.T) {
	var mu sync.Mutex
	var messages []string
	client := &scriptedClient{replies: []string{
		"```go\nfmt.Println(\"hello\")\n```",
		"FINAL_ANSWER: done",
	}}
	s := NewSession(client, testSessionConfig(), 0, func(msg string) {
		mu.Lock()
		messages = append(messages, msg)
		mu.Unlock()
	})

	resp := s.Run(context.Background(), "q", nil)
	require.Equal(t, StatusCompleted, resp.Status)

	joined := ""
	for _, m := range messages {
		joined += m + "\n"
	}
	assert.Contains(t, joined, "Starting reasoning session")
	assert.Contains(t, joined, "executing code")
	assert.Contains(t, joined, "Output: hello")
	assert.Contains(t, joined, "Final answer produced")
}
