package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rlmd/internal/config"
)

func TestProcessQuerySingleSession(t *testing.T) {
	client := &scriptedClient{replies: []string{"FINAL_ANSWER: direct"}}
	eng := New(client, config.Default())

	resp := eng.ProcessQuery(context.Background(), "q", nil, Options{}, nil)

	require.Equal(t, StatusCompleted, resp.Status)
	assert.Equal(t, "direct", resp.Result)
	assert.Empty(t, resp.SubAgentResults)
}

func TestProcessQueryDecomposed(t *testing.T) {
	// Call order: decompose, two concurrent sub-tasks, synthesis.
	client := &scriptedClient{replies: []string{
		`["part one", "part two"]`,
		"sub result",
		"sub result",
		"synthesized answer",
	}}
	eng := New(client, config.Default())

	resp := eng.ProcessQuery(context.Background(), "q", nil, Options{Decompose: true}, nil)

	require.Equal(t, StatusCompleted, resp.Status)
	assert.Equal(t, "synthesized answer", resp.Result)
	require.Len(t, resp.SubAgentResults, 2)
	assert.Equal(t, "part one", resp.SubAgentResults[0].Description)
	assert.Equal(t, "part two", resp.SubAgentResults[1].Description)
	assert.Equal(t, 1, resp.IterationsUsed)
}

func TestRunCodeAudit(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cfg.go"),
		[]byte("package cfg\n\nvar apiSecret = \"x\"\n"), 0o644))

	eng := New(&scriptedClient{}, config.Default())

	matches, err := eng.RunCodeAudit(context.Background(), "apiSecret", dir, "*.go", nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 3, matches[0].Line)
}

func TestRunCodeAuditProgress(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cfg.go"),
		[]byte("package cfg\n\nvar token = \"x\"\nvar token2 = \"y\"\n"), 0o644))

	eng := New(&scriptedClient{}, config.Default())

	var messages []string
	var percents []int
	_, err := eng.RunCodeAudit(context.Background(), "token", dir, "",
		func(msg string, percent int) {
			messages = append(messages, msg)
			percents = append(percents, percent)
		})
	require.NoError(t, err)

	require.Len(t, messages, 2)
	assert.Contains(t, messages[0], "Starting code audit")
	assert.Contains(t, messages[1], "found 2 matches")
	assert.Less(t, percents[0], percents[1])
}

func TestRunCodeAuditProgressPanicTolerated(t *testing.T) {
	eng := New(&scriptedClient{}, config.Default())

	matches, err := eng.RunCodeAudit(context.Background(), "anything", t.TempDir(), "",
		func(string, int) { panic("observer bug") })
	require.NoError(t, err)
	assert.Empty(t, matches)
}
