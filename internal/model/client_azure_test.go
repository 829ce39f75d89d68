package model

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func azureReply(content string) string {
	body := map[string]any{
		"id": "cmpl-1",
		"choices": []map[string]any{
			{"index": 0, "message": map[string]string{"role": "assistant", "content": content}},
		},
	}
	data, _ := json.Marshal(body)
	return string(data)
}

func newAzureTestClient(t *testing.T, handler http.HandlerFunc) *AzureOpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewAzureOpenAIClient(AzureConfig{
		Endpoint:   srv.URL,
		APIKey:     "test-key",
		Deployment: "rlm-root-agent",
	})
	require.NoError(t, err)
	return client
}

func TestAzureClientRequiresEndpointAndKey(t *testing.T) {
	_, err := NewAzureOpenAIClient(AzureConfig{APIKey: "k"})
	assert.Error(t, err)

	_, err = NewAzureOpenAIClient(AzureConfig{Endpoint: "https://x"})
	assert.Error(t, err)
}

func TestAzureCompleteChat(t *testing.T) {
	var gotPath, gotKey string
	var gotReq chatRequest
	client := newAzureTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotKey = r.Header.Get("api-key")
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte(azureReply("  the answer  ")))
	})

	out, err := client.CompleteChat(context.Background(), "be brief", []Turn{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "answer me"},
	})
	require.NoError(t, err)
	assert.Equal(t, "the answer", out, "content is trimmed")

	assert.Equal(t, "/openai/deployments/rlm-root-agent/chat/completions?api-version=2024-02-15-preview", gotPath)
	assert.Equal(t, "test-key", gotKey)
	require.Len(t, gotReq.Messages, 4)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Equal(t, "be brief", gotReq.Messages[0].Content)
	assert.Equal(t, "user", gotReq.Messages[3].Role)
	assert.InDelta(t, 0.1, gotReq.Temperature, 0.0001)
}

func TestAzureRetriesOn429(t *testing.T) {
	var calls atomic.Int32
	client := newAzureTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(azureReply("recovered")))
	})

	out, err := client.Complete(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.EqualValues(t, 2, calls.Load())
}

func TestAzureNonRetryableStatusFails(t *testing.T) {
	var calls atomic.Int32
	client := newAzureTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad deployment", http.StatusNotFound)
	})

	_, err := client.Complete(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.EqualValues(t, 1, calls.Load(), "non-429 statuses are not retried")
}

func TestAzureAPIErrorBody(t *testing.T) {
	client := newAzureTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": {"message": "content filtered", "type": "invalid_request"}}`))
	})

	_, err := client.Complete(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content filtered")
}

func TestNoopClient(t *testing.T) {
	c := NoopClient{}

	_, err := c.Complete(context.Background(), "p")
	assert.True(t, errors.Is(err, ErrNotConfigured))

	_, err = c.CompleteWithSystem(context.Background(), "s", "p")
	assert.True(t, errors.Is(err, ErrNotConfigured))

	_, err = c.CompleteChat(context.Background(), "s", nil)
	assert.True(t, errors.Is(err, ErrNotConfigured))
}
