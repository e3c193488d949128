package textgen

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/story-pipeline/internal/config"
	"github.com/lexiqai/story-pipeline/internal/story"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		OpenAIAPIKey:               "test-key",
		OpenAIAPIBase:              baseURL,
		OpenAIModel:                "gpt-3.5-turbo",
		OpenAITemperature:          0.7,
		OpenAITimeout:              5,
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: 30,
		RetryMaxAttempts:           2,
		RetryInitialBackoff:        1,
	}
}

func completion(content string) string {
	body, _ := json.Marshal(content)
	return fmt.Sprintf(`{
		"id":"chatcmpl-1",
		"object":"chat.completion",
		"created":1,
		"model":"gpt-3.5-turbo",
		"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":%s}}]
	}`, body)
}

func TestOpenAIGenerator_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)

		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-3.5-turbo", body.Model)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "Write a dialogue", body.Messages[0].Content)
		assert.Equal(t, "A and B discuss the weather", body.Messages[1].Content)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completion("CharA: Hello\n\nCharB: Hi there\nassistant: (ignore)\n")))
	}))
	defer server.Close()

	g := NewOpenAIGenerator(testConfig(server.URL))
	lines, err := g.Generate(t.Context(), "Write a dialogue", "A and B discuss the weather")
	require.NoError(t, err)
	assert.Equal(t, []string{"CharA: Hello", "CharB: Hi there", "assistant: (ignore)"}, lines)
}

func TestOpenAIGenerator_EmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completion(" ok ")))
	}))
	defer server.Close()

	g := NewOpenAIGenerator(testConfig(server.URL))
	_, err := g.Generate(t.Context(), "prompt", "topic")
	assert.ErrorIs(t, err, story.ErrEmptyResponse)
}

func TestOpenAIGenerator_Unauthorized_IsFatal(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Incorrect API key provided"}}`))
	}))
	defer server.Close()

	g := NewOpenAIGenerator(testConfig(server.URL))
	_, err := g.Generate(t.Context(), "prompt", "topic")
	require.Error(t, err)
	assert.True(t, story.IsFatal(err))
	assert.Contains(t, err.Error(), "status=401")
	assert.Equal(t, int32(1), calls.Load(), "fatal errors must not be retried")
}

func TestOpenAIGenerator_ServerError_IsRetriedThenTransient(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer server.Close()

	g := NewOpenAIGenerator(testConfig(server.URL))
	_, err := g.Generate(t.Context(), "prompt", "topic")
	require.Error(t, err)
	assert.True(t, story.IsServiceError(err))
	assert.False(t, story.IsFatal(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIGenerator_UnknownModel_IsFatal(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"The model 'gpt-9' does not exist"}}`))
	}))
	defer server.Close()

	g := NewOpenAIGenerator(testConfig(server.URL))
	_, err := g.Generate(t.Context(), "prompt", "topic")
	require.Error(t, err)
	assert.True(t, story.IsFatal(err))
	assert.Contains(t, err.Error(), "status=404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIGenerator_BadRequest_RejectsTopic(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"This model's maximum context length is 4097 tokens"}}`))
	}))
	defer server.Close()

	g := NewOpenAIGenerator(testConfig(server.URL))
	_, err := g.Generate(t.Context(), "prompt", "topic")
	require.ErrorIs(t, err, story.ErrRejectedTopic)
	assert.False(t, story.IsFatal(err))
	assert.False(t, story.IsServiceError(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIGenerator_OpenCircuit_IsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"message":"conflict"}}`))
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.CircuitBreakerMaxFailures = 1
	g := NewOpenAIGenerator(cfg)

	_, err := g.Generate(t.Context(), "prompt", "topic")
	require.True(t, story.IsServiceError(err))

	healthy, herr := g.Healthy(t.Context())
	assert.False(t, healthy)
	assert.Error(t, herr)

	_, err = g.Generate(t.Context(), "prompt", "topic")
	var svcErr *story.ServiceError
	require.True(t, errors.As(err, &svcErr))
	assert.Contains(t, svcErr.Error(), "circuit breaker is open")
}
