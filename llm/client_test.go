package llm_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braidwork/braid/llm"
	_ "github.com/braidwork/braid/llm/providers"
	"github.com/braidwork/braid/retry"
)

const chatCompletion = `{"choices":[{"message":{"role":"assistant","content":"hello from the model"}}]}`

func newClient(t *testing.T, url string, opts ...llm.Option) *llm.HTTPClient {
	t.Helper()
	base := []llm.Option{
		llm.WithModel("test-model"),
		llm.WithBaseURL(url),
		llm.WithRetryRunner(retry.NewRunner("llm.generate", retry.Fixed(time.Millisecond, 3))),
	}
	client, err := llm.NewHTTPClient("openai", append(base, opts...)...)
	require.NoError(t, err)
	return client
}

func TestGenerateSuccess(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatCompletion))
	}))
	defer server.Close()

	client := newClient(t, server.URL)
	text, err := client.Generate(context.Background(), "say hello")
	require.NoError(t, err)
	assert.Equal(t, "hello from the model", text)
	assert.Equal(t, "/v1/chat/completions", gotPath)
}

func TestGenerateRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(chatCompletion))
	}))
	defer server.Close()

	client := newClient(t, server.URL)
	text, err := client.Generate(context.Background(), "persist")
	require.NoError(t, err)
	assert.Equal(t, "hello from the model", text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGenerateAuthFailureIsFatal(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newClient(t, server.URL)
	_, err := client.Generate(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, retry.IsFatal(err), "401 should be fatal")
	assert.Equal(t, int32(1), calls.Load(), "fatal errors must not be retried")

	var perr *llm.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "openai", perr.Provider)
	assert.Equal(t, http.StatusUnauthorized, perr.StatusCode)
}

func TestGenerateServerErrorExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newClient(t, server.URL)
	_, err := client.Generate(context.Background(), "flaky")
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())

	var perr *llm.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusInternalServerError, perr.StatusCode)
}

func TestGenerateParseFailureIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	client := newClient(t, server.URL)
	_, err := client.Generate(context.Background(), "empty")
	require.Error(t, err)
	assert.True(t, retry.IsFatal(err))
	assert.Contains(t, err.Error(), "no choices")
}

func TestGenerateSendsConfiguredAPIKey(t *testing.T) {
	t.Setenv("BRAID_TEST_KEY", "sk-braid")

	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(chatCompletion))
	}))
	defer server.Close()

	client := newClient(t, server.URL, llm.WithAPIKeyEnv("BRAID_TEST_KEY"))
	_, err := client.Generate(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-braid", gotAuth)
}

func TestGenerateCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server notices the client disconnect and
		// cancels the request context; otherwise this handler never returns.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	client := newClient(t, server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Generate(ctx, "slow")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || retry.IsCancelled(err),
		"cancellation should surface, got %v", err)
}

func TestNewHTTPClientValidation(t *testing.T) {
	_, err := llm.NewHTTPClient("no-such-provider", llm.WithModel("m"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")

	_, err = llm.NewHTTPClient("openai")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model is required")
}

func TestClientFunc(t *testing.T) {
	fn := llm.ClientFunc(func(_ context.Context, prompt string) (string, error) {
		return "echo: " + prompt, nil
	})
	text, err := fn.Generate(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "echo: ping", text)
}
