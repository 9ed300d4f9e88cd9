// Package llm provides a single-prompt text-generation client over
// pluggable provider adapters (OpenAI-compatible, Anthropic, Ollama).
// Transient backend failures are retried through the retry package.
package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/braidwork/braid/metrics"
	"github.com/braidwork/braid/retry"
)

// maxResponseSize caps how much of a response body is read (10 MB).
const maxResponseSize = 10 * 1024 * 1024

// maxErrorDetail caps how much of an error body is quoted in errors.
const maxErrorDetail = 200

// defaultTimeout bounds a single HTTP exchange; retries get a fresh budget.
const defaultTimeout = 120 * time.Second

// Client generates text for a prompt. Implementations must be safe for
// concurrent use.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, prompt string) (string, error)

// Generate implements Client.
func (f ClientFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// HTTPClient talks to a text-generation backend over HTTP through a
// registered Provider. Failed requests are classified and retried under the
// client's retry runner.
type HTTPClient struct {
	provider    Provider
	model       string
	baseURL     string
	apiKeyEnv   string
	temperature *float64
	maxTokens   int
	httpClient  *http.Client
	runner      *retry.Runner
	logger      *slog.Logger
	sink        metrics.Sink
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithModel sets the model name sent to the backend.
func WithModel(model string) Option {
	return func(c *HTTPClient) { c.model = model }
}

// WithBaseURL overrides the provider's default endpoint.
func WithBaseURL(url string) Option {
	return func(c *HTTPClient) { c.baseURL = url }
}

// WithAPIKeyEnv names the environment variable holding the API key. When
// unset, the provider's conventional variable is consulted instead.
func WithAPIKeyEnv(name string) Option {
	return func(c *HTTPClient) { c.apiKeyEnv = name }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *HTTPClient) { c.temperature = &t }
}

// WithMaxTokens bounds the completion length. Zero keeps the provider
// default.
func WithMaxTokens(n int) Option {
	return func(c *HTTPClient) { c.maxTokens = n }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.httpClient = hc }
}

// WithRetryRunner replaces the default exponential-backoff runner.
func WithRetryRunner(r *retry.Runner) Option {
	return func(c *HTTPClient) { c.runner = r }
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *HTTPClient) { c.logger = logger }
}

// WithMetrics attaches a sink to the default retry runner.
func WithMetrics(sink metrics.Sink) Option {
	return func(c *HTTPClient) { c.sink = sink }
}

// NewHTTPClient builds a client for a registered provider name.
func NewHTTPClient(providerName string, opts ...Option) (*HTTPClient, error) {
	provider, err := GetProvider(providerName)
	if err != nil {
		return nil, err
	}

	c := &HTTPClient{provider: provider}
	for _, opt := range opts {
		opt(c)
	}
	if c.model == "" {
		return nil, fmt.Errorf("%s provider: model is required", providerName)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.runner == nil {
		policy, err := retry.Exponential(retry.DefaultExponentialConfig())
		if err != nil {
			return nil, fmt.Errorf("build default retry policy: %w", err)
		}
		c.runner = retry.NewRunner("llm.generate", policy,
			retry.WithLogger(c.logger),
			retry.WithMetrics(c.sink))
	}
	return c, nil
}

// Generate implements Client. Transient failures (429, 5xx, network errors)
// are retried under the client's runner; auth and request errors fail fast.
func (c *HTTPClient) Generate(ctx context.Context, prompt string) (string, error) {
	return retry.RunValue(ctx, c.runner, func(ctx context.Context) (string, error) {
		return c.doRequest(ctx, prompt)
	})
}

func (c *HTTPClient) doRequest(ctx context.Context, prompt string) (string, error) {
	name := c.provider.Name()

	body, err := c.provider.BuildRequestBody(c.model, prompt, c.temperature, c.maxTokens)
	if err != nil {
		return "", retry.Fatal(&ProviderError{Provider: name, Err: fmt.Errorf("build request: %w", err)})
	}

	url := c.provider.BuildURL(c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", retry.Fatal(&ProviderError{Provider: name, Err: fmt.Errorf("create request: %w", err)})
	}
	req.Header.Set("Content-Type", "application/json")
	c.provider.SetHeaders(req, c.apiKey())

	c.logger.Debug("generation request",
		"provider", name,
		"model", c.model,
		"url", url,
		"prompt_chars", len(prompt))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &ProviderError{Provider: name, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", &ProviderError{Provider: name, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", c.wrapStatus(resp.StatusCode, data)
	}

	text, err := c.provider.ParseResponse(data)
	if err != nil {
		return "", retry.Fatal(&ProviderError{Provider: name, StatusCode: resp.StatusCode, Err: fmt.Errorf("parse response: %w", err)})
	}

	c.logger.Debug("generation response",
		"provider", name,
		"model", c.model,
		"response_chars", len(text))
	return text, nil
}

func (c *HTTPClient) apiKey() string {
	if c.apiKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.apiKeyEnv)
}

// wrapStatus maps an HTTP failure onto the retry taxonomy: rate limits and
// server errors are transient, client mistakes are fatal.
func (c *HTTPClient) wrapStatus(status int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	if detail == "" {
		detail = http.StatusText(status)
	}
	if len(detail) > maxErrorDetail {
		detail = detail[:maxErrorDetail]
	}
	perr := &ProviderError{Provider: c.provider.Name(), StatusCode: status, Err: errors.New(detail)}

	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return retry.Transient(perr)
	case status == http.StatusBadRequest,
		status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusNotFound:
		return retry.Fatal(perr)
	default:
		return perr
	}
}
