package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/braidwork/braid/llm"
)

func init() {
	llm.RegisterProvider(&OllamaProvider{})
}

const defaultOllamaBaseURL = "http://localhost:11434"

// OllamaProvider speaks Ollama's native chat API with streaming disabled.
// For Ollama's OpenAI-compatible surface use the openai provider with a
// local base URL instead.
type OllamaProvider struct{}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	return strings.TrimSuffix(baseURL, "/") + "/api/chat"
}

// SetHeaders adds a bearer token when one is configured, for deployments
// that put Ollama behind an authenticating proxy.
func (p *OllamaProvider) SetHeaders(req *http.Request, apiKey string) {
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

func (p *OllamaProvider) BuildRequestBody(model, prompt string, temperature *float64, maxTokens int) ([]byte, error) {
	body := ollamaRequest{
		Model:    model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
		Stream:   false,
	}
	if temperature != nil || maxTokens > 0 {
		body.Options = &ollamaOptions{Temperature: temperature}
		if maxTokens > 0 {
			body.Options.NumPredict = maxTokens
		}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}
	return data, nil
}

func (p *OllamaProvider) ParseResponse(body []byte) (string, error) {
	var resp ollamaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("unmarshal chat response: %w", err)
	}
	if resp.Message.Content == "" {
		return "", errors.New("empty message in response")
	}
	return resp.Message.Content, nil
}
