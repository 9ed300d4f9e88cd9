// Package providers registers the built-in llm.Provider adapters: openai
// (any OpenAI-compatible endpoint), anthropic, and ollama (native API).
// Import it for side effects:
//
//	import _ "github.com/braidwork/braid/llm/providers"
package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/braidwork/braid/llm"
)

func init() {
	llm.RegisterProvider(&OpenAIProvider{})
}

const defaultOpenAIBaseURL = "https://api.openai.com"

// OpenAIProvider speaks the chat-completions wire format. Besides OpenAI
// itself, it covers Ollama's OpenAI-compatible surface, vLLM, and the
// bundled mock-llm fixture server.
type OpenAIProvider struct{}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return strings.TrimSuffix(baseURL, "/") + "/v1/chat/completions"
}

func (p *OpenAIProvider) SetHeaders(req *http.Request, apiKey string) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

func (p *OpenAIProvider) BuildRequestBody(model, prompt string, temperature *float64, maxTokens int) ([]byte, error) {
	body := chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
	}
	if maxTokens > 0 {
		body.MaxTokens = maxTokens
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}
	return data, nil
}

func (p *OpenAIProvider) ParseResponse(body []byte) (string, error) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("unmarshal chat response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}
