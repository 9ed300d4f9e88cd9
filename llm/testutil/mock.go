// Package testutil provides a scriptable llm.Client for tests.
package testutil

import (
	"context"
	"fmt"
	"sync"
)

// Step is one scripted Generate outcome.
type Step struct {
	Response string
	Err      error
}

// Respond scripts a successful generation.
func Respond(text string) Step { return Step{Response: text} }

// Fail scripts a failed generation.
func Fail(err error) Step { return Step{Err: err} }

// MockClient replays scripted steps in order and captures every prompt it
// receives. Generate honors context cancellation before consuming a step.
// Safe for concurrent use.
type MockClient struct {
	mu      sync.Mutex
	steps   []Step
	next    int
	prompts []string
}

// NewMockClient builds a client that replays steps in order.
func NewMockClient(steps ...Step) *MockClient {
	return &MockClient{steps: steps}
}

// Generate implements llm.Client. Calls beyond the script fail.
func (m *MockClient) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	if m.next >= len(m.steps) {
		return "", fmt.Errorf("mock client: no scripted response for call %d", m.next+1)
	}
	step := m.steps[m.next]
	m.next++
	return step.Response, step.Err
}

// Calls returns how many times Generate ran.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// Prompts returns a copy of every captured prompt, oldest first.
func (m *MockClient) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}

// LastPrompt returns the most recent prompt, if any.
func (m *MockClient) LastPrompt() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return "", false
	}
	return m.prompts[len(m.prompts)-1], true
}

// Reset rewinds the script and clears captured prompts.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next = 0
	m.prompts = nil
}
