// Package main implements a scripted LLM server for braid demos and
// offline client testing. It serves OpenAI-compatible /v1/chat/completions
// responses from fixture files, routing by the "model" field of the
// request: planner models answer with JSON plan arrays, worker models with
// plain task output.
//
// Usage:
//
//	mock-llm -fixtures ./fixtures -port 11434
//
// A fixture file is named after its model: "mock-planner.json" answers
// model "mock-planner", "mock-worker.txt" answers "mock-worker". JSON
// fixtures must parse; text fixtures are served verbatim. Numbered files
// ("mock-worker.1.txt", "mock-worker.2.txt") script the Nth call to the
// model, and once the numbers run out the base file repeats forever.
//
// Point braid at the server with
//
//	BRAID_LLM_BASE_URL=http://localhost:11434
//
// and matching model names. The -fail-first flag answers each model's
// first N calls with HTTP 429, which exercises the retry path end to end.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Wire types for the chat-completions surface the braid client speaks.

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int            `json:"index"`
	Message      assistantReply `json:"message"`
	FinishReason string         `json:"finish_reason"`
}

type assistantReply struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// capturedRequest records one completion call for the /requests endpoint.
// Braid sends a single user message, so the prompt is stored flat.
type capturedRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	CallIndex int    `json:"call_index"`
	At        int64  `json:"at"`
}

// modelState tracks per-model progress through the scripted sequence.
type modelState struct {
	calls       int
	rateLimited int
	requests    []capturedRequest
}

type server struct {
	fixtures  map[string][]string
	latency   time.Duration
	failFirst int
	logger    *slog.Logger

	mu     sync.Mutex
	total  int
	states map[string]*modelState
}

func newServer(fixtures map[string][]string, opts ...func(*server)) *server {
	s := &server{
		fixtures: fixtures,
		logger:   slog.Default(),
		states:   make(map[string]*modelState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func withLatency(d time.Duration) func(*server) {
	return func(s *server) { s.latency = d }
}

func withFailFirst(n int) func(*server) {
	return func(s *server) { s.failFirst = n }
}

func (s *server) state(model string) *modelState {
	st, ok := s.states[model]
	if !ok {
		st = &modelState{}
		s.states[model] = st
	}
	return st
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	// Resolve the sequence: exact model name first, then without the
	// conventional mock- prefix.
	seq, ok := s.fixtures[req.Model]
	if !ok {
		seq, ok = s.fixtures[strings.TrimPrefix(req.Model, "mock-")]
	}
	if !ok {
		s.logger.Warn("no fixture for model", "model", req.Model)
		http.Error(w, fmt.Sprintf("no fixture for model %q", req.Model), http.StatusNotFound)
		return
	}

	s.mu.Lock()
	s.total++
	st := s.state(req.Model)
	st.calls++
	call := st.calls
	st.requests = append(st.requests, capturedRequest{
		Model:     req.Model,
		Prompt:    lastUserMessage(req),
		CallIndex: call,
		At:        time.Now().UnixMilli(),
	})
	rateLimit := st.rateLimited < s.failFirst
	if rateLimit {
		st.rateLimited++
	}
	served := call - st.rateLimited
	s.mu.Unlock()

	if rateLimit {
		s.logger.Info("scripted rate limit", "model", req.Model, "call", call)
		w.Header().Set("Retry-After", "1")
		http.Error(w, `{"error":{"message":"rate limit exceeded","type":"rate_limit_error"}}`, http.StatusTooManyRequests)
		return
	}

	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
		case <-r.Context().Done():
			return
		}
	}

	idx := served - 1
	if idx >= len(seq) {
		idx = len(seq) - 1
	}
	content := seq[idx]

	s.logger.Info("serving fixture",
		"model", req.Model,
		"call", call,
		"fixture", idx+1,
		"of", len(seq))

	resp := chatResponse{
		ID:      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{{
			Message:      assistantReply{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: chatUsage{
			PromptTokens:     len(lastUserMessage(req)) / 4,
			CompletionTokens: len(content) / 4,
			TotalTokens:      (len(lastUserMessage(req)) + len(content)) / 4,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleStats reports call counts for assertions: total, per model, and
// how many calls were answered with a scripted 429.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	byModel := make(map[string]int, len(s.states))
	limited := make(map[string]int, len(s.states))
	for model, st := range s.states {
		byModel[model] = st.calls
		if st.rateLimited > 0 {
			limited[model] = st.rateLimited
		}
	}
	total := s.total
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"total_calls":           total,
		"calls_by_model":        byModel,
		"rate_limited_by_model": limited,
	})
}

// handleRequests returns captured prompts. Query params: model filters by
// model name, call filters by 1-based call index.
func (s *server) handleRequests(w http.ResponseWriter, r *http.Request) {
	modelFilter := r.URL.Query().Get("model")
	callFilter, _ := strconv.Atoi(r.URL.Query().Get("call"))

	s.mu.Lock()
	result := make(map[string][]capturedRequest)
	for model, st := range s.states {
		if modelFilter != "" && model != modelFilter {
			continue
		}
		for _, req := range st.requests {
			if callFilter > 0 && req.CallIndex != callFilter {
				continue
			}
			result[model] = append(result[model], req)
		}
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"requests_by_model": result})
}

func lastUserMessage(req chatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}

// numberedFileRe matches scripted fixtures like "mock-worker.2.txt".
var numberedFileRe = regexp.MustCompile(`^(.+)\.(\d+)\.(json|txt)$`)

// loadFixtures reads fixture files from dir and returns model name to
// ordered response sequence. JSON fixtures must parse, which catches
// malformed plan arrays before a demo does. Per model the order is the
// numbered files in numeric order, then the base file as the repeating
// fallback.
func loadFixtures(dir string) (map[string][]string, error) {
	base := make(map[string]string)
	numbered := make(map[string]map[int]string)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() || (!strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".txt")) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if strings.HasSuffix(name, ".json") && !json.Valid(data) {
			return fmt.Errorf("invalid JSON in %s", path)
		}
		content := string(data)

		if m := numberedFileRe.FindStringSubmatch(name); m != nil {
			model := m[1]
			index, _ := strconv.Atoi(m[2])
			if numbered[model] == nil {
				numbered[model] = make(map[int]string)
			}
			if _, dup := numbered[model][index]; dup {
				return fmt.Errorf("conflicting fixtures for model %q call %d", model, index)
			}
			numbered[model][index] = content
			return nil
		}

		model := strings.TrimSuffix(strings.TrimSuffix(name, ".json"), ".txt")
		if _, dup := base[model]; dup {
			return fmt.Errorf("conflicting base fixtures for model %q", model)
		}
		base[model] = content
		return nil
	})
	if err != nil {
		return nil, err
	}

	models := make(map[string]bool)
	for m := range base {
		models[m] = true
	}
	for m := range numbered {
		models[m] = true
	}

	fixtures := make(map[string][]string, len(models))
	for model := range models {
		var seq []string
		if scripted, ok := numbered[model]; ok {
			indices := make([]int, 0, len(scripted))
			for idx := range scripted {
				indices = append(indices, idx)
			}
			sort.Ints(indices)
			for _, idx := range indices {
				seq = append(seq, scripted[idx])
			}
		}
		if b, ok := base[model]; ok {
			seq = append(seq, b)
		}
		fixtures[model] = seq
	}

	if len(fixtures) == 0 {
		return nil, fmt.Errorf("no fixture files found in %s", dir)
	}
	return fixtures, nil
}

func main() {
	fixtureDir := flag.String("fixtures", "", "directory containing fixture files (default ./fixtures)")
	port := flag.Int("port", 11434, "port to listen on")
	latency := flag.Duration("latency", 0, "artificial delay before each completion")
	failFirst := flag.Int("fail-first", 0, "answer each model's first N calls with HTTP 429")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if *fixtureDir == "" {
		*fixtureDir = os.Getenv("MOCK_LLM_FIXTURES")
	}
	if *fixtureDir == "" {
		*fixtureDir = "fixtures"
	}

	fixtures, err := loadFixtures(*fixtureDir)
	if err != nil {
		logger.Error("loading fixtures", "dir", *fixtureDir, "error", err)
		os.Exit(1)
	}
	logger.Info("fixtures loaded", "dir", *fixtureDir, "models", len(fixtures))
	for model, seq := range fixtures {
		logger.Info("model registered", "model", model, "fixtures", len(seq))
	}

	s := newServer(fixtures, withLatency(*latency), withFailFirst(*failFirst))
	s.logger = logger

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/requests", s.handleRequests)

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("mock LLM server listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
