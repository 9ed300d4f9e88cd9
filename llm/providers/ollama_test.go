package providers

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestOllamaBuildURL(t *testing.T) {
	p := &OllamaProvider{}
	if got := p.BuildURL(""); got != "http://localhost:11434/api/chat" {
		t.Errorf("BuildURL(\"\") = %q", got)
	}
	if got := p.BuildURL("http://gpu-box:11434/"); got != "http://gpu-box:11434/api/chat" {
		t.Errorf("BuildURL(custom) = %q", got)
	}
}

func TestOllamaBuildRequestBody(t *testing.T) {
	p := &OllamaProvider{}
	temp := 0.2
	data, err := p.BuildRequestBody("llama3.2", "hi", &temp, 64)
	if err != nil {
		t.Fatalf("BuildRequestBody error: %v", err)
	}

	var req ollamaRequest
	if err := json.Unmarshal(data, &req); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if req.Stream {
		t.Error("stream = true, want false")
	}
	if req.Options == nil || req.Options.Temperature == nil || *req.Options.Temperature != 0.2 {
		t.Errorf("options = %+v, want temperature 0.2", req.Options)
	}
	if req.Options.NumPredict != 64 {
		t.Errorf("num_predict = %d, want 64", req.Options.NumPredict)
	}
}

func TestOllamaBuildRequestBodyOmitsOptions(t *testing.T) {
	p := &OllamaProvider{}
	data, err := p.BuildRequestBody("llama3.2", "hi", nil, 0)
	if err != nil {
		t.Fatalf("BuildRequestBody error: %v", err)
	}
	if strings.Contains(string(data), "options") {
		t.Errorf("body contains options: %s", data)
	}
}

func TestOllamaParseResponse(t *testing.T) {
	p := &OllamaProvider{}

	text, err := p.ParseResponse([]byte(`{"message":{"role":"assistant","content":"pong"},"done":true}`))
	if err != nil {
		t.Fatalf("ParseResponse error: %v", err)
	}
	if text != "pong" {
		t.Errorf("text = %q, want %q", text, "pong")
	}

	if _, err := p.ParseResponse([]byte(`{"message":{"role":"assistant","content":""}}`)); err == nil {
		t.Error("ParseResponse(empty content) = nil error, want error")
	}
}
