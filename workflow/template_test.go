package workflow_test

import (
	"bytes"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"testing"

	"github.com/braidwork/braid/workflow"
)

// testLogger keeps test output quiet while still exercising log paths.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRender(t *testing.T) {
	vars := map[string]string{
		"user_request": "write a haiku",
		"prev_output":  "five syllables",
		"gather-facts": "fact one",
	}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{
			name:     "single placeholder",
			template: "Request: {{user_request}}",
			want:     "Request: write a haiku",
		},
		{
			name:     "whitespace inside braces",
			template: "{{ user_request }} and {{  prev_output  }}",
			want:     "write a haiku and five syllables",
		},
		{
			name:     "task reference",
			template: "Facts:\n{{gather-facts}}",
			want:     "Facts:\nfact one",
		},
		{
			name:     "repeated placeholder",
			template: "{{prev_output}} {{prev_output}}",
			want:     "five syllables five syllables",
		},
		{
			name:     "unknown stays verbatim",
			template: "keep {{missing}} as is",
			want:     "keep {{missing}} as is",
		},
		{
			name:     "no placeholders",
			template: "plain text",
			want:     "plain text",
		},
		{
			name:     "empty braces are not a placeholder",
			template: "{{}} stays",
			want:     "{{}} stays",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := workflow.Render(tt.template, vars, testLogger())
			if got != tt.want {
				t.Errorf("Render(%q) = %q, want %q", tt.template, got, tt.want)
			}
		})
	}
}

func TestRenderSinglePass(t *testing.T) {
	// A substituted value containing placeholder syntax must not be
	// expanded again.
	vars := map[string]string{
		"a": "literal {{b}}",
		"b": "should never appear",
	}
	got := workflow.Render("{{a}}", vars, testLogger())
	if got != "literal {{b}}" {
		t.Errorf("Render = %q, want %q", got, "literal {{b}}")
	}
}

func TestRenderWarnsOnUnknownPlaceholder(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	got := workflow.Render("{{known}} {{mystery}}", map[string]string{"known": "yes"}, logger)
	if got != "yes {{mystery}}" {
		t.Errorf("Render = %q, want %q", got, "yes {{mystery}}")
	}

	logged := buf.String()
	if n := strings.Count(logged, "unresolved template placeholder"); n != 1 {
		t.Errorf("warning count = %d, want 1\nlog:\n%s", n, logged)
	}
	if !strings.Contains(logged, "mystery") {
		t.Errorf("warning does not name the placeholder\nlog:\n%s", logged)
	}
}

func TestPlaceholders(t *testing.T) {
	tests := []struct {
		template string
		want     []string
	}{
		{"{{a}} {{b}} {{a}}", []string{"a", "b"}},
		{"{{ user_request }} then {{gather-facts}}", []string{"user_request", "gather-facts"}},
		{"no refs", nil},
		{"{{x.y}} {{x_y}} {{x-y}}", []string{"x.y", "x_y", "x-y"}},
	}

	for _, tt := range tests {
		got := workflow.Placeholders(tt.template)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Placeholders(%q) = %v, want %v", tt.template, got, tt.want)
		}
	}
}
