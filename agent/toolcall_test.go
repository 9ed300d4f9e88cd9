package agent

import "testing"

func TestParseToolCall(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want ToolCall
		ok   bool
	}{
		{
			name: "plain call",
			raw:  `{"tool":"search","arguments":"golang concurrency"}`,
			want: ToolCall{Tool: "search", Arguments: "golang concurrency"},
			ok:   true,
		},
		{
			name: "surrounding whitespace",
			raw:  "\n  {\"tool\": \"search\", \"arguments\": \"x\"}  \n",
			want: ToolCall{Tool: "search", Arguments: "x"},
			ok:   true,
		},
		{
			name: "extra keys ignored",
			raw:  `{"tool":"search","arguments":"x","confidence":0.9}`,
			want: ToolCall{Tool: "search", Arguments: "x"},
			ok:   true,
		},
		{
			name: "unicode arguments",
			raw:  `{"tool":"translate","arguments":"héllo 世界"}`,
			want: ToolCall{Tool: "translate", Arguments: "héllo 世界"},
			ok:   true,
		},
		{name: "prose", raw: "I think the answer is 42."},
		{name: "prose around json", raw: `Sure! {"tool":"search","arguments":"x"}`},
		{name: "trailing text after object", raw: `{"tool":"search","arguments":"x"} done`},
		{name: "two objects", raw: `{"tool":"a","arguments":"x"}{"tool":"b","arguments":"y"}`},
		{name: "array", raw: `[{"tool":"search","arguments":"x"}]`},
		{name: "missing arguments", raw: `{"tool":"search"}`},
		{name: "missing tool", raw: `{"arguments":"x"}`},
		{name: "null tool", raw: `{"tool":null,"arguments":"x"}`},
		{name: "null arguments", raw: `{"tool":"search","arguments":null}`},
		{name: "empty tool", raw: `{"tool":"","arguments":"x"}`},
		{name: "empty arguments", raw: `{"tool":"search","arguments":""}`},
		{name: "numeric tool", raw: `{"tool":7,"arguments":"x"}`},
		{name: "object arguments", raw: `{"tool":"search","arguments":{"q":"x"}}`},
		{name: "quoted object", raw: `"{\"tool\":\"search\",\"arguments\":\"x\"}"`},
		{name: "empty string", raw: ""},
		{name: "bare braces", raw: "{}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseToolCall(tt.raw)
			if ok != tt.ok {
				t.Fatalf("ParseToolCall(%q) ok = %v, want %v", tt.raw, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("ParseToolCall(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}
