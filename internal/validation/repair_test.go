package validation

import "testing"

func TestRepair(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "fenced with language tag",
			in:   "```json\n{\"summary\": \"x\"}\n```",
			want: "{\"summary\": \"x\"}",
		},
		{
			name: "fenced without tag",
			in:   "```\n{\n  \"risks\": []\n}\n```\n",
			want: "{\n  \"risks\": []\n}",
		},
		{
			name: "prose before and after",
			in:   "Here is the extraction:\n{\"summary\": \"x\"}\nLet me know if you need more.",
			want: "{\"summary\": \"x\"}",
		},
		{
			name: "inline fence on one line",
			in:   "```json {\"a\": 1} ```",
			want: "{\"a\": 1}",
		},
		{
			name: "nested objects keep inner lines",
			in:   "Sure!\n```json\n{\n  \"resolved_answers\": [\n    {\"question\": \"q\", \"answer\": \"a\"}\n  ]\n}\n```",
			want: "{\n  \"resolved_answers\": [\n    {\"question\": \"q\", \"answer\": \"a\"}\n  ]\n}",
		},
		{
			name: "windows line endings",
			in:   "```json\r\n{\"a\": 1}\r\n```",
			want: "{\"a\": 1}",
		},
		{
			name: "no object",
			in:   "I could not find anything to extract.",
			want: "",
		},
		{
			name: "closing before opening",
			in:   "}\nsome text\n{",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Repair(tt.in); got != tt.want {
				t.Errorf("Repair(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
