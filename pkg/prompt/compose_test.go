package prompt

import (
	"errors"
	"testing"
)

func TestCompose(t *testing.T) {
	tests := []struct {
		name      string
		template  string
		input     string
		userInput string
		language  string
		want      string
	}{
		{
			name:     "template uses input",
			template: "Analyze: {{input}}",
			input:    "todo app",
			want:     "Analyze: todo app",
		},
		{
			name:      "template uses user_input",
			template:  "Original: {{user_input}}",
			input:     "spec text",
			userInput: "todo app",
			want:      "Original: todo app",
		},
		{
			name:     "raw system prompt gets input appended",
			template: "You are a frontend expert.\n",
			input:    "todo app",
			want:     "You are a frontend expert.\n\ntodo app",
		},
		{
			name:     "language block",
			template: "{{input}}{{#if language}} Answer in {{language}}.{{/if}}",
			input:    "x",
			language: "Spanish",
			want:     "x Answer in Spanish.",
		},
		{
			name:     "empty template",
			template: "",
			input:    "x",
			want:     "x",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compose(nil, tt.template, tt.input, tt.userInput, tt.language)
			if err != nil {
				t.Fatalf("Compose() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Compose() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCompose_InvalidTemplate(t *testing.T) {
	_, err := Compose(NewRenderer(), "{{input", "x", "x", "")
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Compose() error = %v, want *ValidationError", err)
	}
}
