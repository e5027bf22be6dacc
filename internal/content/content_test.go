package content

import (
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Plain text", "Hello World", "Hello World"},
		{"HTML tags", "Hello <b>World</b>", "Hello <b>World</b>"},
		{"Script tag", "<script>alert('xss')</script>Hello", "Hello"},
		{"Complex HTML", "<a href='javascript:alert(1)'>Click me</a>", "Click me"},
		{"Emoji", "I am 🤖", "I am 🤖"},
		{"Comparison kept raw", "5 < 6 & 7", "5 < 6 & 7"},
		{"Quotes kept raw", `Tom said "O- only" & left`, `Tom said "O- only" & left`},
		{"Escaped markup stays escaped", "&lt;script&gt;", "&lt;script&gt;"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.input); got != tt.expected {
				t.Errorf("Sanitize() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSanitizeText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Plain text", "Donors of Lyon", "Donors of Lyon"},
		{"Tags stripped", "<b>Donors</b> ", "Donors"},
		{"Ampersand kept", "Tom & Jerry", "Tom & Jerry"},
		{"Script", "<script>alert('xss')</script>Group", "Group"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeText(tt.input); got != tt.expected {
				t.Errorf("SanitizeText() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		maxLen  int
		wantErr bool
	}{
		{"Valid", "hello", 10, false},
		{"Blank", "   ", 10, true},
		{"Empty", "", 10, true},
		{"Too long", "hello world", 5, true},
		{"Exact runes", "привет", 6, false},
		{"No limit", strings.Repeat("a", 10000), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateMessage(tt.input, tt.maxLen); (err != nil) != tt.wantErr {
				t.Errorf("ValidateMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Plain", "hello", "hello"},
		{"Markdown", "**Hello** _world_", "Hello world"},
		{"Entities", "a & b", "a & b"},
		{"Multiline", "first line\n\nsecond line", "first line second line"},
		{"Truncated", strings.Repeat("a", 150), strings.Repeat("a", PreviewLength) + "…"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Preview(tt.input); got != tt.expected {
				t.Errorf("Preview() = %q, want %q", got, tt.expected)
			}
		})
	}
}
