package content

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

const PreviewLength = 100

var (
	policy      = bluemonday.UGCPolicy()
	textPolicy  = bluemonday.StrictPolicy()
	markdown    = goldmark.New()
	ellipsis    = "…"
	spaceFolder = strings.NewReplacer("\n", " ", "\r", " ", "\t", " ")
)

// Sanitize removes unsafe HTML from the input string using a UGC policy.
// It is used for message bodies. Input without any markup is returned
// unchanged, so plain text such as "5 < 6 & 7" is not entity-escaped.
func Sanitize(input string) string {
	if isPlainText(input) {
		return input
	}
	return policy.Sanitize(input)
}

// isPlainText reports whether input holds no tags, comments or entities:
// stripping every element must give the same result as escaping the text.
func isPlainText(input string) bool {
	return textPolicy.Sanitize(input) == html.EscapeString(input)
}

// SanitizeText strips all markup. It is used for short attributes like group
// names and descriptions.
func SanitizeText(input string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(input)))
}

// ValidateMessage checks that a message body is neither blank nor longer than
// maxLen runes.
func ValidateMessage(body string, maxLen int) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("message cannot be empty")
	}
	if maxLen > 0 && utf8.RuneCountInString(body) > maxLen {
		return fmt.Errorf("message exceeds %d characters", maxLen)
	}
	return nil
}

// Preview renders a message body (markdown allowed) to a single line of plain
// text no longer than PreviewLength runes.
func Preview(body string) string {
	var buf bytes.Buffer
	text := body
	if err := markdown.Convert([]byte(body), &buf); err == nil {
		text = textPolicy.Sanitize(buf.String())
	}
	text = html.UnescapeString(text)
	text = strings.Join(strings.Fields(spaceFolder.Replace(text)), " ")

	if utf8.RuneCountInString(text) <= PreviewLength {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:PreviewLength])) + ellipsis
}
