package content

import (
	"bytes"
	"errors"
	"html/template"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	policy              = bluemonday.UGCPolicy()
	markdown            = goldmark.New(goldmark.WithExtensions(extension.Linkify, extension.Strikethrough))
	conversationIDRegex = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)
)

// Sanitize removes unsafe HTML from the input string using a strict policy.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// Escape escapes special characters like "<" to become "&lt;".
func Escape(input string) string {
	return template.HTMLEscapeString(input)
}

// Markdown renders message text to HTML and sanitizes the result.
func Markdown(input string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(input), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(policy.Sanitize(buf.String())), nil
}

// IsBlank reports whether the message text has nothing worth sending.
func IsBlank(input string) bool {
	return strings.TrimSpace(input) == ""
}

// ValidateConversationID checks that the id is safe to put into a URL path.
func ValidateConversationID(id string) error {
	if id == "" {
		return errors.New("conversation id cannot be empty")
	}
	if !conversationIDRegex.MatchString(id) {
		return errors.New("conversation id contains invalid characters (allowed: alphanumeric, dot, colon, dash, underscore)")
	}
	return nil
}
