package sanitize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	// StrictPolicy removes all HTML tags and attributes.
	StrictPolicy = bluemonday.StrictPolicy()

	// UGCPolicy keeps basic formatting such as <p>, <b>, <a> and lists.
	UGCPolicy = bluemonday.UGCPolicy()
)

// Text strips all markup and returns trimmed plain text. Entities produced by
// the policy are decoded so "Rock & Roll" survives unchanged.
func Text(input string) string {
	return strings.TrimSpace(html.UnescapeString(StrictPolicy.Sanitize(input)))
}

// HTML removes scripts, event handlers and styles but keeps safe formatting.
func HTML(input string) string {
	return strings.TrimSpace(UGCPolicy.Sanitize(input))
}
