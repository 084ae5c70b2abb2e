package chatclient

import (
	"regexp"
	"strings"
)

// escapes run in this order; & must come first so later entities are not
// escaped twice.
var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#039;",
)

// Only web and mail targets become anchors; other schemes stay as text.
var markdownLink = regexp.MustCompile(`\[([^\]]+)\]\(((?i:https?://|mailto:)[^)\s]+)\)`)

// EscapeHTML replaces &, <, >, " and ' with their entities.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// RenderHTML turns message text into bubble markup. The text is escaped
// before newlines and [label](url) links are converted, so links only ever
// wrap escaped text.
func RenderHTML(content string) string {
	out := EscapeHTML(content)
	out = strings.ReplaceAll(out, "\n", "<br>")
	return markdownLink.ReplaceAllString(out, `<a href="$2" target="_blank" rel="noopener noreferrer">$1</a>`)
}
