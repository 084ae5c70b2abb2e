package search

import (
	"html"
	"regexp"
	"strings"
)

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	titleRe  = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
)

// stripTags reduces an HTML page to its visible text.
func stripTags(page string) string {
	page = scriptRe.ReplaceAllString(page, " ")
	page = tagRe.ReplaceAllString(page, " ")
	return html.UnescapeString(page)
}

func htmlTitle(page string) string {
	m := titleRe.FindStringSubmatch(page)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(m[1]))
}
