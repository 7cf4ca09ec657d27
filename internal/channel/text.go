// ABOUTME: Shared text shaping helpers for response postprocessing
// ABOUTME: Truncation at sentence boundaries and markdown stripping for speech

package channel

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	mdLink     = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdEmphasis = regexp.MustCompile("[*_`~]+")
	mdHeading  = regexp.MustCompile(`(?m)^#{1,6}\s+`)
)

// stripMarkdown flattens markdown to speakable plain text. Links keep their
// label, emphasis markers and headings are removed.
func stripMarkdown(s string) string {
	s = mdLink.ReplaceAllString(s, "$1")
	s = mdHeading.ReplaceAllString(s, "")
	s = mdEmphasis.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// truncateContent bounds content to max bytes, preferring to cut at the last
// full sentence and falling back to the last word boundary. Returns the
// (possibly shortened) content and whether truncation happened.
func truncateContent(content string, max int) (string, bool) {
	if max <= 0 || len(content) <= max {
		return content, false
	}

	cut := content[:max]
	// Don't split a multi-byte rune
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}

	if idx := strings.LastIndexAny(cut, ".!?"); idx > max/2 {
		return strings.TrimSpace(cut[:idx+1]), true
	}
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		return strings.TrimSpace(cut[:idx]), true
	}
	return cut, true
}

// escapeSSML escapes characters with meaning inside an SSML document.
func escapeSSML(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
	)
	return r.Replace(s)
}
