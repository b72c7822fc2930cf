// Package sanitize cleans host-supplied strings before they reach the
// knowledge graph. Tab ids, URLs and free text arrive from the browser host
// and later flow back out in nudge contexts that are handed to a language
// model, so they are stripped of control characters, markup and prompt
// structure here.
package sanitize

import (
	"regexp"
	"strings"
)

// MaxTabIDLength is the maximum allowed length for tab identifiers.
const MaxTabIDLength = 128

// MaxURLLength is the maximum allowed length for URLs.
const MaxURLLength = 2048

// MaxTextLength is the maximum allowed length for free text such as
// context filters, similarity queries and rendered descriptions.
const MaxTextLength = 500

// Pre-compiled regular expressions for performance.
var (
	// reXMLTag matches XML/HTML tags including those with attributes and self-closing tags.
	// It also matches XML processing instructions like <?xml ...?>.
	reXMLTag = regexp.MustCompile(`<[/?!]?[a-zA-Z][a-zA-Z0-9]*(?:\s+[^>]*)?/?>|<\?[^?]*\?>`)

	// reMarkdownHeading matches markdown headings at the start of a line (# , ## , etc.).
	reMarkdownHeading = regexp.MustCompile(`(?m)^#{1,6}\s+`)

	// reHorizontalRule matches markdown horizontal rules (---, ***, ___) at the start of a line.
	reHorizontalRule = regexp.MustCompile(`(?m)^[-*_]{3,}\s*$`)

	reTripleBacktick = regexp.MustCompile("```+")

	// reWhitespaceRun matches any run of whitespace, newlines included.
	reWhitespaceRun = regexp.MustCompile(`\s+`)

	reRepeatedHyphens     = regexp.MustCompile(`-{2,}`)
	reRepeatedUnderscores = regexp.MustCompile(`_{2,}`)
)

// TabID keeps only [a-zA-Z0-9-_:.] and enforces MaxTabIDLength. Repeated
// hyphens and underscores are collapsed. An id made only of other
// characters sanitizes to "".
func TabID(input string) string {
	if input == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == ':' || r == '.' {
			b.WriteRune(r)
		}
	}
	s := b.String()

	s = reRepeatedHyphens.ReplaceAllString(s, "-")
	s = reRepeatedUnderscores.ReplaceAllString(s, "_")

	if len(s) > MaxTabIDLength {
		s = s[:MaxTabIDLength]
	}
	return s
}

// URL strips control characters and surrounding whitespace and enforces
// MaxURLLength. It does not parse the URL; malformed URLs are left for the
// trackers to ignore.
func URL(input string) string {
	if input == "" {
		return ""
	}
	s := strings.TrimSpace(stripControlChars(input, false))
	if len(s) > MaxURLLength {
		s = s[:MaxURLLength]
	}
	return s
}

// Text sanitizes free text to a single safe line. The pipeline:
//  1. Strip null bytes and ASCII control characters
//  2. Strip XML/HTML tags
//  3. Replace markdown headings with list markers
//  4. Remove markdown horizontal rules
//  5. Collapse triple backticks to a single backtick
//  6. Collapse whitespace runs, newlines included, to one space
//  7. Trim, then truncate to MaxTextLength
func Text(input string) string {
	if input == "" {
		return ""
	}

	s := stripControlChars(input, true)
	s = reXMLTag.ReplaceAllString(s, "")
	s = reMarkdownHeading.ReplaceAllString(s, "- ")
	s = reHorizontalRule.ReplaceAllString(s, "")
	s = reTripleBacktick.ReplaceAllString(s, "`")
	s = reWhitespaceRun.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	if len(s) > MaxTextLength {
		s = s[:MaxTextLength] + "..."
	}
	return s
}

// stripControlChars removes ASCII control characters (0x00-0x1F and DEL).
// With keepLines, newline and tab survive.
func stripControlChars(s string, keepLines bool) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			if !keepLines || (r != '\n' && r != '\t') {
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}
