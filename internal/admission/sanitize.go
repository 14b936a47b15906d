package admission

import (
	"regexp"
	"strings"
	"unicode"
)

// Replacement words for platform tokens the synthesizer cannot pronounce.
const (
	wordMention = "someone"
	wordChannel = "channel"
	wordRole    = "role"
	wordEmoji   = "emoji"
	wordLink    = "link"
)

var (
	reEscape      = regexp.MustCompile(`\\(.)`)
	reUserMention = regexp.MustCompile(`<@!?\d+>`)
	reChannelRef  = regexp.MustCompile(`<#\d+>`)
	reRoleMention = regexp.MustCompile(`<@&\d+>`)
	reCustomEmoji = regexp.MustCompile(`<a?:\w+:\d+>`)
	reURL         = regexp.MustCompile(`<?https?://[^\s>]+>?`)
	reCodeFence   = regexp.MustCompile("```[a-zA-Z0-9]*")
	reQuoteLine   = regexp.MustCompile(`(?m)^>+\s?`)
	reMarkup      = regexp.MustCompile("[*_~|`]")
	reSpaces      = regexp.MustCompile(`\s+`)
)

// decorativeReplacer maps typographic punctuation onto plain ASCII the
// engines read without stumbling.
var decorativeReplacer = strings.NewReplacer(
	"…", "...",
	"‥", "..",
	"—", "-",
	"–", "-",
	"―", "-",
)

// Sanitize turns raw chat content into plain speakable text: platform
// tokens become generic words, markup markers and non-printable characters
// are stripped, whitespace collapses to single spaces, and anything past
// limit characters is cut with an ellipsis appended.
func Sanitize(raw string, limit int) string {
	s := decorativeReplacer.Replace(raw)
	s = reEscape.ReplaceAllString(s, "$1")

	s = reURL.ReplaceAllString(s, wordLink)
	s = reUserMention.ReplaceAllString(s, wordMention)
	s = reChannelRef.ReplaceAllString(s, wordChannel)
	s = reRoleMention.ReplaceAllString(s, wordRole)
	s = reCustomEmoji.ReplaceAllString(s, wordEmoji)

	s = reCodeFence.ReplaceAllString(s, "")
	s = reQuoteLine.ReplaceAllString(s, "")
	s = reMarkup.ReplaceAllString(s, "")

	s = stripNonPrintable(s)
	s = reSpaces.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	if runes := []rune(s); len(runes) > limit {
		s = string(runes[:limit]) + "..."
	}
	return s
}

// stripNonPrintable removes control and other unprintable runes. All
// whitespace flavors (tabs, newlines, ideographic space) become plain
// spaces so the collapsing pass sees them.
func stripNonPrintable(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return ' '
		}
		if unicode.IsPrint(r) {
			return r
		}
		return -1
	}, s)
}
