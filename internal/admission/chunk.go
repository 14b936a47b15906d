package admission

import (
	"strings"
	"unicode"
)

// sentence-terminating runes, ASCII and Japanese.
var terminators = map[rune]bool{
	'.':  true,
	'!':  true,
	'?':  true,
	'\n': true,
	'。':  true,
	'！':  true,
	'？':  true,
}

// Chunk splits text into pieces of at most limit characters, cutting at the
// last sentence terminator inside the window when one exists and at the
// hard limit otherwise. Order is preserved and concatenating the chunks
// (modulo boundary whitespace) reproduces text.
func Chunk(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if limit <= 0 || len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > limit {
		cut := lastTerminator(runes[:limit])
		if cut < 0 {
			cut = limit - 1
		}
		if piece := strings.TrimSpace(string(runes[:cut+1])); piece != "" {
			chunks = append(chunks, piece)
		}
		runes = trimLeadingSpace(runes[cut+1:])
	}
	if piece := strings.TrimSpace(string(runes)); piece != "" {
		chunks = append(chunks, piece)
	}
	return chunks
}

// lastTerminator returns the index of the last sentence terminator in
// window, or -1 when it holds none.
func lastTerminator(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if terminators[window[i]] {
			return i
		}
	}
	return -1
}

func trimLeadingSpace(runes []rune) []rune {
	for len(runes) > 0 && unicode.IsSpace(runes[0]) {
		runes = runes[1:]
	}
	return runes
}
