package ai

import (
	"strings"
	"unicode/utf8"
)

const DefaultChunkSize = 500

func isSentenceTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '\n'
}

// SplitSentences cuts text after every run of terminal punctuation or newlines.
// Joining the result yields text unchanged.
func SplitSentences(text string) []string {
	var out []string
	start := 0
	inTerminal := false
	for i, r := range text {
		terminal := isSentenceTerminal(r)
		if inTerminal && !terminal {
			out = append(out, text[start:i])
			start = i
		}
		inTerminal = terminal
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

// Chunk packs whole sentences greedily into passages of at most maxLength
// characters. A sentence longer than maxLength becomes a passage on its own.
// Passages are trimmed and never overlap; blank passages are dropped.
func Chunk(text string, maxLength int) []string {
	if maxLength <= 0 {
		maxLength = DefaultChunkSize
	}
	var (
		chunks []string
		buf    strings.Builder
		bufLen int
	)
	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			chunks = append(chunks, s)
		}
		buf.Reset()
		bufLen = 0
	}
	for _, sentence := range SplitSentences(text) {
		n := utf8.RuneCountInString(sentence)
		if bufLen > 0 && bufLen+n > maxLength {
			flush()
		}
		buf.WriteString(sentence)
		bufLen += n
	}
	flush()
	return chunks
}
