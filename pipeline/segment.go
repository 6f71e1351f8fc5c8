package pipeline

import (
	"strings"
	"unicode"
)

// breakRunes end a synthesizable chunk. Both ASCII and CJK sentence
// punctuation count.
const breakRunes = ".!?;:。！？；：…"

// Segmenter accumulates streamed text fragments and cuts them into
// sentence-sized chunks as soon as a natural break appears, so synthesis can
// begin before the full reply is generated. Not safe for concurrent use.
type Segmenter struct {
	maxLen int
	buf    []rune
}

// NewSegmenter builds a segmenter that also cuts at maxLen runes when no
// punctuation shows up.
func NewSegmenter(maxLen int) *Segmenter {
	if maxLen <= 0 {
		maxLen = 120
	}
	return &Segmenter{maxLen: maxLen}
}

// Push feeds one fragment and returns any chunks it completed, in order.
func (s *Segmenter) Push(fragment string) []string {
	var out []string
	for _, r := range fragment {
		s.buf = append(s.buf, r)
		if isBreak(r) || len(s.buf) >= s.maxLen {
			if chunk := strings.TrimSpace(string(s.buf)); speakable(chunk) {
				out = append(out, chunk)
			}
			s.buf = s.buf[:0]
		}
	}
	return out
}

// Flush returns whatever text remains after the stream ends, or "" when the
// remainder has nothing worth synthesizing.
func (s *Segmenter) Flush() string {
	chunk := strings.TrimSpace(string(s.buf))
	s.buf = s.buf[:0]
	if !speakable(chunk) {
		return ""
	}
	return chunk
}

func isBreak(r rune) bool {
	return strings.ContainsRune(breakRunes, r)
}

// speakable reports whether the chunk contains anything a TTS voice can say.
// Punctuation-only runs (ellipses, stray commas) are dropped.
func speakable(chunk string) bool {
	for _, r := range chunk {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return true
		}
	}
	return false
}

// stripPunctuation lowers the text and removes punctuation and spaces, the
// normalization used for exit phrase matching.
func stripPunctuation(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
