package pipeline

import (
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSegmenter_SentenceBreaks(t *testing.T) {
	s := NewSegmenter(120)

	chunks := s.Push("Hello there. How are")
	require.Equal(t, []string{"Hello there."}, chunks)

	chunks = s.Push(" you today? Fine")
	require.Equal(t, []string{"How are you today?"}, chunks)

	assert.Equal(t, "Fine", s.Flush())
	assert.Equal(t, "", s.Flush())
}

func TestSegmenter_CJKPunctuation(t *testing.T) {
	s := NewSegmenter(120)

	chunks := s.Push("你好。今天天气怎么样？还不")
	require.Equal(t, []string{"你好。", "今天天气怎么样？"}, chunks)
	assert.Equal(t, "还不", s.Flush())
}

func TestSegmenter_MaxLenFallback(t *testing.T) {
	s := NewSegmenter(10)

	chunks := s.Push("aaaaaaaaaabbbbbbbbbbcc")
	require.Equal(t, []string{"aaaaaaaaaa", "bbbbbbbbbb"}, chunks)
	assert.Equal(t, "cc", s.Flush())
}

func TestSegmenter_SkipsWhitespaceOnlyChunks(t *testing.T) {
	s := NewSegmenter(120)

	chunks := s.Push("One... ")
	// Consecutive dots produce no empty chunks.
	require.Equal(t, []string{"One."}, chunks)
	assert.Equal(t, "", s.Flush())
}

func TestSegmenter_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxLen := rapid.IntRange(1, 50).Draw(t, "maxLen")
		fragments := rapid.SliceOfN(rapid.String(), 0, 20).Draw(t, "fragments")

		s := NewSegmenter(maxLen)
		var chunks []string
		for _, f := range fragments {
			chunks = append(chunks, s.Push(f)...)
		}
		if rest := s.Flush(); rest != "" {
			chunks = append(chunks, rest)
		}

		keep := func(r rune) bool { return unicode.IsLetter(r) || unicode.IsNumber(r) }
		var fromChunks, fromInput []rune
		for _, c := range chunks {
			if c == "" {
				t.Fatal("empty chunk emitted")
			}
			if len([]rune(c)) > maxLen {
				t.Fatalf("chunk longer than maxLen: %q", c)
			}
			for _, r := range c {
				if keep(r) {
					fromChunks = append(fromChunks, r)
				}
			}
		}
		for _, r := range strings.Join(fragments, "") {
			if keep(r) {
				fromInput = append(fromInput, r)
			}
		}
		if string(fromChunks) != string(fromInput) {
			t.Fatalf("content lost: %q != %q", string(fromChunks), string(fromInput))
		}
	})
}

func TestStripPunctuation(t *testing.T) {
	assert.Equal(t, "goodbye", stripPunctuation("Goodbye!"))
	assert.Equal(t, "再见", stripPunctuation("再见。"))
	assert.Equal(t, "seeyou", stripPunctuation("  See you...  "))
	assert.Equal(t, "", stripPunctuation("?!"))
}
