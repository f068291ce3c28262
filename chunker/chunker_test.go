package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

const cv = "Mark is a senior engineer. He builds retrieval systems in Go. " +
	"He has worked with vector stores for five years. He speaks English and German."

func assertCoverage(assert *assert.Assertions, text string, chunks []Chunk) {
	if !assert.NotEmpty(chunks) {
		return
	}

	assert.Equal(0, chunks[0].Start)
	assert.Equal(len(text), chunks[len(chunks)-1].End)

	for i, c := range chunks {
		assert.Equal(i, c.Index)
		assert.Equal(text[c.Start:c.End], c.Text)
		assert.Equal(ContentHash(c.Text), c.Hash)

		if i > 0 {
			prev := chunks[i-1]
			assert.LessOrEqual(c.Start, prev.End, "gap between chunk %d and %d", i-1, i)
			assert.Greater(c.Start, prev.Start)
		}
	}
}

func TestSplitSentencesWithoutOverlap(t *testing.T) {
	assert := assert.New(t)

	text := "Alpha one. Beta two. Gamma three."
	policy := Policy{
		MaxChunkSize: len("Alpha one. Beta two. "),
		Splitter:     SplitterSentence,
	}

	chunks, err := Split(Document{ID: "doc", Text: text}, policy)
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.Len(chunks, 2)
	assert.Equal("Alpha one. Beta two. ", chunks[0].Text)
	assert.Equal("Gamma three.", chunks[1].Text)
	assert.Equal(chunks[0].End, chunks[1].Start)
	assert.Equal("doc", chunks[1].DocumentID)
	assertCoverage(assert, text, chunks)
}

func TestSplitSentencesWithOverlap(t *testing.T) {
	assert := assert.New(t)

	policy := Policy{
		MaxChunkSize: 90,
		Overlap:      40,
		Splitter:     SplitterSentence,
	}

	chunks, err := Split(Document{ID: "cv", Text: cv}, policy)
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.Greater(len(chunks), 1)
	assertCoverage(assert, cv, chunks)

	overlapped := false
	for i := 1; i < len(chunks); i++ {
		prev, c := chunks[i-1], chunks[i]
		assert.LessOrEqual(c.End-c.Start, policy.MaxChunkSize)

		if c.Start < prev.End {
			overlapped = true
			overlap := cv[c.Start:prev.End]
			assert.LessOrEqual(len(overlap), policy.Overlap)
			assert.True(strings.HasSuffix(prev.Text, overlap))
			assert.True(strings.HasPrefix(c.Text, overlap))
		}
	}

	assert.True(overlapped)
}

func TestSplitFixedOverlapIsByteIdentical(t *testing.T) {
	assert := assert.New(t)

	text := strings.Repeat("abcdefghij", 10)
	policy := Policy{
		MaxChunkSize: 30,
		Overlap:      10,
		Splitter:     SplitterFixed,
	}

	chunks, err := Split(Document{ID: "fixed", Text: text}, policy)
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	assertCoverage(assert, text, chunks)

	for i := 1; i < len(chunks); i++ {
		prev, c := chunks[i-1], chunks[i]
		assert.Equal(prev.End-policy.Overlap, c.Start)
		assert.Equal(prev.Text[len(prev.Text)-policy.Overlap:], c.Text[:policy.Overlap])
	}
}

func TestSplitFixedIsRuneSafe(t *testing.T) {
	assert := assert.New(t)

	text := strings.Repeat("日本語テキスト", 20)
	policy := Policy{
		MaxChunkSize: 32,
		Overlap:      8,
		Splitter:     SplitterFixed,
	}

	chunks, err := Split(Document{ID: "utf8", Text: text}, policy)
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	assertCoverage(assert, text, chunks)
	for _, c := range chunks {
		assert.True(utf8.ValidString(c.Text))
		assert.LessOrEqual(len(c.Text), policy.MaxChunkSize)
	}

	// overlap close to the window on a rune boundary pulled back below it
	for _, text := range []string{"abcdefgh日本", "ab日本語テキストcd", strings.Repeat("é日", 9)} {
		policy := Policy{
			MaxChunkSize: 10,
			Overlap:      9,
			Splitter:     SplitterFixed,
		}

		chunks, err := Split(Document{ID: "utf8", Text: text}, policy)
		if err != nil {
			assert.Fail(err.Error())
			return
		}

		assertCoverage(assert, text, chunks)
		for _, c := range chunks {
			assert.True(utf8.ValidString(c.Text))
			assert.LessOrEqual(len(c.Text), policy.MaxChunkSize)
		}
	}
}

func TestSplitForcesLongSentence(t *testing.T) {
	assert := assert.New(t)

	long := strings.Repeat("x", 50)
	text := "Short one. " + long + ". Tail."
	policy := Policy{
		MaxChunkSize: 20,
		Splitter:     SplitterSentence,
	}

	chunks, err := Split(Document{ID: "long", Text: text}, policy)
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	assertCoverage(assert, text, chunks)

	forced := 0
	for _, c := range chunks {
		assert.LessOrEqual(len(c.Text), policy.MaxChunkSize)
		if c.ForceSplit {
			forced++
		}
	}

	assert.GreaterOrEqual(forced, 3)
	assert.False(chunks[0].ForceSplit)
}

func TestSplitParagraphs(t *testing.T) {
	assert := assert.New(t)

	text := "First paragraph line.\nStill first.\n\nSecond paragraph.\n\n\nThird."
	policy := Policy{
		MaxChunkSize: 40,
		Splitter:     SplitterParagraph,
	}

	chunks, err := Split(Document{ID: "para", Text: text}, policy)
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	assertCoverage(assert, text, chunks)
	assert.Equal("First paragraph line.\nStill first.\n\n", chunks[0].Text)
}

func TestSplitTrimWhitespace(t *testing.T) {
	assert := assert.New(t)

	text := "Alpha one.   Beta two.   "
	policy := Policy{
		MaxChunkSize: 13,
		Splitter:     SplitterSentence,

		TrimWhitespace: true,
	}

	chunks, err := Split(Document{ID: "trim", Text: text}, policy)
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.Len(chunks, 2)
	assert.Equal("Alpha one.", chunks[0].Text)
	assert.Equal("Beta two.", chunks[1].Text)
	assert.Equal(text[chunks[1].Start:chunks[1].End], chunks[1].Text)
}

func TestSplitIsDeterministic(t *testing.T) {
	assert := assert.New(t)

	policy := DefaultPolicy()
	policy.MaxChunkSize = 64
	policy.Overlap = 16

	first, err := Split(Document{ID: "cv", Text: cv}, policy)
	assert.NoError(err)

	second, err := Split(Document{ID: "cv", Text: cv}, policy)
	assert.NoError(err)

	assert.Equal(first, second)
}

func TestSplitErrors(t *testing.T) {
	assert := assert.New(t)

	_, err := Split(Document{ID: "empty", Text: "  \n\t "}, DefaultPolicy())
	assert.ErrorIs(err, ErrEmptyDocument)

	invalid := []Policy{
		{MaxChunkSize: 0, Splitter: SplitterFixed},
		{MaxChunkSize: 10, Overlap: -1, Splitter: SplitterFixed},
		{MaxChunkSize: 10, Overlap: 10, Splitter: SplitterFixed},
		{MaxChunkSize: 10, Splitter: "word"},
	}

	for _, p := range invalid {
		_, err := Split(Document{ID: "doc", Text: cv}, p)
		assert.ErrorIs(err, ErrInvalidPolicy)
	}
}
