// Package chunker splits documents into ordered, source-addressed chunks.
//
// Chunk text is always a slice of the source text, so the spans of
// consecutive chunks either touch or overlap and overlap regions are
// byte-identical. Sizes are measured in bytes and cuts never split a
// UTF-8 encoded rune.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	ErrInvalidPolicy = errors.New("invalid chunking policy")
	ErrEmptyDocument = errors.New("empty document")
)

type Splitter string

const (
	SplitterFixed     Splitter = "fixed"
	SplitterSentence  Splitter = "sentence"
	SplitterParagraph Splitter = "paragraph"
)

const (
	DefaultMaxChunkSize = 1000
	DefaultOverlap      = 100
)

type Policy struct {
	MaxChunkSize int      `json:"max_chunk_size" yaml:"maxChunkSize"`
	Overlap      int      `json:"overlap" yaml:"overlap"`
	Splitter     Splitter `json:"splitter" yaml:"splitter"`

	// TrimWhitespace excludes leading and trailing whitespace from every
	// chunk span. It is the only setting that leaves gaps in coverage.
	TrimWhitespace bool `json:"trim_whitespace,omitempty" yaml:"trimWhitespace"`
}

func DefaultPolicy() Policy {
	return Policy{
		MaxChunkSize: DefaultMaxChunkSize,
		Overlap:      DefaultOverlap,
		Splitter:     SplitterSentence,
	}
}

func (p Policy) Validate() error {
	if p.MaxChunkSize <= 0 {
		return fmt.Errorf("%w: max chunk size must be positive, got %d", ErrInvalidPolicy, p.MaxChunkSize)
	}

	if p.Overlap < 0 {
		return fmt.Errorf("%w: overlap must not be negative, got %d", ErrInvalidPolicy, p.Overlap)
	}

	if p.Overlap >= p.MaxChunkSize {
		return fmt.Errorf("%w: overlap %d must be smaller than max chunk size %d", ErrInvalidPolicy, p.Overlap, p.MaxChunkSize)
	}

	switch p.Splitter {
	case SplitterFixed, SplitterSentence, SplitterParagraph:
		return nil
	default:
		return fmt.Errorf("%w: unknown splitter %q", ErrInvalidPolicy, p.Splitter)
	}
}

type Document struct {
	ID   string
	Text string
}

type Chunk struct {
	DocumentID string `json:"document_id"`
	Index      int    `json:"index"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Text       string `json:"text"`
	Hash       string `json:"hash"`

	// ForceSplit marks chunks produced by hard-cutting a sentence or
	// paragraph that alone exceeds the maximum chunk size.
	ForceSplit bool `json:"force_split,omitempty"`
}

func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Split chunks the document according to the policy. Chunks are ordered by
// source position.
func Split(doc Document, policy Policy) ([]Chunk, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(doc.Text) == "" {
		return nil, ErrEmptyDocument
	}

	var spans []span
	switch policy.Splitter {
	case SplitterFixed:
		spans = fixedWindows(doc.Text, policy.MaxChunkSize, policy.Overlap)

	case SplitterSentence:
		units := boundedUnits(doc.Text, sentenceUnits(doc.Text), policy.MaxChunkSize)
		spans = pack(units, policy.MaxChunkSize, policy.Overlap)

	case SplitterParagraph:
		units := boundedUnits(doc.Text, paragraphUnits(doc.Text), policy.MaxChunkSize)
		spans = pack(units, policy.MaxChunkSize, policy.Overlap)
	}

	chunks := make([]Chunk, 0, len(spans))
	for _, s := range spans {
		if policy.TrimWhitespace {
			s = trim(doc.Text, s)
			if s.start == s.end {
				continue
			}
		}

		text := doc.Text[s.start:s.end]
		chunks = append(chunks, Chunk{
			DocumentID: doc.ID,
			Index:      len(chunks),
			Start:      s.start,
			End:        s.end,
			Text:       text,
			Hash:       ContentHash(text),
			ForceSplit: s.forced,
		})
	}

	return chunks, nil
}

type span struct {
	start  int
	end    int
	forced bool
}

func (s span) len() int {
	return s.end - s.start
}

var (
	sentenceEnd  = regexp.MustCompile(`[.!?]+["'’”)\]]*\s+`)
	paragraphEnd = regexp.MustCompile(`\n[ \t\r]*\n\s*`)
)

// sentenceUnits tiles text into sentences, each owning the whitespace that
// follows it.
func sentenceUnits(text string) []span {
	return unitsAt(text, sentenceEnd.FindAllStringIndex(text, -1))
}

func paragraphUnits(text string) []span {
	return unitsAt(text, paragraphEnd.FindAllStringIndex(text, -1))
}

func unitsAt(text string, ends [][]int) []span {
	units := make([]span, 0, len(ends)+1)

	start := 0
	for _, loc := range ends {
		if loc[1] <= start {
			continue
		}

		units = append(units, span{start: start, end: loc[1]})
		start = loc[1]
	}

	if start < len(text) {
		units = append(units, span{start: start, end: len(text)})
	}

	return units
}

// boundedUnits hard-cuts every unit longer than max into rune-aligned
// pieces.
func boundedUnits(text string, units []span, max int) []span {
	out := make([]span, 0, len(units))
	for _, u := range units {
		if u.len() <= max {
			out = append(out, u)
			continue
		}

		start := u.start
		for start < u.end {
			end := runeFloor(text, min(start+max, u.end), start)
			out = append(out, span{start: start, end: end, forced: true})
			start = end
		}
	}

	return out
}

// pack greedily merges consecutive units into chunks of at most max bytes.
// With overlap, trailing whole units of up to overlap bytes are repeated at
// the head of the next chunk.
func pack(units []span, max, overlap int) []span {
	var out []span

	i := 0
	for i < len(units) {
		j := i
		size := 0
		forced := false
		for j < len(units) && size+units[j].len() <= max {
			size += units[j].len()
			forced = forced || units[j].forced
			j++
		}

		out = append(out, span{start: units[i].start, end: units[j-1].end, forced: forced})

		if j >= len(units) {
			break
		}

		next := j
		if overlap > 0 {
			carried := 0
			for k := j - 1; k > i; k-- {
				if carried+units[k].len() > overlap {
					break
				}

				carried += units[k].len()
				next = k
			}

			// The next chunk must fit at least one new unit.
			for next < j && units[j].end-units[next].start > max {
				next++
			}
		}

		i = next
	}

	return out
}

func fixedWindows(text string, max, overlap int) []span {
	var out []span

	start := 0
	for start < len(text) {
		end := len(text)
		if start+max < len(text) {
			end = runeFloor(text, start+max, start)
		}

		out = append(out, span{start: start, end: end})

		if end >= len(text) {
			break
		}

		back := end - overlap
		if back <= start {
			back = start + 1
		}

		next := runeCeil(text, back)
		if next <= start {
			next = end
		}

		start = next
	}

	return out
}

// runeFloor moves i back to a rune boundary, never to or below floor.
func runeFloor(text string, i, floor int) int {
	j := i
	for j > floor && j < len(text) && !utf8.RuneStart(text[j]) {
		j--
	}

	if j == floor {
		// A single rune wider than the window; keep it whole.
		_, size := utf8.DecodeRuneInString(text[floor:])
		return floor + size
	}

	return j
}

func runeCeil(text string, i int) int {
	for i < len(text) && !utf8.RuneStart(text[i]) {
		i++
	}

	return i
}

func trim(text string, s span) span {
	for s.start < s.end {
		r, size := utf8.DecodeRuneInString(text[s.start:s.end])
		if !unicode.IsSpace(r) {
			break
		}
		s.start += size
	}

	for s.end > s.start {
		r, size := utf8.DecodeLastRuneInString(text[s.start:s.end])
		if !unicode.IsSpace(r) {
			break
		}
		s.end -= size
	}

	return s
}
