package chunk

import (
	"strings"
)

const (
	// DefaultChunkTokens is the token budget of a single chunk.
	DefaultChunkTokens = 800
	// DefaultOverlapTokens is how many trailing tokens of a chunk are
	// repeated at the start of the next one.
	DefaultOverlapTokens = 200
)

// Splitter cuts document text into token-budgeted chunks. Cuts land on
// sentence boundaries where possible; consecutive chunks share up to
// overlap tokens of trailing sentences so that statements spanning a cut
// stay retrievable. Splitting is deterministic for a given counter.
type Splitter struct {
	counter   TokenCounter
	maxTokens int
	overlap   int
}

// NewSplitter returns a Splitter with the given budgets. Non-positive
// maxTokens and negative overlap fall back to the defaults; an overlap
// at or above maxTokens is reduced to a quarter of the budget. A nil
// counter falls back to WordCounter.
func NewSplitter(counter TokenCounter, maxTokens, overlap int) *Splitter {
	if counter == nil {
		counter = WordCounter{}
	}
	if maxTokens <= 0 {
		maxTokens = DefaultChunkTokens
	}
	if overlap < 0 {
		overlap = DefaultOverlapTokens
	}
	if overlap >= maxTokens {
		overlap = maxTokens / 4
	}
	return &Splitter{counter: counter, maxTokens: maxTokens, overlap: overlap}
}

// Split returns the chunks of text in document order. Whitespace is
// normalized to single spaces inside each chunk. Empty or blank text
// yields no chunks.
func (s *Splitter) Split(text string) []string {
	units := s.units(text)
	if len(units) == 0 {
		return nil
	}

	counts := make([]int, len(units))
	for i, u := range units {
		counts[i] = s.counter.Count(u)
	}

	var chunks []string
	var tail []int
	i := 0
	for i < len(units) {
		var cur []int
		tokens := 0
		for _, idx := range tail {
			cur = append(cur, idx)
			tokens += counts[idx]
		}

		// The next unit always joins its chunk; shed overlap units
		// from the front until it fits the budget.
		for len(cur) > 0 && tokens+counts[i] > s.maxTokens {
			tokens -= counts[cur[0]]
			cur = cur[1:]
		}
		cur = append(cur, i)
		tokens += counts[i]
		i++

		for i < len(units) && tokens+counts[i] <= s.maxTokens {
			cur = append(cur, i)
			tokens += counts[i]
			i++
		}

		parts := make([]string, len(cur))
		for j, idx := range cur {
			parts[j] = units[idx]
		}
		chunks = append(chunks, strings.Join(parts, " "))

		tail = overlapTail(cur, counts, s.overlap)
	}

	return chunks
}

// units segments text into sentences, word-packing any sentence that
// exceeds the chunk budget on its own.
func (s *Splitter) units(text string) []string {
	var units []string
	for _, sentence := range splitSentences(text) {
		if s.counter.Count(sentence) <= s.maxTokens {
			units = append(units, sentence)
			continue
		}
		units = append(units, s.packWords(sentence)...)
	}
	return units
}

// packWords splits an oversized sentence into pieces that fit the chunk
// budget, never breaking inside a word.
func (s *Splitter) packWords(sentence string) []string {
	var pieces []string
	var cur []string
	tokens := 0
	for _, word := range strings.Fields(sentence) {
		n := s.counter.Count(word)
		if len(cur) > 0 && tokens+n > s.maxTokens {
			pieces = append(pieces, strings.Join(cur, " "))
			cur, tokens = nil, 0
		}
		cur = append(cur, word)
		tokens += n
	}
	if len(cur) > 0 {
		pieces = append(pieces, strings.Join(cur, " "))
	}
	return pieces
}

// overlapTail selects the trailing units of a chunk that fit the overlap
// budget, to be repeated at the start of the next chunk.
func overlapTail(cur []int, counts []int, overlap int) []int {
	if overlap <= 0 {
		return nil
	}
	tokens := 0
	start := len(cur)
	for start > 0 && tokens+counts[cur[start-1]] <= overlap {
		start--
		tokens += counts[cur[start]]
	}
	return append([]int(nil), cur[start:]...)
}

// splitSentences segments text into trimmed sentences. A sentence ends at
// '.', '!' or '?' followed by whitespace, or at a line break. Periods
// inside numbers like 3.5 do not end a sentence.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	flush := func() {
		s := strings.TrimSpace(current.String())
		if s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		if r == '\n' || r == '\r' {
			flush()
			continue
		}
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if i+1 == len(runes) || runes[i+1] == ' ' || runes[i+1] == '\t' || runes[i+1] == '\n' || runes[i+1] == '\r' {
				flush()
			}
		}
	}
	flush()

	return sentences
}
