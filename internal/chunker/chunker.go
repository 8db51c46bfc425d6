// Package chunker splits source text into overlapping windows sized for
// embedding and indexing.
package chunker

import (
	"strings"
	"unicode"
)

const (
	// DefaultTargetSize is the target chunk length in characters.
	DefaultTargetSize = 400
	// DefaultOverlap is the number of trailing characters repeated at the
	// start of the next chunk, preserving context across a boundary.
	DefaultOverlap = 50
	// MinChunkLength drops any produced window shorter than this; it is too
	// small to carry useful retrieval signal on its own.
	MinChunkLength = 50
)

// Options configures chunking behavior.
type Options struct {
	TargetSize int
	Overlap    int
	MinLength  int
}

// DefaultOptions returns the reference chunking options.
func DefaultOptions() Options {
	return Options{
		TargetSize: DefaultTargetSize,
		Overlap:    DefaultOverlap,
		MinLength:  MinChunkLength,
	}
}

// Result is one produced chunk, contiguously renumbered after filtering.
type Result struct {
	Index int
	Text  string
}

// Chunk splits text recursively on paragraph, sentence, word, and finally
// character boundaries, producing windows of roughly opts.TargetSize runes
// with opts.Overlap runes repeated across each boundary. Windows shorter
// than opts.MinLength are discarded and survivors are renumbered from zero.
// Empty or whitespace-only input yields nil.
func Chunk(text string, opts Options) []Result {
	if opts.TargetSize <= 0 {
		opts = DefaultOptions()
	}
	if opts.MinLength <= 0 {
		opts.MinLength = MinChunkLength
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	windows := split(text, opts.TargetSize, opts.Overlap)

	var results []Result
	idx := 0
	for _, w := range windows {
		w = strings.TrimSpace(w)
		if len([]rune(w)) < opts.MinLength {
			continue
		}
		results = append(results, Result{Index: idx, Text: w})
		idx++
	}
	return results
}

// split recursively partitions text into target-sized windows with overlap,
// preferring to break on paragraph boundaries, then sentences, then words,
// and falling back to a hard character split when no natural boundary
// exists within a unit larger than target.
func split(text string, target, overlap int) []string {
	runes := []rune(text)
	if len(runes) <= target {
		return []string{text}
	}

	units := splitOnBoundary(text, splitParagraphs)
	if len(units) <= 1 {
		units = splitOnBoundary(text, splitSentences)
	}
	if len(units) <= 1 {
		units = splitOnBoundary(text, splitWords)
	}
	if len(units) <= 1 {
		return hardSplit(text, target, overlap)
	}

	return window(units, target, overlap)
}

// window greedily accumulates units into chunks of approximately target
// runes, then recurses into any oversized unit, and primes the next chunk
// with the trailing overlap runes of the previous one.
func window(units []string, target, overlap int) []string {
	var out []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		t := strings.TrimSpace(cur.String())
		if t != "" {
			out = append(out, t)
		}
		cur.Reset()
		curLen = 0
	}

	for _, u := range units {
		uLen := len([]rune(u))

		if uLen > target {
			flush()
			out = append(out, split(u, target, overlap)...)
			continue
		}

		if curLen > 0 && curLen+uLen > target {
			flush()
			if overlap > 0 && len(out) > 0 {
				tail := lastRunes(out[len(out)-1], overlap)
				cur.WriteString(tail)
				curLen = len([]rune(tail))
			}
		}
		cur.WriteString(u)
		curLen += uLen
	}
	flush()

	return out
}

// hardSplit breaks text on raw rune boundaries when no paragraph, sentence,
// or word boundary is available, still honoring overlap.
func hardSplit(text string, target, overlap int) []string {
	runes := []rune(text)
	var out []string
	step := target - overlap
	if step <= 0 {
		step = target
	}

	for start := 0; start < len(runes); start += step {
		end := start + target
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

func lastRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

type boundaryFunc func(text string) []string

// splitParagraphs breaks on blank lines, keeping the separator attached to
// the preceding unit so whitespace is not lost on reassembly.
func splitParagraphs(text string) []string {
	parts := strings.Split(text, "\n\n")
	return rejoin(parts, "\n\n")
}

// splitSentences breaks after '.', '!', or '?' followed by whitespace.
func splitSentences(text string) []string {
	var units []string
	var cur strings.Builder
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		cur.WriteRune(runes[i])
		isEnd := runes[i] == '.' || runes[i] == '!' || runes[i] == '?'
		if isEnd && (i+1 >= len(runes) || unicode.IsSpace(runes[i+1])) {
			units = append(units, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		units = append(units, cur.String())
	}
	return units
}

// splitWords breaks on runs of whitespace, keeping a trailing space attached
// to each word so units can be concatenated without a join separator.
func splitWords(text string) []string {
	var units []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if unicode.IsSpace(r) {
			units = append(units, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		units = append(units, cur.String())
	}
	return units
}

// rejoin reattaches sep to every part but the last, so splitting and later
// concatenating parts reproduces the original text exactly.
func rejoin(parts []string, sep string) []string {
	if len(parts) <= 1 {
		return parts
	}
	out := make([]string, len(parts))
	for i, p := range parts {
		if i < len(parts)-1 {
			out[i] = p + sep
		} else {
			out[i] = p
		}
	}
	return out
}

// splitOnBoundary applies fn and filters out empty units.
func splitOnBoundary(text string, fn boundaryFunc) []string {
	raw := fn(text)
	out := raw[:0]
	for _, u := range raw {
		if u != "" {
			out = append(out, u)
		}
	}
	return out
}
