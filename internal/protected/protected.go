// Package protected lifts user-marked literal spans out of text before it is
// sent to the generator and puts them back afterwards.
//
// A protected span is written as
//
//	[[PROTECTED]] literal text [[/PROTECTED]]
//
// and is replaced by a {{PROTECTED_BLOCK_n}} placeholder on its own line.
// Placeholders are plain literals; if the source text already contains one,
// Merge rewrites it as well.
package protected

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// OpenMarker starts a protected span
	OpenMarker = "[[PROTECTED]]"
	// CloseMarker ends a protected span
	CloseMarker = "[[/PROTECTED]]"
)

// spanPattern matches the shortest text between an open and a close marker
var spanPattern = regexp.MustCompile(regexp.QuoteMeta(OpenMarker) + `([\s\S]*?)` + regexp.QuoteMeta(CloseMarker))

// Block is one extracted protected span
type Block struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	Placeholder string `json:"placeholder"`
}

// Result holds the cleaned text and the blocks in document order
type Result struct {
	Text   string  `json:"text"`
	Blocks []Block `json:"blocks"`
}

// Placeholder returns the placeholder token for the n-th block (1-based)
func Placeholder(n int) string {
	return fmt.Sprintf("{{PROTECTED_BLOCK_%d}}", n)
}

// Extract replaces every protected span with a placeholder and returns the
// spans, in a single left-to-right pass.
func Extract(raw string) Result {
	matches := spanPattern.FindAllStringSubmatchIndex(raw, -1)
	if len(matches) == 0 {
		return Result{Text: raw, Blocks: []Block{}}
	}

	blocks := make([]Block, 0, len(matches))
	var b strings.Builder
	b.Grow(len(raw))

	last := 0
	for i, m := range matches {
		n := i + 1
		block := Block{
			ID:          fmt.Sprintf("BLOCK_%d", n),
			Content:     strings.TrimSpace(raw[m[2]:m[3]]),
			Placeholder: Placeholder(n),
		}
		blocks = append(blocks, block)

		b.WriteString(raw[last:m[0]])
		b.WriteString("\n")
		b.WriteString(block.Placeholder)
		b.WriteString("\n")
		last = m[1]
	}
	b.WriteString(raw[last:])

	return Result{Text: b.String(), Blocks: blocks}
}

// Merge puts block contents back in place of every copy of their placeholder
func Merge(text string, blocks []Block) string {
	if len(blocks) == 0 {
		return text
	}

	result := text
	for _, block := range blocks {
		result = strings.ReplaceAll(result, block.Placeholder, block.Content)
	}
	return result
}

// Count returns how many placeholders of blocks occur in text
func Count(text string, blocks []Block) int {
	total := 0
	for _, block := range blocks {
		total += strings.Count(text, block.Placeholder)
	}
	return total
}
