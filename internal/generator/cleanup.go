package generator

import (
	"regexp"
	"strings"
)

var (
	leadingVersionHeader = regexp.MustCompile(`(?im)^\s*#{1,2}\s*(?:OneNote|Word)[- ]?version\s*:?\s*\n+`)
	innerVersionHeader   = regexp.MustCompile(`(?i)\n+\s*#{1,2}\s*(?:OneNote|Word)[- ]?version\s*:?\s*\n+`)
	separatorLine        = regexp.MustCompile(`\n\s*[-=]{3,}\s*\n`)
	titleLine            = regexp.MustCompile(`(?m)^#\s+.+$`)
	titleBlock           = regexp.MustCompile(`(?m)^#\s+.+\n+`)
	excessNewlines       = regexp.MustCompile(`\n{3,}`)

	headingMarks = regexp.MustCompile(`#{1,6}\s+`)
	boldMarks    = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicMarks  = regexp.MustCompile(`\*(.+?)\*`)
	tableMarks   = regexp.MustCompile(`[|]`)
	ruleMarks    = regexp.MustCompile(`[-:]+`)
	whitespace   = regexp.MustCompile(`\s+`)

	wordVersionSplit     = regexp.MustCompile(`(?i)\n\s*Word[- ]?version\s*:?\s*\n`)
	oneNoteVersionHeader = regexp.MustCompile(`(?i)^OneNote[- ]?version\s*:?\s*\n`)
)

const (
	duplicateOverlap    = 0.75
	duplicateParagraphs = 5
)

// Clean removes version headers, separator lines and a duplicated second
// half from generated text. The first H1 title is kept in front.
func Clean(content string) string {
	cleaned := leadingVersionHeader.ReplaceAllString(content, "")
	cleaned = innerVersionHeader.ReplaceAllString(cleaned, "\n\n")
	cleaned = separatorLine.ReplaceAllString(cleaned, "\n\n")

	var title string
	body := cleaned
	if loc := titleLine.FindStringIndex(cleaned); loc != nil {
		title = cleaned[loc[0]:loc[1]] + "\n\n"
	}
	if loc := titleBlock.FindStringIndex(cleaned); loc != nil {
		body = cleaned[:loc[0]] + cleaned[loc[1]:]
	}

	var paragraphs []string
	for _, p := range strings.Split(body, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}

	if len(paragraphs) > duplicateParagraphs {
		mid := len(paragraphs) / 2
		if overlapRatio(paragraphs[:mid], paragraphs[mid:]) > duplicateOverlap {
			paragraphs = paragraphs[:mid]
		}
	}

	cleaned = title + strings.Join(paragraphs, "\n\n")
	cleaned = excessNewlines.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}

// overlapRatio is the share of distinct words of first that also occur in second
func overlapRatio(first, second []string) float64 {
	firstWords := wordSet(first)
	secondWords := wordSet(second)
	if len(firstWords) == 0 || len(secondWords) == 0 {
		return 0
	}

	var overlap int
	for w := range firstWords {
		if _, ok := secondWords[w]; ok {
			overlap++
		}
	}
	return float64(overlap) / float64(len(firstWords))
}

func wordSet(paragraphs []string) map[string]struct{} {
	stripped := make([]string, len(paragraphs))
	for i, p := range paragraphs {
		stripped[i] = stripFormatting(p)
	}

	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.Join(stripped, " ")) {
		set[w] = struct{}{}
	}
	return set
}

func stripFormatting(text string) string {
	s := headingMarks.ReplaceAllString(text, "")
	s = boldMarks.ReplaceAllString(s, "$1")
	s = italicMarks.ReplaceAllString(s, "$1")
	s = tableMarks.ReplaceAllString(s, "")
	s = ruleMarks.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

// Versions holds the two renderings a generator is asked to produce
type Versions struct {
	OneNote string `json:"onenote_version"`
	Word    string `json:"word_version"`
}

// SplitVersions splits content on a "Word version:" header line and reports
// whether the header was found. Without a header both versions are the full
// content, and a Word part without markdown falls back to the full content.
func SplitVersions(content string) (Versions, bool) {
	parts := wordVersionSplit.Split(content, 2)
	if len(parts) < 2 {
		return Versions{OneNote: content, Word: content}, false
	}

	oneNote := strings.TrimSpace(parts[0])
	oneNote = strings.TrimSpace(oneNoteVersionHeader.ReplaceAllString(oneNote, ""))
	word := strings.TrimSpace(parts[1])
	if !hasMarkdown(word) {
		word = content
	}
	return Versions{OneNote: oneNote, Word: word}, true
}

func hasMarkdown(text string) bool {
	for _, marker := range []string{"#", "**", "- ", "* ", "|"} {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
