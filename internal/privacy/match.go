package privacy

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// wrappedCode matches an anonymization code that picked up memory-code braces
var wrappedCode = regexp.MustCompile(`\{\{\s*((?:PERSON|ORG|LOC|ID)_\d+)\s*\}\}`)

// literalPattern builds a case-insensitive pattern for a literal value
func literalPattern(value string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(value))
}

// isWordRune reports whether r belongs to a word. Letters outside ASCII
// count, so Malmö and Åsa are whole words.
func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

// bounded reports whether text[start:end] is not part of a longer word
func bounded(text string, start, end int) bool {
	if start > 0 {
		if r, _ := utf8.DecodeLastRuneInString(text[:start]); isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		if r, _ := utf8.DecodeRuneInString(text[end:]); isWordRune(r) {
			return false
		}
	}
	return true
}

// wordSpans returns the non-overlapping matches of re in text that stand
// alone as words, leftmost first
func wordSpans(re *regexp.Regexp, text string) [][2]int {
	var spans [][2]int
	for pos := 0; pos < len(text); {
		loc := re.FindStringIndex(text[pos:])
		if loc == nil || loc[0] == loc[1] {
			break
		}
		start, end := pos+loc[0], pos+loc[1]
		if bounded(text, start, end) {
			spans = append(spans, [2]int{start, end})
			pos = end
			continue
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		pos = start + size
	}
	return spans
}

// replaceSpans writes replacement over every span of text
func replaceSpans(text string, spans [][2]int, replacement string) string {
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, span := range spans {
		b.WriteString(text[last:span[0]])
		b.WriteString(replacement)
		last = span[1]
	}
	b.WriteString(text[last:])
	return b.String()
}

// SortLongestFirst orders pairs by descending length of From.
// Ties keep their relative order.
func SortLongestFirst(pairs []Pair) []Pair {
	sorted := make([]Pair, len(pairs))
	copy(sorted, pairs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return utf8.RuneCountInString(sorted[i].From) > utf8.RuneCountInString(sorted[j].From)
	})
	return sorted
}

// ReplaceWords substitutes each From with To as a whole word, ignoring case.
// Longer values are replaced first so a shorter value never matches inside a
// span that has already been rewritten.
func ReplaceWords(text string, pairs []Pair) Result {
	if text == "" || len(pairs) == 0 {
		return Result{Text: text}
	}

	working := text
	findings := make([]Finding, 0, len(pairs))
	for _, p := range SortLongestFirst(pairs) {
		if p.From == "" {
			continue
		}
		spans := wordSpans(literalPattern(p.From), working)
		if len(spans) > 0 {
			working = replaceSpans(working, spans, p.To)
		}
		findings = append(findings, Finding{From: p.From, To: p.To, Count: len(spans)})
	}

	return Result{Text: working, Findings: findings}
}

// RestoreOrder returns entries ordered so that no code is replaced before a
// longer code it is a prefix of (PERSON_10 before PERSON_1). Ties keep their
// relative order.
func RestoreOrder(entries []Entry) []Entry {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].AnonymizedCode) > len(sorted[j].AnonymizedCode)
	})
	return sorted
}

// ReplaceLiterals substitutes every exact occurrence of each From with To,
// in the order given.
func ReplaceLiterals(text string, pairs []Pair) Result {
	if text == "" || len(pairs) == 0 {
		return Result{Text: text}
	}

	working := text
	findings := make([]Finding, 0, len(pairs))
	for _, p := range pairs {
		if p.From == "" {
			continue
		}
		count := strings.Count(working, p.From)
		if count > 0 {
			working = strings.ReplaceAll(working, p.From, p.To)
		}
		findings = append(findings, Finding{From: p.From, To: p.To, Count: count})
	}

	return Result{Text: working, Findings: findings}
}

// NormalizeCodeWrapping strips doubled braces the generator put around
// anonymization codes, so {{PERSON_1}} becomes PERSON_1 again.
// Memory codes such as {{STAKE_1}} are left untouched.
func NormalizeCodeWrapping(text string) (string, int) {
	count := len(wrappedCode.FindAllStringIndex(text, -1))
	if count == 0 {
		return text, 0
	}
	return wrappedCode.ReplaceAllString(text, "${1}"), count
}
