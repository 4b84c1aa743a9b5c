// Package memory turns project memory records into stable bracketed codes.
//
// Stakeholders and systems get {{STAKE_n}} / {{SYS_n}} codes that keep the
// generator's terminology consistent; goals and decisions are passed along as
// context only. The resulting CodeMap holds both directions: keys starting
// with "{{" map a code to its readable expansion, every other key maps a
// lowercased name to its code.
package memory

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/raaihank/pmo-sentinel/internal/privacy"
)

// Type classifies a project memory record
type Type string

const (
	TypeStakeholder Type = "stakeholder"
	TypeSystem      Type = "system"
	TypeGoal        Type = "goal"
	TypeDecision    Type = "decision"
)

// Valid reports whether t is a known memory type
func (t Type) Valid() bool {
	switch t {
	case TypeStakeholder, TypeSystem, TypeGoal, TypeDecision:
		return true
	}
	return false
}

const codeMarker = "{{"

// systemValue splits "Name (details)" system descriptions
var systemValue = regexp.MustCompile(`^(.+?)\s*\((.+?)\)`)

// Entry is one project memory record
type Entry struct {
	MemoryType Type   `json:"memory_type" db:"memory_type"`
	Key        string `json:"key" db:"key"`
	Value      string `json:"value" db:"value"`
}

// CodeMap maps names to codes and codes to their expansions
type CodeMap map[string]string

// IsCode reports whether key is a code→info key
func IsCode(key string) bool {
	return strings.HasPrefix(key, codeMarker)
}

// codeShape splits a memory code into its kind and number
var codeShape = regexp.MustCompile(`^\{\{(STAKE|SYS)_(\d+)\}\}$`)

// codeRank orders codes the way Build assigns them: stakeholders before
// systems, then by number. Unknown codes sort last.
func codeRank(code string) (int, int) {
	m := codeShape.FindStringSubmatch(code)
	if m == nil {
		return 2, 0
	}
	n, _ := strconv.Atoi(m[2])
	if m[1] == "STAKE" {
		return 0, n
	}
	return 1, n
}

// codeBefore reports whether code a was assigned before code b
func codeBefore(a, b string) bool {
	ga, na := codeRank(a)
	gb, nb := codeRank(b)
	if ga != gb {
		return ga < gb
	}
	if na != nb {
		return na < nb
	}
	return a < b
}

// NamePairs returns the name→code pairs, longest name first.
// Names of equal length keep the order Build registered them in.
func (m CodeMap) NamePairs() []privacy.Pair {
	var pairs []privacy.Pair
	for key, code := range m {
		if IsCode(key) {
			continue
		}
		pairs = append(pairs, privacy.Pair{From: key, To: code})
	}
	sort.Slice(pairs, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(pairs[i].From), utf8.RuneCountInString(pairs[j].From)
		if li != lj {
			return li > lj
		}
		if pairs[i].To != pairs[j].To {
			return codeBefore(pairs[i].To, pairs[j].To)
		}
		return pairs[i].From < pairs[j].From
	})
	return pairs
}

// CodePairs returns the code→info pairs in assignment order
func (m CodeMap) CodePairs() []privacy.Pair {
	var pairs []privacy.Pair
	for key, info := range m {
		if IsCode(key) {
			pairs = append(pairs, privacy.Pair{From: key, To: info})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return codeBefore(pairs[i].From, pairs[j].From) })
	return pairs
}

// Mapping is the legend text plus the code map built from memory records
type Mapping struct {
	Text    string  `json:"text"`
	CodeMap CodeMap `json:"code_map"`
}

// Build assigns codes to stakeholders and systems and renders the legend
func Build(entries []Entry) Mapping {
	codeMap := CodeMap{}
	if len(entries) == 0 {
		return Mapping{Text: "", CodeMap: codeMap}
	}

	var stakeholders, systems, goals, decisions []Entry
	for _, e := range entries {
		switch e.MemoryType {
		case TypeStakeholder:
			stakeholders = append(stakeholders, e)
		case TypeSystem:
			systems = append(systems, e)
		case TypeGoal:
			goals = append(goals, e)
		case TypeDecision:
			decisions = append(decisions, e)
		}
	}

	var b strings.Builder
	b.WriteString("\n\n=== PROJEKTMINNE MAPPNING ===\n")

	if len(stakeholders) > 0 {
		b.WriteString("\nPERSONER (använd ALLTID dessa koder):\n")
		for i, s := range stakeholders {
			code := fmt.Sprintf("{{STAKE_%d}}", i+1)
			info := fmt.Sprintf("%s (%s)", s.Key, s.Value)
			fmt.Fprintf(&b, "%s = %s\n", code, info)
			codeMap[code] = info
			codeMap[strings.ToLower(s.Key)] = code
		}
	}

	if len(systems) > 0 {
		b.WriteString("\nSYSTEM (använd ALLTID dessa koder):\n")
		for i, s := range systems {
			code := fmt.Sprintf("{{SYS_%d}}", i+1)
			if m := systemValue.FindStringSubmatch(s.Value); m != nil {
				info := fmt.Sprintf("%s (%s)", m[1], m[2])
				fmt.Fprintf(&b, "%s = %s\n", code, info)
				codeMap[code] = info
				codeMap[strings.ToLower(m[1])] = code
				continue
			}
			fmt.Fprintf(&b, "%s = %s\n", code, s.Value)
			codeMap[code] = s.Value
			if fields := strings.Fields(s.Value); len(fields) > 0 {
				codeMap[strings.ToLower(fields[0])] = code
			}
		}
	}

	if len(goals) > 0 {
		b.WriteString("\nPROJEKTMÅL:\n")
		for _, g := range goals {
			fmt.Fprintf(&b, "- %s\n", g.Value)
		}
	}

	if len(decisions) > 0 {
		b.WriteString("\nVIKTIGA BESLUT:\n")
		for _, d := range decisions {
			fmt.Fprintf(&b, "- %s\n", d.Value)
		}
	}

	b.WriteString("\nVIKTIGT: \n")
	b.WriteString("- Använd EXAKT koderna {{STAKE_X}} och {{SYS_X}} som de står här\n")
	b.WriteString("- Om du ser PERSON_X, ORG_X, LOC_X eller ID_X i texten: använd dem UTAN {{}}\n")
	b.WriteString("- Lägg ALDRIG till {{}} runt PERSON_X, ORG_X, LOC_X eller ID_X\n")
	b.WriteString("- Exempel: \"PERSON_1 arbetar\" är KORREKT, inte \"{{PERSON_1}} arbetar\"\n")
	b.WriteString("================================\n\n")

	return Mapping{Text: b.String(), CodeMap: codeMap}
}

// ApplyNames replaces known names with their memory codes
func ApplyNames(text string, codeMap CodeMap) privacy.Result {
	if text == "" || len(codeMap) == 0 {
		return privacy.Result{Text: text}
	}

	var pairs []privacy.Pair
	for _, p := range codeMap.NamePairs() {
		// already-anonymized tokens must not be wrapped again
		if p.From == "" || privacy.IsAnonymizationCode(strings.ToUpper(p.From)) {
			continue
		}
		pairs = append(pairs, p)
	}

	return privacy.ReplaceWords(text, pairs)
}

// ExpandCodes replaces memory codes with their readable expansion
func ExpandCodes(text string, codeMap CodeMap) privacy.Result {
	if text == "" || len(codeMap) == 0 {
		return privacy.Result{Text: text}
	}
	return privacy.ReplaceLiterals(text, codeMap.CodePairs())
}

// ReplaceNamesWithCodes returns text with known names replaced by memory codes
func ReplaceNamesWithCodes(text string, codeMap CodeMap) string {
	return ApplyNames(text, codeMap).Text
}

// ReplaceCodesWithInfo returns text with memory codes expanded
func ReplaceCodesWithInfo(text string, codeMap CodeMap) string {
	return ExpandCodes(text, codeMap).Text
}
