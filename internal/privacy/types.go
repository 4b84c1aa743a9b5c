package privacy

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// EntryType classifies a sensitive value
type EntryType string

const (
	// EntryPerson is a personal name
	EntryPerson EntryType = "person"
	// EntryOrganization is a company, authority or team name
	EntryOrganization EntryType = "organization"
	// EntryLocation is a place or address
	EntryLocation EntryType = "location"
	// EntryIdentifier is any other stable identifier (ticket numbers, IDs)
	EntryIdentifier EntryType = "identifier"
)

// ErrInvalidCategory is returned when an entry type has no code prefix
var ErrInvalidCategory = errors.New("invalid anonymization category")

var codePrefixes = map[EntryType]string{
	EntryPerson:       "PERSON",
	EntryOrganization: "ORG",
	EntryLocation:     "LOC",
	EntryIdentifier:   "ID",
}

// codeShape matches a bare anonymization code such as PERSON_3
var codeShape = regexp.MustCompile(`^(PERSON|ORG|LOC|ID)_\d+$`)

// Prefix returns the code prefix for the entry type
func (t EntryType) Prefix() (string, bool) {
	p, ok := codePrefixes[t]
	return p, ok
}

// Valid reports whether t is one of the known entry types
func (t EntryType) Valid() bool {
	_, ok := codePrefixes[t]
	return ok
}

// EntryTypes returns all known entry types in a fixed order
func EntryTypes() []EntryType {
	return []EntryType{EntryPerson, EntryOrganization, EntryLocation, EntryIdentifier}
}

// IsAnonymizationCode reports whether s is a bare anonymization code
func IsAnonymizationCode(s string) bool {
	return codeShape.MatchString(s)
}

// Entry pairs a sensitive original value with its stable substitute code
type Entry struct {
	OriginalValue  string    `json:"original_value" db:"original_value"`
	AnonymizedCode string    `json:"anonymized_code" db:"anonymized_code"`
	EntryType      EntryType `json:"entry_type" db:"entry_type"`
}

// Validate checks the entry against the persistence contract
func (e Entry) Validate() error {
	if strings.TrimSpace(e.OriginalValue) == "" {
		return fmt.Errorf("original value is empty")
	}
	prefix, ok := e.EntryType.Prefix()
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, e.EntryType)
	}
	if !IsAnonymizationCode(e.AnonymizedCode) || !strings.HasPrefix(e.AnonymizedCode, prefix+"_") {
		return fmt.Errorf("code %q does not match type %s", e.AnonymizedCode, e.EntryType)
	}
	return nil
}

// Pair is a single from→to substitution
type Pair struct {
	From string
	To   string
}

// Finding records how often one substitution fired
type Finding struct {
	From  string `json:"-"` // never serialize the matched value
	To    string `json:"to"`
	Count int    `json:"count"`
}

// Result is the outcome of a substitution pass
type Result struct {
	Text     string    `json:"text"`
	Findings []Finding `json:"findings"`
}

// Replaced returns the total number of replacements
func (r Result) Replaced() int {
	total := 0
	for _, f := range r.Findings {
		total += f.Count
	}
	return total
}

// Misses returns the number of substitutions that matched nothing
func (r Result) Misses() int {
	misses := 0
	for _, f := range r.Findings {
		if f.Count == 0 {
			misses++
		}
	}
	return misses
}
