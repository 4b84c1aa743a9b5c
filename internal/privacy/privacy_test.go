package privacy

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGenerateCode(t *testing.T) {
	tests := []struct {
		name     string
		category EntryType
		existing []string
		want     string
	}{
		{"first person", EntryPerson, nil, "PERSON_1"},
		{"next after sequence", EntryPerson, []string{"PERSON_1", "PERSON_2"}, "PERSON_3"},
		{"fills gap", EntryOrganization, []string{"ORG_1", "ORG_3"}, "ORG_2"},
		{"other prefixes ignored", EntryLocation, []string{"PERSON_1", "ORG_1"}, "LOC_1"},
		{"identifier", EntryIdentifier, []string{"ID_1"}, "ID_2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GenerateCode(tt.category, tt.existing)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerateCodeInvalidCategory(t *testing.T) {
	_, err := GenerateCode(EntryType("pet"), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidCategory))
}

func TestApplyCodesLongestMatchFirst(t *testing.T) {
	engine := NewEngine(zap.NewNop(), nil)
	entries := []Entry{
		{OriginalValue: "Sara", AnonymizedCode: "PERSON_1", EntryType: EntryPerson},
		{OriginalValue: "Sara Svensson", AnonymizedCode: "PERSON_2", EntryType: EntryPerson},
	}

	got := engine.ApplyCodes("Sara Svensson presenterade", entries)
	assert.Equal(t, "PERSON_2 presenterade", got)
}

func TestApplyCodesWordBoundary(t *testing.T) {
	engine := NewEngine(nil, nil)
	entries := []Entry{{OriginalValue: "Ann", AnonymizedCode: "PERSON_1", EntryType: EntryPerson}}

	assert.Equal(t, "Annika", engine.ApplyCodes("Annika", entries))
	assert.Equal(t, "PERSON_1 och Annika", engine.ApplyCodes("Ann och Annika", entries))
}

func TestApplyCodesNonASCIIWords(t *testing.T) {
	engine := NewEngine(nil, nil)
	entries := []Entry{
		{OriginalValue: "Malmö", AnonymizedCode: "LOC_1", EntryType: EntryLocation},
		{OriginalValue: "Åsa Lind", AnonymizedCode: "PERSON_1", EntryType: EntryPerson},
		{OriginalValue: "Ann", AnonymizedCode: "PERSON_2", EntryType: EntryPerson},
		{OriginalValue: "Östen", AnonymizedCode: "PERSON_3", EntryType: EntryPerson},
	}

	tests := []struct {
		name      string
		text      string
		want      string
		roundTrip bool
	}{
		{"trailing non-ascii letter", "Åsa Lind flyttar till Malmö.", "PERSON_1 flyttar till LOC_1.", true},
		{"leading non-ascii letter", "Östen ringde", "PERSON_3 ringde", true},
		{"case folded", "MALMÖ och malmö", "LOC_1 och LOC_1", false},
		{"non-ascii continuation is part of the word", "Annå och Ann", "Annå och PERSON_2", true},
		{"longer word not matched", "Malmöhus och Östenssons", "Malmöhus och Östenssons", true},
		{"letter before the value", "Ännann", "Ännann", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.ApplyCodes(tt.text, entries)
			assert.Equal(t, tt.want, got)
			if tt.roundTrip {
				assert.Equal(t, tt.text, engine.RestoreCodes(got, RestoreOrder(entries)))
			}
		})
	}
}

func TestApplyCodesRetriesAfterRejectedMatch(t *testing.T) {
	engine := NewEngine(nil, nil)
	entries := []Entry{{OriginalValue: "a a", AnonymizedCode: "ID_1", EntryType: EntryIdentifier}}

	assert.Equal(t, "xa ID_1", engine.ApplyCodes("xa a a", entries))
}

func TestApplyCodesCaseInsensitive(t *testing.T) {
	engine := NewEngine(nil, nil)
	entries := []Entry{{OriginalValue: "Volvo Cars", AnonymizedCode: "ORG_1", EntryType: EntryOrganization}}

	got := engine.ApplyCodes("VOLVO CARS and volvo cars", entries)
	assert.Equal(t, "ORG_1 and ORG_1", got)
}

func TestApplyCodesMetacharacters(t *testing.T) {
	engine := NewEngine(nil, nil)
	entries := []Entry{
		{OriginalValue: "A.B. Corp", AnonymizedCode: "ORG_1", EntryType: EntryOrganization},
		{OriginalValue: "C++ Team", AnonymizedCode: "ORG_2", EntryType: EntryOrganization},
	}

	got := engine.ApplyCodes("A.B. Corp hired the C++ Team. AxB. Corp did not.", entries)
	assert.Equal(t, "ORG_1 hired the ORG_2. AxB. Corp did not.", got)
}

func TestApplyCodesReplacementIsLiteral(t *testing.T) {
	engine := NewEngine(nil, nil)
	entries := []Entry{{OriginalValue: "Kalle", AnonymizedCode: "$1_X", EntryType: EntryPerson}}

	assert.Equal(t, "hej $1_X", engine.ApplyCodes("hej Kalle", entries))
}

func TestApplyCodesEmptyInputs(t *testing.T) {
	engine := NewEngine(nil, nil)
	entries := []Entry{{OriginalValue: "Sara", AnonymizedCode: "PERSON_1", EntryType: EntryPerson}}

	assert.Equal(t, "", engine.ApplyCodes("", entries))
	assert.Equal(t, "Sara", engine.ApplyCodes("Sara", nil))
	assert.Equal(t, "", engine.RestoreCodes("", entries))
	assert.Equal(t, "PERSON_1", engine.RestoreCodes("PERSON_1", nil))
}

func TestRoundTrip(t *testing.T) {
	engine := NewEngine(nil, nil)
	entries := []Entry{
		{OriginalValue: "Sara Svensson", AnonymizedCode: "PERSON_1", EntryType: EntryPerson},
		{OriginalValue: "Ericsson", AnonymizedCode: "ORG_1", EntryType: EntryOrganization},
		{OriginalValue: "Göteborg", AnonymizedCode: "LOC_1", EntryType: EntryLocation},
		{OriginalValue: "JIRA-4411", AnonymizedCode: "ID_1", EntryType: EntryIdentifier},
	}
	text := "Sara Svensson (Ericsson) flyttar JIRA-4411 till Göteborg."

	anonymized := engine.ApplyCodes(text, entries)
	assert.NotContains(t, anonymized, "Sara")
	assert.NotContains(t, anonymized, "Ericsson")
	assert.NotContains(t, anonymized, "JIRA-4411")

	assert.Equal(t, text, engine.RestoreCodes(anonymized, entries))
}

func TestRoundTripWithTenCodesOfOnePrefix(t *testing.T) {
	engine := NewEngine(nil, nil)
	var entries []Entry
	for _, name := range []string{"Anna", "Bo", "Cecilia", "David", "Eva", "Fredrik", "Gun", "Hans", "Ida", "Johan"} {
		code, err := GenerateCode(EntryPerson, Codes(entries))
		require.NoError(t, err)
		entries = append(entries, Entry{OriginalValue: name, AnonymizedCode: code, EntryType: EntryPerson})
	}
	text := "Anna och Johan"

	anonymized := engine.ApplyCodes(text, entries)
	assert.Equal(t, "PERSON_1 och PERSON_10", anonymized)
	assert.Equal(t, text, engine.RestoreCodes(anonymized, RestoreOrder(entries)))
}

func TestRestoreOrder(t *testing.T) {
	entries := []Entry{
		{OriginalValue: "a", AnonymizedCode: "PERSON_1"},
		{OriginalValue: "b", AnonymizedCode: "ORG_1"},
		{OriginalValue: "c", AnonymizedCode: "PERSON_10"},
		{OriginalValue: "d", AnonymizedCode: "ORG_2"},
	}

	got := RestoreOrder(entries)
	assert.Equal(t, []string{"PERSON_10", "PERSON_1", "ORG_1", "ORG_2"}, Codes(got))
	assert.Equal(t, "PERSON_1", entries[0].AnonymizedCode)
}

func TestRestoreIsIdempotent(t *testing.T) {
	engine := NewEngine(nil, nil)
	entries := []Entry{
		{OriginalValue: "Sara", AnonymizedCode: "PERSON_1", EntryType: EntryPerson},
		{OriginalValue: "Telia", AnonymizedCode: "ORG_1", EntryType: EntryOrganization},
	}
	text := "PERSON_1 ringde ORG_1 två gånger: PERSON_1."

	once := engine.RestoreCodes(text, entries)
	assert.Equal(t, "Sara ringde Telia två gånger: Sara.", once)
	assert.Equal(t, once, engine.RestoreCodes(once, entries))
}

func TestNormalizeCodeWrapping(t *testing.T) {
	got, count := NormalizeCodeWrapping("{{PERSON_1}} och {{ ORG_2 }} möter {{STAKE_1}}")
	assert.Equal(t, 2, count)
	assert.Equal(t, "PERSON_1 och ORG_2 möter {{STAKE_1}}", got)

	unchanged, count := NormalizeCodeWrapping("PERSON_1")
	assert.Zero(t, count)
	assert.Equal(t, "PERSON_1", unchanged)
}

func TestEntryValidate(t *testing.T) {
	valid := Entry{OriginalValue: "Sara", AnonymizedCode: "PERSON_1", EntryType: EntryPerson}
	require.NoError(t, valid.Validate())

	assert.Error(t, Entry{OriginalValue: " ", AnonymizedCode: "PERSON_1", EntryType: EntryPerson}.Validate())
	assert.Error(t, Entry{OriginalValue: "Sara", AnonymizedCode: "ORG_1", EntryType: EntryPerson}.Validate())
	assert.ErrorIs(t, Entry{OriginalValue: "Sara", AnonymizedCode: "PERSON_1", EntryType: "pet"}.Validate(), ErrInvalidCategory)
}

type recordingObserver struct {
	mu     sync.Mutex
	stages []Stage
	misses int
}

func (o *recordingObserver) ObserveSubstitution(stage Stage, result Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages = append(o.stages, stage)
	o.misses += result.Misses()
}

func TestEngineReportsNoMatch(t *testing.T) {
	observer := &recordingObserver{}
	engine := NewEngine(nil, observer)
	entries := []Entry{
		{OriginalValue: "Sara", AnonymizedCode: "PERSON_1", EntryType: EntryPerson},
		{OriginalValue: "Nobody", AnonymizedCode: "PERSON_2", EntryType: EntryPerson},
	}

	result := engine.Anonymize("Sara var här", entries)
	assert.Equal(t, "PERSON_1 var här", result.Text)
	assert.Equal(t, 1, result.Replaced())
	assert.Equal(t, 1, result.Misses())
	assert.Equal(t, []Stage{StageAnonymize}, observer.stages)
	assert.Equal(t, 1, observer.misses)
}

func TestSortLongestFirstIsStable(t *testing.T) {
	pairs := []Pair{{From: "ab", To: "1"}, {From: "abcd", To: "2"}, {From: "cd", To: "3"}}
	sorted := SortLongestFirst(pairs)
	assert.Equal(t, []Pair{{From: "abcd", To: "2"}, {From: "ab", To: "1"}, {From: "cd", To: "3"}}, sorted)
	// input untouched
	assert.Equal(t, "ab", pairs[0].From)
}
