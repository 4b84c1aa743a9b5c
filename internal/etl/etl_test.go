package etl

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/pmo-sentinel/internal/memory"
	"github.com/raaihank/pmo-sentinel/internal/privacy"
	"github.com/raaihank/pmo-sentinel/internal/store"
)

func newTestStore(t *testing.T) *store.SQLStore {
	t.Helper()
	s, err := store.Open(context.Background(), &store.Config{
		Driver: store.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "sentinel.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestImportCSV(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	path := writeFile(t, "import.csv", strings.Join([]string{
		"entry_type,original_value,memory_type,key,value,project",
		"person,Anna Svensson,,,,",
		"organization,Acme,,,,beta",
		"person,anna svensson,,,,",
		"person,,,,,",
		"pet,Kalle,,,,",
		",,system,erp,SAP (ERP),",
		",,mood,x,y,",
	}, "\n"))

	cfg := DefaultConfig()
	cfg.Project = "alpha"
	cfg.BatchSize = 2
	result, err := NewPipeline(s, cfg, nil).ProcessFile(ctx, path)
	require.NoError(t, err)

	assert.EqualValues(t, 7, result.TotalRecords)
	assert.EqualValues(t, 2, result.EntriesInserted)
	assert.EqualValues(t, 1, result.EntriesDuplicates)
	assert.EqualValues(t, 1, result.MemoryUpserted)
	assert.EqualValues(t, 3, result.Invalid)
	assert.Zero(t, result.Failed)

	alpha, err := s.ListEntries(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, alpha, 1)
	assert.Equal(t, "PERSON_1", alpha[0].AnonymizedCode)

	beta, err := s.ListEntries(ctx, "beta")
	require.NoError(t, err)
	require.Len(t, beta, 1)
	assert.Equal(t, "ORG_1", beta[0].AnonymizedCode)

	mem, err := s.ListMemory(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, []memory.Entry{{MemoryType: memory.TypeSystem, Key: "erp", Value: "SAP (ERP)"}}, mem)
}

func TestImportCSVRequiresKnownColumns(t *testing.T) {
	path := writeFile(t, "bad.csv", "text,label\nhello,1\n")
	_, err := NewPipeline(newTestStore(t), nil, nil).ProcessFile(context.Background(), path)
	assert.ErrorContains(t, err, "original_value")
}

func TestImportJSONLines(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	path := writeFile(t, "import.jsonl", `{"project":"alpha","original_value":"Göteborg","entry_type":"location"}
{"project":"alpha","memory_type":"stakeholder","key":"erik","value":"Projektledare"}
{"original_value":"Utan projekt","entry_type":"person"}
`)

	result, err := NewPipeline(s, nil, nil).ProcessFile(ctx, path)
	require.NoError(t, err)
	assert.EqualValues(t, 3, result.TotalRecords)
	assert.EqualValues(t, 1, result.EntriesInserted)
	assert.EqualValues(t, 1, result.MemoryUpserted)
	assert.EqualValues(t, 1, result.Invalid)
	assert.Contains(t, result.Errors, "record has no project")

	entries, err := s.ListEntries(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "LOC_1", entries[0].AnonymizedCode)
}

func TestImportJSONSyntaxError(t *testing.T) {
	path := writeFile(t, "broken.json", `{"project":"alpha",`)
	_, err := NewPipeline(newTestStore(t), nil, nil).ProcessFile(context.Background(), path)
	assert.Error(t, err)
}

func TestDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	path := writeFile(t, "import.csv", "project,original_value,entry_type\nalpha,Anna,person\nalpha,x,pet\n")

	cfg := DefaultConfig()
	cfg.DryRun = true
	p := NewPipeline(s, cfg, nil)
	result, err := p.ProcessFile(ctx, path)
	require.NoError(t, err)
	assert.EqualValues(t, 2, result.TotalRecords)
	assert.EqualValues(t, 1, result.Invalid)
	assert.Zero(t, result.EntriesInserted)

	stats := p.GetStats()
	assert.EqualValues(t, 2, stats.RecordsRead)
	assert.EqualValues(t, 1, stats.RecordsValid)
	assert.Zero(t, stats.DatabaseWrites)

	entries, err := s.ListEntries(ctx, "alpha")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	source := newTestStore(t)

	for _, e := range []store.NewEntry{
		{OriginalValue: "Anna Svensson", EntryType: privacy.EntryPerson},
		{OriginalValue: "Acme", EntryType: privacy.EntryOrganization},
		{OriginalValue: "Erik Lund", EntryType: privacy.EntryPerson},
	} {
		_, err := source.CreateEntry(ctx, "alpha", e.OriginalValue, e.EntryType)
		require.NoError(t, err)
	}
	require.NoError(t, source.UpsertMemory(ctx, "alpha", memory.Entry{MemoryType: memory.TypeGoal, Key: "q3", Value: "Go-live, september"}))
	require.NoError(t, source.UpsertMemory(ctx, "alpha", memory.Entry{MemoryType: memory.TypeSystem, Key: "erp", Value: "SAP (ERP)"}))

	wantEntries, err := source.ListEntries(ctx, "alpha")
	require.NoError(t, err)
	wantMemory, err := source.ListMemory(ctx, "alpha")
	require.NoError(t, err)

	for _, name := range []string{"export.csv", "export.jsonl", "export.parquet"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			n, err := ExportFile(ctx, source, "alpha", path)
			require.NoError(t, err)
			assert.Equal(t, 5, n)

			target := newTestStore(t)
			result, err := NewPipeline(target, nil, nil).ProcessFile(ctx, path)
			require.NoError(t, err)
			assert.EqualValues(t, 3, result.EntriesInserted)
			assert.EqualValues(t, 2, result.MemoryUpserted)

			gotEntries, err := target.ListEntries(ctx, "alpha")
			require.NoError(t, err)
			assert.Equal(t, wantEntries, gotEntries)

			gotMemory, err := target.ListMemory(ctx, "alpha")
			require.NoError(t, err)
			assert.Equal(t, wantMemory, gotMemory)
		})
	}
}

func TestDetectFileFormat(t *testing.T) {
	assert.Equal(t, FormatCSV, DetectFileFormat("entries.csv"))
	assert.Equal(t, FormatParquet, DetectFileFormat("entries.PARQUET"))
	assert.Equal(t, FormatJSON, DetectFileFormat("entries.jsonl"))
	assert.Equal(t, FormatJSON, DetectFileFormat("entries.json"))
	assert.Equal(t, FormatCSV, DetectFileFormat("entries"))
}
