package etl

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/segmentio/parquet-go"
)

var csvHeader = []string{"project", "original_value", "entry_type", "memory_type", "key", "value"}

// Collect reads every entry and memory record of a project. Codes are not
// part of a record: importing assigns them again.
func Collect(ctx context.Context, source Reader, project string) ([]Record, error) {
	entries, err := source.ListEntries(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	memories, err := source.ListMemory(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("list memory: %w", err)
	}

	records := make([]Record, 0, len(entries)+len(memories))
	for _, e := range entries {
		records = append(records, Record{
			Project:       project,
			OriginalValue: e.OriginalValue,
			EntryType:     string(e.EntryType),
		})
	}
	for _, m := range memories {
		records = append(records, Record{
			Project:    project,
			MemoryType: string(m.MemoryType),
			Key:        m.Key,
			Value:      m.Value,
		})
	}
	return records, nil
}

// ExportFile writes the records of project to filePath in the format its
// extension names
func ExportFile(ctx context.Context, source Reader, project, filePath string) (int, error) {
	records, err := Collect(ctx, source, project)
	if err != nil {
		return 0, err
	}

	file, err := os.Create(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to create output file: %w", err)
	}

	if err := WriteRecords(file, DetectFileFormat(filePath), records); err != nil {
		file.Close()
		return 0, err
	}
	if err := file.Close(); err != nil {
		return 0, fmt.Errorf("failed to close output file: %w", err)
	}
	return len(records), nil
}

// WriteRecords encodes records to w
func WriteRecords(w io.Writer, format FileFormat, records []Record) error {
	switch format {
	case FormatCSV:
		writer := csv.NewWriter(w)
		if err := writer.Write(csvHeader); err != nil {
			return fmt.Errorf("failed to write CSV header: %w", err)
		}
		for _, r := range records {
			if err := writer.Write([]string{r.Project, r.OriginalValue, r.EntryType, r.MemoryType, r.Key, r.Value}); err != nil {
				return fmt.Errorf("failed to write CSV record: %w", err)
			}
		}
		writer.Flush()
		return writer.Error()

	case FormatJSON:
		encoder := json.NewEncoder(w)
		for _, r := range records {
			if err := encoder.Encode(r); err != nil {
				return fmt.Errorf("failed to write JSON record: %w", err)
			}
		}
		return nil

	case FormatParquet:
		writer := parquet.NewGenericWriter[Record](w)
		if _, err := writer.Write(records); err != nil {
			return fmt.Errorf("failed to write Parquet records: %w", err)
		}
		if err := writer.Close(); err != nil {
			return fmt.Errorf("failed to close Parquet writer: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unsupported file format: %s", format)
	}
}
