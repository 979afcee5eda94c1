// Package csvutil provides header-aware CSV processing for library export
// files, where column order varies between export tools.
package csvutil

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Row is one CSV record with access to fields by header name.
type Row struct {
	columns map[string]int
	fields  []string
}

// Get returns the field under the named column, or "" when the column is
// absent from the export. Column names match case-insensitively.
func (r Row) Get(column string) string {
	idx, ok := r.columns[strings.ToLower(column)]
	if !ok || idx >= len(r.fields) {
		return ""
	}
	return r.fields[idx]
}

// ProcessorOptions configures CSV processing behavior.
type ProcessorOptions struct {
	// SkipInvalid controls whether to skip records the parser rejects or
	// abort with an error.
	SkipInvalid bool
}

// Process streams CSV records from r, parsing each into type T via the
// parser function. The first record is treated as the header. Rows with the
// wrong field count are logged and skipped.
func Process[T any](r io.Reader, parser func(Row) (T, error), opts ProcessorOptions) ([]T, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}

	var items []T
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			slog.Warn("Error reading record", "error", err)
			continue
		}

		item, err := parser(Row{columns: columns, fields: fields})
		if err != nil {
			if opts.SkipInvalid {
				slog.Warn("Skipping invalid record", "error", err)
				continue
			}
			return nil, fmt.Errorf("invalid record: %w", err)
		}
		items = append(items, item)
	}

	return items, nil
}

// ProcessFile opens filename and processes it with Process.
func ProcessFile[T any](filename string, parser func(Row) (T, error), opts ProcessorOptions) ([]T, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if fi, err := f.Stat(); err != nil || fi.Size() == 0 {
		return nil, fmt.Errorf("CSV file is empty or cannot be read")
	}

	return Process(f, parser, opts)
}
