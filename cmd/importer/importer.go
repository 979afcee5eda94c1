// Package importer loads library export CSV files (Goodreads-style) and
// feeds them into the enrichment queue as stubs.
package importer

import (
	"fmt"
	"log/slog"

	"github.com/mtoivanen/librarian/internal/book"
	"github.com/mtoivanen/librarian/internal/csvutil"
	"github.com/mtoivanen/librarian/internal/queue"
)

// ParseLibraryExport reads a library export CSV into stubs, preserving file
// order. Rows without a single usable field are skipped with a warning.
// Export tools wrap ISBN values in ="..." to stop spreadsheets mangling
// them; that wrapping is stripped here.
func ParseLibraryExport(path string) ([]book.Stub, error) {
	parser := func(row csvutil.Row) (book.Stub, error) {
		stub := book.Stub{
			Title:      row.Get("Title"),
			Author:     row.Get("Author"),
			Identifier: pickISBN(row),
		}
		if !stub.Usable() {
			return book.Stub{}, fmt.Errorf("row has no title, author or ISBN: %w", book.ErrInvalidStub)
		}
		return stub, nil
	}

	stubs, err := csvutil.ProcessFile(path, parser, csvutil.ProcessorOptions{SkipInvalid: true})
	if err != nil {
		return nil, fmt.Errorf("failed to parse library export: %w", err)
	}
	return stubs, nil
}

// pickISBN prefers the ISBN-13 column, falling back to ISBN-10. Values that
// do not survive validation are dropped so a bad identifier cannot poison
// an otherwise-searchable stub.
func pickISBN(row csvutil.Row) string {
	for _, column := range []string{"ISBN13", "ISBN"} {
		isbn := book.NormalizeISBN(row.Get(column))
		if isbn == "" {
			continue
		}
		if book.ValidISBN(isbn) {
			return isbn
		}
		slog.Debug("Dropping invalid ISBN from export row", "column", column, "value", isbn)
	}
	return ""
}

// Import parses the export at path and enqueues every stub in file order.
// Returns the assigned entry IDs.
func Import(q *queue.Queue, path string) ([]string, error) {
	stubs, err := ParseLibraryExport(path)
	if err != nil {
		return nil, err
	}
	if len(stubs) == 0 {
		return nil, fmt.Errorf("no importable rows in %s", path)
	}

	entries, err := q.EnqueueBatch(stubs)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue import: %w", err)
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	slog.Info("Library export imported", "path", path, "entries", len(ids))
	return ids, nil
}
