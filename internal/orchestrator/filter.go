package orchestrator

import (
	"strings"

	"github.com/mtoivanen/librarian/internal/book"
	"github.com/spf13/viper"
)

// collectionMarkers flag edition-grouping results (box sets, omnibus
// volumes) that should not answer a lookup for a specific work.
var collectionMarkers = []string{
	"box set",
	"boxed set",
	"collection",
	"omnibus",
	"sampler",
	"3 books in 1",
}

// filterAdvanced applies backend-side filtering to multi-field lookup
// results: when both title and author were requested, foreign-language and
// collection editions are rejected before the set is returned.
func filterAdvanced(lookup book.Lookup, set book.RecordSet) book.RecordSet {
	if lookup.Title == "" || lookup.Author == "" {
		return set
	}

	accept := viper.GetString("search.language")
	if accept == "" {
		accept = "en"
	}

	wantTitle := book.NormalizeTitle(lookup.Title)
	filtered := make([]book.CanonicalRecord, 0, len(set.Records))
	for _, rec := range set.Records {
		if rec.Language != "" && rec.Language != accept {
			continue
		}
		if isCollectionEdition(&rec, wantTitle) {
			continue
		}
		filtered = append(filtered, rec)
	}
	return book.RecordSet{Records: filtered}
}

// isCollectionEdition reports whether the record looks like a grouped
// edition rather than the requested work. A marker only disqualifies when
// the requested title itself does not carry it.
func isCollectionEdition(rec *book.CanonicalRecord, wantTitle string) bool {
	for _, marker := range collectionMarkers {
		if strings.Contains(rec.NormalizedTitle, marker) && !strings.Contains(wantTitle, marker) {
			return true
		}
	}
	return false
}
