// Package book defines the canonical bibliographic data model shared by the
// enrichment queue, the provider adapters and the orchestrator.
package book

import (
	"time"
)

// StubStatus tracks a stub through the enrichment queue lifecycle.
type StubStatus string

const (
	StatusPending    StubStatus = "pending"
	StatusInProgress StubStatus = "in_progress"
	StatusEnriched   StubStatus = "enriched"
	StatusFailed     StubStatus = "failed"
)

// Stub is the minimal bibliographic input awaiting enrichment.
// At least one of Title, Author or Identifier must be non-empty.
type Stub struct {
	ID         string     `json:"id"`
	Title      string     `json:"title,omitempty"`
	Author     string     `json:"author,omitempty"`
	Identifier string     `json:"identifier,omitempty"`
	Status     StubStatus `json:"status"`
	Attempts   int        `json:"attempts"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
}

// Usable reports whether the stub carries at least one field the
// orchestrator can search with.
func (s *Stub) Usable() bool {
	return s.Title != "" || s.Author != "" || s.Identifier != ""
}

// Lookup returns the lookup variant best suited to the stub's populated
// fields. Identifier wins when present since identifier lookups are exact.
func (s *Stub) Lookup() Lookup {
	switch {
	case s.Identifier != "":
		return ByIdentifier(s.Identifier)
	case s.Title != "" && s.Author != "":
		return Advanced(s.Title, s.Author, "")
	case s.Author != "":
		return ByAuthor(s.Author)
	default:
		return ByTitle(s.Title)
	}
}

// Identifier scheme keys used in CanonicalRecord.Identifiers.
const (
	SchemeISBN10      = "isbn10"
	SchemeISBN13      = "isbn13"
	SchemeOpenLibrary = "openlibrary"
	SchemeGoogleBooks = "googlebooks"
)

// CanonicalRecord is the normalized, provider-agnostic metadata record every
// adapter maps its wire response into.
type CanonicalRecord struct {
	Title           string            `json:"title"`
	NormalizedTitle string            `json:"normalized_title"`
	AuthorNames     []string          `json:"author_names,omitempty"`
	Identifiers     map[string]string `json:"identifiers,omitempty"`
	PublicationYear int               `json:"publication_year,omitempty"`
	Language        string            `json:"language,omitempty"`
	CoverImageRef   string            `json:"cover_image_ref,omitempty"`
	SourceProvider  string            `json:"source_provider"`
	MatchScore      float64           `json:"match_score"`
}

// PrimaryAuthor returns the first author name, or "" when unknown.
func (r *CanonicalRecord) PrimaryAuthor() string {
	if len(r.AuthorNames) == 0 {
		return ""
	}
	return r.AuthorNames[0]
}

// ISBN13 returns the record's ISBN-13, deriving it from a stored ISBN-10
// when only that is present.
func (r *CanonicalRecord) ISBN13() string {
	if v := r.Identifiers[SchemeISBN13]; v != "" {
		return v
	}
	if v := r.Identifiers[SchemeISBN10]; v != "" {
		return ISBN10To13(v)
	}
	return ""
}

// RecordSet is an ordered collection of candidate records for one lookup.
type RecordSet struct {
	Records []CanonicalRecord `json:"records"`
}

// Empty reports whether the set holds no records.
func (s RecordSet) Empty() bool {
	return len(s.Records) == 0
}

// Len returns the number of records in the set.
func (s RecordSet) Len() int {
	return len(s.Records)
}

// Truncate limits the set to at most n records. n <= 0 leaves it unchanged.
func (s RecordSet) Truncate(n int) RecordSet {
	if n <= 0 || len(s.Records) <= n {
		return s
	}
	return RecordSet{Records: s.Records[:n]}
}

// WorksCatalog is an entity-to-works index produced by bibliography
// discovery, deduplicated by normalized title.
type WorksCatalog struct {
	EntityKey        string            `json:"entity_key"`
	Works            []CanonicalRecord `json:"works"`
	CompletenessHint int               `json:"completeness_hint"`
}

// AddWork appends a work unless a work with the same normalized title is
// already present.
func (c *WorksCatalog) AddWork(rec CanonicalRecord) {
	for _, w := range c.Works {
		if w.NormalizedTitle == rec.NormalizedTitle {
			return
		}
	}
	c.Works = append(c.Works, rec)
}
