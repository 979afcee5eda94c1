package book

import "strings"

// LookupKind discriminates the lookup variants the orchestrator routes on.
type LookupKind string

const (
	KindTitle      LookupKind = "title"
	KindAuthor     LookupKind = "author"
	KindIdentifier LookupKind = "identifier"
	KindSubject    LookupKind = "subject"
	KindAdvanced   LookupKind = "advanced"
)

// Lookup is a tagged lookup request. Exactly the fields relevant to Kind are
// populated; callers construct values through the ByTitle/ByAuthor/
// ByIdentifier/BySubject/Advanced constructors so routing stays explicit.
type Lookup struct {
	Kind       LookupKind
	Title      string
	Author     string
	Identifier string
	Subject    string
}

// ByTitle builds a title search lookup.
func ByTitle(title string) Lookup {
	return Lookup{Kind: KindTitle, Title: title}
}

// ByAuthor builds an author bibliography lookup.
func ByAuthor(author string) Lookup {
	return Lookup{Kind: KindAuthor, Author: author}
}

// ByIdentifier builds an exact identifier (ISBN) lookup.
func ByIdentifier(identifier string) Lookup {
	return Lookup{Kind: KindIdentifier, Identifier: NormalizeISBN(identifier)}
}

// BySubject builds a subject/genre browse lookup.
func BySubject(subject string) Lookup {
	return Lookup{Kind: KindSubject, Subject: subject}
}

// Advanced builds a multi-field lookup from whichever fields are populated.
func Advanced(title, author, identifier string) Lookup {
	return Lookup{
		Kind:       KindAdvanced,
		Title:      title,
		Author:     author,
		Identifier: NormalizeISBN(identifier),
	}
}

// Empty reports whether the lookup carries no usable terms.
func (l Lookup) Empty() bool {
	return l.Title == "" && l.Author == "" && l.Identifier == "" && l.Subject == ""
}

// NormalizedTerms returns the lookup's query terms in normalized form,
// suitable for cache key construction. Term order is fixed per kind so equal
// lookups always produce equal keys.
func (l Lookup) NormalizedTerms() string {
	switch l.Kind {
	case KindTitle:
		return NormalizeTitle(l.Title)
	case KindAuthor:
		return NormalizeAuthor(l.Author)
	case KindIdentifier:
		return l.Identifier
	case KindSubject:
		return NormalizeTitle(l.Subject)
	case KindAdvanced:
		parts := make([]string, 0, 3)
		if l.Title != "" {
			parts = append(parts, "t="+NormalizeTitle(l.Title))
		}
		if l.Author != "" {
			parts = append(parts, "a="+NormalizeAuthor(l.Author))
		}
		if l.Identifier != "" {
			parts = append(parts, "i="+l.Identifier)
		}
		return strings.Join(parts, "&")
	}
	return ""
}
