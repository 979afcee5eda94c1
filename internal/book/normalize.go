package book

import (
	"strings"
	"unicode"
)

// NormalizeTitle casefolds a title and strips punctuation so titles from
// different providers compare equal. Interior whitespace collapses to a
// single space.
func NormalizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))

	lastSpace := true
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || r == '-' || r == ':':
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
		// Remaining punctuation is dropped entirely.
	}

	return strings.TrimSpace(b.String())
}

// NormalizeAuthor normalizes an author name the same way as titles.
// Comma-inverted names ("Weir, Andy") are flipped first so both orderings
// normalize to the same string.
func NormalizeAuthor(author string) string {
	if i := strings.Index(author, ","); i >= 0 {
		author = strings.TrimSpace(author[i+1:]) + " " + strings.TrimSpace(author[:i])
	}
	return NormalizeTitle(author)
}

// NormalizeISBN strips hyphens, spaces and the Goodreads-export `="..."`
// wrapping from an ISBN.
func NormalizeISBN(isbn string) string {
	isbn = strings.TrimPrefix(isbn, "=")
	isbn = strings.Trim(isbn, `"`)
	isbn = strings.ReplaceAll(isbn, "-", "")
	isbn = strings.ReplaceAll(isbn, " ", "")
	return strings.ToUpper(isbn)
}

// ValidISBN reports whether s looks like an ISBN-10 or ISBN-13 after
// normalization. Only length and character class are checked; checksum
// validation is left to the providers.
func ValidISBN(s string) bool {
	s = NormalizeISBN(s)
	switch len(s) {
	case 10:
		for i, r := range s {
			if r >= '0' && r <= '9' {
				continue
			}
			if i == 9 && r == 'X' {
				continue
			}
			return false
		}
		return true
	case 13:
		for _, r := range s {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	}
	return false
}

// ISBN10To13 converts an ISBN-10 to its ISBN-13 form with the 978 prefix.
// Returns "" for input that is not a plausible ISBN-10.
func ISBN10To13(isbn10 string) string {
	isbn10 = NormalizeISBN(isbn10)
	if len(isbn10) != 10 {
		return ""
	}

	core := "978" + isbn10[:9]
	sum := 0
	for i, r := range core {
		d := int(r - '0')
		if d < 0 || d > 9 {
			return ""
		}
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	check := (10 - sum%10) % 10
	return core + string(rune('0'+check))
}
