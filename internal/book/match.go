package book

import "strings"

// MatchScore computes the confidence in [0,1] that a candidate record
// answers the given lookup. Exact identifier matches score 1.0; otherwise
// the score is token overlap between requested and returned title/author,
// weighted toward the title.
func MatchScore(lookup Lookup, rec *CanonicalRecord) float64 {
	if lookup.Identifier != "" {
		if rec.Identifiers[SchemeISBN13] == lookup.Identifier ||
			rec.Identifiers[SchemeISBN10] == lookup.Identifier ||
			rec.ISBN13() == NormalizeISBN(lookup.Identifier) {
			return 1.0
		}
	}

	var score, weight float64

	if lookup.Title != "" {
		score += 0.7 * tokenOverlap(NormalizeTitle(lookup.Title), rec.NormalizedTitle)
		weight += 0.7
	}
	if lookup.Author != "" {
		best := 0.0
		want := NormalizeAuthor(lookup.Author)
		for _, name := range rec.AuthorNames {
			if o := tokenOverlap(want, NormalizeAuthor(name)); o > best {
				best = o
			}
		}
		score += 0.3 * best
		weight += 0.3
	}
	if lookup.Subject != "" && weight == 0 {
		// Subject browses have no per-record ground truth; treat every
		// returned record as a plausible hit.
		return 0.5
	}

	if weight == 0 {
		return 0
	}
	return score / weight
}

// tokenOverlap returns |A∩B| / max(|A|,|B|) over whitespace-split tokens.
func tokenOverlap(a, b string) float64 {
	at := strings.Fields(a)
	bt := strings.Fields(b)
	if len(at) == 0 || len(bt) == 0 {
		return 0
	}

	set := make(map[string]bool, len(at))
	for _, t := range at {
		set[t] = true
	}
	common := 0
	for _, t := range bt {
		if set[t] {
			common++
			delete(set, t)
		}
	}

	max := len(at)
	if len(bt) > max {
		max = len(bt)
	}
	return float64(common) / float64(max)
}

// MergeRecordSets combines candidate sets from complementary providers.
// Records describing the same work (equal normalized title and primary
// author) collapse into one; the record with the higher match score wins.
// On equal scores the record from the earlier set wins, matching the
// provider chain order. Relative order of first appearance is preserved.
func MergeRecordSets(sets ...RecordSet) RecordSet {
	type slot struct{ idx int }
	seen := make(map[string]slot)
	var merged []CanonicalRecord

	for _, set := range sets {
		for _, rec := range set.Records {
			key := rec.NormalizedTitle + "\x00" + NormalizeAuthor(rec.PrimaryAuthor())
			if s, ok := seen[key]; ok {
				if rec.MatchScore > merged[s.idx].MatchScore {
					merged[s.idx] = rec
				}
				continue
			}
			seen[key] = slot{idx: len(merged)}
			merged = append(merged, rec)
		}
	}

	return RecordSet{Records: merged}
}
