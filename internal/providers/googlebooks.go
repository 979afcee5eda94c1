package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/mtoivanen/librarian/internal/book"
	"github.com/mtoivanen/librarian/internal/config"
	"github.com/mtoivanen/librarian/internal/ratelimit"
)

const googleBooksBaseURL = "https://www.googleapis.com/books/v1"

// GoogleBooksProvider is the generalist source: broad coverage and the best
// structured query support, which makes it the first choice for multi-field
// advanced lookups.
type GoogleBooksProvider struct {
	baseURL     string
	httpClient  *http.Client
	rateLimiter *ratelimit.Limiter
	clientOnce  sync.Once
	limiterOnce sync.Once
}

// Compile-time check that GoogleBooksProvider implements Provider.
var _ Provider = (*GoogleBooksProvider)(nil)

// NewGoogleBooksProvider creates a new Google Books adapter.
func NewGoogleBooksProvider() *GoogleBooksProvider {
	return &GoogleBooksProvider{baseURL: googleBooksBaseURL}
}

// NewGoogleBooksProviderWithBaseURL creates an adapter against a custom base
// URL, used by tests with httptest servers.
func NewGoogleBooksProviderWithBaseURL(baseURL string) *GoogleBooksProvider {
	return &GoogleBooksProvider{baseURL: baseURL}
}

// Name returns the short identifier of this source.
func (p *GoogleBooksProvider) Name() string {
	return "googlebooks"
}

// Ping tests the connection to the Google Books API.
func (p *GoogleBooksProvider) Ping(ctx context.Context) error {
	reqURL := fmt.Sprintf("%s/volumes?q=isbn:0140447938&maxResults=1", p.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("creating ping request: %w", err)
	}

	resp, err := p.client().Do(req)
	if err != nil {
		return fmt.Errorf("google books ping failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("google books returned status %d", resp.StatusCode)
	}
	return nil
}

// googleBooksResponse matches the volumes list response.
type googleBooksResponse struct {
	TotalItems int                 `json:"totalItems"`
	Items      []googleBooksVolume `json:"items"`
}

type googleBooksVolume struct {
	ID         string `json:"id"`
	VolumeInfo struct {
		Title               string   `json:"title"`
		Authors             []string `json:"authors"`
		PublishedDate       string   `json:"publishedDate"`
		Language            string   `json:"language"`
		IndustryIdentifiers []struct {
			Type       string `json:"type"`
			Identifier string `json:"identifier"`
		} `json:"industryIdentifiers"`
		ImageLinks struct {
			Thumbnail string `json:"thumbnail"`
		} `json:"imageLinks"`
	} `json:"volumeInfo"`
}

// Search executes a lookup against the volumes endpoint using structured
// query terms (intitle:/inauthor:/subject:/isbn:).
func (p *GoogleBooksProvider) Search(ctx context.Context, lookup book.Lookup) (book.RecordSet, error) {
	terms := queryTerms(lookup)
	if terms == "" {
		return book.RecordSet{}, nil
	}

	if err := p.limiter().Wait(ctx); err != nil {
		return book.RecordSet{}, fmt.Errorf("rate limit wait: %w", err)
	}

	q := url.Values{}
	q.Set("q", terms)
	q.Set("maxResults", "40")
	if config.GoogleBooksAPIKey != "" {
		q.Set("key", config.GoogleBooksAPIKey)
	}

	reqURL := fmt.Sprintf("%s/volumes?%s", p.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return book.RecordSet{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := p.client().Do(req)
	if err != nil {
		return book.RecordSet{}, unavailable(p.Name(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if isTransientStatus(resp.StatusCode) {
		return book.RecordSet{}, unavailable(p.Name(), fmt.Errorf("volumes returned status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return book.RecordSet{}, fmt.Errorf("google books returned status %d", resp.StatusCode)
	}

	var result googleBooksResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return book.RecordSet{}, fmt.Errorf("decoding volumes response: %w", err)
	}

	set := book.RecordSet{Records: make([]book.CanonicalRecord, 0, len(result.Items))}
	for i := range result.Items {
		set.Records = append(set.Records, p.volumeToRecord(&result.Items[i], lookup))
	}
	return set, nil
}

func (p *GoogleBooksProvider) volumeToRecord(vol *googleBooksVolume, lookup book.Lookup) book.CanonicalRecord {
	info := &vol.VolumeInfo
	rec := book.CanonicalRecord{
		Title:           info.Title,
		NormalizedTitle: book.NormalizeTitle(info.Title),
		AuthorNames:     info.Authors,
		Identifiers:     map[string]string{},
		CoverImageRef:   info.ImageLinks.Thumbnail,
		SourceProvider:  p.Name(),
	}
	if vol.ID != "" {
		rec.Identifiers[book.SchemeGoogleBooks] = vol.ID
	}
	for _, id := range info.IndustryIdentifiers {
		switch id.Type {
		case "ISBN_13":
			rec.Identifiers[book.SchemeISBN13] = book.NormalizeISBN(id.Identifier)
		case "ISBN_10":
			rec.Identifiers[book.SchemeISBN10] = book.NormalizeISBN(id.Identifier)
		}
	}
	rec.Language = info.Language
	if year := parseYear(info.PublishedDate); year > 0 {
		rec.PublicationYear = year
	}
	rec.MatchScore = book.MatchScore(lookup, &rec)
	return rec
}

// queryTerms builds the structured q= expression for a lookup.
func queryTerms(lookup book.Lookup) string {
	switch lookup.Kind {
	case book.KindTitle:
		return "intitle:" + quoteTerm(lookup.Title)
	case book.KindAuthor:
		return "inauthor:" + quoteTerm(lookup.Author)
	case book.KindIdentifier:
		return "isbn:" + lookup.Identifier
	case book.KindSubject:
		return "subject:" + quoteTerm(lookup.Subject)
	case book.KindAdvanced:
		var parts []string
		if lookup.Identifier != "" {
			parts = append(parts, "isbn:"+lookup.Identifier)
		}
		if lookup.Title != "" {
			parts = append(parts, "intitle:"+quoteTerm(lookup.Title))
		}
		if lookup.Author != "" {
			parts = append(parts, "inauthor:"+quoteTerm(lookup.Author))
		}
		return strings.Join(parts, "+")
	}
	return ""
}

func quoteTerm(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, "") + `"`
}

func (p *GoogleBooksProvider) client() *http.Client {
	p.clientOnce.Do(func() {
		if p.httpClient == nil {
			p.httpClient = newHTTPClient()
		}
	})
	return p.httpClient
}

func (p *GoogleBooksProvider) limiter() *ratelimit.Limiter {
	p.limiterOnce.Do(func() {
		p.rateLimiter = ratelimit.New("GoogleBooks", 5)
	})
	return p.rateLimiter
}
