package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/mtoivanen/librarian/internal/book"
	"github.com/mtoivanen/librarian/internal/ratelimit"
)

const openLibraryBaseURL = "https://openlibrary.org"

// OpenLibraryProvider is the bibliography-complete source: free, broad
// coverage, the best place to enumerate an author's complete works, but
// light on edition-level detail.
type OpenLibraryProvider struct {
	baseURL     string
	httpClient  *http.Client
	rateLimiter *ratelimit.Limiter
	clientOnce  sync.Once
	limiterOnce sync.Once
}

// Compile-time checks.
var (
	_ Provider            = (*OpenLibraryProvider)(nil)
	_ AuthorWorksProvider = (*OpenLibraryProvider)(nil)
)

// NewOpenLibraryProvider creates a new OpenLibrary adapter.
func NewOpenLibraryProvider() *OpenLibraryProvider {
	return &OpenLibraryProvider{baseURL: openLibraryBaseURL}
}

// NewOpenLibraryProviderWithBaseURL creates an adapter against a custom base
// URL, used by tests with httptest servers.
func NewOpenLibraryProviderWithBaseURL(baseURL string) *OpenLibraryProvider {
	return &OpenLibraryProvider{baseURL: baseURL}
}

// Name returns the short identifier of this source.
func (p *OpenLibraryProvider) Name() string {
	return "openlibrary"
}

// Ping tests the connection to OpenLibrary.
func (p *OpenLibraryProvider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL, nil)
	if err != nil {
		return fmt.Errorf("creating ping request: %w", err)
	}

	resp, err := p.client().Do(req)
	if err != nil {
		return fmt.Errorf("OpenLibrary ping failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("OpenLibrary returned status %d", resp.StatusCode)
	}
	return nil
}

// Search executes a lookup against OpenLibrary. Identifier lookups use the
// books API; everything else goes through search.json.
func (p *OpenLibraryProvider) Search(ctx context.Context, lookup book.Lookup) (book.RecordSet, error) {
	if lookup.Kind == book.KindIdentifier {
		return p.searchByISBN(ctx, lookup)
	}
	return p.searchDocs(ctx, lookup, 40)
}

// AuthorWorks enumerates the author's bibliography via a large author
// search, deduplicated by normalized title. numFound serves as the
// completeness hint against the observed work count.
func (p *OpenLibraryProvider) AuthorWorks(ctx context.Context, author string) (book.WorksCatalog, error) {
	lookup := book.ByAuthor(author)
	catalog := book.WorksCatalog{EntityKey: book.NormalizeAuthor(author)}

	resp, err := p.fetchDocs(ctx, lookup, 200)
	if err != nil {
		return catalog, err
	}

	catalog.CompletenessHint = resp.NumFound
	for i := range resp.Docs {
		catalog.AddWork(p.docToRecord(&resp.Docs[i], lookup))
	}
	return catalog, nil
}

// openLibraryDoc matches one search.json result document.
type openLibraryDoc struct {
	Title            string   `json:"title"`
	AuthorName       []string `json:"author_name"`
	FirstPublishYear int      `json:"first_publish_year"`
	ISBN             []string `json:"isbn"`
	CoverID          int      `json:"cover_i"`
	Key              string   `json:"key"`
}

type openLibrarySearchResponse struct {
	NumFound int              `json:"numFound"`
	Docs     []openLibraryDoc `json:"docs"`
}

// openLibraryBookResponse matches the books API response (jscmd=data).
type openLibraryBookResponse struct {
	Title   string `json:"title"`
	Authors []struct {
		Name string `json:"name"`
	} `json:"authors"`
	Cover struct {
		Large string `json:"large"`
	} `json:"cover"`
	PublishDate string `json:"publish_date"`
	Identifiers struct {
		ISBN10      []string `json:"isbn_10"`
		ISBN13      []string `json:"isbn_13"`
		OpenLibrary []string `json:"openlibrary"`
	} `json:"identifiers"`
}

func (p *OpenLibraryProvider) searchDocs(ctx context.Context, lookup book.Lookup, limit int) (book.RecordSet, error) {
	resp, err := p.fetchDocs(ctx, lookup, limit)
	if err != nil {
		return book.RecordSet{}, err
	}

	set := book.RecordSet{Records: make([]book.CanonicalRecord, 0, len(resp.Docs))}
	for i := range resp.Docs {
		set.Records = append(set.Records, p.docToRecord(&resp.Docs[i], lookup))
	}
	return set, nil
}

func (p *OpenLibraryProvider) fetchDocs(ctx context.Context, lookup book.Lookup, limit int) (*openLibrarySearchResponse, error) {
	if err := p.limiter().Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	q := url.Values{}
	switch lookup.Kind {
	case book.KindTitle:
		q.Set("title", lookup.Title)
	case book.KindAuthor:
		q.Set("author", lookup.Author)
	case book.KindSubject:
		q.Set("subject", lookup.Subject)
	case book.KindAdvanced:
		if lookup.Title != "" {
			q.Set("title", lookup.Title)
		}
		if lookup.Author != "" {
			q.Set("author", lookup.Author)
		}
	}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("fields", "title,author_name,first_publish_year,isbn,cover_i,key")

	reqURL := fmt.Sprintf("%s/search.json?%s", p.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := p.client().Do(req)
	if err != nil {
		return nil, unavailable(p.Name(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if isTransientStatus(resp.StatusCode) {
		return nil, unavailable(p.Name(), fmt.Errorf("search returned status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OpenLibrary search returned status %d", resp.StatusCode)
	}

	var result openLibrarySearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	return &result, nil
}

func (p *OpenLibraryProvider) searchByISBN(ctx context.Context, lookup book.Lookup) (book.RecordSet, error) {
	if lookup.Identifier == "" {
		return book.RecordSet{}, book.ErrInvalidISBN
	}

	if err := p.limiter().Wait(ctx); err != nil {
		return book.RecordSet{}, fmt.Errorf("rate limit wait: %w", err)
	}

	reqURL := fmt.Sprintf("%s/api/books?bibkeys=ISBN:%s&format=json&jscmd=data", p.baseURL, lookup.Identifier)
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
		return book.RecordSet{}, unavailable(p.Name(), fmt.Errorf("books API returned status %d", resp.StatusCode))
	}

	var result map[string]openLibraryBookResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return book.RecordSet{}, fmt.Errorf("decoding books response: %w", err)
	}

	olBook, ok := result["ISBN:"+lookup.Identifier]
	if !ok {
		// Not found is a legitimate empty answer.
		return book.RecordSet{}, nil
	}

	rec := book.CanonicalRecord{
		Title:           olBook.Title,
		NormalizedTitle: book.NormalizeTitle(olBook.Title),
		Identifiers:     map[string]string{},
		CoverImageRef:   olBook.Cover.Large,
		SourceProvider:  p.Name(),
	}
	for _, a := range olBook.Authors {
		if a.Name != "" {
			rec.AuthorNames = append(rec.AuthorNames, a.Name)
		}
	}
	if len(olBook.Identifiers.ISBN10) > 0 {
		rec.Identifiers[book.SchemeISBN10] = book.NormalizeISBN(olBook.Identifiers.ISBN10[0])
	}
	if len(olBook.Identifiers.ISBN13) > 0 {
		rec.Identifiers[book.SchemeISBN13] = book.NormalizeISBN(olBook.Identifiers.ISBN13[0])
	}
	if len(olBook.Identifiers.OpenLibrary) > 0 {
		rec.Identifiers[book.SchemeOpenLibrary] = olBook.Identifiers.OpenLibrary[0]
	}
	if rec.Identifiers[book.SchemeISBN13] == "" && len(lookup.Identifier) == 13 {
		rec.Identifiers[book.SchemeISBN13] = lookup.Identifier
	}
	if year := parseYear(olBook.PublishDate); year > 0 {
		rec.PublicationYear = year
	}
	rec.MatchScore = book.MatchScore(lookup, &rec)

	return book.RecordSet{Records: []book.CanonicalRecord{rec}}, nil
}

func (p *OpenLibraryProvider) docToRecord(doc *openLibraryDoc, lookup book.Lookup) book.CanonicalRecord {
	rec := book.CanonicalRecord{
		Title:           doc.Title,
		NormalizedTitle: book.NormalizeTitle(doc.Title),
		AuthorNames:     doc.AuthorName,
		PublicationYear: doc.FirstPublishYear,
		Identifiers:     map[string]string{},
		SourceProvider:  p.Name(),
	}
	if doc.Key != "" {
		rec.Identifiers[book.SchemeOpenLibrary] = doc.Key
	}
	for _, isbn := range doc.ISBN {
		norm := book.NormalizeISBN(isbn)
		switch len(norm) {
		case 13:
			if rec.Identifiers[book.SchemeISBN13] == "" {
				rec.Identifiers[book.SchemeISBN13] = norm
			}
		case 10:
			if rec.Identifiers[book.SchemeISBN10] == "" {
				rec.Identifiers[book.SchemeISBN10] = norm
			}
		}
	}
	if doc.CoverID > 0 {
		rec.CoverImageRef = fmt.Sprintf("https://covers.openlibrary.org/b/id/%d-L.jpg", doc.CoverID)
	}
	rec.MatchScore = book.MatchScore(lookup, &rec)
	return rec
}

func (p *OpenLibraryProvider) client() *http.Client {
	p.clientOnce.Do(func() {
		if p.httpClient == nil {
			p.httpClient = newHTTPClient()
		}
	})
	return p.httpClient
}

func (p *OpenLibraryProvider) limiter() *ratelimit.Limiter {
	p.limiterOnce.Do(func() {
		p.rateLimiter = ratelimit.New("OpenLibrary", 2)
	})
	return p.rateLimiter
}
