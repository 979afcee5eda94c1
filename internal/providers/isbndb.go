package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/mtoivanen/librarian/internal/book"
	"github.com/mtoivanen/librarian/internal/config"
	"github.com/mtoivanen/librarian/internal/ratelimit"
)

const isbndbBaseURL = "https://api2.isbndb.com"

// ISBNdbProvider is the identifier specialist: precise edition-level data
// behind a paid, rate-limited API. Calls are drawn from a shared budget;
// when the budget is spent the adapter reports empty so the orchestrator
// advances to the next source instead of blocking.
type ISBNdbProvider struct {
	baseURL     string
	budget      *ratelimit.Budget
	httpClient  *http.Client
	rateLimiter *ratelimit.Limiter
	clientOnce  sync.Once
	limiterOnce sync.Once
}

// Compile-time check that ISBNdbProvider implements Provider.
var _ Provider = (*ISBNdbProvider)(nil)

// NewISBNdbProvider creates a new ISBNdb adapter drawing from the given
// shared call budget. A nil budget disables budgeting.
func NewISBNdbProvider(budget *ratelimit.Budget) *ISBNdbProvider {
	return &ISBNdbProvider{baseURL: isbndbBaseURL, budget: budget}
}

// NewISBNdbProviderWithBaseURL creates an adapter against a custom base URL,
// used by tests with httptest servers.
func NewISBNdbProviderWithBaseURL(baseURL string, budget *ratelimit.Budget) *ISBNdbProvider {
	return &ISBNdbProvider{baseURL: baseURL, budget: budget}
}

// Name returns the short identifier of this source.
func (p *ISBNdbProvider) Name() string {
	return "isbndb"
}

// Ping tests the connection and the configured API key.
func (p *ISBNdbProvider) Ping(ctx context.Context) error {
	if config.ISBNdbAPIKey == "" {
		return fmt.Errorf("ISBNdb API key not configured")
	}

	reqURL := fmt.Sprintf("%s/book/9780140447934", p.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("creating ping request: %w", err)
	}
	req.Header.Set("Authorization", config.ISBNdbAPIKey)

	resp, err := p.client().Do(req)
	if err != nil {
		return fmt.Errorf("ISBNdb ping failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("ISBNdb API key invalid")
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("ISBNdb returned status %d", resp.StatusCode)
	}
	return nil
}

// isbndbBookResponse matches the /book/{isbn} response.
type isbndbBookResponse struct {
	Book isbndbBook `json:"book"`
}

type isbndbBook struct {
	Title         string   `json:"title"`
	Authors       []string `json:"authors"`
	DatePublished string   `json:"date_published"`
	Language      string   `json:"language"`
	Image         string   `json:"image"`
	ISBN          string   `json:"isbn"`
	ISBN13        string   `json:"isbn13"`
}

type isbndbAuthorResponse struct {
	Books []isbndbBook `json:"books"`
}

// Search executes a lookup against ISBNdb. Only identifier and author
// lookups are supported; other kinds answer empty so the orchestrator moves
// on. A missing API key also answers empty, matching how optional paid
// sources degrade.
func (p *ISBNdbProvider) Search(ctx context.Context, lookup book.Lookup) (book.RecordSet, error) {
	if config.ISBNdbAPIKey == "" {
		return book.RecordSet{}, nil
	}

	switch lookup.Kind {
	case book.KindIdentifier:
		return p.searchByISBN(ctx, lookup)
	case book.KindAuthor:
		return p.searchByAuthor(ctx, lookup)
	default:
		return book.RecordSet{}, nil
	}
}

func (p *ISBNdbProvider) searchByISBN(ctx context.Context, lookup book.Lookup) (book.RecordSet, error) {
	if !book.ValidISBN(lookup.Identifier) {
		return book.RecordSet{}, book.ErrInvalidISBN
	}

	body, found, err := p.doGet(ctx, fmt.Sprintf("%s/book/%s", p.baseURL, lookup.Identifier))
	if err != nil || !found {
		return book.RecordSet{}, err
	}

	var result isbndbBookResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return book.RecordSet{}, fmt.Errorf("decoding book response: %w", err)
	}
	if result.Book.Title == "" {
		return book.RecordSet{}, nil
	}

	rec := p.bookToRecord(&result.Book, lookup)
	return book.RecordSet{Records: []book.CanonicalRecord{rec}}, nil
}

func (p *ISBNdbProvider) searchByAuthor(ctx context.Context, lookup book.Lookup) (book.RecordSet, error) {
	reqURL := fmt.Sprintf("%s/author/%s?pageSize=40", p.baseURL, url.PathEscape(lookup.Author))
	body, found, err := p.doGet(ctx, reqURL)
	if err != nil || !found {
		return book.RecordSet{}, err
	}

	var result isbndbAuthorResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return book.RecordSet{}, fmt.Errorf("decoding author response: %w", err)
	}

	set := book.RecordSet{Records: make([]book.CanonicalRecord, 0, len(result.Books))}
	for i := range result.Books {
		set.Records = append(set.Records, p.bookToRecord(&result.Books[i], lookup))
	}
	return set, nil
}

// doGet performs a budgeted, rate-limited GET. found is false on 404 and on
// an exhausted budget.
func (p *ISBNdbProvider) doGet(ctx context.Context, reqURL string) (body []byte, found bool, err error) {
	if p.budget != nil && !p.budget.Spend() {
		return nil, false, nil
	}

	if err := p.limiter().Wait(ctx); err != nil {
		return nil, false, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", config.ISBNdbAPIKey)

	resp, err := p.client().Do(req)
	if err != nil {
		return nil, false, unavailable(p.Name(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, nil
	case isTransientStatus(resp.StatusCode):
		return nil, false, unavailable(p.Name(), fmt.Errorf("API returned status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("ISBNdb returned status %d", resp.StatusCode)
	}

	var buf json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&buf); err != nil {
		return nil, false, fmt.Errorf("reading response: %w", err)
	}
	return buf, true, nil
}

func (p *ISBNdbProvider) bookToRecord(b *isbndbBook, lookup book.Lookup) book.CanonicalRecord {
	rec := book.CanonicalRecord{
		Title:           b.Title,
		NormalizedTitle: book.NormalizeTitle(b.Title),
		AuthorNames:     b.Authors,
		Language:        b.Language,
		CoverImageRef:   b.Image,
		Identifiers:     map[string]string{},
		SourceProvider:  p.Name(),
	}
	if b.ISBN13 != "" {
		rec.Identifiers[book.SchemeISBN13] = book.NormalizeISBN(b.ISBN13)
	}
	if b.ISBN != "" && len(book.NormalizeISBN(b.ISBN)) == 10 {
		rec.Identifiers[book.SchemeISBN10] = book.NormalizeISBN(b.ISBN)
	}
	if year := parseYear(b.DatePublished); year > 0 {
		rec.PublicationYear = year
	}
	rec.MatchScore = book.MatchScore(lookup, &rec)
	return rec
}

func (p *ISBNdbProvider) client() *http.Client {
	p.clientOnce.Do(func() {
		if p.httpClient == nil {
			p.httpClient = newHTTPClient()
		}
	})
	return p.httpClient
}

func (p *ISBNdbProvider) limiter() *ratelimit.Limiter {
	p.limiterOnce.Do(func() {
		p.rateLimiter = ratelimit.New("ISBNdb", 1)
	})
	return p.rateLimiter
}
