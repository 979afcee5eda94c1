package serve

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mtoivanen/librarian/internal/book"
	"github.com/mtoivanen/librarian/internal/orchestrator"
	"github.com/mtoivanen/librarian/internal/queue"
	"github.com/stretchr/testify/require"
)

// fakeResolver scripts orchestrator answers for handler tests.
type fakeResolver struct {
	result      orchestrator.Result
	err         error
	catalog     book.WorksCatalog
	worksErr    error
	invalidated string
	lastLookup  book.Lookup
}

func (f *fakeResolver) Resolve(ctx context.Context, lookup book.Lookup) (orchestrator.Result, error) {
	f.lastLookup = lookup
	return f.result, f.err
}

func (f *fakeResolver) AuthorWorks(ctx context.Context, author string) (book.WorksCatalog, error) {
	return f.catalog, f.worksErr
}

func (f *fakeResolver) Invalidate(prefix string) (int64, error) {
	f.invalidated = prefix
	return 2, nil
}

func newTestServer(t *testing.T, resolver Resolver) *httptest.Server {
	t.Helper()
	q, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"), queue.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	srv := httptest.NewServer(NewServer(resolver, q).Router())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestSearchTitleReportsCacheStatus(t *testing.T) {
	resolver := &fakeResolver{result: orchestrator.Result{
		Set: book.RecordSet{Records: []book.CanonicalRecord{
			{Title: "The Martian", SourceProvider: "openlibrary", MatchScore: 0.9},
		}},
		Provider:  "openlibrary",
		FromCache: true,
	}}
	srv := newTestServer(t, resolver)

	var body searchResponse
	resp := getJSON(t, srv.URL+"/search/title?q=the+martian", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	require.Equal(t, 1, body.TotalItems)
	require.Equal(t, "openlibrary", body.Provider)
	require.Equal(t, "The Martian", body.Items[0].Title)
}

func TestSearchTitleMissingQueryIsBadRequest(t *testing.T) {
	srv := newTestServer(t, &fakeResolver{})
	resp := getJSON(t, srv.URL+"/search/title", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSearchISBNRejectsMalformedIdentifier(t *testing.T) {
	srv := newTestServer(t, &fakeResolver{})
	resp := getJSON(t, srv.URL+"/search/isbn?q=not-an-isbn", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSearchEmptyResultIsOKWithZeroItems(t *testing.T) {
	resolver := &fakeResolver{result: orchestrator.Result{Provider: "openlibrary,googlebooks"}}
	srv := newTestServer(t, resolver)

	var body searchResponse
	resp := getJSON(t, srv.URL+"/search/title?q=no+such+book", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	require.Zero(t, body.TotalItems)
	require.NotNil(t, body.Items)
}

func TestSearchFullOutageIsServiceUnavailable(t *testing.T) {
	resolver := &fakeResolver{err: fmt.Errorf("outage: %w", book.ErrAllProvidersFailed)}
	srv := newTestServer(t, resolver)

	resp := getJSON(t, srv.URL+"/search/title?q=anything", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSearchAdvancedRequiresAtLeastOneField(t *testing.T) {
	srv := newTestServer(t, &fakeResolver{})
	resp := getJSON(t, srv.URL+"/search/advanced", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSearchAdvancedReadsIdentifierParameter(t *testing.T) {
	resolver := &fakeResolver{}
	srv := newTestServer(t, resolver)

	resp := getJSON(t, srv.URL+"/search/advanced?title=The+Martian&identifier=9780345391803", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, book.KindAdvanced, resolver.lastLookup.Kind)
	require.Equal(t, "9780345391803", resolver.lastLookup.Identifier)
}

func TestSearchMaxResultsTruncatesItems(t *testing.T) {
	resolver := &fakeResolver{result: orchestrator.Result{
		Set: book.RecordSet{Records: []book.CanonicalRecord{
			{Title: "The Martian", MatchScore: 0.9},
			{Title: "Artemis", MatchScore: 0.6},
			{Title: "Project Hail Mary", MatchScore: 0.5},
		}},
		Provider: "openlibrary",
	}}
	srv := newTestServer(t, resolver)

	var body searchResponse
	resp := getJSON(t, srv.URL+"/search/author?q=weir&maxResults=1", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 3, body.TotalItems)
	require.Len(t, body.Items, 1)
	require.Equal(t, "The Martian", body.Items[0].Title)
}

func TestSearchMaxResultsMustBePositive(t *testing.T) {
	srv := newTestServer(t, &fakeResolver{})
	for _, raw := range []string{"0", "-1", "many"} {
		resp := getJSON(t, srv.URL+"/search/title?q=weir&maxResults="+raw, nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, "maxResults=%s", raw)
	}
}

func TestSearchItemWireFieldNames(t *testing.T) {
	resolver := &fakeResolver{result: orchestrator.Result{
		Set: book.RecordSet{Records: []book.CanonicalRecord{{
			Title:       "The Martian",
			AuthorNames: []string{"Andy Weir"},
			Identifiers: map[string]string{
				book.SchemeISBN13: "9780345391803",
				book.SchemeISBN10: "0345391802",
			},
			CoverImageRef:  "https://covers.openlibrary.org/b/id/123-L.jpg",
			SourceProvider: "openlibrary",
			MatchScore:     0.9,
		}}},
		Provider: "openlibrary",
	}}
	srv := newTestServer(t, resolver)

	var body map[string]any
	resp := getJSON(t, srv.URL+"/search/title?q=the+martian", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "totalItems")

	item := body["items"].([]any)[0].(map[string]any)
	require.Equal(t, []any{"Andy Weir"}, item["authors"])
	require.Equal(t, "https://covers.openlibrary.org/b/id/123-L.jpg", item["coverImageRef"])

	identifiers := item["identifiers"].([]any)
	require.Len(t, identifiers, 2)
	first := identifiers[0].(map[string]any)
	require.Equal(t, "isbn10", first["scheme"])
	require.Equal(t, "0345391802", first["value"])
}

func TestAuthorWorksEndpoint(t *testing.T) {
	resolver := &fakeResolver{catalog: book.WorksCatalog{
		EntityKey:        "andy weir",
		CompletenessHint: 3,
		Works:            []book.CanonicalRecord{{Title: "The Martian"}},
	}}
	srv := newTestServer(t, resolver)

	var catalog book.WorksCatalog
	resp := getJSON(t, srv.URL+"/works/Andy%20Weir", &catalog)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 3, catalog.CompletenessHint)
	require.Len(t, catalog.Works, 1)
}

func TestCacheInvalidateEndpoint(t *testing.T) {
	resolver := &fakeResolver{}
	srv := newTestServer(t, resolver)

	resp, err := http.Post(srv.URL+"/cache/invalidate", "application/json",
		strings.NewReader(`{"prefix":"works:andy weir"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "works:andy weir", resolver.invalidated)

	var body map[string]int64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, int64(2), body["deleted"])
}

func TestCacheInvalidateRequiresPrefix(t *testing.T) {
	srv := newTestServer(t, &fakeResolver{})
	resp, err := http.Post(srv.URL+"/cache/invalidate", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeResolver{})
	var body map[string]string
	resp := getJSON(t, srv.URL+"/health", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])
}
