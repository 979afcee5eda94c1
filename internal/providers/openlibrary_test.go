package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mtoivanen/librarian/internal/book"
	"github.com/stretchr/testify/require"
)

func TestOpenLibraryTitleSearch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search.json", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "The Martian", r.URL.Query().Get("title"))
		_, _ = w.Write([]byte(`{"numFound":1,"docs":[{"title":"The Martian","author_name":["Andy Weir"],"first_publish_year":2014,"isbn":["9780345391803","0345391802"],"cover_i":123,"key":"/works/OL17091839W"}]}`))
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	p := NewOpenLibraryProviderWithBaseURL(server.URL)
	set, err := p.Search(context.Background(), book.ByTitle("The Martian"))
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())

	rec := set.Records[0]
	require.Equal(t, "the martian", rec.NormalizedTitle)
	require.Equal(t, []string{"Andy Weir"}, rec.AuthorNames)
	require.Equal(t, "9780345391803", rec.Identifiers[book.SchemeISBN13])
	require.Equal(t, "0345391802", rec.Identifiers[book.SchemeISBN10])
	require.Equal(t, 2014, rec.PublicationYear)
	require.Equal(t, "openlibrary", rec.SourceProvider)
	require.GreaterOrEqual(t, rec.MatchScore, 0.9)
	require.Contains(t, rec.CoverImageRef, "covers.openlibrary.org")
}

func TestOpenLibraryISBNLookup(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/books", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ISBN:9780345391803":{"title":"The Martian","authors":[{"name":"Andy Weir"}],"publish_date":"2014","identifiers":{"isbn_13":["9780345391803"],"openlibrary":["OL25430478M"]}}}`))
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	p := NewOpenLibraryProviderWithBaseURL(server.URL)
	set, err := p.Search(context.Background(), book.ByIdentifier("978-0-345-39180-3"))
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())

	rec := set.Records[0]
	require.Equal(t, "9780345391803", rec.Identifiers[book.SchemeISBN13])
	require.Equal(t, "OL25430478M", rec.Identifiers[book.SchemeOpenLibrary])
	require.Equal(t, 1.0, rec.MatchScore)
}

func TestOpenLibraryISBNNotFoundIsEmptySuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/books", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	p := NewOpenLibraryProviderWithBaseURL(server.URL)
	set, err := p.Search(context.Background(), book.ByIdentifier("9780000000000"))
	require.NoError(t, err)
	require.True(t, set.Empty())
}

func TestOpenLibraryServerErrorIsUnavailable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	p := NewOpenLibraryProviderWithBaseURL(server.URL)
	_, err := p.Search(context.Background(), book.ByTitle("anything"))
	require.Error(t, err)
	require.True(t, errors.Is(err, book.ErrProviderUnavailable))
}

func TestOpenLibraryAuthorWorks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search.json", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Agatha Christie", r.URL.Query().Get("author"))
		_, _ = w.Write([]byte(`{"numFound":66,"docs":[
			{"title":"Murder on the Orient Express","author_name":["Agatha Christie"],"isbn":["9780007119318"]},
			{"title":"Murder on the Orient Express","author_name":["Agatha Christie"],"isbn":["9780062073501"]},
			{"title":"The A.B.C. Murders","author_name":["Agatha Christie"],"isbn":["9780062073587"]}
		]}`))
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	p := NewOpenLibraryProviderWithBaseURL(server.URL)
	catalog, err := p.AuthorWorks(context.Background(), "Agatha Christie")
	require.NoError(t, err)
	require.Equal(t, "agatha christie", catalog.EntityKey)
	require.Equal(t, 66, catalog.CompletenessHint)
	// Duplicate edition of the same work collapses.
	require.Len(t, catalog.Works, 2)
}
