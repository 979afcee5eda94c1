// Package serve exposes the lookup orchestrator and the enrichment queue
// over HTTP: search endpoints with cache-status reporting, queue management
// and cover image thumbnails.
package serve

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mtoivanen/librarian/internal/book"
	"github.com/mtoivanen/librarian/internal/orchestrator"
	"github.com/mtoivanen/librarian/internal/queue"
)

// Resolver is the lookup dependency of the HTTP layer.
type Resolver interface {
	Resolve(ctx context.Context, lookup book.Lookup) (orchestrator.Result, error)
	AuthorWorks(ctx context.Context, author string) (book.WorksCatalog, error)
	Invalidate(prefix string) (int64, error)
}

// Server wires the orchestrator and queue into an HTTP handler.
type Server struct {
	resolver Resolver
	queue    *queue.Queue
	client   *http.Client
}

// NewServer creates a Server. queue may be nil, which disables the /queue
// endpoints with a 503 rather than a panic.
func NewServer(resolver Resolver, q *queue.Queue) *Server {
	return &Server{
		resolver: resolver,
		queue:    q,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Router builds the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/search", func(r chi.Router) {
		r.Get("/title", s.handleSearchTitle)
		r.Get("/author", s.handleSearchAuthor)
		r.Get("/isbn", s.handleSearchISBN)
		r.Get("/subject", s.handleSearchSubject)
		r.Get("/advanced", s.handleSearchAdvanced)
	})

	r.Get("/works/{author}", s.handleAuthorWorks)
	r.Get("/cover/{isbn}", s.handleCover)

	r.Route("/queue", func(r chi.Router) {
		r.Post("/entries", s.handleEnqueue)
		r.Get("/entries/{id}", s.handleGetEntry)
		r.Delete("/entries/{id}", s.handleCancelEntry)
		r.Post("/entries/{id}/promote", s.handlePromoteEntry)
	})

	r.Post("/cache/invalidate", s.handleInvalidate)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// searchResponse is the envelope for every search endpoint. totalItems
// counts everything the lookup matched; items may be shorter when the
// request carried maxResults.
type searchResponse struct {
	TotalItems int          `json:"totalItems"`
	Provider   string       `json:"provider"`
	Items      []searchItem `json:"items"`
}

// searchItem is the wire form of a canonical record. The queue persists
// records in their internal JSON form; the search surface carries its own
// field names so stored entries can evolve without breaking clients.
type searchItem struct {
	Title           string           `json:"title"`
	Authors         []string         `json:"authors"`
	Identifiers     []itemIdentifier `json:"identifiers"`
	PublicationYear int              `json:"publicationYear,omitempty"`
	Language        string           `json:"language,omitempty"`
	CoverImageRef   string           `json:"coverImageRef,omitempty"`
	SourceProvider  string           `json:"sourceProvider"`
	MatchScore      float64          `json:"matchScore"`
}

type itemIdentifier struct {
	Scheme string `json:"scheme"`
	Value  string `json:"value"`
}

func toSearchItems(records []book.CanonicalRecord) []searchItem {
	items := make([]searchItem, 0, len(records))
	for _, rec := range records {
		item := searchItem{
			Title:           rec.Title,
			Authors:         rec.AuthorNames,
			Identifiers:     make([]itemIdentifier, 0, len(rec.Identifiers)),
			PublicationYear: rec.PublicationYear,
			Language:        rec.Language,
			CoverImageRef:   rec.CoverImageRef,
			SourceProvider:  rec.SourceProvider,
			MatchScore:      rec.MatchScore,
		}
		if item.Authors == nil {
			item.Authors = []string{}
		}

		schemes := make([]string, 0, len(rec.Identifiers))
		for scheme := range rec.Identifiers {
			schemes = append(schemes, scheme)
		}
		sort.Strings(schemes)
		for _, scheme := range schemes {
			item.Identifiers = append(item.Identifiers, itemIdentifier{Scheme: scheme, Value: rec.Identifiers[scheme]})
		}

		items = append(items, item)
	}
	return items
}

func (s *Server) handleSearchTitle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing q parameter")
		return
	}
	s.resolve(w, r, book.ByTitle(q))
}

func (s *Server) handleSearchAuthor(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing q parameter")
		return
	}
	s.resolve(w, r, book.ByAuthor(q))
}

func (s *Server) handleSearchISBN(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing q parameter")
		return
	}
	if !book.ValidISBN(book.NormalizeISBN(q)) {
		writeError(w, http.StatusBadRequest, "invalid ISBN")
		return
	}
	s.resolve(w, r, book.ByIdentifier(q))
}

func (s *Server) handleSearchSubject(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing q parameter")
		return
	}
	s.resolve(w, r, book.BySubject(q))
}

func (s *Server) handleSearchAdvanced(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	lookup := book.Advanced(params.Get("title"), params.Get("author"), params.Get("identifier"))
	if lookup.Empty() {
		writeError(w, http.StatusBadRequest, "at least one of title, author or identifier is required")
		return
	}
	s.resolve(w, r, lookup)
}

// resolve answers a lookup and writes the search envelope, reporting cache
// status in the X-Cache header. A full provider outage maps to 503 so
// clients can distinguish it from a legitimately empty answer.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request, lookup book.Lookup) {
	maxResults := 0
	if raw := r.URL.Query().Get("maxResults"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "maxResults must be a positive integer")
			return
		}
		maxResults = n
	}

	res, err := s.resolver.Resolve(r.Context(), lookup)
	if err != nil {
		if errors.Is(err, book.ErrInvalidStub) {
			writeError(w, http.StatusBadRequest, "invalid lookup")
			return
		}
		if errors.Is(err, book.ErrAllProvidersFailed) {
			writeError(w, http.StatusServiceUnavailable, "all metadata sources failed")
			return
		}
		slog.Error("Lookup failed", "kind", lookup.Kind, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	if res.FromCache {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}

	writeJSON(w, http.StatusOK, searchResponse{
		TotalItems: res.Set.Len(),
		Provider:   res.Provider,
		Items:      toSearchItems(res.Set.Truncate(maxResults).Records),
	})
}

func (s *Server) handleAuthorWorks(w http.ResponseWriter, r *http.Request) {
	author := chi.URLParam(r, "author")
	if author == "" {
		writeError(w, http.StatusBadRequest, "missing author")
		return
	}

	catalog, err := s.resolver.AuthorWorks(r.Context(), author)
	if err != nil {
		if errors.Is(err, book.ErrProviderUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "bibliography source unavailable")
			return
		}
		slog.Error("Author works lookup failed", "author", author, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, catalog)
}

// invalidateRequest asks for cache entries under a key prefix to be dropped.
type invalidateRequest struct {
	Prefix string `json:"prefix"`
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := decodeJSON(r, &req); err != nil || req.Prefix == "" {
		writeError(w, http.StatusBadRequest, "prefix is required")
		return
	}

	deleted, err := s.resolver.Invalidate(req.Prefix)
	if err != nil {
		slog.Error("Cache invalidation failed", "prefix", req.Prefix, "error", err)
		writeError(w, http.StatusInternalServerError, "invalidation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}
