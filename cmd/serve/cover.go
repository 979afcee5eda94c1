package serve

import (
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/go-chi/chi/v5"
	"github.com/mtoivanen/librarian/internal/book"
)

const (
	defaultCoverWidth = 400
	maxCoverWidth     = 1200
)

// handleCover resolves a book by ISBN, fetches its cover image from the
// source provider and serves a resized JPEG. The underlying lookup goes
// through the orchestrator, so repeated cover requests hit the metadata
// cache.
func (s *Server) handleCover(w http.ResponseWriter, r *http.Request) {
	isbn := book.NormalizeISBN(chi.URLParam(r, "isbn"))
	if !book.ValidISBN(isbn) {
		writeError(w, http.StatusBadRequest, "invalid ISBN")
		return
	}

	width := defaultCoverWidth
	if v := r.URL.Query().Get("width"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxCoverWidth {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("width must be between 1 and %d", maxCoverWidth))
			return
		}
		width = n
	}

	res, err := s.resolver.Resolve(r.Context(), book.ByIdentifier(isbn))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "metadata lookup failed")
		return
	}

	coverURL := ""
	for _, rec := range res.Set.Records {
		if rec.CoverImageRef != "" {
			coverURL = rec.CoverImageRef
			break
		}
	}
	if coverURL == "" {
		writeError(w, http.StatusNotFound, "no cover available")
		return
	}

	img, err := s.fetchCover(r, coverURL)
	if err != nil {
		slog.Warn("Cover fetch failed", "isbn", isbn, "url", coverURL, "error", err)
		writeError(w, http.StatusBadGateway, "failed to fetch cover image")
		return
	}

	if img.Bounds().Dx() > width {
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if err := imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		slog.Error("Failed to encode cover image", "isbn", isbn, "error", err)
	}
}

func (s *Server) fetchCover(r *http.Request, coverURL string) (image.Image, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, coverURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d downloading image", resp.StatusCode)
	}

	return imaging.Decode(resp.Body, imaging.AutoOrientation(true))
}
