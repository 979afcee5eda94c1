package serve

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mtoivanen/librarian/internal/book"
	"github.com/mtoivanen/librarian/internal/queue"
)

// enqueueRequest accepts a single stub or a batch; exactly one of the two
// forms should be used.
type enqueueRequest struct {
	Title      string `json:"title,omitempty"`
	Author     string `json:"author,omitempty"`
	Identifier string `json:"identifier,omitempty"`

	Entries []enqueueStub `json:"entries,omitempty"`
}

type enqueueStub struct {
	Title      string `json:"title,omitempty"`
	Author     string `json:"author,omitempty"`
	Identifier string `json:"identifier,omitempty"`
}

type enqueueResponse struct {
	IDs []string `json:"ids"`
}

type entryResponse struct {
	ID       string                `json:"id"`
	Status   book.StubStatus       `json:"status"`
	Attempts int                   `json:"attempts"`
	Stub     book.Stub             `json:"stub"`
	Record   *book.CanonicalRecord `json:"record,omitempty"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "queue is not enabled")
		return
	}

	var req enqueueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	stubs := make([]book.Stub, 0, len(req.Entries)+1)
	if req.Title != "" || req.Author != "" || req.Identifier != "" {
		stubs = append(stubs, book.Stub{Title: req.Title, Author: req.Author, Identifier: req.Identifier})
	}
	for _, e := range req.Entries {
		stubs = append(stubs, book.Stub{Title: e.Title, Author: e.Author, Identifier: e.Identifier})
	}
	if len(stubs) == 0 {
		writeError(w, http.StatusBadRequest, "no entries to enqueue")
		return
	}

	entries, err := s.queue.EnqueueBatch(stubs)
	if err != nil {
		if errors.Is(err, book.ErrInvalidStub) {
			writeError(w, http.StatusBadRequest, "every entry needs a title, author or identifier")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to enqueue")
		return
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{IDs: ids})
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "queue is not enabled")
		return
	}

	entry, err := s.queue.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load entry")
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "no such entry")
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponse(entry))
}

func (s *Server) handleCancelEntry(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "queue is not enabled")
		return
	}

	ok, err := s.queue.Cancel(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to cancel entry")
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "entry is not pending")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePromoteEntry(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "queue is not enabled")
		return
	}

	promoted, err := s.queue.Promote(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to promote entry")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"promoted": promoted})
}

func toEntryResponse(entry *queue.Entry) entryResponse {
	return entryResponse{
		ID:       entry.ID,
		Status:   entry.Status,
		Attempts: entry.Attempts,
		Stub:     entry.Stub,
		Record:   entry.Record,
	}
}
