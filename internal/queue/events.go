package queue

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mtoivanen/librarian/internal/book"
)

// ProgressEvent describes a status transition of a queue entry.
type ProgressEvent struct {
	EntryID  string          `json:"entry_id"`
	Status   book.StubStatus `json:"status"`
	Attempts int             `json:"attempts"`
	Terminal bool            `json:"terminal"`
	At       time.Time       `json:"at"`
}

// ProgressHandler consumes progress events. Handlers run synchronously on
// the queue's goroutine, so they must be quick; anything slow should hand
// off to its own goroutine.
type ProgressHandler func(ProgressEvent)

// ProgressEmitter fans queue progress events out to registered handlers.
type ProgressEmitter struct {
	mu       sync.RWMutex
	handlers []ProgressHandler
}

// NewProgressEmitter creates an emitter with no handlers.
func NewProgressEmitter() *ProgressEmitter {
	return &ProgressEmitter{}
}

// Register adds a handler. Nil handlers are ignored.
func (e *ProgressEmitter) Register(handler ProgressHandler) {
	if handler == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
}

// Emit delivers the event to every registered handler. A panicking handler
// is logged and skipped; it never takes the queue down.
func (e *ProgressEmitter) Emit(event ProgressEvent) {
	e.mu.RLock()
	handlers := make([]ProgressHandler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Progress handler panicked", "entry_id", event.EntryID, "panic", r)
				}
			}()
			h(event)
		}()
	}
}
