// Package warming keeps the cache hot for a configured set of authors: on a
// fixed schedule it rediscovers each author's bibliography and pre-resolves a
// bounded sample of their works so interactive lookups hit warm entries.
package warming

import (
	"context"
	"log/slog"
	"time"

	"github.com/mtoivanen/librarian/internal/book"
	"github.com/mtoivanen/librarian/internal/orchestrator"
	"github.com/spf13/viper"
)

// DefaultInterval is the warming cadence when warming.interval is unset.
const DefaultInterval = 6 * time.Hour

// DefaultWorksPerAuthor bounds how many works are pre-resolved per author
// in one cycle, keeping a cycle's provider cost predictable.
const DefaultWorksPerAuthor = 10

// Resolver is the lookup dependency of the warmer.
type Resolver interface {
	Resolve(ctx context.Context, lookup book.Lookup) (orchestrator.Result, error)
	AuthorWorks(ctx context.Context, author string) (book.WorksCatalog, error)
}

// Warmer periodically pre-resolves the catalog of each configured author.
type Warmer struct {
	resolver  Resolver
	authors   []string
	perAuthor int
	interval  time.Duration
}

// New creates a warmer for the given author list. Interval and per-author
// bounds come from the warming.interval and warming.worksperauthor config
// keys, with sane defaults.
func New(resolver Resolver, authors []string) *Warmer {
	w := &Warmer{
		resolver:  resolver,
		authors:   authors,
		perAuthor: viper.GetInt("warming.worksperauthor"),
		interval:  viper.GetDuration("warming.interval"),
	}
	if w.perAuthor <= 0 {
		w.perAuthor = DefaultWorksPerAuthor
	}
	if w.interval <= 0 {
		w.interval = DefaultInterval
	}
	return w
}

// Run warms once immediately, then on every tick until ctx is cancelled.
func (w *Warmer) Run(ctx context.Context) {
	if len(w.authors) == 0 {
		slog.Info("Cache warming disabled, no authors configured")
		return
	}
	slog.Info("Cache warming scheduled", "authors", len(w.authors), "interval", w.interval)

	w.WarmOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.WarmOnce(ctx)
		}
	}
}

// WarmOnce runs a single warming cycle over every configured author. A
// failing author is logged and skipped; one bad entity never aborts the
// cycle.
func (w *Warmer) WarmOnce(ctx context.Context) {
	start := time.Now()
	var warmed, failed int

	for _, author := range w.authors {
		if ctx.Err() != nil {
			return
		}
		n, err := w.warmAuthor(ctx, author)
		if err != nil {
			slog.Warn("Skipping author in warming cycle", "author", author, "error", err)
			failed++
			continue
		}
		warmed += n
	}

	slog.Info("Warming cycle finished",
		"warmed_lookups", warmed, "failed_authors", failed, "elapsed", time.Since(start))
}

// warmAuthor discovers the author's works and pre-resolves up to the
// per-author bound of them by identifier. Works without an identifier warm
// through the bibliography cache alone.
func (w *Warmer) warmAuthor(ctx context.Context, author string) (int, error) {
	catalog, err := w.resolver.AuthorWorks(ctx, author)
	if err != nil {
		return 0, err
	}

	warmed := 0
	for _, work := range catalog.Works {
		if warmed >= w.perAuthor {
			break
		}
		isbn := work.ISBN13()
		if isbn == "" {
			continue
		}
		if _, err := w.resolver.Resolve(ctx, book.ByIdentifier(isbn)); err != nil {
			slog.Debug("Warming lookup failed", "author", author, "isbn", isbn, "error", err)
			continue
		}
		warmed++
	}
	return warmed, nil
}
