// Package providers contains the per-source metadata adapters. Each adapter
// translates a typed lookup into one external API's wire call and maps the
// response into canonical records; nothing above this package ever sees a
// provider-specific shape.
package providers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mtoivanen/librarian/internal/book"
)

// Provider is the uniform client for one external metadata source.
// Implementations handle their own authentication, rate limiting and data
// transformation to the canonical record shape.
type Provider interface {
	// Name returns the short identifier of the source (e.g. "openlibrary").
	// It appears in response envelopes and cache diagnostics.
	Name() string

	// Ping tests the connection to the source.
	Ping(ctx context.Context) error

	// Search executes the lookup against the source.
	// A valid query with zero matches returns an empty RecordSet and a nil
	// error; errors mean the source itself failed (timeout, 5xx, transport)
	// and wrap book.ErrProviderUnavailable.
	Search(ctx context.Context, lookup book.Lookup) (book.RecordSet, error)
}

// AuthorWorksProvider is implemented by sources that can enumerate an
// author's complete bibliography. OpenLibrary is the only such source in the
// default set.
type AuthorWorksProvider interface {
	Provider

	// AuthorWorks returns the works catalog for the given author name.
	AuthorWorks(ctx context.Context, author string) (book.WorksCatalog, error)
}

const defaultHTTPTimeout = 10 * time.Second

// newHTTPClient returns the client used by all adapters. The timeout bounds
// every provider call so a hung source cannot stall a resolve.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// unavailable wraps err as a provider-level transient failure.
func unavailable(provider string, err error) error {
	return errors.Join(book.ErrProviderUnavailable, &providerError{provider: provider, err: err})
}

type providerError struct {
	provider string
	err      error
}

func (e *providerError) Error() string {
	return e.provider + ": " + e.err.Error()
}

func (e *providerError) Unwrap() error {
	return e.err
}

// isTransientStatus reports whether an HTTP status should be treated as a
// provider outage rather than a definitive answer.
func isTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
