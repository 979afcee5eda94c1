package book

import "errors"

var (
	// ErrInvalidStub is returned when a stub has no usable search field.
	ErrInvalidStub = errors.New("stub has no title, author or identifier")

	// ErrInvalidISBN is returned when a provided identifier is not a
	// plausible ISBN.
	ErrInvalidISBN = errors.New("invalid ISBN")

	// ErrProviderUnavailable marks an adapter-level transient failure
	// (timeout or 5xx-equivalent). The orchestrator absorbs these by
	// advancing to the next adapter in its chain.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrAllProvidersFailed is returned by the orchestrator when every
	// adapter in the chain failed or timed out. Distinct from a successful
	// lookup with zero matches, which yields an empty RecordSet.
	ErrAllProvidersFailed = errors.New("all providers failed")
)
