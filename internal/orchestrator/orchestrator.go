// Package orchestrator routes lookups to the provider adapters: it decides
// which sources to try in what order, applies backend-side result filtering,
// merges parallel answers and serves everything through the tiered cache.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mtoivanen/librarian/internal/book"
	"github.com/mtoivanen/librarian/internal/cache"
	"github.com/mtoivanen/librarian/internal/providers"
	"github.com/spf13/viper"
)

// DefaultAdapterTimeout bounds a single provider call, overridable via the
// search.adaptertimeout config key.
const DefaultAdapterTimeout = 10 * time.Second

// Result is a resolved lookup: the record set, which source(s) served it and
// whether it came from cache.
type Result struct {
	Set       book.RecordSet
	Provider  string
	FromCache bool
}

// Resolver orchestrates lookups across the configured providers. A nil
// cache store degrades every lookup to a forced miss; caching is a
// performance optimization, never a correctness dependency.
type Resolver struct {
	store       *cache.Store
	openLibrary providers.AuthorWorksProvider
	googleBooks providers.Provider
	isbndb      providers.Provider
}

// New creates a Resolver over the three standard sources.
func New(store *cache.Store, openLibrary providers.AuthorWorksProvider, googleBooks, isbndb providers.Provider) *Resolver {
	return &Resolver{
		store:       store,
		openLibrary: openLibrary,
		googleBooks: googleBooks,
		isbndb:      isbndb,
	}
}

// CacheKey computes the cache key for a lookup: kind plus normalized terms.
func CacheKey(lookup book.Lookup) string {
	return string(lookup.Kind) + ":" + lookup.NormalizedTerms()
}

// cacheEnvelope is the serialized cache value: the set plus the provider
// string so cache hits report their original source.
type cacheEnvelope struct {
	Provider string         `json:"provider"`
	Set      book.RecordSet `json:"set"`
}

// Resolve answers a lookup, serving from cache when possible. Exhausting
// every adapter without a hit yields an empty Result, not an error; an error
// means every adapter in the chain failed or timed out.
func (r *Resolver) Resolve(ctx context.Context, lookup book.Lookup) (Result, error) {
	if lookup.Empty() {
		return Result{}, fmt.Errorf("empty lookup: %w", book.ErrInvalidStub)
	}

	key := CacheKey(lookup)
	if env, ok := r.cacheGet(key); ok {
		return Result{Set: env.Set, Provider: env.Provider, FromCache: true}, nil
	}

	var result Result
	var err error
	switch lookup.Kind {
	case book.KindTitle, book.KindSubject:
		result, err = r.resolveParallel(ctx, lookup)
	case book.KindAdvanced:
		result, err = r.resolveAdvanced(ctx, lookup)
	default:
		result, err = r.resolveChain(ctx, lookup, r.chainFor(lookup.Kind))
	}
	if err != nil {
		return Result{}, err
	}

	r.cachePut(key, result, tierFor(lookup.Kind))
	return result, nil
}

// AuthorWorks returns the complete bibliography for an author from the
// bibliography-complete source, cached at the medium tier under a works:
// prefixed key so it can be invalidated per entity.
func (r *Resolver) AuthorWorks(ctx context.Context, author string) (book.WorksCatalog, error) {
	key := "works:" + book.NormalizeAuthor(author)
	if data, ok, err := r.storeGet(key); err == nil && ok {
		var catalog book.WorksCatalog
		if err := json.Unmarshal(data, &catalog); err == nil {
			return catalog, nil
		}
		slog.Warn("Discarding unreadable cached works catalog", "key", key)
	}

	callCtx, cancel := context.WithTimeout(ctx, adapterTimeout())
	defer cancel()

	catalog, err := r.openLibrary.AuthorWorks(callCtx, author)
	if err != nil {
		return book.WorksCatalog{}, fmt.Errorf("author works discovery: %w", err)
	}

	if data, err := json.Marshal(catalog); err == nil {
		r.storePut(key, data, cache.TierMedium)
	}
	return catalog, nil
}

// Invalidate clears all cached entries under the given key prefix.
func (r *Resolver) Invalidate(prefix string) (int64, error) {
	if r.store == nil {
		return 0, nil
	}
	return r.store.Invalidate(prefix)
}

// chainFor selects the ordered adapter list for sequential-fallback kinds.
// Identifier lookups lead with the identifier specialist; author lookups
// lead with the bibliography-complete source.
func (r *Resolver) chainFor(kind book.LookupKind) []providers.Provider {
	switch kind {
	case book.KindIdentifier:
		return []providers.Provider{r.isbndb, r.openLibrary, r.googleBooks}
	case book.KindAuthor:
		return []providers.Provider{r.openLibrary, r.isbndb, r.googleBooks}
	default:
		return []providers.Provider{r.openLibrary, r.googleBooks}
	}
}

// resolveChain tries adapters in order. Failure or an empty answer advances
// to the next adapter; the first non-empty answer wins.
func (r *Resolver) resolveChain(ctx context.Context, lookup book.Lookup, chain []providers.Provider) (Result, error) {
	var errs []error
	sawSuccess := false

	for _, p := range chain {
		set, err := r.callProvider(ctx, p, lookup)
		if err != nil {
			slog.Debug("Provider failed, advancing to next", "provider", p.Name(), "kind", lookup.Kind, "error", err)
			errs = append(errs, err)
			continue
		}
		sawSuccess = true
		if !set.Empty() {
			return Result{Set: set, Provider: p.Name()}, nil
		}
	}

	if !sawSuccess {
		return Result{}, errors.Join(book.ErrAllProvidersFailed, errors.Join(errs...))
	}
	// Every adapter answered, none had a match: a legitimate empty result.
	return Result{Set: book.RecordSet{}, Provider: chainNames(chain)}, nil
}

// resolveParallel fans out to the two broadest-coverage sources at once and
// merges. The fan-out targets are complementary, not redundant, so both
// answers are awaited and merged rather than racing fastest-wins.
func (r *Resolver) resolveParallel(ctx context.Context, lookup book.Lookup) (Result, error) {
	targets := []providers.Provider{r.openLibrary, r.googleBooks}

	type answer struct {
		set book.RecordSet
		err error
	}
	answers := make([]answer, len(targets))

	var wg sync.WaitGroup
	for i, p := range targets {
		wg.Add(1)
		go func(i int, p providers.Provider) {
			defer wg.Done()
			set, err := r.callProvider(ctx, p, lookup)
			answers[i] = answer{set: set, err: err}
		}(i, p)
	}
	wg.Wait()

	var sets []book.RecordSet
	var served []string
	var errs []error
	for i, a := range answers {
		if a.err != nil {
			slog.Debug("Parallel provider failed", "provider", targets[i].Name(), "error", a.err)
			errs = append(errs, a.err)
			continue
		}
		if !a.set.Empty() {
			sets = append(sets, a.set)
			served = append(served, targets[i].Name())
		}
	}

	if len(errs) == len(targets) {
		return Result{}, errors.Join(book.ErrAllProvidersFailed, errors.Join(errs...))
	}

	switch len(served) {
	case 0:
		return Result{Set: book.RecordSet{}, Provider: chainNames(targets)}, nil
	case 1:
		return Result{Set: sets[0], Provider: served[0]}, nil
	default:
		return Result{
			Set:      book.MergeRecordSets(sets...),
			Provider: "orchestrated:" + strings.Join(served, "+"),
		}, nil
	}
}

// resolveAdvanced runs a multi-field lookup against the source best at
// structured queries, filters disqualified editions backend-side, and falls
// back to the bibliography source when the first answers nothing.
func (r *Resolver) resolveAdvanced(ctx context.Context, lookup book.Lookup) (Result, error) {
	chain := []providers.Provider{r.googleBooks, r.openLibrary}
	if lookup.Identifier != "" {
		chain = []providers.Provider{r.isbndb, r.googleBooks, r.openLibrary}
	}

	var errs []error
	sawSuccess := false
	for _, p := range chain {
		set, err := r.callProvider(ctx, p, lookup)
		if err != nil {
			slog.Debug("Provider failed, advancing to next", "provider", p.Name(), "error", err)
			errs = append(errs, err)
			continue
		}
		sawSuccess = true

		set = filterAdvanced(lookup, set)
		if !set.Empty() {
			return Result{Set: set, Provider: p.Name()}, nil
		}
	}

	if !sawSuccess {
		return Result{}, errors.Join(book.ErrAllProvidersFailed, errors.Join(errs...))
	}
	return Result{Set: book.RecordSet{}, Provider: chainNames(chain)}, nil
}

func (r *Resolver) callProvider(ctx context.Context, p providers.Provider, lookup book.Lookup) (book.RecordSet, error) {
	callCtx, cancel := context.WithTimeout(ctx, adapterTimeout())
	defer cancel()
	return p.Search(callCtx, lookup)
}

func (r *Resolver) cacheGet(key string) (cacheEnvelope, bool) {
	data, ok, err := r.storeGet(key)
	if err != nil || !ok {
		return cacheEnvelope{}, false
	}

	var env cacheEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("Discarding unreadable cache entry", "key", key, "error", err)
		return cacheEnvelope{}, false
	}
	return env, true
}

func (r *Resolver) cachePut(key string, result Result, tier cache.Tier) {
	// Empty sets only ever get the short tier so a transient "no results"
	// cannot shadow a future hit for long.
	if result.Set.Empty() {
		tier = cache.TierShort
	}

	data, err := json.Marshal(cacheEnvelope{Provider: result.Provider, Set: result.Set})
	if err != nil {
		slog.Warn("Failed to marshal cache entry", "key", key, "error", err)
		return
	}
	r.storePut(key, data, tier)
}

// storeGet reads through the cache store, degrading unavailability to a
// forced miss.
func (r *Resolver) storeGet(key string) ([]byte, bool, error) {
	if r.store == nil {
		return nil, false, nil
	}
	data, ok, err := r.store.Get(key)
	if err != nil {
		slog.Warn("Cache unavailable, treating as miss", "key", key, "error", err)
		return nil, false, nil
	}
	return data, ok, nil
}

func (r *Resolver) storePut(key string, data []byte, tier cache.Tier) {
	if r.store == nil {
		return
	}
	if err := r.store.Put(key, data, tier); err != nil {
		slog.Warn("Cache write failed", "key", key, "error", err)
	}
}

// tierFor maps a lookup kind to its cache tier. Identifiers are immutable
// and live longest; broad searches churn and expire fastest.
func tierFor(kind book.LookupKind) cache.Tier {
	switch kind {
	case book.KindIdentifier:
		return cache.TierLong
	case book.KindAuthor:
		return cache.TierMedium
	default:
		return cache.TierShort
	}
}

func adapterTimeout() time.Duration {
	if s := viper.GetString("search.adaptertimeout"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return DefaultAdapterTimeout
}

func chainNames(chain []providers.Provider) string {
	names := make([]string, len(chain))
	for i, p := range chain {
		names[i] = p.Name()
	}
	return strings.Join(names, ",")
}
