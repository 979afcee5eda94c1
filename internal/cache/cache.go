// Package cache provides the shared tiered metadata cache backed by SQLite.
// Entries carry a tier (short/medium/long) that fixes their time-to-live and
// their eviction priority; expired entries read as misses.
package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/viper"
	_ "modernc.org/sqlite"
)

// Tier classifies how long a cache entry stays valid. Identifier lookups are
// immutable and go in the long tier; broad title searches churn and go in
// the short tier.
type Tier string

const (
	TierShort  Tier = "short"
	TierMedium Tier = "medium"
	TierLong   Tier = "long"
)

// Default TTLs per tier, overridable via cache.ttl.<tier> config keys.
const (
	DefaultShortTTL  = 6 * time.Hour
	DefaultMediumTTL = 72 * time.Hour
	DefaultLongTTL   = 720 * time.Hour
)

// TTLFor returns the configured time-to-live for a tier.
func TTLFor(tier Tier) time.Duration {
	var key string
	var def time.Duration
	switch tier {
	case TierShort:
		key, def = "cache.ttl.short", DefaultShortTTL
	case TierMedium:
		key, def = "cache.ttl.medium", DefaultMediumTTL
	default:
		key, def = "cache.ttl.long", DefaultLongTTL
	}

	ttlStr := viper.GetString(key)
	if ttlStr == "" {
		return def
	}
	ttl, err := time.ParseDuration(ttlStr)
	if err != nil {
		slog.Warn("Invalid cache TTL, using default", "key", key, "ttl", ttlStr, "error", err)
		return def
	}
	return ttl
}

// Store is the shared key/value cache. It is written by both the per-stub
// resolution path and the warming scheduler; writes are last-wins and each
// entry stands alone.
type Store struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
}

// NewStore opens (creating if needed) the cache database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if err := db.Ping(); err != nil {
		closeErr := db.Close()
		return nil, errors.Join(fmt.Errorf("failed to connect to cache database: %w", err), closeErr)
	}

	s := &Store{db: db, path: dbPath}
	if _, err := db.Exec(metadataCacheSchema); err != nil {
		closeErr := db.Close()
		return nil, errors.Join(fmt.Errorf("failed to create cache table: %w", err), closeErr)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Get returns the unexpired value stored under key. ok is false on a miss,
// including the case where an entry exists but its TTL has elapsed.
func (s *Store) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data []byte
	var expiresAt time.Time
	err := s.db.QueryRow(
		"SELECT data, expires_at FROM metadata_cache WHERE cache_key = ?", key,
	).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache read failed: %w", err)
	}

	if time.Now().After(expiresAt) {
		return nil, false, nil
	}
	return data, true, nil
}

// Put stores value under key at the given tier, replacing any prior entry.
func (s *Store) Put(key string, value []byte, tier Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO metadata_cache (cache_key, data, tier, cached_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			data = excluded.data,
			tier = excluded.tier,
			cached_at = excluded.cached_at,
			expires_at = excluded.expires_at`,
		key, value, string(tier), now, now.Add(TTLFor(tier)))
	if err != nil {
		return fmt.Errorf("cache write failed: %w", err)
	}
	return nil
}

// Invalidate deletes every entry whose key starts with prefix. Used for
// administrative clearing of a poisoned subtree, e.g. all entries for one
// entity. Returns the number of rows deleted.
func (s *Store) Invalidate(prefix string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(
		"DELETE FROM metadata_cache WHERE cache_key LIKE ? ESCAPE '\\'",
		escapeLike(prefix)+"%")
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate cache entries: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	slog.Debug("Cache entries invalidated", "prefix", prefix, "rows_deleted", rowsAffected)
	return rowsAffected, nil
}

// Sweep deletes expired entries, shortest tier first so short-lived search
// results free space before long-lived identifier records are touched.
func (s *Store) Sweep() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	now := time.Now().UTC()
	for _, tier := range []Tier{TierShort, TierMedium, TierLong} {
		result, err := s.db.Exec(
			"DELETE FROM metadata_cache WHERE tier = ? AND expires_at < ?",
			string(tier), now)
		if err != nil {
			return total, fmt.Errorf("cache sweep failed for tier %s: %w", tier, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to get rows affected: %w", err)
		}
		total += n
	}

	if total > 0 {
		slog.Debug("Cache swept", "rows_deleted", total)
	}
	return total, nil
}

// escapeLike escapes LIKE metacharacters so prefixes containing % or _
// match literally.
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
