package cache

// metadataCacheSchema defines the single shared cache table. The tier column
// drives TTL bucketing and eviction order; expires_at is denormalized at
// write time so reads never need the tier config.
const metadataCacheSchema = `
CREATE TABLE IF NOT EXISTS metadata_cache (
	cache_key TEXT PRIMARY KEY NOT NULL,
	data BLOB NOT NULL,
	tier TEXT NOT NULL,
	cached_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_metadata_cache_expires_at ON metadata_cache(tier, expires_at);
`
