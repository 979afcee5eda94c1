// Package queue implements the durable enrichment work queue: one entry per
// bibliographic stub awaiting resolution, persisted in SQLite so no entry is
// lost across process restarts.
package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mtoivanen/librarian/internal/book"
	_ "modernc.org/sqlite"
)

// DefaultLeaseTTL is how long a drained entry may stay in progress before
// the janitor assumes its worker died and returns it to pending.
const DefaultLeaseTTL = 5 * time.Minute

// DefaultMaxRetries is how many failed attempts an entry gets before it is
// marked terminally failed.
const DefaultMaxRetries = 3

const queueSchema = `
CREATE TABLE IF NOT EXISTS enrichment_queue (
	id TEXT PRIMARY KEY NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	author TEXT NOT NULL DEFAULT '',
	identifier TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	priority INTEGER NOT NULL DEFAULT 0,
	attempts INTEGER NOT NULL DEFAULT 0,
	seq INTEGER NOT NULL,
	enqueued_at DATETIME NOT NULL,
	lease_expires_at DATETIME,
	result TEXT
);

CREATE INDEX IF NOT EXISTS idx_enrichment_queue_drain ON enrichment_queue(status, priority, seq);
`

// Entry wraps a stub with its queue metadata. The queue owns the stub's
// lifecycle while it is pending or in progress.
type Entry struct {
	ID         string
	Stub       book.Stub
	Priority   int
	Attempts   int
	EnqueuedAt time.Time
	Status     book.StubStatus
	Record     *book.CanonicalRecord
}

// Options configures a queue instance.
type Options struct {
	// MaxRetries caps failed attempts before an entry goes terminal.
	// Zero means DefaultMaxRetries.
	MaxRetries int

	// LeaseTTL is the liveness timeout for in-progress entries.
	// Zero means DefaultLeaseTTL.
	LeaseTTL time.Duration
}

// Queue is a durable, priority-ordered work queue. Higher priority drains
// first; within a priority band entries drain FIFO by enqueue sequence.
type Queue struct {
	db         *sql.DB
	mu         sync.Mutex
	emitter    *ProgressEmitter
	maxRetries int
	leaseTTL   time.Duration
}

// Open opens (creating if needed) the queue database at dbPath and recovers
// state from a previous run: in-progress entries revert to pending and
// unreadable entries are dropped with a warning, never a crash.
func Open(dbPath string, opts Options) (*Queue, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	if err := db.Ping(); err != nil {
		closeErr := db.Close()
		return nil, errors.Join(fmt.Errorf("failed to connect to queue database: %w", err), closeErr)
	}

	if _, err := db.Exec(queueSchema); err != nil {
		closeErr := db.Close()
		return nil, errors.Join(fmt.Errorf("failed to create queue table: %w", err), closeErr)
	}

	q := &Queue{
		db:         db,
		emitter:    NewProgressEmitter(),
		maxRetries: opts.MaxRetries,
		leaseTTL:   opts.LeaseTTL,
	}
	if q.maxRetries <= 0 {
		q.maxRetries = DefaultMaxRetries
	}
	if q.leaseTTL <= 0 {
		q.leaseTTL = DefaultLeaseTTL
	}

	if err := q.recover(); err != nil {
		closeErr := db.Close()
		return nil, errors.Join(err, closeErr)
	}
	return q, nil
}

// Close closes the queue database.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.db.Close()
}

// Subscribe registers a handler for entry progress events.
func (q *Queue) Subscribe(handler ProgressHandler) {
	q.emitter.Register(handler)
}

// recover reverts interrupted work and drops corrupt rows. No
// partial-progress assumptions: anything in progress at process death starts
// over.
func (q *Queue) recover() error {
	res, err := q.db.Exec(
		"UPDATE enrichment_queue SET status = ?, lease_expires_at = NULL WHERE status = ?",
		book.StatusPending, book.StatusInProgress)
	if err != nil {
		return fmt.Errorf("failed to recover in-progress entries: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		slog.Info("Recovered interrupted queue entries", "count", n)
	}

	// Entries with no usable stub field or an unknown status cannot be
	// processed; drop them rather than poisoning every drain.
	res, err = q.db.Exec(`
		DELETE FROM enrichment_queue
		WHERE (title = '' AND author = '' AND identifier = '')
		   OR status NOT IN (?, ?, ?, ?)`,
		book.StatusPending, book.StatusInProgress, book.StatusEnriched, book.StatusFailed)
	if err != nil {
		return fmt.Errorf("failed to drop unreadable entries: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		slog.Warn("Dropped unreadable queue entries", "count", n)
	}
	return nil
}

// Enqueue inserts a stub at default priority. The entry is persisted before
// Enqueue returns; a crash afterwards cannot lose it.
func (q *Queue) Enqueue(stub book.Stub) (*Entry, error) {
	entries, err := q.EnqueueBatch([]book.Stub{stub})
	if err != nil {
		return nil, err
	}
	return entries[0], nil
}

// EnqueueBatch inserts stubs in one transaction, preserving their relative
// order within the default priority band.
func (q *Queue) EnqueueBatch(stubs []book.Stub) ([]*Entry, error) {
	for i := range stubs {
		if !stubs[i].Usable() {
			return nil, fmt.Errorf("stub %d: %w", i, book.ErrInvalidStub)
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	if err := tx.QueryRow("SELECT COALESCE(MAX(seq), 0) FROM enrichment_queue").Scan(&seq); err != nil {
		return nil, fmt.Errorf("failed to read queue sequence: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO enrichment_queue (id, title, author, identifier, status, priority, attempts, seq, enqueued_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC()
	entries := make([]*Entry, 0, len(stubs))
	for _, stub := range stubs {
		if stub.ID == "" {
			stub.ID = uuid.NewString()
		}
		stub.Status = book.StatusPending
		stub.EnqueuedAt = now
		seq++

		if _, err := stmt.Exec(stub.ID, stub.Title, stub.Author, stub.Identifier, book.StatusPending, seq, now); err != nil {
			return nil, fmt.Errorf("failed to insert entry %s: %w", stub.ID, err)
		}
		entries = append(entries, &Entry{
			ID:         stub.ID,
			Stub:       stub,
			EnqueuedAt: now,
			Status:     book.StatusPending,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit enqueue: %w", err)
	}

	for _, e := range entries {
		q.emitter.Emit(ProgressEvent{EntryID: e.ID, Status: book.StatusPending, At: now})
	}
	return entries, nil
}

// Promote moves a pending entry to the front of its priority band. It is
// idempotent and reports false (without error) for missing or terminal
// entries.
func (q *Queue) Promote(entryID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.db.Exec(`
		UPDATE enrichment_queue
		SET seq = (
			SELECT COALESCE(MIN(seq), 1) - 1 FROM enrichment_queue b
			WHERE b.priority = enrichment_queue.priority AND b.status = ? AND b.id != enrichment_queue.id
		)
		WHERE id = ? AND status = ?`,
		book.StatusPending, entryID, book.StatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to promote entry: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// Drain leases up to workerBudget pending entries in priority order
// (highest priority first, FIFO within a band), marking them in progress.
// Entries not completed before the lease expires return to pending.
func (q *Queue) Drain(workerBudget int) ([]*Entry, error) {
	if workerBudget <= 0 {
		return nil, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.Query(`
		SELECT id, title, author, identifier, priority, attempts, enqueued_at
		FROM enrichment_queue
		WHERE status = ?
		ORDER BY priority DESC, seq ASC
		LIMIT ?`,
		book.StatusPending, workerBudget)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending entries: %w", err)
	}

	var entries []*Entry
	for rows.Next() {
		e := &Entry{Status: book.StatusInProgress}
		if err := rows.Scan(&e.ID, &e.Stub.Title, &e.Stub.Author, &e.Stub.Identifier,
			&e.Priority, &e.Attempts, &e.EnqueuedAt); err != nil {
			slog.Warn("Skipping unreadable queue entry", "error", err)
			continue
		}
		e.Stub.ID = e.ID
		e.Stub.Status = book.StatusInProgress
		e.Stub.Attempts = e.Attempts
		e.Stub.EnqueuedAt = e.EnqueuedAt
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("failed to read pending entries: %w", err)
	}
	_ = rows.Close()

	now := time.Now().UTC()
	leaseExpiry := now.Add(q.leaseTTL)
	for _, e := range entries {
		if _, err := tx.Exec(
			"UPDATE enrichment_queue SET status = ?, lease_expires_at = ? WHERE id = ?",
			book.StatusInProgress, leaseExpiry, e.ID); err != nil {
			return nil, fmt.Errorf("failed to lease entry %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit drain: %w", err)
	}

	for _, e := range entries {
		q.emitter.Emit(ProgressEvent{EntryID: e.ID, Status: book.StatusInProgress, Attempts: e.Attempts, At: now})
	}
	return entries, nil
}

// Outcome is the result a worker reports for a drained entry.
type Outcome struct {
	Enriched bool
	Record   *book.CanonicalRecord
}

// Complete finalizes a drained entry. Enriched entries store their record
// and go terminal. Failed entries return to pending at lowered priority
// until their attempts are exhausted, then go terminally failed.
func (q *Queue) Complete(entryID string, outcome Outcome) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var attempts, priority int
	err := q.db.QueryRow(
		"SELECT attempts, priority FROM enrichment_queue WHERE id = ? AND status = ?",
		entryID, book.StatusInProgress).Scan(&attempts, &priority)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("entry %s is not in progress", entryID)
	}
	if err != nil {
		return fmt.Errorf("failed to load entry: %w", err)
	}

	now := time.Now().UTC()

	if outcome.Enriched {
		var resultJSON []byte
		if outcome.Record != nil {
			resultJSON, err = json.Marshal(outcome.Record)
			if err != nil {
				return fmt.Errorf("failed to marshal record: %w", err)
			}
		}
		if _, err := q.db.Exec(
			"UPDATE enrichment_queue SET status = ?, lease_expires_at = NULL, result = ? WHERE id = ?",
			book.StatusEnriched, resultJSON, entryID); err != nil {
			return fmt.Errorf("failed to complete entry: %w", err)
		}
		q.emitter.Emit(ProgressEvent{EntryID: entryID, Status: book.StatusEnriched, Attempts: attempts, At: now})
		return nil
	}

	attempts++
	if attempts >= q.maxRetries {
		if _, err := q.db.Exec(
			"UPDATE enrichment_queue SET status = ?, attempts = ?, lease_expires_at = NULL WHERE id = ?",
			book.StatusFailed, attempts, entryID); err != nil {
			return fmt.Errorf("failed to fail entry: %w", err)
		}
		slog.Warn("Queue entry exhausted retries", "entry_id", entryID, "attempts", attempts)
		q.emitter.Emit(ProgressEvent{EntryID: entryID, Status: book.StatusFailed, Attempts: attempts, Terminal: true, At: now})
		return nil
	}

	// Requeue at lowered priority, behind current work.
	var maxSeq int64
	if err := q.db.QueryRow("SELECT COALESCE(MAX(seq), 0) FROM enrichment_queue").Scan(&maxSeq); err != nil {
		return fmt.Errorf("failed to read queue sequence: %w", err)
	}
	if _, err := q.db.Exec(
		"UPDATE enrichment_queue SET status = ?, attempts = ?, priority = priority - 1, seq = ?, lease_expires_at = NULL WHERE id = ?",
		book.StatusPending, attempts, maxSeq+1, entryID); err != nil {
		return fmt.Errorf("failed to requeue entry: %w", err)
	}
	q.emitter.Emit(ProgressEvent{EntryID: entryID, Status: book.StatusPending, Attempts: attempts, At: now})
	return nil
}

// Cancel removes a pending entry without side effects. In-progress work is
// left to finish; its result is simply discarded when Complete finds the
// entry gone. Reports false for entries that were not pending.
func (q *Queue) Cancel(entryID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.db.Exec(
		"DELETE FROM enrichment_queue WHERE id = ? AND status = ?",
		entryID, book.StatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to cancel entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// Get returns the entry with the given id, including its stored record for
// enriched entries.
func (q *Queue) Get(entryID string) (*Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e := &Entry{}
	var resultJSON sql.NullString
	err := q.db.QueryRow(`
		SELECT id, title, author, identifier, status, priority, attempts, enqueued_at, result
		FROM enrichment_queue WHERE id = ?`, entryID).
		Scan(&e.ID, &e.Stub.Title, &e.Stub.Author, &e.Stub.Identifier,
			&e.Status, &e.Priority, &e.Attempts, &e.EnqueuedAt, &resultJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load entry: %w", err)
	}

	e.Stub.ID = e.ID
	e.Stub.Status = e.Status
	e.Stub.Attempts = e.Attempts
	e.Stub.EnqueuedAt = e.EnqueuedAt
	if resultJSON.Valid && resultJSON.String != "" {
		var rec book.CanonicalRecord
		if err := json.Unmarshal([]byte(resultJSON.String), &rec); err == nil {
			e.Record = &rec
		}
	}
	return e, nil
}

// Len returns the number of pending entries.
func (q *Queue) Len() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var n int
	if err := q.db.QueryRow(
		"SELECT COUNT(*) FROM enrichment_queue WHERE status = ?",
		book.StatusPending).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending entries: %w", err)
	}
	return n, nil
}

// RequeueExpiredLeases returns in-progress entries whose lease has expired
// to pending. The worker pool's janitor calls this periodically so entries
// held by dead workers recover without a restart.
func (q *Queue) RequeueExpiredLeases() (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.db.Exec(
		"UPDATE enrichment_queue SET status = ?, lease_expires_at = NULL WHERE status = ? AND lease_expires_at < ?",
		book.StatusPending, book.StatusInProgress, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to requeue expired leases: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		slog.Warn("Requeued entries with expired leases", "count", n)
	}
	return n, nil
}
