package queue

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mtoivanen/librarian/internal/book"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, opts Options) *Queue {
	t.Helper()
	q, err := Open(filepath.Join(t.TempDir(), "queue.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestEnqueueRejectsUnusableStub(t *testing.T) {
	q := newTestQueue(t, Options{})
	_, err := q.Enqueue(book.Stub{})
	require.ErrorIs(t, err, book.ErrInvalidStub)
}

func TestDrainIsFIFOWithinPriorityBand(t *testing.T) {
	q := newTestQueue(t, Options{})

	titles := []string{"First", "Second", "Third"}
	for _, title := range titles {
		_, err := q.Enqueue(book.Stub{Title: title})
		require.NoError(t, err)
	}

	entries, err := q.Drain(3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, title := range titles {
		require.Equal(t, title, entries[i].Stub.Title)
	}
}

func TestEnqueueBatchPreservesOrder(t *testing.T) {
	q := newTestQueue(t, Options{})

	stubs := []book.Stub{
		{Title: "Dune"},
		{Identifier: "9780345391803"},
		{Title: "Hyperion", Author: "Dan Simmons"},
	}
	entries, err := q.EnqueueBatch(stubs)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	drained, err := q.Drain(3)
	require.NoError(t, err)
	require.Len(t, drained, 3)
	require.Equal(t, "Dune", drained[0].Stub.Title)
	require.Equal(t, "9780345391803", drained[1].Stub.Identifier)
	require.Equal(t, "Hyperion", drained[2].Stub.Title)
}

func TestEnqueueBatchRejectsWholeBatchOnInvalidStub(t *testing.T) {
	q := newTestQueue(t, Options{})

	_, err := q.EnqueueBatch([]book.Stub{{Title: "Dune"}, {}})
	require.ErrorIs(t, err, book.ErrInvalidStub)

	n, err := q.Len()
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestPromoteMovesEntryToFrontOfBand(t *testing.T) {
	q := newTestQueue(t, Options{})

	_, err := q.Enqueue(book.Stub{Title: "First"})
	require.NoError(t, err)
	second, err := q.Enqueue(book.Stub{Title: "Second"})
	require.NoError(t, err)

	promoted, err := q.Promote(second.ID)
	require.NoError(t, err)
	require.True(t, promoted)

	entries, err := q.Drain(2)
	require.NoError(t, err)
	require.Equal(t, "Second", entries[0].Stub.Title)
	require.Equal(t, "First", entries[1].Stub.Title)
}

func TestPromoteIsIdempotent(t *testing.T) {
	q := newTestQueue(t, Options{})

	_, err := q.Enqueue(book.Stub{Title: "First"})
	require.NoError(t, err)
	second, err := q.Enqueue(book.Stub{Title: "Second"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		promoted, err := q.Promote(second.ID)
		require.NoError(t, err)
		require.True(t, promoted)
	}

	entries, err := q.Drain(2)
	require.NoError(t, err)
	require.Equal(t, "Second", entries[0].Stub.Title)
}

func TestPromoteMissingOrTerminalEntryIsNoOp(t *testing.T) {
	q := newTestQueue(t, Options{MaxRetries: 1})

	promoted, err := q.Promote("no-such-entry")
	require.NoError(t, err)
	require.False(t, promoted)

	entry, err := q.Enqueue(book.Stub{Title: "Dune"})
	require.NoError(t, err)
	_, err = q.Drain(1)
	require.NoError(t, err)
	require.NoError(t, q.Complete(entry.ID, Outcome{}))

	promoted, err = q.Promote(entry.ID)
	require.NoError(t, err)
	require.False(t, promoted)
}

func TestCompleteEnrichedStoresRecord(t *testing.T) {
	q := newTestQueue(t, Options{})

	entry, err := q.Enqueue(book.Stub{Identifier: "9780345391803"})
	require.NoError(t, err)
	_, err = q.Drain(1)
	require.NoError(t, err)

	rec := &book.CanonicalRecord{
		Title:           "The Martian",
		NormalizedTitle: "the martian",
		SourceProvider:  "isbndb",
		MatchScore:      1.0,
	}
	require.NoError(t, q.Complete(entry.ID, Outcome{Enriched: true, Record: rec}))

	got, err := q.Get(entry.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, book.StatusEnriched, got.Status)
	require.NotNil(t, got.Record)
	require.Equal(t, "The Martian", got.Record.Title)
}

func TestFailedEntryRetriesAtLoweredPriority(t *testing.T) {
	q := newTestQueue(t, Options{MaxRetries: 3})

	failing, err := q.Enqueue(book.Stub{Title: "Flaky"})
	require.NoError(t, err)

	entries, err := q.Drain(1)
	require.NoError(t, err)
	require.Equal(t, failing.ID, entries[0].ID)
	require.NoError(t, q.Complete(failing.ID, Outcome{}))

	// A fresh entry at default priority now drains before the retried one.
	fresh, err := q.Enqueue(book.Stub{Title: "Fresh"})
	require.NoError(t, err)

	entries, err = q.Drain(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, fresh.ID, entries[0].ID)
	require.Equal(t, failing.ID, entries[1].ID)
	require.Equal(t, 1, entries[1].Attempts)
}

func TestEntryGoesTerminalAfterRetriesExhausted(t *testing.T) {
	q := newTestQueue(t, Options{MaxRetries: 2})

	entry, err := q.Enqueue(book.Stub{Title: "Doomed"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		entries, err := q.Drain(1)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.NoError(t, q.Complete(entry.ID, Outcome{}))
	}

	entries, err := q.Drain(1)
	require.NoError(t, err)
	require.Empty(t, entries)

	got, err := q.Get(entry.ID)
	require.NoError(t, err)
	require.Equal(t, book.StatusFailed, got.Status)
	require.Equal(t, 2, got.Attempts)
}

func TestCancelOnlyRemovesPendingEntries(t *testing.T) {
	q := newTestQueue(t, Options{})

	pending, err := q.Enqueue(book.Stub{Title: "Pending"})
	require.NoError(t, err)
	active, err := q.Enqueue(book.Stub{Title: "Active"})
	require.NoError(t, err)

	// Drain pulls the older entry first, so promote the one we want active.
	_, err = q.Promote(active.ID)
	require.NoError(t, err)
	drained, err := q.Drain(1)
	require.NoError(t, err)
	require.Equal(t, active.ID, drained[0].ID)

	ok, err := q.Cancel(pending.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = q.Cancel(active.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReopenRecoversInProgressEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")

	q, err := Open(path, Options{})
	require.NoError(t, err)
	entry, err := q.Enqueue(book.Stub{Title: "Interrupted"})
	require.NoError(t, err)
	_, err = q.Drain(1)
	require.NoError(t, err)
	require.NoError(t, q.Close())

	reopened, err := Open(path, Options{})
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	entries, err := reopened.Drain(1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, entry.ID, entries[0].ID)
}

func TestExpiredLeasesReturnToPending(t *testing.T) {
	q := newTestQueue(t, Options{LeaseTTL: 10 * time.Millisecond})

	_, err := q.Enqueue(book.Stub{Title: "Leased"})
	require.NoError(t, err)
	entries, err := q.Drain(1)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	time.Sleep(20 * time.Millisecond)

	n, err := q.RequeueExpiredLeases()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	entries, err = q.Drain(1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestProgressEventsFollowLifecycle(t *testing.T) {
	q := newTestQueue(t, Options{})

	var statuses []book.StubStatus
	q.Subscribe(func(event ProgressEvent) {
		statuses = append(statuses, event.Status)
	})

	entry, err := q.Enqueue(book.Stub{Title: "Tracked"})
	require.NoError(t, err)
	_, err = q.Drain(1)
	require.NoError(t, err)
	require.NoError(t, q.Complete(entry.ID, Outcome{Enriched: true}))

	require.Equal(t, []book.StubStatus{
		book.StatusPending,
		book.StatusInProgress,
		book.StatusEnriched,
	}, statuses)
}
