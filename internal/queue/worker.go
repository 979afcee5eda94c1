package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mtoivanen/librarian/internal/book"
	"github.com/mtoivanen/librarian/internal/orchestrator"
)

// DefaultPollInterval is how often an idle worker checks for new entries.
const DefaultPollInterval = 1 * time.Second

// DefaultJanitorInterval is how often expired leases are swept back to
// pending.
const DefaultJanitorInterval = 1 * time.Minute

// Resolver is the lookup-answering dependency of the worker pool.
type Resolver interface {
	Resolve(ctx context.Context, lookup book.Lookup) (orchestrator.Result, error)
}

// PoolOptions configures the worker pool.
type PoolOptions struct {
	// Workers is the number of concurrent enrichment workers.
	// Zero means 1.
	Workers int

	// PollInterval is the idle wait between drains. Zero means
	// DefaultPollInterval.
	PollInterval time.Duration

	// JanitorInterval is the expired-lease sweep cadence. Zero means
	// DefaultJanitorInterval.
	JanitorInterval time.Duration
}

// Pool drains the queue with a bounded set of workers, resolves each entry
// through the orchestrator and reports the outcome back to the queue.
type Pool struct {
	queue           *Queue
	resolver        Resolver
	workers         int
	pollInterval    time.Duration
	janitorInterval time.Duration

	wg sync.WaitGroup
}

// NewPool creates a worker pool over the given queue and resolver.
func NewPool(q *Queue, resolver Resolver, opts PoolOptions) *Pool {
	p := &Pool{
		queue:           q,
		resolver:        resolver,
		workers:         opts.Workers,
		pollInterval:    opts.PollInterval,
		janitorInterval: opts.JanitorInterval,
	}
	if p.workers <= 0 {
		p.workers = 1
	}
	if p.pollInterval <= 0 {
		p.pollInterval = DefaultPollInterval
	}
	if p.janitorInterval <= 0 {
		p.janitorInterval = DefaultJanitorInterval
	}
	return p
}

// Start launches the workers and the lease janitor. It returns immediately;
// cancel ctx and call Wait to shut down.
func (p *Pool) Start(ctx context.Context) {
	slog.Info("Starting enrichment workers", "count", p.workers)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.runWorker(ctx, id)
		}(i)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runJanitor(ctx)
	}()
}

// Wait blocks until every worker and the janitor have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// runWorker drains one entry at a time until ctx is cancelled. An empty
// queue backs off for the poll interval instead of spinning.
func (p *Pool) runWorker(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}

		entries, err := p.queue.Drain(1)
		if err != nil {
			slog.Error("Failed to drain queue", "worker", id, "error", err)
			p.sleep(ctx)
			continue
		}
		if len(entries) == 0 {
			p.sleep(ctx)
			continue
		}

		p.process(ctx, entries[0])
	}
}

// process resolves one entry. A non-empty answer stores the best-scoring
// record; a failure or empty answer goes back through the queue's retry
// policy.
func (p *Pool) process(ctx context.Context, entry *Entry) {
	res, err := p.resolver.Resolve(ctx, entry.Stub.Lookup())
	if err != nil {
		slog.Warn("Enrichment attempt failed", "entry_id", entry.ID, "attempt", entry.Attempts+1, "error", err)
		if err := p.queue.Complete(entry.ID, Outcome{}); err != nil {
			slog.Error("Failed to record entry failure", "entry_id", entry.ID, "error", err)
		}
		return
	}

	best := bestRecord(res.Set)
	if best == nil {
		slog.Info("No matching records for entry", "entry_id", entry.ID, "title", entry.Stub.Title)
		if err := p.queue.Complete(entry.ID, Outcome{}); err != nil {
			slog.Error("Failed to record entry failure", "entry_id", entry.ID, "error", err)
		}
		return
	}

	slog.Info("Entry enriched", "entry_id", entry.ID, "title", best.Title, "provider", best.SourceProvider, "score", best.MatchScore)
	if err := p.queue.Complete(entry.ID, Outcome{Enriched: true, Record: best}); err != nil {
		slog.Error("Failed to record entry completion", "entry_id", entry.ID, "error", err)
	}
}

func (p *Pool) runJanitor(ctx context.Context) {
	ticker := time.NewTicker(p.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.queue.RequeueExpiredLeases(); err != nil {
				slog.Error("Lease sweep failed", "error", err)
			}
		}
	}
}

func (p *Pool) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.pollInterval):
	}
}

// bestRecord returns the highest-scoring record in the set, or nil for an
// empty set. Ties keep the earlier record, preserving chain order.
func bestRecord(set book.RecordSet) *book.CanonicalRecord {
	if set.Empty() {
		return nil
	}
	best := 0
	for i := 1; i < len(set.Records); i++ {
		if set.Records[i].MatchScore > set.Records[best].MatchScore {
			best = i
		}
	}
	rec := set.Records[best]
	return &rec
}
