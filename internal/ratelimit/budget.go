package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// Budget is a shared, non-blocking per-interval call allowance. The queue
// resolution path and the warming scheduler both draw from the same budget
// for the costly identifier-specialist provider; when the budget is spent,
// callers skip the provider instead of blocking on it.
type Budget struct {
	limiter *rate.Limiter
	name    string
}

// NewBudget creates a budget allowing callsPerInterval calls every interval.
// Unused allowance accumulates up to one interval's worth.
func NewBudget(name string, callsPerInterval int, interval time.Duration) *Budget {
	if callsPerInterval < 1 {
		callsPerInterval = 1
	}
	per := rate.Every(interval / time.Duration(callsPerInterval))
	return &Budget{
		limiter: rate.NewLimiter(per, callsPerInterval),
		name:    name,
	}
}

// Spend consumes one call from the budget if available. It never blocks.
func (b *Budget) Spend() bool {
	return b.limiter.Allow()
}

// Name returns the name of this budget.
func (b *Budget) Name() string {
	return b.name
}
