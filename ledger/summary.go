/*
summary.go - Read-side rollups over obligations

PURPOSE:
  Computes, on demand, the totals and per-status counts for one retailer
  or globally for back-office use. This is a pure projection: nothing is
  cached or updated incrementally, so it can never drift from the write
  path. Every call re-reads the store.

BUCKETS:
  pending  - unsettled (pending or partial) and not past due
  overdue  - unsettled and past due (derived label, never persisted)
  cleared  - fully settled
  The three counts always sum to TotalCount.
*/
package ledger

import (
	"context"
	"time"
)

// Summarizer computes rollups from current store contents.
type Summarizer struct {
	Store Store

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// NewSummarizer creates a summarizer over the given store.
func NewSummarizer(store Store) *Summarizer {
	return &Summarizer{Store: store, Now: time.Now}
}

// Summarize rolls up the obligations of one retailer, or of everyone
// when userID is empty. An empty result is all zeros, never an error.
func (s *Summarizer) Summarize(ctx context.Context, userID string) (Summary, error) {
	obs, err := s.Store.ListObligations(ctx, ListFilter{UserID: userID})
	if err != nil {
		return Summary{}, err
	}

	today := s.Now().UTC()
	sum := NewSummary()
	for i := range obs {
		ob := &obs[i]
		sum.TotalAmount = sum.TotalAmount.Add(ob.Amount)
		sum.TotalPending = sum.TotalPending.Add(ob.PendingAmount)
		sum.TotalCleared = sum.TotalCleared.Add(ob.ClearedAmount)
		sum.TotalCount++

		switch {
		case ob.Status.Settled():
			sum.ClearedCount++
		case ob.Overdue(today):
			sum.OverdueCount++
		default:
			sum.PendingCount++
		}
	}
	return sum, nil
}
