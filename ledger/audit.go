/*
audit.go - Recompute balances from the event log

PURPOSE:
  User.Balance is a cached projection. The Auditor re-derives it from praise
  and redemption events and reports every user whose cached
  value disagrees, or is negative. A healthy ledger always reports nothing.

  Each check is one consistent read in the store, so concurrent traffic
  cannot produce false drift.
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

const DefaultAuditConcurrency = 4

type Auditor struct {
	Store       Store
	Concurrency int
}

// Drift is a user whose cached balance does not match the event log.
type Drift = BalanceCheck

// Report is the outcome of one audit pass.
type Report struct {
	Checked int
	Drifts  []Drift
}

func (r Report) Healthy() bool { return len(r.Drifts) == 0 }

// Run checks every user, at most Concurrency at a time.
func (a *Auditor) Run(ctx context.Context) (Report, error) {
	users, err := a.Store.ListUsers(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list users: %w", err)
	}

	limit := a.Concurrency
	if limit <= 0 {
		limit = DefaultAuditConcurrency
	}

	var (
		mu     sync.Mutex
		drifts []Drift
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, u := range users {
		g.Go(func() error {
			check, err := a.Store.CheckBalance(gctx, u.ID)
			if err != nil {
				return fmt.Errorf("check user %s: %w", u.ID, err)
			}
			if !check.Consistent() {
				mu.Lock()
				drifts = append(drifts, check)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	sort.Slice(drifts, func(i, j int) bool { return drifts[i].UserID < drifts[j].UserID })
	return Report{Checked: len(users), Drifts: drifts}, nil
}
