/*
scheduler.go - Periodic balance audit

PURPOSE:
  Runs ledger.Auditor on a fixed interval so balance drift is noticed even
  when nobody calls GET /api/admin/audit. Drift is logged at ERROR, one line
  per affected user. The scheduler never repairs balances.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Audits once immediately on start
  - Stop cancels an audit in progress and waits for the goroutine

USAGE:
  scheduler := NewAuditScheduler(auditor, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/praise-ledger/ledger"
)

// AuditScheduler runs balance audits in the background.
type AuditScheduler struct {
	Auditor       *ledger.Auditor
	Logger        *slog.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex

	reportMu sync.Mutex
	last     ledger.Report
}

// NewAuditScheduler creates a new scheduler with a one hour interval.
func NewAuditScheduler(auditor *ledger.Auditor, logger *slog.Logger) *AuditScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditScheduler{
		Auditor:       auditor,
		Logger:        logger,
		CheckInterval: time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (s *AuditScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("audit scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run(ctx, s.ticker)

	s.Logger.Info("audit scheduler started", slog.Duration("interval", s.CheckInterval))
}

// Stop stops the scheduler.
func (s *AuditScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	s.cancel()
	s.wg.Wait()
	s.ticker = nil
	s.Logger.Info("audit scheduler stopped")
}

// LastReport returns the outcome of the most recent completed audit.
func (s *AuditScheduler) LastReport() ledger.Report {
	s.reportMu.Lock()
	defer s.reportMu.Unlock()
	return s.last
}

func (s *AuditScheduler) run(ctx context.Context, ticker *time.Ticker) {
	defer s.wg.Done()

	s.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce audits every user and logs the outcome.
func (s *AuditScheduler) RunOnce(ctx context.Context) (ledger.Report, error) {
	start := time.Now()
	report, err := s.Auditor.Run(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.Logger.ErrorContext(ctx, "audit failed", slog.String("error", err.Error()))
		}
		return ledger.Report{}, err
	}

	for _, d := range report.Drifts {
		s.Logger.ErrorContext(ctx, "balance drift",
			slog.String("user_id", string(d.UserID)),
			slog.Int64("cached", d.Cached),
			slog.Int64("derived", d.Derived),
		)
	}
	s.Logger.InfoContext(ctx, "audit complete",
		slog.Int("checked", report.Checked),
		slog.Int("drifts", len(report.Drifts)),
		slog.Duration("duration", time.Since(start)),
	)

	s.reportMu.Lock()
	s.last = report
	s.reportMu.Unlock()
	return report, nil
}
