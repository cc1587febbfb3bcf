package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/example/airbar/internal/dispute"
	"github.com/example/airbar/internal/observability"
	"github.com/example/airbar/internal/storage"
)

// Sweeper periodically persists the passive expiries (24h match requests,
// 30-day packages) and flags disputes past an SLA deadline. Reads already
// classify expiry lazily; the sweep keeps the stored rows honest so stale
// pending entities stop blocking new proposals.
type Sweeper struct {
	Store    storage.Store
	Disputes *dispute.Workflow
	Logger   *slog.Logger
}

func New(store storage.Store, disputes *dispute.Workflow, logger *slog.Logger) *Sweeper {
	return &Sweeper{Store: store, Disputes: disputes, Logger: logger}
}

// Start schedules the sweeps and returns the running cron so the caller can
// stop it on shutdown.
func (s *Sweeper) Start(ctx context.Context) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc("@every 5m", func() { s.RunExpiry(ctx) }); err != nil {
		return nil, err
	}
	if _, err := c.AddFunc("@every 15m", func() { s.RunOverdueDisputes(ctx) }); err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

func (s *Sweeper) RunExpiry(ctx context.Context) {
	now := time.Now()
	if n, err := s.Store.ExpireMatchRequests(now); err != nil {
		s.Logger.Error("expiring match requests", "error", err)
	} else if n > 0 {
		observability.ExpiredSwept.WithLabelValues("match_request").Add(float64(n))
		s.Logger.Info("expired match requests", "count", n)
	}
	if n, err := s.Store.ExpirePackages(now); err != nil {
		s.Logger.Error("expiring packages", "error", err)
	} else if n > 0 {
		observability.ExpiredSwept.WithLabelValues("package").Add(float64(n))
		s.Logger.Info("expired packages", "count", n)
	}
}

func (s *Sweeper) RunOverdueDisputes(ctx context.Context) {
	if _, err := s.Disputes.FlagOverdue(ctx); err != nil {
		s.Logger.Error("flagging overdue disputes", "error", err)
	}
}
