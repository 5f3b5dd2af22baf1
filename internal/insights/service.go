package insights

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/izzyftw1/rvi-sub014/internal/external"
	"github.com/izzyftw1/rvi-sub014/internal/production"
	"github.com/izzyftw1/rvi-sub014/internal/qc"
)

const snapshotKey = "insights:dashboard"

// RepositoryPort exposes the section queries the snapshot needs.
type RepositoryPort interface {
	OpenWOsByStage(ctx context.Context) ([]StageCount, error)
	OverdueWOCount(ctx context.Context) (int, error)
	OutstandingMoveDays(ctx context.Context) ([]int, error)
	DispatchedQtyMTD(ctx context.Context, from time.Time) (int64, error)
	InvoiceTotalMTD(ctx context.Context, from time.Time) (decimal.Decimal, error)
	InspectionTotalsMTD(ctx context.Context, from time.Time) (checked, rejected int64, err error)
	OpenNCRCounts(ctx context.Context) (map[qc.Severity]int, error)
	OpenIncidentCount(ctx context.Context) (int, error)
	ReceivablesTotals(ctx context.Context) (outstanding, overdue decimal.Decimal, err error)
}

// Service assembles and caches the dashboard snapshot.
type Service struct {
	repo  RepositoryPort
	cache *Cache
	group singleflight.Group
	now   func() time.Time
}

// NewService wires the repository with the cache helper.
func NewService(repo RepositoryPort, cache *Cache) *Service {
	return &Service{repo: repo, cache: cache, now: time.Now}
}

// Dashboard returns the current snapshot, serving from cache when fresh.
// Concurrent cache misses collapse into a single rebuild.
func (s *Service) Dashboard(ctx context.Context) (Snapshot, error) {
	key, err := s.cache.BuildKey(ctx, snapshotKey)
	if err != nil {
		return Snapshot{}, err
	}
	ch := s.group.DoChan(key, func() (interface{}, error) {
		var snap Snapshot
		err := s.cache.FetchJSON(ctx, key, &snap, func(ctx context.Context) (interface{}, error) {
			return s.build(ctx)
		})
		return snap, err
	})
	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Snapshot{}, res.Err
		}
		return res.Val.(Snapshot), nil
	}
}

// Rebuild recomputes the snapshot and writes it into the cache whether or
// not a cached copy exists. The warmup job calls this on its schedule.
func (s *Service) Rebuild(ctx context.Context) (Snapshot, error) {
	snap, err := s.build(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	key, err := s.cache.BuildKey(ctx, snapshotKey)
	if err != nil {
		return Snapshot{}, err
	}
	if err := s.cache.StoreJSON(ctx, key, snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Bump invalidates cached snapshots after a significant write.
func (s *Service) Bump(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

// build loads every dashboard section in parallel. Each goroutine fills a
// distinct snapshot field.
func (s *Service) build(ctx context.Context) (Snapshot, error) {
	now := s.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	snap := Snapshot{GeneratedAt: now}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		counts, err := s.repo.OpenWOsByStage(ctx)
		if err != nil {
			return err
		}
		sort.Slice(counts, func(i, j int) bool {
			return production.Stage(counts[i].Stage).Index() < production.Stage(counts[j].Stage).Index()
		})
		snap.OpenWOsByStage = counts
		return nil
	})

	g.Go(func() error {
		n, err := s.repo.OverdueWOCount(ctx)
		if err != nil {
			return err
		}
		snap.OverdueWOs = n
		return nil
	})

	g.Go(func() error {
		days, err := s.repo.OutstandingMoveDays(ctx)
		if err != nil {
			return err
		}
		summary := ExternalSummary{
			Outstanding: len(days),
			Overdue:     map[external.OverdueSeverity]int{},
		}
		for _, d := range days {
			if sev := external.SeverityForDays(d); sev != "" {
				summary.Overdue[sev]++
			}
		}
		snap.External = summary
		return nil
	})

	g.Go(func() error {
		qty, err := s.repo.DispatchedQtyMTD(ctx, monthStart)
		if err != nil {
			return err
		}
		snap.MTD.DispatchedQty = qty
		return nil
	})

	g.Go(func() error {
		total, err := s.repo.InvoiceTotalMTD(ctx, monthStart)
		if err != nil {
			return err
		}
		snap.MTD.InvoiceTotal = total
		return nil
	})

	g.Go(func() error {
		checked, rejected, err := s.repo.InspectionTotalsMTD(ctx, monthStart)
		if err != nil {
			return err
		}
		if checked > 0 {
			rate := float64(rejected) / float64(checked)
			snap.MTD.RejectionRate = math.Round(rate*10000) / 10000
		}
		return nil
	})

	g.Go(func() error {
		counts, err := s.repo.OpenNCRCounts(ctx)
		if err != nil {
			return err
		}
		snap.OpenNCRs = counts
		return nil
	})

	g.Go(func() error {
		n, err := s.repo.OpenIncidentCount(ctx)
		if err != nil {
			return err
		}
		snap.OpenIncidents = n
		return nil
	})

	g.Go(func() error {
		outstanding, overdue, err := s.repo.ReceivablesTotals(ctx)
		if err != nil {
			return err
		}
		snap.Receivables = Receivables{Outstanding: outstanding, Overdue: overdue}
		return nil
	})

	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
