package service

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"quickmart/backend/internal/domain"
	"quickmart/backend/internal/report"
)

const DefaultTopItems = 5

func (s *Service) CategorySummary(ctx context.Context, rng domain.DateRange) ([]domain.CategoryTotal, error) {
	return cachedReport(ctx, s, "categories", rng, "", func(snap domain.ReportSnapshot) []domain.CategoryTotal {
		return report.CategorySummary(snap.Sales)
	})
}

func (s *Service) TopItems(ctx context.Context, n int, rng domain.DateRange) ([]domain.ItemRevenue, error) {
	if n < 1 {
		n = DefaultTopItems
	}
	return cachedReport(ctx, s, "top-items", rng, fmt.Sprintf("n=%d", n), func(snap domain.ReportSnapshot) []domain.ItemRevenue {
		return report.TopItems(snap.Sales, report.NameIndex(snap.Items), n)
	})
}

func (s *Service) DailyRevenue(ctx context.Context, rng domain.DateRange) ([]domain.DailyRevenue, error) {
	return cachedReport(ctx, s, "daily-revenue", rng, s.loc.String(), func(snap domain.ReportSnapshot) []domain.DailyRevenue {
		return report.DailyRevenueTrend(snap.Sales, s.loc)
	})
}

// StockLevels always covers the full ledger; a date range would make the
// stocked and sold totals disagree with on-hand quantity.
func (s *Service) StockLevels(ctx context.Context) ([]domain.StockLevelView, error) {
	return cachedReport(ctx, s, "stock-levels", domain.DateRange{}, fmt.Sprintf("low=%d", s.lowStockThreshold), func(snap domain.ReportSnapshot) []domain.StockLevelView {
		return report.StockLevels(snap.Items, snap.Adjustments, snap.Sales, s.lowStockThreshold)
	})
}

// ExportSales writes one CSV row per sale in rng.
func (s *Service) ExportSales(ctx context.Context, rng domain.DateRange, w io.Writer) (int, error) {
	startedAt := time.Now()
	snap, err := s.repo.ReportSnapshot(ctx, rng)
	if err != nil {
		return 0, err
	}
	rows := report.ExportRows(snap.Sales, report.NameIndex(snap.Items), s.loc)
	if err := report.WriteSalesCSV(w, rows); err != nil {
		return 0, err
	}
	s.metrics.ObserveReport("sales-csv", time.Since(startedAt))
	return len(rows), nil
}

// cachedReport serves a report from cache when the ledger has not changed
// since it was computed. Concurrent misses for the same key share one build.
func cachedReport[T any](ctx context.Context, s *Service, name string, rng domain.DateRange, params string, build func(domain.ReportSnapshot) T) (T, error) {
	var zero T
	startedAt := time.Now()

	version, err := s.repo.SnapshotVersion(ctx)
	if err != nil {
		return zero, err
	}
	key := buildCacheKey(name, version, rng, params)

	var out T
	if ok, err := s.cache.Get(ctx, key, &out); err == nil && ok {
		s.metrics.ObserveCache(name, true)
		return out, nil
	} else if err != nil {
		s.log.Warn(s.log.WithField(ctx, "report", name), "report cache read failed: "+err.Error())
	}
	s.metrics.ObserveCache(name, false)

	v, err, _ := s.reports.Do(key, func() (any, error) {
		snap, err := s.repo.ReportSnapshot(ctx, rng)
		if err != nil {
			return nil, err
		}
		result := build(snap)
		if err := s.cache.Set(ctx, key, result, s.cacheTTL); err != nil {
			s.log.Warn(s.log.WithField(ctx, "report", name), "report cache write failed: "+err.Error())
		}
		return result, nil
	})
	if err != nil {
		return zero, err
	}
	s.metrics.ObserveReport(name, time.Since(startedAt))
	return v.(T), nil
}

func buildCacheKey(name string, version string, rng domain.DateRange, params string) string {
	var from, to int64
	if !rng.From.IsZero() {
		from = rng.From.UnixNano()
	}
	if !rng.To.IsZero() {
		to = rng.To.UnixNano()
	}
	raw := fmt.Sprintf("%s|%s|%d|%d|%s", name, version, from, to, params)
	hash := sha1.Sum([]byte(raw))
	return name + ":" + hex.EncodeToString(hash[:])
}
