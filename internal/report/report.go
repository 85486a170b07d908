// Package report derives read-only views from a ledger snapshot. Every
// function here is deterministic and leaves its inputs untouched.
package report

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"quickmart/backend/internal/domain"
)

const DayLayout = "2006-01-02"

// CategorySummary groups records by category snapshot. Groups appear in the
// order their first record appears in the input.
func CategorySummary(records []domain.SaleRecord) []domain.CategoryTotal {
	out := make([]domain.CategoryTotal, 0, 8)
	index := map[string]int{}
	for _, rec := range records {
		category := categoryKey(rec.CategorySnapshot)
		i, ok := index[category]
		if !ok {
			i = len(out)
			index[category] = i
			out = append(out, domain.CategoryTotal{Category: category, TotalRevenue: decimal.Zero})
		}
		out[i].TotalQty += rec.QuantitySold
		out[i].TotalRevenue = out[i].TotalRevenue.Add(rec.TotalPrice)
	}
	return out
}

func categoryKey(category string) string {
	if strings.TrimSpace(category) == "" {
		return domain.OtherCategory
	}
	return category
}

// TopItems sums revenue per item name and returns the n largest. Names are
// resolved through names at call time; ties keep first-encounter order.
func TopItems(records []domain.SaleRecord, names map[string]string, n int) []domain.ItemRevenue {
	if n <= 0 {
		return []domain.ItemRevenue{}
	}
	totals := make([]domain.ItemRevenue, 0, 16)
	index := map[string]int{}
	for _, rec := range records {
		name := ItemName(names, rec.ItemID)
		i, ok := index[name]
		if !ok {
			i = len(totals)
			index[name] = i
			totals = append(totals, domain.ItemRevenue{Item: name, Revenue: decimal.Zero})
		}
		totals[i].Revenue = totals[i].Revenue.Add(rec.TotalPrice)
	}

	slices.SortStableFunc(totals, func(a, b domain.ItemRevenue) int {
		return b.Revenue.Cmp(a.Revenue)
	})
	if len(totals) > n {
		totals = totals[:n]
	}
	return totals
}

// ItemName resolves an item id, falling back to domain.UnknownItemName.
func ItemName(names map[string]string, itemID string) string {
	if name, ok := names[itemID]; ok && name != "" {
		return name
	}
	return domain.UnknownItemName
}

// DailyRevenueTrend buckets revenue by calendar day in loc, ascending.
func DailyRevenueTrend(records []domain.SaleRecord, loc *time.Location) []domain.DailyRevenue {
	if loc == nil {
		loc = time.UTC
	}
	byDay := map[string]decimal.Decimal{}
	for _, rec := range records {
		day := rec.Timestamp.In(loc).Format(DayLayout)
		byDay[day] = byDay[day].Add(rec.TotalPrice)
	}

	out := make([]domain.DailyRevenue, 0, len(byDay))
	for day, revenue := range byDay {
		out = append(out, domain.DailyRevenue{Day: day, Revenue: revenue})
	}
	// DayLayout sorts lexically in calendar order.
	slices.SortFunc(out, func(a, b domain.DailyRevenue) int {
		return strings.Compare(a.Day, b.Day)
	})
	return out
}

// StockLevels derives stocked and sold totals for every item from the
// adjustment and sale ledgers. Rows are ordered most depleted first.
func StockLevels(items []domain.Item, adjustments []domain.StockAdjustment, sales []domain.SaleRecord, threshold int) []domain.StockLevelView {
	stocked := map[string]int{}
	for _, adj := range adjustments {
		stocked[adj.ItemID] += adj.Quantity
	}
	sold := map[string]int{}
	for _, rec := range sales {
		sold[rec.ItemID] += rec.QuantitySold
	}

	out := make([]domain.StockLevelView, 0, len(items))
	for _, item := range items {
		level := stocked[item.ID] - sold[item.ID]
		out = append(out, domain.StockLevelView{
			ItemID:       item.ID,
			Name:         item.Name,
			TotalStocked: stocked[item.ID],
			TotalSold:    sold[item.ID],
			CurrentLevel: level,
			LowStock:     level <= threshold,
		})
	}
	slices.SortFunc(out, func(a, b domain.StockLevelView) int {
		return cmp.Or(
			cmp.Compare(a.CurrentLevel, b.CurrentLevel),
			strings.Compare(a.Name, b.Name),
			strings.Compare(a.ItemID, b.ItemID),
		)
	})
	return out
}

// NameIndex maps item ids to their current names.
func NameIndex(items []domain.Item) map[string]string {
	names := make(map[string]string, len(items))
	for _, item := range items {
		names[item.ID] = item.Name
	}
	return names
}
