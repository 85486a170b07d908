package memory

import (
	"fmt"
	"sync"
	"time"

	"quickmart/backend/internal/domain"
	"quickmart/backend/internal/store"
)

// Ledger is the append-only record of sales and stock adjustments. It stamps
// the sequence number and timestamp under its own lock, so entries are always
// ordered by time regardless of which item lock the writer holds.
type Ledger struct {
	mu          sync.RWMutex
	clock       func() time.Time
	intercept   func(kind string) error
	seq         int64
	last        time.Time
	sales       []domain.SaleRecord
	adjustments []domain.StockAdjustment
	saleByKey   map[string]int
}

func NewLedger(clock func() time.Time) *Ledger {
	if clock == nil {
		clock = time.Now
	}
	return &Ledger{
		clock:       clock,
		sales:       make([]domain.SaleRecord, 0, 256),
		adjustments: make([]domain.StockAdjustment, 0, 64),
		saleByKey:   make(map[string]int),
	}
}

// AppendSale stores rec and returns the stored copy. When rec carries an
// idempotency key that is already recorded, the earlier record is returned
// with duplicate=true and nothing is appended.
func (l *Ledger) AppendSale(rec domain.SaleRecord) (stored domain.SaleRecord, duplicate bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.IdempotencyKey != "" {
		if idx, ok := l.saleByKey[rec.IdempotencyKey]; ok {
			return l.sales[idx], true, nil
		}
	}
	if l.intercept != nil {
		if err := l.intercept("sale"); err != nil {
			return domain.SaleRecord{}, false, fmt.Errorf("%w: append sale: %v", store.ErrPersistence, err)
		}
	}

	rec.Seq, rec.Timestamp = l.next()
	l.sales = append(l.sales, rec)
	if rec.IdempotencyKey != "" {
		l.saleByKey[rec.IdempotencyKey] = len(l.sales) - 1
	}
	return rec, false, nil
}

func (l *Ledger) AppendAdjustment(adj domain.StockAdjustment) (domain.StockAdjustment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.intercept != nil {
		if err := l.intercept(adj.Kind); err != nil {
			return domain.StockAdjustment{}, fmt.Errorf("%w: append %s: %v", store.ErrPersistence, adj.Kind, err)
		}
	}

	adj.Seq, adj.Timestamp = l.next()
	l.adjustments = append(l.adjustments, adj)
	return adj, nil
}

// next must be called with l.mu held.
func (l *Ledger) next() (int64, time.Time) {
	l.seq++
	now := l.clock()
	if now.Before(l.last) {
		now = l.last
	}
	l.last = now
	return l.seq, now
}

func (l *Ledger) FindSaleByKey(key string) (domain.SaleRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx, ok := l.saleByKey[key]
	if !ok {
		return domain.SaleRecord{}, false
	}
	return l.sales[idx], true
}

// QueryRange returns the sales within rng in ascending timestamp order.
func (l *Ledger) QueryRange(rng domain.DateRange) []domain.SaleRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return filterSales(l.sales, rng)
}

func (l *Ledger) All() []domain.SaleRecord {
	return l.QueryRange(domain.DateRange{})
}

func (l *Ledger) Adjustments() []domain.StockAdjustment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]domain.StockAdjustment(nil), l.adjustments...)
}

// Recent returns up to limit sales, newest first.
func (l *Ledger) Recent(limit int) []domain.SaleRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit < 1 || limit > len(l.sales) {
		limit = len(l.sales)
	}
	out := make([]domain.SaleRecord, 0, limit)
	for i := len(l.sales) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.sales[i])
	}
	return out
}

// Snapshot copies sales within rng and every adjustment under one read lock.
func (l *Ledger) Snapshot(rng domain.DateRange) ([]domain.SaleRecord, []domain.StockAdjustment) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return filterSales(l.sales, rng), append([]domain.StockAdjustment(nil), l.adjustments...)
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.sales)
}

func filterSales(sales []domain.SaleRecord, rng domain.DateRange) []domain.SaleRecord {
	out := make([]domain.SaleRecord, 0, len(sales))
	for _, rec := range sales {
		if rng.Contains(rec.Timestamp) {
			out = append(out, rec)
		}
	}
	return out
}
