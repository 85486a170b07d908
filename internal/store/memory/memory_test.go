package memory

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quickmart/backend/internal/domain"
	"quickmart/backend/internal/store"
)

func newRice(t *testing.T, s *Store, qty int) *domain.Item {
	t.Helper()
	item, err := s.CreateItem(context.Background(), domain.Item{
		Name:      "Rice",
		Category:  "Foodstuff",
		Unit:      "kg",
		UnitPrice: decimal.NewFromInt(5000),
	}, qty)
	require.NoError(t, err)
	return item
}

func TestCommitSaleDecrementsAndAppends(t *testing.T) {
	ctx := context.Background()
	s := New()
	rice := newRice(t, s, 10)

	commit, err := s.CommitSale(ctx, domain.SaleCommand{ItemID: rice.ID, Quantity: 4})
	require.NoError(t, err)
	assert.False(t, commit.Duplicate)
	assert.Equal(t, "Rice", commit.ItemName)
	assert.True(t, commit.Record.TotalPrice.Equal(decimal.NewFromInt(20000)))
	assert.Equal(t, "Foodstuff", commit.Record.CategorySnapshot)
	assert.Equal(t, "kg", commit.Record.UnitSnapshot)

	got, err := s.GetItem(ctx, rice.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, got.OnHandQuantity)
	assert.Equal(t, 1, s.Ledger().Len())
}

func TestCommitSaleInsufficientStockLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	s := New()
	rice := newRice(t, s, 3)

	_, err := s.CommitSale(ctx, domain.SaleCommand{ItemID: rice.ID, Quantity: 4})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	got, err := s.GetItem(ctx, rice.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.OnHandQuantity)
	assert.Zero(t, s.Ledger().Len())
}

func TestCommitSaleRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	s := New()
	rice := newRice(t, s, 3)

	_, err := s.CommitSale(ctx, domain.SaleCommand{ItemID: rice.ID, Quantity: 0})
	require.ErrorIs(t, err, store.ErrValidation)

	_, err = s.CommitSale(ctx, domain.SaleCommand{ItemID: "missing", Quantity: 1})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCommitSaleAppendFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	var failSales atomic.Bool
	s := New(WithAppendInterceptor(func(kind string) error {
		if kind == "sale" && failSales.Load() {
			return errors.New("disk full")
		}
		return nil
	}))
	rice := newRice(t, s, 10)
	before, err := s.SnapshotVersion(ctx)
	require.NoError(t, err)

	failSales.Store(true)
	_, err = s.CommitSale(ctx, domain.SaleCommand{ItemID: rice.ID, Quantity: 4})
	require.ErrorIs(t, err, store.ErrPersistence)

	got, err := s.GetItem(ctx, rice.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.OnHandQuantity)
	assert.Zero(t, s.Ledger().Len())

	after, err := s.SnapshotVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestCommitSaleIdempotencyKeyAppendsOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	rice := newRice(t, s, 10)

	first, err := s.CommitSale(ctx, domain.SaleCommand{ItemID: rice.ID, Quantity: 2, IdempotencyKey: "till-1-0001"})
	require.NoError(t, err)
	retry, err := s.CommitSale(ctx, domain.SaleCommand{ItemID: rice.ID, Quantity: 2, IdempotencyKey: "till-1-0001"})
	require.NoError(t, err)

	assert.True(t, retry.Duplicate)
	assert.Equal(t, first.Record.ID, retry.Record.ID)
	assert.Equal(t, 1, s.Ledger().Len())

	got, err := s.GetItem(ctx, rice.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, got.OnHandQuantity)
}

func TestConcurrentRetryOfFullStockSaleIsDuplicate(t *testing.T) {
	ctx := context.Background()
	s := New()
	rice := newRice(t, s, 2)
	slot, ok := s.slot(rice.ID)
	require.True(t, ok)

	// Park both attempts behind the item lock so each passes the unlocked
	// key lookup before either commits.
	slot.mu.Lock()
	results := make([]*domain.SaleCommit, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = s.CommitSale(ctx, domain.SaleCommand{ItemID: rice.ID, Quantity: 2, IdempotencyKey: "till-1-0042"})
		}()
	}
	time.Sleep(50 * time.Millisecond)
	slot.mu.Unlock()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0].Record.ID, results[1].Record.ID)
	assert.True(t, results[0].Duplicate != results[1].Duplicate, "exactly one attempt is the duplicate")
	assert.Equal(t, 1, s.Ledger().Len())

	got, err := s.GetItem(ctx, rice.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.OnHandQuantity)
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	ctx := context.Background()
	s := New()
	rice := newRice(t, s, 50)

	const workers = 40
	var (
		wg       sync.WaitGroup
		admitted atomic.Int64
		rejected atomic.Int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CommitSale(ctx, domain.SaleCommand{ItemID: rice.ID, Quantity: 3})
			switch {
			case err == nil:
				admitted.Add(1)
			case errors.Is(err, store.ErrInsufficientStock):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	// 50 units admit exactly 16 sales of 3 under any serial order.
	assert.EqualValues(t, 16, admitted.Load())
	assert.EqualValues(t, workers-16, rejected.Load())

	got, err := s.GetItem(ctx, rice.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.OnHandQuantity)
	assert.Equal(t, 16, s.Ledger().Len())
}

func TestSalesOnDifferentItemsDoNotContend(t *testing.T) {
	ctx := context.Background()
	s := New()
	rice := newRice(t, s, 100)
	sugar, err := s.CreateItem(ctx, domain.Item{
		Name: "Sugar", Category: "Foodstuff", Unit: "kg", UnitPrice: decimal.NewFromInt(4500),
	}, 100)
	require.NoError(t, err)

	// Holding one item's lock must not block a sale on another item.
	slot, ok := s.slot(rice.ID)
	require.True(t, ok)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := s.CommitSale(ctx, domain.SaleCommand{ItemID: sugar.ID, Quantity: 1})
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sale on sugar blocked by lock on rice")
	}
}

func TestApplyRestockMovesCountersTogether(t *testing.T) {
	ctx := context.Background()
	s := New()
	rice := newRice(t, s, 10)

	_, err := s.CommitSale(ctx, domain.SaleCommand{ItemID: rice.ID, Quantity: 4})
	require.NoError(t, err)

	view, err := s.ApplyRestock(ctx, rice.ID, 20)
	require.NoError(t, err)
	assert.Equal(t, 30, view.TotalStocked)
	assert.Equal(t, 4, view.TotalSold)
	assert.Equal(t, 26, view.CurrentLevel)

	got, err := s.GetItem(ctx, rice.ID)
	require.NoError(t, err)
	assert.Equal(t, view.CurrentLevel, got.OnHandQuantity)

	adjustments := s.Ledger().Adjustments()
	require.Len(t, adjustments, 2)
	assert.Equal(t, domain.AdjustmentIntake, adjustments[0].Kind)
	assert.Equal(t, domain.AdjustmentRestock, adjustments[1].Kind)
}

func TestApplyRestockAppendFailureLeavesQuantity(t *testing.T) {
	ctx := context.Background()
	var fail atomic.Bool
	s := New(WithAppendInterceptor(func(kind string) error {
		if fail.Load() {
			return errors.New("unavailable")
		}
		return nil
	}))
	rice := newRice(t, s, 10)

	fail.Store(true)
	_, err := s.ApplyRestock(ctx, rice.ID, 5)
	require.ErrorIs(t, err, store.ErrPersistence)

	got, err := s.GetItem(ctx, rice.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.OnHandQuantity)

	_, err = s.ApplyRestock(ctx, rice.ID, 0)
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestUpdateItemKeepsPastRecords(t *testing.T) {
	ctx := context.Background()
	s := New()
	rice := newRice(t, s, 10)

	_, err := s.CommitSale(ctx, domain.SaleCommand{ItemID: rice.ID, Quantity: 2})
	require.NoError(t, err)

	_, err = s.UpdateItem(ctx, domain.Item{
		ID: rice.ID, Name: "Rice (Super)", Category: "Grains", Unit: "kg", UnitPrice: decimal.NewFromInt(6000),
	})
	require.NoError(t, err)

	sales, err := s.ListSales(ctx, domain.DateRange{})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.True(t, sales[0].TotalPrice.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, "Foodstuff", sales[0].CategorySnapshot)

	got, err := s.GetItem(ctx, rice.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, got.OnHandQuantity)
	assert.Equal(t, "Grains", got.Category)
}

func TestLedgerStaysTimeOrdered(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	ticks := []time.Time{base, base.Add(time.Minute), base.Add(-time.Hour), base.Add(2 * time.Minute)}
	var i atomic.Int64
	s := New(WithClock(func() time.Time {
		n := int(i.Add(1)) - 1
		if n >= len(ticks) {
			return ticks[len(ticks)-1]
		}
		return ticks[n]
	}))
	rice := newRice(t, s, 10)

	for range 3 {
		_, err := s.CommitSale(ctx, domain.SaleCommand{ItemID: rice.ID, Quantity: 1})
		require.NoError(t, err)
	}

	sales := s.Ledger().All()
	require.Len(t, sales, 3)
	for j := 1; j < len(sales); j++ {
		assert.False(t, sales[j].Timestamp.Before(sales[j-1].Timestamp))
		assert.Greater(t, sales[j].Seq, sales[j-1].Seq)
	}

	recent, err := s.RecentSales(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, sales[2].ID, recent[0].ID)
	assert.Equal(t, "Rice", recent[0].ItemName)
}

func TestQueryRangeInclusiveBounds(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	var n atomic.Int64
	s := New(WithClock(func() time.Time {
		return base.Add(time.Duration(n.Add(1)) * time.Hour)
	}))
	rice := newRice(t, s, 10)

	for range 4 {
		_, err := s.CommitSale(ctx, domain.SaleCommand{ItemID: rice.ID, Quantity: 1})
		require.NoError(t, err)
	}
	all := s.Ledger().All()
	require.Len(t, all, 4)

	got, err := s.ListSales(ctx, domain.DateRange{From: all[1].Timestamp, To: all[2].Timestamp})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, all[1].ID, got[0].ID)
	assert.Equal(t, all[2].ID, got[1].ID)
}

func TestNewSeededLogsItemsThatFailToSeed(t *testing.T) {
	buf := &bytes.Buffer{}
	prev := log.Logger
	log.Logger = zerolog.New(buf)
	t.Cleanup(func() { log.Logger = prev })
	t.Setenv("SEED_ADMIN_PASSWORD", "admin-seed-pass")
	t.Setenv("SEED_MANAGER_PASSWORD", "manager-seed-pass")
	t.Setenv("SEED_CASHIER_PASSWORD", "cashier-seed-pass")
	t.Setenv("SEED_VIEWER_PASSWORD", "viewer-seed-pass")

	s := NewSeeded(WithAppendInterceptor(func(kind string) error {
		if kind == domain.AdjustmentIntake {
			return errors.New("disk full")
		}
		return nil
	}))

	items, err := s.ListItems(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Contains(t, buf.String(), "memory-store: failed to seed item")
	assert.Contains(t, buf.String(), `"item":"Rice"`)
}

func TestSnapshotVersionIsUniquePerStore(t *testing.T) {
	ctx := context.Background()
	a, b := New(), New()
	newRice(t, a, 1)
	newRice(t, b, 1)

	va, err := a.SnapshotVersion(ctx)
	require.NoError(t, err)
	vb, err := b.SnapshotVersion(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, va, vb)
}
