package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"quickmart/backend/internal/domain"
	"quickmart/backend/internal/migrate"
	"quickmart/backend/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("QUICKMART_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set QUICKMART_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := migrate.Run(ctx, s.DB(), "up"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func seedItem(t *testing.T, s *Store, qty int) *domain.Item {
	t.Helper()
	ctx := context.Background()
	id := fmt.Sprintf("item-it-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_records WHERE item_id = $1`, id)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_adjustments WHERE item_id = $1`, id)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, id)
	})

	item, err := s.CreateItem(ctx, domain.Item{
		ID:        id,
		Name:      "Rice IT",
		Category:  "Foodstuff",
		Unit:      "kg",
		UnitPrice: decimal.NewFromInt(5000),
	}, qty)
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	return item
}

func TestSaleAndRestockKeepCountersInStep(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	item := seedItem(t, s, 10)

	commit, err := s.CommitSale(ctx, domain.SaleCommand{ItemID: item.ID, Quantity: 4})
	if err != nil {
		t.Fatalf("commit sale: %v", err)
	}
	if !commit.Record.TotalPrice.Equal(decimal.NewFromInt(20000)) {
		t.Fatalf("expected total 20000, got %s", commit.Record.TotalPrice)
	}

	if _, err := s.CommitSale(ctx, domain.SaleCommand{ItemID: item.ID, Quantity: 10}); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	view, err := s.ApplyRestock(ctx, item.ID, 20)
	if err != nil {
		t.Fatalf("restock: %v", err)
	}
	if view.TotalStocked != 30 || view.TotalSold != 4 || view.CurrentLevel != 26 {
		t.Fatalf("unexpected stock view: %+v", view)
	}

	got, err := s.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.OnHandQuantity != 26 {
		t.Fatalf("expected on hand 26, got %d", got.OnHandQuantity)
	}
}

func TestConcurrentSalesDoNotOversell(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	item := seedItem(t, s, 20)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CommitSale(ctx, domain.SaleCommand{ItemID: item.ID, Quantity: 3})
			if err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
				return
			}
			if !errors.Is(err, store.ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if admitted != 6 {
		t.Fatalf("expected 6 admitted sales, got %d", admitted)
	}
	got, err := s.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.OnHandQuantity != 2 {
		t.Fatalf("expected on hand 2, got %d", got.OnHandQuantity)
	}
}

func TestIdempotentSaleAppendsOnce(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	item := seedItem(t, s, 10)
	key := fmt.Sprintf("idem-it-%d", time.Now().UnixNano())

	first, err := s.CommitSale(ctx, domain.SaleCommand{ItemID: item.ID, Quantity: 2, IdempotencyKey: key})
	if err != nil {
		t.Fatalf("first sale: %v", err)
	}
	retry, err := s.CommitSale(ctx, domain.SaleCommand{ItemID: item.ID, Quantity: 2, IdempotencyKey: key})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !retry.Duplicate || retry.Record.ID != first.Record.ID {
		t.Fatalf("expected duplicate of %s, got %+v", first.Record.ID, retry)
	}

	got, err := s.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.OnHandQuantity != 8 {
		t.Fatalf("expected on hand 8, got %d", got.OnHandQuantity)
	}
}

func TestConcurrentRetryOfFullStockSaleIsDuplicate(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	item := seedItem(t, s, 2)
	key := fmt.Sprintf("idem-race-%d", time.Now().UnixNano())

	// Hold the row lock so both attempts queue behind it.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT id FROM items WHERE id = $1 FOR UPDATE`, item.ID); err != nil {
		t.Fatalf("lock row: %v", err)
	}

	results := make([]*domain.SaleCommit, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = s.CommitSale(ctx, domain.SaleCommand{ItemID: item.ID, Quantity: 2, IdempotencyKey: key})
		}()
	}
	time.Sleep(200 * time.Millisecond)
	_ = tx.Rollback()
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if results[0].Record.ID != results[1].Record.ID {
		t.Fatalf("expected one sale, got %s and %s", results[0].Record.ID, results[1].Record.ID)
	}
	if results[0].Duplicate == results[1].Duplicate {
		t.Fatalf("expected exactly one duplicate, got %v and %v", results[0].Duplicate, results[1].Duplicate)
	}
	got, err := s.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.OnHandQuantity != 0 {
		t.Fatalf("expected on hand 0, got %d", got.OnHandQuantity)
	}
}

func TestUpdateItemMovesSnapshotVersion(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	item := seedItem(t, s, 5)

	before, err := s.SnapshotVersion(ctx)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	item.UnitPrice = decimal.NewFromInt(5500)
	if _, err := s.UpdateItem(ctx, *item); err != nil {
		t.Fatalf("update item: %v", err)
	}
	after, err := s.SnapshotVersion(ctx)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if before == after {
		t.Fatalf("expected version to change after a price update, still %s", after)
	}
}
