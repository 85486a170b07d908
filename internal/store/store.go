package store

import (
	"context"
	"errors"

	"quickmart/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("item not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrValidation        = errors.New("validation failed")
	ErrPersistence       = errors.New("persistence failure")
)

// Repository is the only writer of catalog and ledger state. CommitSale and
// ApplyRestock are each a single atomic transition scoped to one item.
type Repository interface {
	ListItems(ctx context.Context) ([]domain.Item, error)
	GetItem(ctx context.Context, id string) (*domain.Item, error)
	CreateItem(ctx context.Context, item domain.Item, initialQty int) (*domain.Item, error)
	UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error)

	CommitSale(ctx context.Context, cmd domain.SaleCommand) (*domain.SaleCommit, error)
	ApplyRestock(ctx context.Context, itemID string, qty int) (*domain.StockLevelView, error)

	ListSales(ctx context.Context, rng domain.DateRange) ([]domain.SaleRecord, error)
	RecentSales(ctx context.Context, limit int) ([]domain.RecentSale, error)
	ReportSnapshot(ctx context.Context, rng domain.DateRange) (domain.ReportSnapshot, error)
	// SnapshotVersion changes whenever catalog or ledger changes.
	SnapshotVersion(ctx context.Context) (string, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
