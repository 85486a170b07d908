package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Item struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Category       string          `json:"category"`
	Unit           string          `json:"unit"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	OnHandQuantity int             `json:"on_hand_quantity"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type ItemCreateRequest struct {
	Name            string          `json:"name" validate:"required,max=120"`
	Category        string          `json:"category" validate:"max=60"`
	Unit            string          `json:"unit" validate:"required,max=20"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	InitialQuantity int             `json:"initial_quantity" validate:"gte=0"`
}

type ItemUpdateRequest struct {
	Name      *string          `json:"name,omitempty" validate:"omitempty,max=120"`
	Category  *string          `json:"category,omitempty" validate:"omitempty,max=60"`
	Unit      *string          `json:"unit,omitempty" validate:"omitempty,max=20"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

// SaleRecord is an immutable ledger entry. CategorySnapshot and UnitSnapshot
// keep the item's classification at the time of sale.
type SaleRecord struct {
	ID               string          `json:"id"`
	Seq              int64           `json:"seq"`
	ItemID           string          `json:"item_id"`
	QuantitySold     int             `json:"quantity_sold"`
	UnitPriceAtSale  decimal.Decimal `json:"unit_price_at_sale"`
	TotalPrice       decimal.Decimal `json:"total_price"`
	CategorySnapshot string          `json:"category"`
	UnitSnapshot     string          `json:"unit"`
	IdempotencyKey   string          `json:"idempotency_key,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
}

const (
	AdjustmentIntake  = "intake"
	AdjustmentRestock = "restock"
)

// StockAdjustment records stock entering the shop: the initial intake of an
// item or a later restock.
type StockAdjustment struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	ItemID    string    `json:"item_id"`
	Kind      string    `json:"kind"`
	Quantity  int       `json:"quantity"`
	Timestamp time.Time `json:"timestamp"`
}

type SaleRequest struct {
	ItemID         string `json:"item_id" validate:"required"`
	Quantity       int    `json:"quantity" validate:"required,gt=0"`
	IdempotencyKey string `json:"idempotency_key,omitempty" validate:"max=128"`
}

// SaleCommand is what the repository commits atomically. Timestamp is left
// to the ledger so records stay ordered by commit time.
type SaleCommand struct {
	SaleID         string
	ItemID         string
	Quantity       int
	IdempotencyKey string
}

type SaleReceipt struct {
	SaleID       string          `json:"sale_id"`
	ItemID       string          `json:"item_id"`
	ItemName     string          `json:"item_name"`
	Quantity     int             `json:"quantity"`
	Category     string          `json:"category"`
	Unit         string          `json:"unit"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TotalPrice   decimal.Decimal `json:"total_price"`
	TotalDisplay string          `json:"total_display"`
	SoldAt       string          `json:"sold_at"`
	Duplicate    bool            `json:"duplicate"`
}

// SaleCommit is the outcome of Repository.CommitSale.
type SaleCommit struct {
	Record    SaleRecord
	ItemName  string
	Duplicate bool
}

type RestockRequest struct {
	Quantity int `json:"quantity" validate:"required,gt=0"`
}

type StockLevelView struct {
	ItemID       string `json:"item_id"`
	Name         string `json:"name"`
	TotalStocked int    `json:"stocked"`
	TotalSold    int    `json:"sold"`
	CurrentLevel int    `json:"current_level"`
	LowStock     bool   `json:"low_stock"`
}

type CategoryTotal struct {
	Category     string          `json:"category"`
	TotalQty     int             `json:"total_qty"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
}

type ItemRevenue struct {
	Item    string          `json:"item"`
	Revenue decimal.Decimal `json:"revenue"`
}

type DailyRevenue struct {
	Day     string          `json:"day"`
	Revenue decimal.Decimal `json:"revenue"`
}

// DateRange bounds a ledger query. Zero bounds are open; both ends are
// inclusive.
type DateRange struct {
	From time.Time
	To   time.Time
}

func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// ReportSnapshot is a coherent read of catalog and ledger.
type ReportSnapshot struct {
	Items       []Item
	Sales       []SaleRecord
	Adjustments []StockAdjustment
}

type RecentSale struct {
	SaleRecord
	ItemName string `json:"item_name"`
}

type CalculatorRequest struct {
	Expression string `json:"expression" validate:"required,max=256"`
}

type CalculatorResponse struct {
	Expression string          `json:"expression"`
	Result     decimal.Decimal `json:"result"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCashier = "cashier"
	RoleViewer  = "viewer"
)

// UnknownItemName labels sales whose item can no longer be resolved.
const UnknownItemName = "Unknown Item"

// OtherCategory groups sales recorded without a category.
const OtherCategory = "Other"
