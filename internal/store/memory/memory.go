package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"quickmart/backend/internal/domain"
	"quickmart/backend/internal/store"
	"quickmart/backend/internal/xid"
)

// Store keeps each item in its own slot. The catalog lock only guards the
// slot map; sales and restocks lock the single slot they touch.
type Store struct {
	mu      sync.RWMutex
	items   map[string]*itemSlot
	ledger  *Ledger
	clock   func() time.Time
	epoch   string
	version atomic.Int64

	usersMu         sync.RWMutex
	usersByUsername map[string]domain.UserAccount
}

type itemSlot struct {
	mu      sync.Mutex
	item    domain.Item
	stocked int
	sold    int
}

type Option func(*Store)

// WithClock sets the time source for ledger timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.clock = clock
		s.ledger.clock = clock
	}
}

// WithAppendInterceptor runs fn before every ledger append; a non-nil error
// aborts the append as a persistence failure.
func WithAppendInterceptor(fn func(kind string) error) Option {
	return func(s *Store) {
		s.ledger.intercept = fn
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		items:           make(map[string]*itemSlot),
		ledger:          NewLedger(time.Now),
		clock:           time.Now,
		epoch:           xid.New("mem"),
		usersByUsername: make(map[string]domain.UserAccount),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Passwords come from SEED_<ROLE>_PASSWORD, falling back to dev defaults.
func seedUsers() map[string]domain.UserAccount {
	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	usedDefault := false
	for _, role := range []string{domain.RoleAdmin, domain.RoleManager, domain.RoleCashier, domain.RoleViewer} {
		key := "SEED_" + strings.ToUpper(role) + "_PASSWORD"
		pwd := os.Getenv(key)
		if pwd == "" {
			pwd = role + "123"
			usedDefault = true
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", role).Msg("memory-store: failed to hash seed password")
		}
		users[role] = domain.UserAccount{
			Username:  role,
			Password:  string(hash),
			Role:      role,
			Active:    true,
			CreatedAt: now,
		}
	}
	if usedDefault {
		log.Warn().Msg("memory-store: using default dev credentials, set SEED_<ROLE>_PASSWORD to override")
	}
	return users
}

func NewSeeded(opts ...Option) *Store {
	s := New(opts...)
	s.usersByUsername = seedUsers()

	seed := []struct {
		name, category, unit string
		price                int64
		qty                  int
	}{
		{"Rice", "Foodstuff", "kg", 5000, 50},
		{"Sugar", "Foodstuff", "kg", 4500, 40},
		{"Cooking Oil", "Foodstuff", "ltr", 9000, 24},
		{"Maize Flour", "Foodstuff", "kg", 3500, 60},
		{"Salt", "Foodstuff", "sachet", 500, 100},
		{"Bar Soap", "Household", "bar", 3500, 36},
		{"Washing Powder", "Household", "sachet", 1000, 80},
		{"Matchbox", "Household", "set", 2000, 4},
		{"Candles", "Other", "pcs", 300, 120},
	}
	for _, it := range seed {
		if _, err := s.CreateItem(context.Background(), domain.Item{
			Name:      it.name,
			Category:  it.category,
			Unit:      it.unit,
			UnitPrice: decimal.NewFromInt(it.price),
		}, it.qty); err != nil {
			log.Error().Err(err).Str("item", it.name).Msg("memory-store: failed to seed item")
		}
	}
	return s
}

// Ledger exposes the underlying ledger for read-only inspection.
func (s *Store) Ledger() *Ledger {
	return s.ledger
}

func (s *Store) slot(id string) (*itemSlot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.items[id]
	return slot, ok
}

func (s *Store) ListItems(_ context.Context) ([]domain.Item, error) {
	s.mu.RLock()
	slots := make([]*itemSlot, 0, len(s.items))
	for _, slot := range s.items {
		slots = append(slots, slot)
	}
	s.mu.RUnlock()

	items := make([]domain.Item, 0, len(slots))
	for _, slot := range slots {
		slot.mu.Lock()
		items = append(items, slot.item)
		slot.mu.Unlock()
	}
	slices.SortFunc(items, func(a, b domain.Item) int {
		if c := strings.Compare(a.Category, b.Category); c != 0 {
			return c
		}
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return items, nil
}

func (s *Store) GetItem(_ context.Context, id string) (*domain.Item, error) {
	slot, ok := s.slot(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	slot.mu.Lock()
	item := slot.item
	slot.mu.Unlock()
	return &item, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.Item, initialQty int) (*domain.Item, error) {
	if item.Name == "" || item.Unit == "" || !item.UnitPrice.IsPositive() || initialQty < 0 {
		return nil, store.ErrValidation
	}
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	now := s.clock()
	item.CreatedAt = now
	item.UpdatedAt = now
	item.OnHandQuantity = initialQty

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[item.ID]; exists {
		return nil, fmt.Errorf("%w: item %s already exists", store.ErrValidation, item.ID)
	}
	if initialQty > 0 {
		if _, err := s.ledger.AppendAdjustment(domain.StockAdjustment{
			ID:       xid.New("adj"),
			ItemID:   item.ID,
			Kind:     domain.AdjustmentIntake,
			Quantity: initialQty,
		}); err != nil {
			return nil, err
		}
	}
	s.items[item.ID] = &itemSlot{item: item, stocked: initialQty}
	s.version.Add(1)

	created := item
	return &created, nil
}

func (s *Store) UpdateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	if item.Name == "" || item.Unit == "" || !item.UnitPrice.IsPositive() {
		return nil, store.ErrValidation
	}
	slot, ok := s.slot(item.ID)
	if !ok {
		return nil, store.ErrNotFound
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	slot.item.Name = item.Name
	slot.item.Category = item.Category
	slot.item.Unit = item.Unit
	slot.item.UnitPrice = item.UnitPrice
	slot.item.UpdatedAt = s.clock()
	s.version.Add(1)

	updated := slot.item
	return &updated, nil
}

func (s *Store) CommitSale(_ context.Context, cmd domain.SaleCommand) (*domain.SaleCommit, error) {
	if cmd.Quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be a positive integer", store.ErrValidation)
	}
	slot, ok := s.slot(cmd.ItemID)
	if !ok {
		return nil, store.ErrNotFound
	}

	if cmd.IdempotencyKey != "" {
		if existing, ok := s.ledger.FindSaleByKey(cmd.IdempotencyKey); ok {
			return s.duplicateCommit(existing), nil
		}
	}

	rec, name, duplicate, err := s.commitLocked(slot, cmd)
	if err != nil {
		return nil, err
	}
	if duplicate {
		return s.duplicateCommit(rec), nil
	}
	return &domain.SaleCommit{Record: rec, ItemName: name}, nil
}

// commitLocked runs check, decrement and append under the item's lock. A
// failed or duplicate append restores the quantity before the lock is
// released, so no partial state is ever visible.
func (s *Store) commitLocked(slot *itemSlot, cmd domain.SaleCommand) (domain.SaleRecord, string, bool, error) {
	slot.mu.Lock()
	defer slot.mu.Unlock()

	// A retry may have waited on the lock while the first attempt committed.
	if cmd.IdempotencyKey != "" {
		if existing, ok := s.ledger.FindSaleByKey(cmd.IdempotencyKey); ok {
			return existing, slot.item.Name, true, nil
		}
	}

	item := slot.item
	if cmd.Quantity > item.OnHandQuantity {
		return domain.SaleRecord{}, "", false, fmt.Errorf("%w: requested %d, on hand %d", store.ErrInsufficientStock, cmd.Quantity, item.OnHandQuantity)
	}

	saleID := cmd.SaleID
	if saleID == "" {
		saleID = xid.New("sale")
	}

	slot.item.OnHandQuantity -= cmd.Quantity
	stored, duplicate, err := s.ledger.AppendSale(domain.SaleRecord{
		ID:               saleID,
		ItemID:           item.ID,
		QuantitySold:     cmd.Quantity,
		UnitPriceAtSale:  item.UnitPrice,
		TotalPrice:       item.UnitPrice.Mul(decimal.NewFromInt(int64(cmd.Quantity))),
		CategorySnapshot: item.Category,
		UnitSnapshot:     item.Unit,
		IdempotencyKey:   cmd.IdempotencyKey,
	})
	if err != nil || duplicate {
		slot.item.OnHandQuantity += cmd.Quantity
		return stored, item.Name, duplicate, err
	}

	slot.sold += cmd.Quantity
	s.version.Add(1)
	return stored, item.Name, false, nil
}

func (s *Store) duplicateCommit(rec domain.SaleRecord) *domain.SaleCommit {
	return &domain.SaleCommit{Record: rec, ItemName: s.itemName(rec.ItemID), Duplicate: true}
}

func (s *Store) itemName(id string) string {
	slot, ok := s.slot(id)
	if !ok {
		return domain.UnknownItemName
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.item.Name
}

func (s *Store) ApplyRestock(_ context.Context, itemID string, qty int) (*domain.StockLevelView, error) {
	if qty < 1 {
		return nil, fmt.Errorf("%w: quantity must be a positive integer", store.ErrValidation)
	}
	slot, ok := s.slot(itemID)
	if !ok {
		return nil, store.ErrNotFound
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if _, err := s.ledger.AppendAdjustment(domain.StockAdjustment{
		ID:       xid.New("adj"),
		ItemID:   itemID,
		Kind:     domain.AdjustmentRestock,
		Quantity: qty,
	}); err != nil {
		return nil, err
	}
	slot.item.OnHandQuantity += qty
	slot.stocked += qty
	s.version.Add(1)

	return &domain.StockLevelView{
		ItemID:       itemID,
		Name:         slot.item.Name,
		TotalStocked: slot.stocked,
		TotalSold:    slot.sold,
		CurrentLevel: slot.stocked - slot.sold,
	}, nil
}

func (s *Store) ListSales(_ context.Context, rng domain.DateRange) ([]domain.SaleRecord, error) {
	return s.ledger.QueryRange(rng), nil
}

func (s *Store) RecentSales(_ context.Context, limit int) ([]domain.RecentSale, error) {
	records := s.ledger.Recent(limit)
	out := make([]domain.RecentSale, 0, len(records))
	for _, rec := range records {
		out = append(out, domain.RecentSale{SaleRecord: rec, ItemName: s.itemName(rec.ItemID)})
	}
	return out, nil
}

func (s *Store) ReportSnapshot(ctx context.Context, rng domain.DateRange) (domain.ReportSnapshot, error) {
	items, err := s.ListItems(ctx)
	if err != nil {
		return domain.ReportSnapshot{}, err
	}
	sales, adjustments := s.ledger.Snapshot(rng)
	return domain.ReportSnapshot{Items: items, Sales: sales, Adjustments: adjustments}, nil
}

// SnapshotVersion is unique to this store instance, so a report cache shared
// with other processes never serves another ledger's results.
func (s *Store) SnapshotVersion(_ context.Context) (string, error) {
	return s.epoch + "." + strconv.FormatInt(s.version.Load(), 10), nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	if user.Username == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return fmt.Errorf("%w: username already exists", store.ErrValidation)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
