package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"quickmart/backend/internal/domain"
	"quickmart/backend/internal/store"
	"quickmart/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// DB exposes the pool for migrations.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

const itemColumns = `id, name, category, unit, unit_price, on_hand_quantity, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (domain.Item, error) {
	var item domain.Item
	err := row.Scan(&item.ID, &item.Name, &item.Category, &item.Unit, &item.UnitPrice, &item.OnHandQuantity, &item.CreatedAt, &item.UpdatedAt)
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, err
}

func (s *Store) ListItems(ctx context.Context) ([]domain.Item, error) {
	return listItems(ctx, s.db)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listItems(ctx context.Context, q queryer) ([]domain.Item, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+itemColumns+` FROM items ORDER BY category, name, id`)
	if err != nil {
		return nil, persistence(err)
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 128)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, persistence(err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence(err)
	}
	return items, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, persistence(err)
	}
	return &item, nil
}

func (s *Store) CreateItem(ctx context.Context, item domain.Item, initialQty int) (*domain.Item, error) {
	if item.Name == "" || item.Unit == "" || !item.UnitPrice.IsPositive() || initialQty < 0 {
		return nil, store.ErrValidation
	}
	if item.ID == "" {
		item.ID = xid.New("item")
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, persistence(err)
	}
	defer func() { _ = tx.Rollback() }()

	created, err := scanItem(tx.QueryRowContext(ctx, `
		INSERT INTO items (id, name, category, unit, unit_price, on_hand_quantity, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now(),now())
		RETURNING `+itemColumns,
		item.ID, item.Name, item.Category, item.Unit, item.UnitPrice, initialQty))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: item %s already exists", store.ErrValidation, item.ID)
		}
		return nil, persistence(err)
	}

	if err := bumpCatalogRevision(ctx, tx); err != nil {
		return nil, err
	}
	if initialQty > 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stock_adjustments (id, item_id, kind, quantity)
			VALUES ($1,$2,$3,$4)
		`, xid.New("adj"), item.ID, domain.AdjustmentIntake, initialQty); err != nil {
			return nil, persistence(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, persistence(err)
	}
	return &created, nil
}

func (s *Store) UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if item.Name == "" || item.Unit == "" || !item.UnitPrice.IsPositive() {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, persistence(err)
	}
	defer func() { _ = tx.Rollback() }()

	updated, err := scanItem(tx.QueryRowContext(ctx, `
		UPDATE items
		SET name = $2, category = $3, unit = $4, unit_price = $5, updated_at = now()
		WHERE id = $1
		RETURNING `+itemColumns,
		item.ID, item.Name, item.Category, item.Unit, item.UnitPrice))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, persistence(err)
	}
	if err := bumpCatalogRevision(ctx, tx); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, persistence(err)
	}
	return &updated, nil
}

// bumpCatalogRevision serializes catalog writers on a single row, so the
// revision read by SnapshotVersion only moves forward in commit order.
func bumpCatalogRevision(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `UPDATE catalog_revision SET revision = revision + 1 WHERE id = 1`); err != nil {
		return persistence(err)
	}
	return nil
}

// CommitSale locks the item row, checks and decrements stock and appends the
// sale record in one transaction. Only sales on the same item wait on each
// other.
func (s *Store) CommitSale(ctx context.Context, cmd domain.SaleCommand) (*domain.SaleCommit, error) {
	if cmd.Quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be a positive integer", store.ErrValidation)
	}
	if cmd.IdempotencyKey != "" {
		existing, err := findSaleByKey(ctx, s.db, cmd.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, persistence(err)
	}
	defer func() { _ = tx.Rollback() }()

	item, err := scanItem(tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1 FOR UPDATE`, cmd.ItemID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, persistence(err)
	}
	// A retry that waited on the row lock sees the first attempt's commit here.
	if cmd.IdempotencyKey != "" {
		existing, err := findSaleByKey(ctx, tx, cmd.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}
	if cmd.Quantity > item.OnHandQuantity {
		return nil, fmt.Errorf("%w: requested %d, on hand %d", store.ErrInsufficientStock, cmd.Quantity, item.OnHandQuantity)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE items SET on_hand_quantity = on_hand_quantity - $2, updated_at = now() WHERE id = $1
	`, item.ID, cmd.Quantity); err != nil {
		return nil, persistence(err)
	}

	saleID := cmd.SaleID
	if saleID == "" {
		saleID = xid.New("sale")
	}
	rec := domain.SaleRecord{
		ID:               saleID,
		ItemID:           item.ID,
		QuantitySold:     cmd.Quantity,
		UnitPriceAtSale:  item.UnitPrice,
		TotalPrice:       item.UnitPrice.Mul(decimal.NewFromInt(int64(cmd.Quantity))),
		CategorySnapshot: item.Category,
		UnitSnapshot:     item.Unit,
		IdempotencyKey:   cmd.IdempotencyKey,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO sale_records (id, item_id, quantity_sold, unit_price_at_sale, total_price, category_snapshot, unit_snapshot, idempotency_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NULLIF($8,''))
		RETURNING seq, sold_at
	`, rec.ID, rec.ItemID, rec.QuantitySold, rec.UnitPriceAtSale, rec.TotalPrice, rec.CategorySnapshot, rec.UnitSnapshot, rec.IdempotencyKey).Scan(&rec.Seq, &rec.Timestamp)
	if err != nil {
		if isUniqueViolation(err) && cmd.IdempotencyKey != "" {
			// A concurrent retry with the same key committed first.
			_ = tx.Rollback()
			existing, findErr := findSaleByKey(ctx, s.db, cmd.IdempotencyKey)
			if findErr != nil {
				return nil, findErr
			}
			if existing != nil {
				return existing, nil
			}
		}
		return nil, persistence(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, persistence(err)
	}
	rec.Timestamp = rec.Timestamp.UTC()
	return &domain.SaleCommit{Record: rec, ItemName: item.Name}, nil
}

const saleColumns = `s.id, s.seq, s.item_id, s.quantity_sold, s.unit_price_at_sale, s.total_price, s.category_snapshot, s.unit_snapshot, COALESCE(s.idempotency_key, ''), s.sold_at`

func scanSale(row rowScanner, extra ...any) (domain.SaleRecord, error) {
	var rec domain.SaleRecord
	dest := []any{&rec.ID, &rec.Seq, &rec.ItemID, &rec.QuantitySold, &rec.UnitPriceAtSale, &rec.TotalPrice, &rec.CategorySnapshot, &rec.UnitSnapshot, &rec.IdempotencyKey, &rec.Timestamp}
	err := row.Scan(append(dest, extra...)...)
	rec.Timestamp = rec.Timestamp.UTC()
	return rec, err
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findSaleByKey(ctx context.Context, q rowQueryer, key string) (*domain.SaleCommit, error) {
	var name sql.NullString
	rec, err := scanSale(q.QueryRowContext(ctx, `
		SELECT `+saleColumns+`, i.name
		FROM sale_records s
		LEFT JOIN items i ON i.id = s.item_id
		WHERE s.idempotency_key = $1
	`, key), &name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, persistence(err)
	}
	itemName := name.String
	if !name.Valid {
		itemName = domain.UnknownItemName
	}
	return &domain.SaleCommit{Record: rec, ItemName: itemName, Duplicate: true}, nil
}

// ApplyRestock increments on-hand quantity and appends the restock
// adjustment in one transaction.
func (s *Store) ApplyRestock(ctx context.Context, itemID string, qty int) (*domain.StockLevelView, error) {
	if qty < 1 {
		return nil, fmt.Errorf("%w: quantity must be a positive integer", store.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, persistence(err)
	}
	defer func() { _ = tx.Rollback() }()

	var name string
	err = tx.QueryRowContext(ctx, `
		UPDATE items SET on_hand_quantity = on_hand_quantity + $2, updated_at = now()
		WHERE id = $1
		RETURNING name
	`, itemID, qty).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, persistence(err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO stock_adjustments (id, item_id, kind, quantity)
		VALUES ($1,$2,$3,$4)
	`, xid.New("adj"), itemID, domain.AdjustmentRestock, qty); err != nil {
		return nil, persistence(err)
	}

	view := domain.StockLevelView{ItemID: itemID, Name: name}
	err = tx.QueryRowContext(ctx, `
		SELECT
			(SELECT COALESCE(SUM(quantity), 0) FROM stock_adjustments WHERE item_id = $1),
			(SELECT COALESCE(SUM(quantity_sold), 0) FROM sale_records WHERE item_id = $1)
	`, itemID).Scan(&view.TotalStocked, &view.TotalSold)
	if err != nil {
		return nil, persistence(err)
	}
	view.CurrentLevel = view.TotalStocked - view.TotalSold

	if err := tx.Commit(); err != nil {
		return nil, persistence(err)
	}
	return &view, nil
}

func (s *Store) ListSales(ctx context.Context, rng domain.DateRange) ([]domain.SaleRecord, error) {
	return listSales(ctx, s.db, rng)
}

func listSales(ctx context.Context, q queryer, rng domain.DateRange) ([]domain.SaleRecord, error) {
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if !rng.From.IsZero() {
		args = append(args, rng.From)
		clauses = append(clauses, fmt.Sprintf("s.sold_at >= $%d", len(args)))
	}
	if !rng.To.IsZero() {
		args = append(args, rng.To)
		clauses = append(clauses, fmt.Sprintf("s.sold_at <= $%d", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := q.QueryContext(ctx, `SELECT `+saleColumns+` FROM sale_records s `+where+` ORDER BY s.sold_at, s.seq`, args...)
	if err != nil {
		return nil, persistence(err)
	}
	defer rows.Close()

	out := make([]domain.SaleRecord, 0, 256)
	for rows.Next() {
		rec, err := scanSale(rows)
		if err != nil {
			return nil, persistence(err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence(err)
	}
	return out, nil
}

func (s *Store) RecentSales(ctx context.Context, limit int) ([]domain.RecentSale, error) {
	if limit < 1 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`, i.name
		FROM sale_records s
		LEFT JOIN items i ON i.id = s.item_id
		ORDER BY s.sold_at DESC, s.seq DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, persistence(err)
	}
	defer rows.Close()

	out := make([]domain.RecentSale, 0, limit)
	for rows.Next() {
		var name sql.NullString
		rec, err := scanSale(rows, &name)
		if err != nil {
			return nil, persistence(err)
		}
		itemName := name.String
		if !name.Valid {
			itemName = domain.UnknownItemName
		}
		out = append(out, domain.RecentSale{SaleRecord: rec, ItemName: itemName})
	}
	if err := rows.Err(); err != nil {
		return nil, persistence(err)
	}
	return out, nil
}

// ReportSnapshot reads catalog and ledger in one repeatable-read transaction
// so the views it feeds agree with each other.
func (s *Store) ReportSnapshot(ctx context.Context, rng domain.DateRange) (domain.ReportSnapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return domain.ReportSnapshot{}, persistence(err)
	}
	defer func() { _ = tx.Rollback() }()

	items, err := listItems(ctx, tx)
	if err != nil {
		return domain.ReportSnapshot{}, err
	}
	sales, err := listSales(ctx, tx, rng)
	if err != nil {
		return domain.ReportSnapshot{}, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, seq, item_id, kind, quantity, created_at
		FROM stock_adjustments
		ORDER BY created_at, seq
	`)
	if err != nil {
		return domain.ReportSnapshot{}, persistence(err)
	}
	defer rows.Close()

	adjustments := make([]domain.StockAdjustment, 0, 128)
	for rows.Next() {
		var adj domain.StockAdjustment
		if err := rows.Scan(&adj.ID, &adj.Seq, &adj.ItemID, &adj.Kind, &adj.Quantity, &adj.Timestamp); err != nil {
			return domain.ReportSnapshot{}, persistence(err)
		}
		adj.Timestamp = adj.Timestamp.UTC()
		adjustments = append(adjustments, adj)
	}
	if err := rows.Err(); err != nil {
		return domain.ReportSnapshot{}, persistence(err)
	}

	if err := tx.Commit(); err != nil {
		return domain.ReportSnapshot{}, persistence(err)
	}
	return domain.ReportSnapshot{Items: items, Sales: sales, Adjustments: adjustments}, nil
}

func (s *Store) SnapshotVersion(ctx context.Context) (string, error) {
	// Sequence values can commit out of order, so row counts are part of
	// the version alongside the highest seq.
	var sales, saleCount, adjustments, adjustmentCount, catalog int64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COALESCE(MAX(seq), 0) FROM sale_records),
			(SELECT COUNT(*) FROM sale_records),
			(SELECT COALESCE(MAX(seq), 0) FROM stock_adjustments),
			(SELECT COUNT(*) FROM stock_adjustments),
			(SELECT COALESCE(MAX(revision), 0) FROM catalog_revision)
	`).Scan(&sales, &saleCount, &adjustments, &adjustmentCount, &catalog)
	if err != nil {
		return "", persistence(err)
	}
	return fmt.Sprintf("%d.%d.%d.%d.%d", sales, saleCount, adjustments, adjustmentCount, catalog), nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username already exists", store.ErrValidation)
		}
		return persistence(err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, persistence(err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, persistence(err)
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence(err)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return persistence(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return persistence(err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func persistence(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", store.ErrPersistence, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
