package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Jonnhyortega/controlia-software-sub000/internal/domain"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/store"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/xid"
)

type Store struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
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

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const productColumns = `id, owner_id, name, category, price, stock, active, created_at, updated_at`

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Category, &p.Price, &p.Stock, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.OwnerID == "" || strings.TrimSpace(product.Name) == "" || product.Price.IsNegative() || product.Stock < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}

	created, err := scanProduct(s.db.QueryRowContext(ctx, `
		INSERT INTO products (id, owner_id, name, category, price, stock, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,true,now(),now())
		RETURNING `+productColumns,
		product.ID, product.OwnerID, product.Name, product.Category, product.Price, product.Stock))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}
	return created, nil
}

func (s *Store) GetProduct(ctx context.Context, ownerID string, id string) (*domain.Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1 AND owner_id = $2
	`, id, ownerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return product, nil
}

func (s *Store) ListProducts(ctx context.Context, ownerID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE owner_id = $1
		ORDER BY category, name
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.Price.IsNegative() {
		return nil, store.ErrInvalidTransaction
	}

	updated, err := scanProduct(s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $3, category = $4, price = $5, active = $6, updated_at = now()
		WHERE id = $1 AND owner_id = $2
		RETURNING `+productColumns,
		product.ID, product.OwnerID, product.Name, product.Category, product.Price, product.Active))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return updated, nil
}

func (s *Store) ReserveStock(ctx context.Context, ownerID string, productID string, qty int) error {
	if qty < 1 {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - $3, updated_at = now()
		WHERE id = $1 AND owner_id = $2 AND stock >= $3
	`, productID, ownerID, qty)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	var available int
	err = s.db.QueryRowContext(ctx, `
		SELECT stock FROM products WHERE id = $1 AND owner_id = $2
	`, productID, ownerID).Scan(&available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	return &store.StockShortageError{ProductID: productID, Available: available, Requested: qty}
}

func (s *Store) ReleaseStock(ctx context.Context, ownerID string, productID string, qty int) error {
	if qty < 1 {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + $3, updated_at = now()
		WHERE id = $1 AND owner_id = $2
	`, productID, ownerID, qty)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.OwnerID == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	if sale.Status == "" {
		sale.Status = domain.SaleStatusActive
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, owner_id, total, payment_method, status, created_by, created_at, reverted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, sale.ID, sale.OwnerID, sale.Total, string(sale.PaymentMethod), sale.Status, sale.CreatedBy, sale.CreatedAt, nullTime(sale.RevertedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}

	for i, item := range sale.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, position, kind, product_id, name, quantity, price)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, sale.ID, i, string(item.Kind), nullIfEmpty(item.ProductID), nullIfEmpty(item.Name), item.Quantity, item.Price)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	saved := sale
	saved.CreatedAt = sale.CreatedAt.UTC()
	return &saved, nil
}

const saleColumns = `id, owner_id, total, payment_method, status, created_by, created_at, reverted_at`

func scanSale(row rowScanner) (*domain.Sale, error) {
	var sale domain.Sale
	var method string
	var revertedAt sql.NullTime
	if err := row.Scan(&sale.ID, &sale.OwnerID, &sale.Total, &method, &sale.Status, &sale.CreatedBy, &sale.CreatedAt, &revertedAt); err != nil {
		return nil, err
	}
	sale.PaymentMethod = domain.PaymentMethod(method)
	sale.CreatedAt = sale.CreatedAt.UTC()
	if revertedAt.Valid {
		at := revertedAt.Time.UTC()
		sale.RevertedAt = &at
	}
	return &sale, nil
}

func (s *Store) GetSale(ctx context.Context, ownerID string, id string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE id = $1 AND owner_id = $2
	`, id, ownerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	items, err := loadSaleItems(ctx, s.db, []string{sale.ID})
	if err != nil {
		return nil, err
	}
	sale.Items = items[sale.ID]
	return sale, nil
}

func (s *Store) ListSales(ctx context.Context, ownerID string, from time.Time, to time.Time) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE owner_id = $1
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at ASC, id ASC
	`, ownerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	ids := make([]string, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return sales, nil
	}

	items, err := loadSaleItems(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Items = items[sales[i].ID]
	}
	return sales, nil
}

func loadSaleItems(ctx context.Context, q querier, saleIDs []string) (map[string][]domain.LineItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT sale_id, kind, product_id, name, quantity, price
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, position
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]domain.LineItem, len(saleIDs))
	for rows.Next() {
		var saleID, kind string
		var productID, name sql.NullString
		var item domain.LineItem
		if err := rows.Scan(&saleID, &kind, &productID, &name, &item.Quantity, &item.Price); err != nil {
			return nil, err
		}
		item.Kind = domain.LineKind(kind)
		item.ProductID = productID.String
		item.Name = name.String
		result[saleID] = append(result[saleID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) MarkSaleReverted(ctx context.Context, ownerID string, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sales
		SET status = 'reverted', reverted_at = $3
		WHERE id = $1 AND owner_id = $2 AND status = 'active'
	`, id, ownerID, at.UTC())
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 1 {
		return true, nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM sales WHERE id = $1 AND owner_id = $2)
	`, id, ownerID).Scan(&exists)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, store.ErrNotFound
	}
	return false, nil
}

const registerColumns = `id, owner_id, business_day_start, business_date, total_sales_amount, total_operations,
	status, total_out, final_expected, final_real, difference, created_at, closed_at`

func scanRegister(row rowScanner) (*domain.DailyCashRegister, error) {
	var reg domain.DailyCashRegister
	var closedAt sql.NullTime
	if err := row.Scan(
		&reg.ID,
		&reg.OwnerID,
		&reg.BusinessDayStart,
		&reg.BusinessDate,
		&reg.TotalSalesAmount,
		&reg.TotalOperations,
		&reg.Status,
		&reg.TotalOut,
		&reg.FinalExpected,
		&reg.FinalReal,
		&reg.Difference,
		&reg.CreatedAt,
		&closedAt,
	); err != nil {
		return nil, err
	}
	reg.BusinessDayStart = reg.BusinessDayStart.UTC()
	reg.CreatedAt = reg.CreatedAt.UTC()
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		reg.ClosedAt = &at
	}
	reg.SaleIDs = []string{}
	return &reg, nil
}

// loadRegisterDetails fills the linked sale ids and the close-time breakdown.
func loadRegisterDetails(ctx context.Context, q querier, reg *domain.DailyCashRegister) error {
	rows, err := q.QueryContext(ctx, `
		SELECT sale_id FROM cash_register_sales
		WHERE register_id = $1
		ORDER BY linked_at, sale_id
	`, reg.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var saleID string
		if err := rows.Scan(&saleID); err != nil {
			_ = rows.Close()
			return err
		}
		reg.SaleIDs = append(reg.SaleIDs, saleID)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	if reg.Status != domain.RegisterStatusClosed {
		return nil
	}

	expenseRows, err := q.QueryContext(ctx, `
		SELECT description, amount FROM register_expenses
		WHERE register_id = $1
		ORDER BY position
	`, reg.ID)
	if err != nil {
		return err
	}
	for expenseRows.Next() {
		var e domain.ExtraExpense
		if err := expenseRows.Scan(&e.Description, &e.Amount); err != nil {
			_ = expenseRows.Close()
			return err
		}
		reg.ExtraExpenses = append(reg.ExtraExpenses, e)
	}
	if err := expenseRows.Err(); err != nil {
		_ = expenseRows.Close()
		return err
	}
	_ = expenseRows.Close()

	paymentRows, err := q.QueryContext(ctx, `
		SELECT method, amount FROM register_supplier_payments
		WHERE register_id = $1
		ORDER BY position
	`, reg.ID)
	if err != nil {
		return err
	}
	defer paymentRows.Close()
	for paymentRows.Next() {
		var p domain.SupplierPayment
		if err := paymentRows.Scan(&p.Method, &p.Amount); err != nil {
			return err
		}
		reg.SupplierPayments = append(reg.SupplierPayments, p)
	}
	return paymentRows.Err()
}

func (s *Store) loadRegister(ctx context.Context, q querier, where string, args ...any) (*domain.DailyCashRegister, error) {
	reg, err := scanRegister(q.QueryRowContext(ctx, `SELECT `+registerColumns+` FROM cash_registers WHERE `+where, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := loadRegisterDetails(ctx, q, reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// IncrementRegister upserts the day's register and links the sale in one
// transaction. The conflict branch only fires for open registers, so a
// closed day yields no row.
func (s *Store) IncrementRegister(ctx context.Context, delta store.RegisterDelta) (*domain.DailyCashRegister, error) {
	if delta.OwnerID == "" || delta.SaleID == "" || delta.Amount.IsNegative() {
		return nil, store.ErrInvalidTransaction
	}
	at := delta.At
	if at.IsZero() {
		at = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var registerID string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO cash_registers (
			id, owner_id, business_day_start, business_date,
			total_sales_amount, total_operations, status, created_at
		)
		VALUES ($1,$2,$3,$4,$5,1,'open',$6)
		ON CONFLICT (owner_id, business_day_start)
		DO UPDATE SET
			total_sales_amount = cash_registers.total_sales_amount + EXCLUDED.total_sales_amount,
			total_operations = cash_registers.total_operations + 1
		WHERE cash_registers.status = 'open'
		RETURNING id
	`, xid.New("reg"), delta.OwnerID, delta.DayStart.UTC(), delta.BusinessDate, delta.Amount, at.UTC()).Scan(&registerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrRegisterClosed
		}
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cash_register_sales (register_id, sale_id, linked_at)
		VALUES ($1,$2,$3)
		ON CONFLICT DO NOTHING
	`, registerID, delta.SaleID, at.UTC()); err != nil {
		return nil, err
	}

	reg, err := s.loadRegister(ctx, tx, `id = $1`, registerID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return reg, nil
}

func (s *Store) DecrementRegister(ctx context.Context, delta store.RegisterDelta) (*domain.DailyCashRegister, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var registerID, status string
	err = tx.QueryRowContext(ctx, `
		SELECT id, status
		FROM cash_registers
		WHERE owner_id = $1 AND business_day_start = $2
		FOR UPDATE
	`, delta.OwnerID, delta.DayStart.UTC()).Scan(&registerID, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if status != domain.RegisterStatusOpen {
		return nil, store.ErrRegisterClosed
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE cash_registers
		SET total_sales_amount = GREATEST(total_sales_amount - $2, 0),
			total_operations = GREATEST(total_operations - 1, 0)
		WHERE id = $1
	`, registerID, delta.Amount); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM cash_register_sales WHERE register_id = $1 AND sale_id = $2
	`, registerID, delta.SaleID); err != nil {
		return nil, err
	}

	reg, err := s.loadRegister(ctx, tx, `id = $1`, registerID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return reg, nil
}

func (s *Store) EnsureRegister(ctx context.Context, ownerID string, dayStart time.Time, businessDate string, at time.Time) (*domain.DailyCashRegister, error) {
	if ownerID == "" {
		return nil, store.ErrInvalidTransaction
	}
	if at.IsZero() {
		at = time.Now()
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO cash_registers (id, owner_id, business_day_start, business_date, status, created_at)
		VALUES ($1,$2,$3,$4,'open',$5)
		ON CONFLICT (owner_id, business_day_start) DO NOTHING
	`, xid.New("reg"), ownerID, dayStart.UTC(), businessDate, at.UTC()); err != nil {
		return nil, err
	}
	return s.GetRegisterByDay(ctx, ownerID, dayStart)
}

func (s *Store) GetRegisterByDay(ctx context.Context, ownerID string, dayStart time.Time) (*domain.DailyCashRegister, error) {
	return s.loadRegister(ctx, s.db, `owner_id = $1 AND business_day_start = $2`, ownerID, dayStart.UTC())
}

func (s *Store) GetRegisterByID(ctx context.Context, ownerID string, id string) (*domain.DailyCashRegister, error) {
	return s.loadRegister(ctx, s.db, `id = $1 AND owner_id = $2`, id, ownerID)
}

func (s *Store) CloseRegister(ctx context.Context, ownerID string, id string, reconcile store.ReconcileFunc) (*domain.DailyCashRegister, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	reg, err := s.loadRegister(ctx, tx, `id = $1 AND owner_id = $2 FOR UPDATE`, id, ownerID)
	if err != nil {
		return nil, err
	}
	if reg.Status != domain.RegisterStatusOpen {
		return nil, store.ErrAlreadyClosed
	}

	closure, err := reconcile(*reg)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE cash_registers
		SET status = 'closed', total_out = $2, final_expected = $3,
			final_real = $4, difference = $5, closed_at = $6
		WHERE id = $1
	`, reg.ID, closure.TotalOut, closure.FinalExpected, closure.FinalReal, closure.Difference, closure.ClosedAt.UTC()); err != nil {
		return nil, err
	}
	for i, e := range closure.ExtraExpenses {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO register_expenses (register_id, position, description, amount)
			VALUES ($1,$2,$3,$4)
		`, reg.ID, i, e.Description, e.Amount); err != nil {
			return nil, err
		}
	}
	for i, p := range closure.SupplierPayments {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO register_supplier_payments (register_id, position, method, amount)
			VALUES ($1,$2,$3,$4)
		`, reg.ID, i, p.Method, p.Amount); err != nil {
			return nil, err
		}
	}

	closed, err := s.loadRegister(ctx, tx, `id = $1`, reg.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return closed, nil
}

// ListRegisters returns registers newest first without their linked sale ids.
func (s *Store) ListRegisters(ctx context.Context, ownerID string) ([]domain.DailyCashRegister, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+registerColumns+`
		FROM cash_registers
		WHERE owner_id = $1
		ORDER BY business_day_start DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	registers := make([]domain.DailyCashRegister, 0, 32)
	for rows.Next() {
		reg, err := scanRegister(rows)
		if err != nil {
			return nil, err
		}
		registers = append(registers, *reg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return registers, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, owner_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.OwnerID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, ownerID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE owner_id = $1
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, ownerID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.OwnerID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" || user.OwnerID == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleEmployee
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, owner_id, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,true,$5,now())
	`, user.Username, user.Password, user.Role, user.OwnerID, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, owner_id, active, created_at
		FROM users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.OwnerID, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

var _ store.Repository = (*Store)(nil)
