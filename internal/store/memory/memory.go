package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/Jonnhyortega/controlia-software-sub000/internal/domain"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/logger"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/store"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/xid"
)

const DemoOwnerID = "owner-demo"

// Store keeps everything in process memory. The write lock plays the role
// of the database's row locks, so every conditional update below happens as
// one step.
type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	sales           map[string]*domain.Sale
	registers       map[string]*domain.DailyCashRegister
	registerByDay   map[registerKey]string
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

type registerKey struct {
	ownerID  string
	dayStart int64
}

func keyFor(ownerID string, dayStart time.Time) registerKey {
	return registerKey{ownerID: ownerID, dayStart: dayStart.UTC().UnixNano()}
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		sales:           make(map[string]*domain.Sale),
		registers:       make(map[string]*domain.DailyCashRegister),
		registerByDay:   make(map[registerKey]string),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with a demo owner, one employee and a small
// catalog, for dev mode when no DATABASE_URL is configured.
func NewSeeded(log logger.Logger) *Store {
	s := New()
	now := time.Now().UTC()

	products := []struct {
		id, name, category, price string
	}{
		{"prod-yerba-01", "Yerba Mate 1kg", "almacen", "4500"},
		{"prod-azucar-01", "Azucar 1kg", "almacen", "1200"},
		{"prod-leche-01", "Leche Entera 1L", "lacteos", "1350"},
		{"prod-pan-01", "Pan Lactal", "panaderia", "2100"},
		{"prod-gaseosa-01", "Gaseosa 2.25L", "bebidas", "2800"},
		{"prod-galletitas-01", "Galletitas Surtidas", "almacen", "1650"},
		{"prod-fideos-01", "Fideos Secos 500g", "almacen", "980"},
		{"prod-detergente-01", "Detergente 750ml", "limpieza", "1900"},
	}
	for _, p := range products {
		s.products[p.id] = domain.Product{
			ID:        p.id,
			OwnerID:   DemoOwnerID,
			Name:      p.name,
			Category:  p.category,
			Price:     decimal.RequireFromString(p.price),
			Stock:     120,
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	s.usersByUsername = seedUsers(log, now)
	return s
}

// seedUsers builds the initial accounts for dev/demo mode. Passwords come from
// SEED_OWNER_PASSWORD and SEED_EMPLOYEE_PASSWORD; dev defaults are used with a
// warning when unset.
func seedUsers(log logger.Logger, now time.Time) map[string]domain.UserAccount {
	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123")
	employeePwd := envOr("SEED_EMPLOYEE_PASSWORD", "employee123")
	if os.Getenv("SEED_OWNER_PASSWORD") == "" || os.Getenv("SEED_EMPLOYEE_PASSWORD") == "" {
		log.Warn("[memory-store] using default dev credentials, set SEED_OWNER_PASSWORD and SEED_EMPLOYEE_PASSWORD to override", nil)
	}

	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"owner", ownerPwd, domain.RoleOwner},
		{"cajero", employeePwd, domain.RoleEmployee},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Error("[memory-store] failed to hash seed password", err, logger.Fields{"username": u.username})
			continue
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			OwnerID:   DemoOwnerID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.OwnerID == "" || strings.TrimSpace(product.Name) == "" || product.Price.IsNegative() || product.Stock < 0 {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrInvalidTransaction
	}
	now := time.Now().UTC()
	product.Active = true
	product.CreatedAt = now
	product.UpdatedAt = now
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, ownerID string, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists || product.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) ListProducts(_ context.Context, ownerID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.OwnerID != ownerID {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return products, nil
}

// UpdateProduct writes descriptive fields only; stock moves through
// ReserveStock and ReleaseStock.
func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.Price.IsNegative() {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.products[product.ID]
	if !exists || existing.OwnerID != product.OwnerID {
		return nil, store.ErrNotFound
	}
	existing.Name = product.Name
	existing.Category = product.Category
	existing.Price = product.Price
	existing.Active = product.Active
	existing.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = existing
	updated := existing
	return &updated, nil
}

func (s *Store) ReserveStock(_ context.Context, ownerID string, productID string, qty int) error {
	if qty < 1 {
		return store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[productID]
	if !exists || product.OwnerID != ownerID {
		return store.ErrNotFound
	}
	if product.Stock < qty {
		return &store.StockShortageError{ProductID: productID, Available: product.Stock, Requested: qty}
	}
	product.Stock -= qty
	product.UpdatedAt = time.Now().UTC()
	s.products[productID] = product
	return nil
}

func (s *Store) ReleaseStock(_ context.Context, ownerID string, productID string, qty int) error {
	if qty < 1 {
		return store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[productID]
	if !exists || product.OwnerID != ownerID {
		return store.ErrNotFound
	}
	product.Stock += qty
	product.UpdatedAt = time.Now().UTC()
	s.products[productID] = product
	return nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.OwnerID == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if _, exists := s.sales[sale.ID]; exists {
		return nil, store.ErrInvalidTransaction
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	if sale.Status == "" {
		sale.Status = domain.SaleStatusActive
	}
	s.sales[sale.ID] = cloneSale(&sale)
	return cloneSale(&sale), nil
}

func (s *Store) GetSale(_ context.Context, ownerID string, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.sales[id]
	if !exists || sale.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, ownerID string, from time.Time, to time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, 32)
	for _, sale := range s.sales {
		if sale.OwnerID != ownerID {
			continue
		}
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		result = append(result, *cloneSale(sale))
	}
	slices.SortFunc(result, func(a, b domain.Sale) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) MarkSaleReverted(_ context.Context, ownerID string, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.sales[id]
	if !exists || sale.OwnerID != ownerID {
		return false, store.ErrNotFound
	}
	if sale.Status != domain.SaleStatusActive {
		return false, nil
	}
	sale.Status = domain.SaleStatusReverted
	revertedAt := at.UTC()
	sale.RevertedAt = &revertedAt
	return true, nil
}

func (s *Store) IncrementRegister(_ context.Context, delta store.RegisterDelta) (*domain.DailyCashRegister, error) {
	if delta.OwnerID == "" || delta.SaleID == "" || delta.Amount.IsNegative() {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := keyFor(delta.OwnerID, delta.DayStart)
	if id, exists := s.registerByDay[key]; exists {
		reg := s.registers[id]
		if reg.Status != domain.RegisterStatusOpen {
			return nil, store.ErrRegisterClosed
		}
		reg.TotalSalesAmount = reg.TotalSalesAmount.Add(delta.Amount)
		reg.TotalOperations++
		reg.SaleIDs = append(reg.SaleIDs, delta.SaleID)
		return cloneRegister(reg), nil
	}

	reg := newRegister(delta.OwnerID, delta.DayStart, delta.BusinessDate, delta.At)
	reg.TotalSalesAmount = delta.Amount
	reg.TotalOperations = 1
	reg.SaleIDs = []string{delta.SaleID}
	s.registers[reg.ID] = reg
	s.registerByDay[key] = reg.ID
	return cloneRegister(reg), nil
}

func (s *Store) DecrementRegister(_ context.Context, delta store.RegisterDelta) (*domain.DailyCashRegister, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists := s.registerByDay[keyFor(delta.OwnerID, delta.DayStart)]
	if !exists {
		return nil, store.ErrNotFound
	}
	reg := s.registers[id]
	if reg.Status != domain.RegisterStatusOpen {
		return nil, store.ErrRegisterClosed
	}

	reg.TotalSalesAmount = decimal.Max(reg.TotalSalesAmount.Sub(delta.Amount), decimal.Zero)
	if reg.TotalOperations > 0 {
		reg.TotalOperations--
	}
	reg.SaleIDs = slices.DeleteFunc(reg.SaleIDs, func(saleID string) bool {
		return saleID == delta.SaleID
	})
	return cloneRegister(reg), nil
}

func (s *Store) EnsureRegister(_ context.Context, ownerID string, dayStart time.Time, businessDate string, at time.Time) (*domain.DailyCashRegister, error) {
	if ownerID == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := keyFor(ownerID, dayStart)
	if id, exists := s.registerByDay[key]; exists {
		return cloneRegister(s.registers[id]), nil
	}
	reg := newRegister(ownerID, dayStart, businessDate, at)
	s.registers[reg.ID] = reg
	s.registerByDay[key] = reg.ID
	return cloneRegister(reg), nil
}

func (s *Store) GetRegisterByDay(_ context.Context, ownerID string, dayStart time.Time) (*domain.DailyCashRegister, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.registerByDay[keyFor(ownerID, dayStart)]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneRegister(s.registers[id]), nil
}

func (s *Store) GetRegisterByID(_ context.Context, ownerID string, id string) (*domain.DailyCashRegister, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reg, exists := s.registers[id]
	if !exists || reg.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return cloneRegister(reg), nil
}

func (s *Store) CloseRegister(_ context.Context, ownerID string, id string, reconcile store.ReconcileFunc) (*domain.DailyCashRegister, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, exists := s.registers[id]
	if !exists || reg.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	if reg.Status != domain.RegisterStatusOpen {
		return nil, store.ErrAlreadyClosed
	}

	closure, err := reconcile(*cloneRegister(reg))
	if err != nil {
		return nil, err
	}

	reg.ExtraExpenses = slices.Clone(closure.ExtraExpenses)
	reg.SupplierPayments = slices.Clone(closure.SupplierPayments)
	reg.TotalOut = closure.TotalOut
	reg.FinalExpected = closure.FinalExpected
	reg.FinalReal = closure.FinalReal
	reg.Difference = closure.Difference
	closedAt := closure.ClosedAt.UTC()
	reg.ClosedAt = &closedAt
	reg.Status = domain.RegisterStatusClosed
	return cloneRegister(reg), nil
}

func (s *Store) ListRegisters(_ context.Context, ownerID string) ([]domain.DailyCashRegister, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.DailyCashRegister, 0, 32)
	for _, reg := range s.registers {
		if reg.OwnerID != ownerID {
			continue
		}
		result = append(result, *cloneRegister(reg))
	}
	slices.SortFunc(result, func(a, b domain.DailyCashRegister) int {
		return b.BusinessDayStart.Compare(a.BusinessDayStart)
	})
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, ownerID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.OwnerID != ownerID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" || user.OwnerID == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidTransaction
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleEmployee
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

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
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func newRegister(ownerID string, dayStart time.Time, businessDate string, at time.Time) *domain.DailyCashRegister {
	if at.IsZero() {
		at = time.Now()
	}
	return &domain.DailyCashRegister{
		ID:               xid.New("reg"),
		OwnerID:          ownerID,
		BusinessDayStart: dayStart.UTC(),
		BusinessDate:     businessDate,
		SaleIDs:          []string{},
		TotalSalesAmount: decimal.Zero,
		Status:           domain.RegisterStatusOpen,
		TotalOut:         decimal.Zero,
		FinalExpected:    decimal.Zero,
		FinalReal:        decimal.Zero,
		Difference:       decimal.Zero,
		CreatedAt:        at.UTC(),
	}
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Items = slices.Clone(src.Items)
	if src.RevertedAt != nil {
		at := *src.RevertedAt
		dup.RevertedAt = &at
	}
	return &dup
}

func cloneRegister(src *domain.DailyCashRegister) *domain.DailyCashRegister {
	if src == nil {
		return nil
	}
	dup := *src
	dup.SaleIDs = slices.Clone(src.SaleIDs)
	if dup.SaleIDs == nil {
		dup.SaleIDs = []string{}
	}
	dup.ExtraExpenses = slices.Clone(src.ExtraExpenses)
	dup.SupplierPayments = slices.Clone(src.SupplierPayments)
	if src.ClosedAt != nil {
		at := *src.ClosedAt
		dup.ClosedAt = &at
	}
	return &dup
}

var _ store.Repository = (*Store)(nil)
