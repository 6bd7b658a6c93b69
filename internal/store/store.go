package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Jonnhyortega/controlia-software-sub000/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrAlreadyClosed      = errors.New("register already closed")
	ErrRegisterClosed     = errors.New("register for this business day is closed")
)

// StockShortageError reports a failed conditional stock decrement.
type StockShortageError struct {
	ProductID string
	Available int
	Requested int
}

func (e *StockShortageError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d", e.ProductID, e.Available, e.Requested)
}

func (e *StockShortageError) Unwrap() error {
	return ErrInsufficientStock
}

// RegisterDelta describes one sale's effect on a business-day register.
type RegisterDelta struct {
	OwnerID      string
	DayStart     time.Time
	BusinessDate string
	SaleID       string
	Amount       decimal.Decimal
	At           time.Time
}

// ReconcileFunc computes the closing snapshot from the locked, open register.
type ReconcileFunc func(reg domain.DailyCashRegister) (domain.RegisterClosure, error)

type ProductStore interface {
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, ownerID string, id string) (*domain.Product, error)
	ListProducts(ctx context.Context, ownerID string) ([]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
}

type StockStore interface {
	// ReserveStock decrements stock by qty only when stock >= qty, as one
	// atomic step. It returns *StockShortageError when the guard fails and
	// ErrNotFound for unknown or foreign products.
	ReserveStock(ctx context.Context, ownerID string, productID string, qty int) error
	// ReleaseStock unconditionally adds qty back.
	ReleaseStock(ctx context.Context, ownerID string, productID string, qty int) error
}

type SaleStore interface {
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, ownerID string, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, ownerID string, from time.Time, to time.Time) ([]domain.Sale, error)
	// MarkSaleReverted flips an active sale to reverted. It reports false when
	// the sale was already reverted.
	MarkSaleReverted(ctx context.Context, ownerID string, id string, at time.Time) (bool, error)
}

type RegisterStore interface {
	// IncrementRegister creates the day's register or adds to it in one atomic
	// upsert. It returns ErrRegisterClosed when the register is closed.
	IncrementRegister(ctx context.Context, delta RegisterDelta) (*domain.DailyCashRegister, error)
	// DecrementRegister subtracts a sale from the day's register, flooring the
	// totals at zero. It returns ErrNotFound when no register exists and
	// ErrRegisterClosed when it is already closed.
	DecrementRegister(ctx context.Context, delta RegisterDelta) (*domain.DailyCashRegister, error)
	EnsureRegister(ctx context.Context, ownerID string, dayStart time.Time, businessDate string, at time.Time) (*domain.DailyCashRegister, error)
	GetRegisterByDay(ctx context.Context, ownerID string, dayStart time.Time) (*domain.DailyCashRegister, error)
	GetRegisterByID(ctx context.Context, ownerID string, id string) (*domain.DailyCashRegister, error)
	// CloseRegister locks the register, rejects it with ErrAlreadyClosed when
	// it is not open, and persists the snapshot returned by reconcile.
	CloseRegister(ctx context.Context, ownerID string, id string, reconcile ReconcileFunc) (*domain.DailyCashRegister, error)
	ListRegisters(ctx context.Context, ownerID string) ([]domain.DailyCashRegister, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, ownerID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

type Repository interface {
	ProductStore
	StockStore
	SaleStore
	RegisterStore
	UserStore
	AuditStore
}
