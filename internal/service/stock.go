package service

import (
	"context"
	"fmt"

	"github.com/Jonnhyortega/controlia-software-sub000/internal/domain"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/logger"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/store"
)

// InsufficientStockError is returned when a cart asks for more units of a
// product than are on hand.
type InsufficientStockError struct {
	ProductID string
	Name      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (%s): available %d, requested %d", e.Name, e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return store.ErrInsufficientStock
}

type stockRequest struct {
	ProductID string
	Qty       int
}

// StockLedger reserves and releases product stock through the store's
// conditional decrement.
type StockLedger struct {
	stock store.StockStore
	log   logger.Logger
}

func NewStockLedger(stock store.StockStore, log logger.Logger) *StockLedger {
	if log == nil {
		log = logger.Discard()
	}
	return &StockLedger{stock: stock, log: log}
}

func (l *StockLedger) Reserve(ctx context.Context, ownerID string, productID string, qty int) error {
	return l.stock.ReserveStock(ctx, ownerID, productID, qty)
}

func (l *StockLedger) Release(ctx context.Context, ownerID string, productID string, qty int) error {
	return l.stock.ReleaseStock(ctx, ownerID, productID, qty)
}

// ReserveAll reserves each request in order. On the first failure every
// earlier reservation is released in reverse order and the failing error is
// returned together with the request that caused it.
func (l *StockLedger) ReserveAll(ctx context.Context, ownerID string, requests []stockRequest) (*stockRequest, error) {
	for i := range requests {
		if err := l.Reserve(ctx, ownerID, requests[i].ProductID, requests[i].Qty); err != nil {
			rctx, cancel := detached(ctx)
			l.Rollback(rctx, ownerID, requests[:i])
			cancel()
			return &requests[i], err
		}
	}
	return nil, nil
}

// Rollback releases reservations newest first. Failures are logged and the
// loop keeps going so one bad row does not strand the rest. Callers pass a
// context that is not tied to the request.
func (l *StockLedger) Rollback(ctx context.Context, ownerID string, reserved []stockRequest) {
	for i := len(reserved) - 1; i >= 0; i-- {
		r := reserved[i]
		if err := l.Release(ctx, ownerID, r.ProductID, r.Qty); err != nil {
			l.log.Error("[stock] failed to release reservation", err, logger.Fields{
				"owner_id":   ownerID,
				"product_id": r.ProductID,
				"qty":        r.Qty,
			})
		}
	}
}

// aggregateCatalogQuantities sums quantities per product, keeping the order in
// which each product first appears in the cart.
func aggregateCatalogQuantities(items []domain.LineItem) []stockRequest {
	index := make(map[string]int, len(items))
	requests := make([]stockRequest, 0, len(items))
	for _, item := range items {
		if !item.IsCatalog() {
			continue
		}
		if i, ok := index[item.ProductID]; ok {
			requests[i].Qty += item.Quantity
			continue
		}
		index[item.ProductID] = len(requests)
		requests = append(requests, stockRequest{ProductID: item.ProductID, Qty: item.Quantity})
	}
	return requests
}
