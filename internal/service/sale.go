package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Jonnhyortega/controlia-software-sub000/internal/domain"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/logger"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/store"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/xid"
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", store.ErrInvalidTransaction, fmt.Sprintf(format, args...))
}

// CreateSale reserves stock for every catalog line, records the sale and adds
// it to today's register. Any failure after the first reservation is undone
// before the error is returned.
func (s *Service) CreateSale(ctx context.Context, ownerID string, req domain.SaleCreateRequest) (domain.Sale, error) {
	if ownerID == "" {
		return domain.Sale{}, invalid("owner is required")
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentCash
	}
	if !req.PaymentMethod.Valid() {
		return domain.Sale{}, invalid("unsupported payment method %q", req.PaymentMethod)
	}
	if req.Total.IsNegative() {
		return domain.Sale{}, invalid("total must not be negative")
	}
	if len(req.Lines) == 0 {
		return domain.Sale{}, invalid("sale needs at least one line")
	}

	products, err := s.lookupCatalogProducts(ctx, ownerID, req.Lines)
	if err != nil {
		return domain.Sale{}, err
	}
	items, err := normalizeLines(req.Lines, products)
	if err != nil {
		return domain.Sale{}, err
	}

	reservations := aggregateCatalogQuantities(items)
	if failed, err := s.stock.ReserveAll(ctx, ownerID, reservations); err != nil {
		var shortage *store.StockShortageError
		if errors.As(err, &shortage) {
			return domain.Sale{}, &InsufficientStockError{
				ProductID: failed.ProductID,
				Name:      products[failed.ProductID].Name,
				Available: shortage.Available,
				Requested: shortage.Requested,
			}
		}
		return domain.Sale{}, fmt.Errorf("reserve %s: %w", failed.ProductID, err)
	}

	actor, _ := ActorFromContext(ctx)
	now := s.clock()
	created, err := s.repo.CreateSale(ctx, domain.Sale{
		ID:            xid.New("sale"),
		OwnerID:       ownerID,
		Items:         items,
		Total:         req.Total,
		PaymentMethod: req.PaymentMethod,
		Status:        domain.SaleStatusActive,
		CreatedBy:     actor.Username,
		CreatedAt:     now,
	})
	if err != nil {
		rctx, cancel := detached(ctx)
		s.stock.Rollback(rctx, ownerID, reservations)
		cancel()
		return domain.Sale{}, fmt.Errorf("persist sale: %w", err)
	}

	if _, err := s.cash.add(ctx, s.days, created); err != nil {
		s.compensateSale(ctx, created, reservations)
		if errors.Is(err, store.ErrRegisterClosed) {
			return domain.Sale{}, fmt.Errorf("register for %s: %w", s.days.Date(created.CreatedAt), err)
		}
		return domain.Sale{}, fmt.Errorf("update register: %w", err)
	}
	s.invalidateRegisters(ctx, ownerID)

	s.logAudit(ctx, ownerID, "sale_create", "sale", created.ID,
		fmt.Sprintf("total=%s,payment=%s,lines=%d", created.Total.StringFixed(2), created.PaymentMethod, len(created.Items)))
	s.log.Info("[sale] created", logger.Fields{
		"owner_id": ownerID,
		"sale_id":  created.ID,
		"total":    created.Total.StringFixed(2),
	})
	return *created, nil
}

// compensateSale undoes a persisted sale whose register update failed. It
// runs even when the request context is already done.
func (s *Service) compensateSale(ctx context.Context, sale *domain.Sale, reservations []stockRequest) {
	ctx, cancel := detached(ctx)
	defer cancel()

	if _, err := s.repo.MarkSaleReverted(ctx, sale.OwnerID, sale.ID, s.clock()); err != nil {
		s.log.Error("[sale] failed to mark sale reverted during compensation", err, logger.Fields{
			"owner_id": sale.OwnerID,
			"sale_id":  sale.ID,
		})
	}
	s.stock.Rollback(ctx, sale.OwnerID, reservations)
}

// RevertSale voids an active sale, returns its stock and removes it from the
// register of the business day it was made on.
func (s *Service) RevertSale(ctx context.Context, ownerID string, saleID string) (domain.SaleRevertResponse, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.SaleRevertResponse{}, invalid("sale id is required")
	}

	sale, err := s.repo.GetSale(ctx, ownerID, saleID)
	if err != nil {
		return domain.SaleRevertResponse{}, err
	}
	if sale.Status == domain.SaleStatusReverted {
		return domain.SaleRevertResponse{SaleID: sale.ID, AlreadyReverted: true}, nil
	}

	// The status flip is the claim: only the caller that flips it touches
	// stock and the register.
	flipped, err := s.repo.MarkSaleReverted(ctx, ownerID, sale.ID, s.clock())
	if err != nil {
		return domain.SaleRevertResponse{}, err
	}
	if !flipped {
		return domain.SaleRevertResponse{SaleID: sale.ID, AlreadyReverted: true}, nil
	}

	// Once flipped no retry will release this stock, so the rest must finish
	// even if the caller goes away.
	ctx, cancel := detached(ctx)
	defer cancel()

	for _, item := range sale.Items {
		if !item.IsCatalog() {
			continue
		}
		if err := s.stock.Release(ctx, ownerID, item.ProductID, item.Quantity); err != nil {
			s.log.Error("[sale] failed to release stock on revert", err, logger.Fields{
				"owner_id":   ownerID,
				"sale_id":    sale.ID,
				"product_id": item.ProductID,
				"qty":        item.Quantity,
			})
		}
	}

	if _, err := s.cash.remove(ctx, s.days, sale); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.log.Warn("[register] no register for reverted sale's business day", logger.Fields{
				"owner_id":      ownerID,
				"sale_id":       sale.ID,
				"business_date": s.days.Date(sale.CreatedAt),
			})
		case errors.Is(err, store.ErrRegisterClosed):
			s.log.Warn("[register] register already closed, reverted sale left in its totals", logger.Fields{
				"owner_id":      ownerID,
				"sale_id":       sale.ID,
				"business_date": s.days.Date(sale.CreatedAt),
			})
		default:
			s.log.Error("[register] failed to decrement register on revert", err, logger.Fields{
				"owner_id": ownerID,
				"sale_id":  sale.ID,
			})
		}
	} else {
		s.invalidateRegisters(ctx, ownerID)
	}

	s.logAudit(ctx, ownerID, "sale_revert", "sale", sale.ID, fmt.Sprintf("total=%s", sale.Total.StringFixed(2)))
	return domain.SaleRevertResponse{SaleID: sale.ID, Reverted: true}, nil
}

func (s *Service) GetSale(ctx context.Context, ownerID string, saleID string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, ownerID, strings.TrimSpace(saleID))
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// ListSales returns the sales of one business day, today when date is empty.
func (s *Service) ListSales(ctx context.Context, ownerID string, date string) ([]domain.Sale, error) {
	from, to, err := s.dayRange(date)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSales(ctx, ownerID, from, to)
}

func (s *Service) lookupCatalogProducts(ctx context.Context, ownerID string, lines []domain.CartLine) (map[string]domain.Product, error) {
	products := make(map[string]domain.Product, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			continue
		}
		if _, seen := products[productID]; seen {
			continue
		}
		product, err := s.repo.GetProduct(ctx, ownerID, productID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("product %s: %w", productID, store.ErrNotFound)
			}
			return nil, err
		}
		if !product.Active {
			return nil, invalid("product %s is inactive", productID)
		}
		products[productID] = *product
	}
	return products, nil
}

// normalizeLines turns cart lines into line items. Catalog lines without an
// explicit price take the product's current price.
func normalizeLines(lines []domain.CartLine, products map[string]domain.Product) ([]domain.LineItem, error) {
	items := make([]domain.LineItem, 0, len(lines))
	for i, line := range lines {
		if line.Quantity < 1 {
			return nil, invalid("line %d: quantity must be positive", i+1)
		}
		if line.Price != nil && line.Price.IsNegative() {
			return nil, invalid("line %d: price must not be negative", i+1)
		}

		productID := strings.TrimSpace(line.ProductID)
		if productID != "" {
			price := products[productID].Price
			if line.Price != nil {
				price = *line.Price
			}
			item := domain.CatalogLine(productID, line.Quantity, price)
			item.Name = products[productID].Name
			items = append(items, item)
			continue
		}

		name := strings.TrimSpace(line.Name)
		if name == "" {
			return nil, invalid("line %d: manual line needs a name", i+1)
		}
		if line.Price == nil {
			return nil, invalid("line %d: manual line needs a price", i+1)
		}
		items = append(items, domain.ManualLine(name, line.Quantity, *line.Price))
	}
	return items, nil
}
