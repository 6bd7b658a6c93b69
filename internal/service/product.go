package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Jonnhyortega/controlia-software-sub000/internal/domain"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/logger"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/xid"
)

var ErrForbidden = errors.New("owner role required")

func requireOwner(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleOwner {
		return ErrForbidden
	}
	return nil
}

func (s *Service) ListProducts(ctx context.Context, ownerID string) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, ownerID)
}

func (s *Service) GetProduct(ctx context.Context, ownerID string, productID string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, ownerID, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, ownerID string, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireOwner(ctx); err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" {
		return domain.Product{}, invalid("product name is required")
	}
	if req.Price.IsNegative() {
		return domain.Product{}, invalid("price must not be negative")
	}
	if req.InitialStock < 0 {
		return domain.Product{}, invalid("initial stock must not be negative")
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:       xid.New("prod"),
		OwnerID:  ownerID,
		Name:     req.Name,
		Category: req.Category,
		Price:    req.Price,
		Stock:    req.InitialStock,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, ownerID, "product_create", "product", created.ID,
		fmt.Sprintf("name=%s,price=%s,stock=%d", created.Name, created.Price.StringFixed(2), created.Stock))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, ownerID string, productID string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := requireOwner(ctx); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, ownerID, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, invalid("product name is required")
		}
		updated.Name = name
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return domain.Product{}, invalid("price must not be negative")
		}
		updated.Price = *req.Price
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	if !existing.Price.Equal(saved.Price) {
		s.log.Info("[product] price changed", logger.Fields{
			"owner_id":   ownerID,
			"product_id": saved.ID,
			"old_price":  existing.Price.StringFixed(2),
			"new_price":  saved.Price.StringFixed(2),
		})
	}
	s.logAudit(ctx, ownerID, "product_update", "product", saved.ID,
		fmt.Sprintf("active=%t,price=%s", saved.Active, saved.Price.StringFixed(2)))
	return *saved, nil
}

// RestockProduct adds received units through the same release path a revert
// uses, so stock never moves outside the ledger.
func (s *Service) RestockProduct(ctx context.Context, ownerID string, productID string, req domain.RestockRequest) (domain.Product, error) {
	if err := requireOwner(ctx); err != nil {
		return domain.Product{}, err
	}
	if req.Qty < 1 {
		return domain.Product{}, invalid("restock quantity must be positive")
	}

	productID = strings.TrimSpace(productID)
	if err := s.stock.Release(ctx, ownerID, productID, req.Qty); err != nil {
		return domain.Product{}, err
	}
	product, err := s.repo.GetProduct(ctx, ownerID, productID)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, ownerID, "product_restock", "product", product.ID, fmt.Sprintf("qty=%d,stock=%d", req.Qty, product.Stock))
	return *product, nil
}
