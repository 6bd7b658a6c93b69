package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Jonnhyortega/controlia-software-sub000/internal/businessday"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/domain"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/logger"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/store"
)

// cashAggregator keeps the per-day register totals in step with sales.
type cashAggregator struct {
	registers store.RegisterStore
}

func saleDelta(days *businessday.Resolver, sale *domain.Sale) store.RegisterDelta {
	start, _ := days.Range(sale.CreatedAt)
	return store.RegisterDelta{
		OwnerID:      sale.OwnerID,
		DayStart:     start,
		BusinessDate: days.Date(sale.CreatedAt),
		SaleID:       sale.ID,
		Amount:       sale.Total,
		At:           sale.CreatedAt,
	}
}

func (a *cashAggregator) add(ctx context.Context, days *businessday.Resolver, sale *domain.Sale) (*domain.DailyCashRegister, error) {
	return a.registers.IncrementRegister(ctx, saleDelta(days, sale))
}

// remove takes the sale out of the register of the day it was created on.
func (a *cashAggregator) remove(ctx context.Context, days *businessday.Resolver, sale *domain.Sale) (*domain.DailyCashRegister, error) {
	return a.registers.DecrementRegister(ctx, saleDelta(days, sale))
}

// Reconcile computes the closing snapshot for an open register:
//
//	total_out      = sum(expenses) + sum(supplier payments)
//	final_expected = total_sales - total_out
//	final_real     = counted cash, or final_expected when omitted
//	difference     = final_real - final_expected
func Reconcile(reg domain.DailyCashRegister, req domain.RegisterCloseRequest, closedAt time.Time) (domain.RegisterClosure, error) {
	totalOut := decimal.Zero

	expenses := make([]domain.ExtraExpense, 0, len(req.ExtraExpenses))
	for i, e := range req.ExtraExpenses {
		if e.Amount.IsNegative() {
			return domain.RegisterClosure{}, invalid("extra expense %d: amount must not be negative", i+1)
		}
		e.Description = strings.TrimSpace(e.Description)
		expenses = append(expenses, e)
		totalOut = totalOut.Add(e.Amount)
	}

	payments := make([]domain.SupplierPayment, 0, len(req.SupplierPayments))
	for i, p := range req.SupplierPayments {
		if p.Amount.IsNegative() {
			return domain.RegisterClosure{}, invalid("supplier payment %d: amount must not be negative", i+1)
		}
		p.Method = strings.TrimSpace(p.Method)
		payments = append(payments, p)
		totalOut = totalOut.Add(p.Amount)
	}

	expected := reg.TotalSalesAmount.Sub(totalOut)
	counted := expected
	if req.FinalReal != nil {
		counted = *req.FinalReal
	}

	return domain.RegisterClosure{
		ExtraExpenses:    expenses,
		SupplierPayments: payments,
		TotalOut:         totalOut,
		FinalExpected:    expected,
		FinalReal:        counted,
		Difference:       counted.Sub(expected),
		ClosedAt:         closedAt.UTC(),
	}, nil
}

// GetOrCreateTodayRegister returns the register for the current business day,
// creating an empty open one if none exists yet.
func (s *Service) GetOrCreateTodayRegister(ctx context.Context, ownerID string) (domain.DailyCashRegister, error) {
	now := s.clock()
	start, _ := s.days.Range(now)

	reg, err := s.repo.GetRegisterByDay(ctx, ownerID, start)
	if err == nil {
		return *reg, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.DailyCashRegister{}, err
	}

	reg, err = s.repo.EnsureRegister(ctx, ownerID, start, s.days.Date(now), now)
	if err != nil {
		return domain.DailyCashRegister{}, err
	}
	s.invalidateRegisters(ctx, ownerID)
	return *reg, nil
}

func (s *Service) GetRegisterByDate(ctx context.Context, ownerID string, date string) (domain.DailyCashRegister, error) {
	start, _, err := s.days.RangeForDate(date)
	if err != nil {
		return domain.DailyCashRegister{}, fmt.Errorf("%w: %v", store.ErrInvalidTransaction, err)
	}
	reg, err := s.repo.GetRegisterByDay(ctx, ownerID, start)
	if err != nil {
		return domain.DailyCashRegister{}, err
	}
	return *reg, nil
}

func (s *Service) GetRegister(ctx context.Context, ownerID string, registerID string) (domain.DailyCashRegister, error) {
	reg, err := s.repo.GetRegisterByID(ctx, ownerID, strings.TrimSpace(registerID))
	if err != nil {
		return domain.DailyCashRegister{}, err
	}
	return *reg, nil
}

// CloseRegister reconciles and closes an open register. A closed register is
// rejected with store.ErrAlreadyClosed and left as it was.
func (s *Service) CloseRegister(ctx context.Context, ownerID string, registerID string, req domain.RegisterCloseRequest) (domain.DailyCashRegister, error) {
	closedAt := s.clock()
	closed, err := s.repo.CloseRegister(ctx, ownerID, strings.TrimSpace(registerID), func(reg domain.DailyCashRegister) (domain.RegisterClosure, error) {
		return Reconcile(reg, req, closedAt)
	})
	if err != nil {
		return domain.DailyCashRegister{}, err
	}
	s.invalidateRegisters(ctx, ownerID)

	s.logAudit(ctx, ownerID, "register_close", "register", closed.ID, fmt.Sprintf(
		"date=%s,expected=%s,real=%s,difference=%s",
		closed.BusinessDate,
		closed.FinalExpected.StringFixed(2),
		closed.FinalReal.StringFixed(2),
		closed.Difference.StringFixed(2),
	))
	if !closed.Difference.IsZero() {
		s.log.Warn("[register] closed with cash difference", logger.Fields{
			"owner_id":      ownerID,
			"register_id":   closed.ID,
			"business_date": closed.BusinessDate,
			"difference":    closed.Difference.StringFixed(2),
		})
	}
	return *closed, nil
}

// CloseRegisterByDate locates the register for a calendar date and closes it
// exactly like CloseRegister.
func (s *Service) CloseRegisterByDate(ctx context.Context, ownerID string, date string, req domain.RegisterCloseRequest) (domain.DailyCashRegister, error) {
	reg, err := s.GetRegisterByDate(ctx, ownerID, date)
	if err != nil {
		return domain.DailyCashRegister{}, err
	}
	return s.CloseRegister(ctx, ownerID, reg.ID, req)
}

// ListRegisters returns summaries newest first, served from the cache when
// possible.
func (s *Service) ListRegisters(ctx context.Context, ownerID string) ([]domain.RegisterSummary, error) {
	cached, hit, err := s.cache.GetSummaries(ctx, ownerID)
	if err != nil {
		s.log.Warn("[cache] register summaries read failed", logger.Fields{"owner_id": ownerID, "error": err.Error()})
	} else if hit {
		return cached, nil
	}

	s.cacheMu.Lock()
	gen := s.cacheGen[ownerID]
	s.cacheMu.Unlock()

	registers, err := s.repo.ListRegisters(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	summaries := make([]domain.RegisterSummary, 0, len(registers))
	for _, reg := range registers {
		summaries = append(summaries, reg.Summary())
	}

	s.storeSummaries(ctx, ownerID, gen, summaries)
	return summaries, nil
}

// storeSummaries caches a read only if no invalidation ran since gen was
// taken; otherwise the read may predate a committed sale.
func (s *Service) storeSummaries(ctx context.Context, ownerID string, gen uint64, summaries []domain.RegisterSummary) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheGen[ownerID] != gen {
		return
	}
	if err := s.cache.SetSummaries(ctx, ownerID, summaries, s.cacheTTL); err != nil {
		s.log.Warn("[cache] register summaries write failed", logger.Fields{"owner_id": ownerID, "error": err.Error()})
	}
}

// RegisterReport gathers the register with the sales it currently counts,
// grouped by payment method.
func (s *Service) RegisterReport(ctx context.Context, ownerID string, registerID string) (domain.RegisterReport, error) {
	reg, err := s.GetRegister(ctx, ownerID, registerID)
	if err != nil {
		return domain.RegisterReport{}, err
	}

	from, to, err := s.days.RangeForDate(reg.BusinessDate)
	if err != nil {
		return domain.RegisterReport{}, fmt.Errorf("register %s has bad business date: %w", reg.ID, err)
	}
	sales, err := s.repo.ListSales(ctx, ownerID, from, to)
	if err != nil {
		return domain.RegisterReport{}, err
	}

	counted := make(map[string]struct{}, len(reg.SaleIDs))
	for _, id := range reg.SaleIDs {
		counted[id] = struct{}{}
	}

	report := domain.RegisterReport{Register: reg, Sales: make([]domain.Sale, 0, len(reg.SaleIDs))}
	byMethod := map[domain.PaymentMethod]*domain.PaymentBreakdown{}
	for _, sale := range sales {
		if _, ok := counted[sale.ID]; !ok {
			continue
		}
		report.Sales = append(report.Sales, sale)
		row, ok := byMethod[sale.PaymentMethod]
		if !ok {
			row = &domain.PaymentBreakdown{Method: sale.PaymentMethod}
			byMethod[sale.PaymentMethod] = row
		}
		row.Operations++
		row.Total = row.Total.Add(sale.Total)
	}

	report.ByPayment = make([]domain.PaymentBreakdown, 0, len(byMethod))
	for _, row := range byMethod {
		report.ByPayment = append(report.ByPayment, *row)
	}
	slices.SortFunc(report.ByPayment, func(x, y domain.PaymentBreakdown) int {
		return strings.Compare(string(x.Method), string(y.Method))
	})
	return report, nil
}
