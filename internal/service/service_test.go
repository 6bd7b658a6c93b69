package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Jonnhyortega/controlia-software-sub000/internal/businessday"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/domain"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/logger"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/store"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/store/memory"
)

const testOwner = "owner-1"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	svc   *Service
	repo  store.Repository
	clock *testClock
	days  *businessday.Resolver
	ctx   context.Context
}

func newFixture(t *testing.T, repo store.Repository, opts ...Option) *fixture {
	t.Helper()
	days, err := businessday.FromMinutes(-180)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	if repo == nil {
		repo = memory.New()
	}
	clock := &testClock{now: time.Date(2025, 11, 5, 15, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return &fixture{
		svc:   New(repo, days, logger.Discard(), opts...),
		repo:  repo,
		clock: clock,
		days:  days,
		ctx: WithActor(context.Background(), domain.Actor{
			Username: "owner",
			Role:     domain.RoleOwner,
			OwnerID:  testOwner,
		}),
	}
}

func (f *fixture) product(t *testing.T, name string, price int64, stock int) domain.Product {
	t.Helper()
	p, err := f.repo.CreateProduct(context.Background(), domain.Product{
		OwnerID: testOwner,
		Name:    name,
		Price:   decimal.NewFromInt(price),
		Stock:   stock,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	return *p
}

func (f *fixture) stockOf(t *testing.T, productID string) int {
	t.Helper()
	p, err := f.repo.GetProduct(context.Background(), testOwner, productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	return p.Stock
}

func catalog(productID string, qty int) domain.CartLine {
	return domain.CartLine{ProductID: productID, Quantity: qty}
}

func manual(name string, qty int, price int64) domain.CartLine {
	p := decimal.NewFromInt(price)
	return domain.CartLine{Name: name, Quantity: qty, Price: &p}
}

func saleReq(total int64, lines ...domain.CartLine) domain.SaleCreateRequest {
	return domain.SaleCreateRequest{
		Lines:         lines,
		Total:         decimal.NewFromInt(total),
		PaymentMethod: domain.PaymentCash,
	}
}

func TestCreateSaleReservesStockAndUpdatesRegister(t *testing.T) {
	f := newFixture(t, nil)
	yerba := f.product(t, "Yerba", 4500, 10)

	sale, err := f.svc.CreateSale(f.ctx, testOwner, saleReq(9500, catalog(yerba.ID, 2), manual("Bolsa", 1, 500)))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if sale.Status != domain.SaleStatusActive {
		t.Fatalf("expected active sale, got %s", sale.Status)
	}
	if len(sale.Items) != 2 || !sale.Items[0].IsCatalog() || sale.Items[1].IsCatalog() {
		t.Fatalf("unexpected items: %+v", sale.Items)
	}
	if !sale.Items[0].Price.Equal(decimal.NewFromInt(4500)) {
		t.Fatalf("catalog line should take product price, got %s", sale.Items[0].Price)
	}
	if got := f.stockOf(t, yerba.ID); got != 8 {
		t.Fatalf("expected stock 8, got %d", got)
	}

	reg, err := f.svc.GetOrCreateTodayRegister(f.ctx, testOwner)
	if err != nil {
		t.Fatalf("today register: %v", err)
	}
	if !reg.TotalSalesAmount.Equal(decimal.NewFromInt(9500)) || reg.TotalOperations != 1 {
		t.Fatalf("unexpected register totals: %s / %d", reg.TotalSalesAmount, reg.TotalOperations)
	}
	if len(reg.SaleIDs) != 1 || reg.SaleIDs[0] != sale.ID {
		t.Fatalf("expected register to reference sale, got %v", reg.SaleIDs)
	}
	if reg.BusinessDate != "2025-11-05" {
		t.Fatalf("expected business date 2025-11-05, got %s", reg.BusinessDate)
	}
}

func TestCreateSaleKeepsDeclaredTotal(t *testing.T) {
	f := newFixture(t, nil)
	yerba := f.product(t, "Yerba", 4500, 10)

	sale, err := f.svc.CreateSale(f.ctx, testOwner, saleReq(4000, catalog(yerba.ID, 1)))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if !sale.Total.Equal(decimal.NewFromInt(4000)) {
		t.Fatalf("declared total must be kept, got %s", sale.Total)
	}
}

func TestCreateSaleRollsBackEarlierReservations(t *testing.T) {
	f := newFixture(t, nil)
	a := f.product(t, "Azucar", 1200, 5)
	b := f.product(t, "Leche", 1350, 0)

	_, err := f.svc.CreateSale(f.ctx, testOwner, saleReq(3750, catalog(a.ID, 2), catalog(b.ID, 1)))

	var shortage *InsufficientStockError
	if !errors.As(err, &shortage) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected error to match ErrInsufficientStock")
	}
	if shortage.ProductID != b.ID || shortage.Name != "Leche" || shortage.Available != 0 || shortage.Requested != 1 {
		t.Fatalf("unexpected shortage detail: %+v", shortage)
	}
	if got := f.stockOf(t, a.ID); got != 5 {
		t.Fatalf("expected product A stock restored to 5, got %d", got)
	}

	sales, err := f.svc.ListSales(f.ctx, testOwner, "")
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 0 {
		t.Fatalf("expected no sale to be persisted, got %d", len(sales))
	}
}

func TestCreateSaleAggregatesDuplicateLines(t *testing.T) {
	f := newFixture(t, nil)
	p := f.product(t, "Pan", 2100, 3)

	_, err := f.svc.CreateSale(f.ctx, testOwner, saleReq(8400, catalog(p.ID, 2), catalog(p.ID, 2)))
	var shortage *InsufficientStockError
	if !errors.As(err, &shortage) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if shortage.Requested != 4 {
		t.Fatalf("expected aggregated request of 4, got %d", shortage.Requested)
	}
	if got := f.stockOf(t, p.ID); got != 3 {
		t.Fatalf("expected untouched stock 3, got %d", got)
	}
}

func TestCreateSaleValidatesBeforeReserving(t *testing.T) {
	f := newFixture(t, nil)
	p := f.product(t, "Fideos", 980, 10)
	negative := decimal.NewFromInt(-1)

	cases := map[string]domain.SaleCreateRequest{
		"zero quantity":       saleReq(980, catalog(p.ID, 1), catalog(p.ID, 0)),
		"negative price":      saleReq(980, catalog(p.ID, 1), domain.CartLine{Name: "x", Quantity: 1, Price: &negative}),
		"manual without name": saleReq(980, catalog(p.ID, 1), manual(" ", 1, 10)),
		"no lines":            saleReq(0),
		"negative total":      saleReq(-5, catalog(p.ID, 1)),
		"unknown method": {
			Lines:         []domain.CartLine{catalog(p.ID, 1)},
			Total:         decimal.NewFromInt(980),
			PaymentMethod: "barter",
		},
	}
	for name, req := range cases {
		_, err := f.svc.CreateSale(f.ctx, testOwner, req)
		if !errors.Is(err, store.ErrInvalidTransaction) {
			t.Fatalf("%s: expected invalid transaction, got %v", name, err)
		}
	}
	if got := f.stockOf(t, p.ID); got != 10 {
		t.Fatalf("expected stock 10 after rejected carts, got %d", got)
	}
}

func TestCreateSaleUnknownProductIsNotFound(t *testing.T) {
	f := newFixture(t, nil)
	p := f.product(t, "Gaseosa", 2800, 4)

	_, err := f.svc.CreateSale(f.ctx, testOwner, saleReq(2800, catalog(p.ID, 1), catalog("prod-missing", 1)))
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if got := f.stockOf(t, p.ID); got != 4 {
		t.Fatalf("expected stock 4, got %d", got)
	}

	other := newFixture(t, f.repo)
	_, err = other.svc.CreateSale(other.ctx, "owner-2", saleReq(2800, catalog(p.ID, 1)))
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("foreign product must look missing, got %v", err)
	}
}

type failingSaleRepo struct {
	store.Repository
}

func (failingSaleRepo) CreateSale(context.Context, domain.Sale) (*domain.Sale, error) {
	return nil, errors.New("disk full")
}

func TestCreateSaleReleasesStockWhenPersistFails(t *testing.T) {
	repo := failingSaleRepo{Repository: memory.New()}
	f := newFixture(t, repo)
	a := f.product(t, "Detergente", 1900, 6)
	b := f.product(t, "Galletitas", 1650, 6)

	_, err := f.svc.CreateSale(f.ctx, testOwner, saleReq(5450, catalog(a.ID, 2), catalog(b.ID, 1)))
	if err == nil {
		t.Fatalf("expected persist failure")
	}
	if got := f.stockOf(t, a.ID); got != 6 {
		t.Fatalf("expected stock of A restored to 6, got %d", got)
	}
	if got := f.stockOf(t, b.ID); got != 6 {
		t.Fatalf("expected stock of B restored to 6, got %d", got)
	}
}

func TestCreateSaleIntoClosedRegisterIsRejectedAndCompensated(t *testing.T) {
	f := newFixture(t, nil)
	p := f.product(t, "Yerba", 4500, 5)

	today, err := f.svc.GetOrCreateTodayRegister(f.ctx, testOwner)
	if err != nil {
		t.Fatalf("today register: %v", err)
	}
	if _, err := f.svc.CloseRegister(f.ctx, testOwner, today.ID, domain.RegisterCloseRequest{}); err != nil {
		t.Fatalf("close register: %v", err)
	}

	_, err = f.svc.CreateSale(f.ctx, testOwner, saleReq(4500, catalog(p.ID, 1)))
	if !errors.Is(err, store.ErrRegisterClosed) {
		t.Fatalf("expected register closed, got %v", err)
	}
	if got := f.stockOf(t, p.ID); got != 5 {
		t.Fatalf("expected stock restored to 5, got %d", got)
	}

	sales, err := f.svc.ListSales(f.ctx, testOwner, "")
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	for _, sale := range sales {
		if sale.Status != domain.SaleStatusReverted {
			t.Fatalf("compensated sale should be reverted, got %s", sale.Status)
		}
	}

	reg, err := f.svc.GetRegister(f.ctx, testOwner, today.ID)
	if err != nil {
		t.Fatalf("get register: %v", err)
	}
	if !reg.TotalSalesAmount.IsZero() || reg.TotalOperations != 0 {
		t.Fatalf("closed register must not absorb the sale: %s / %d", reg.TotalSalesAmount, reg.TotalOperations)
	}
}

// cancellingRepo cancels the caller's context at a chosen step and makes
// every later write fail fast on a done context, like a real driver would.
type cancellingRepo struct {
	store.Repository
	cancel context.CancelFunc

	failReserveOf   string
	failCreate      bool
	failIncrement   bool
	cancelAfterFlip bool
}

func (r *cancellingRepo) ReserveStock(ctx context.Context, ownerID string, productID string, qty int) error {
	if productID == r.failReserveOf {
		r.cancel()
		return ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.Repository.ReserveStock(ctx, ownerID, productID, qty)
}

func (r *cancellingRepo) ReleaseStock(ctx context.Context, ownerID string, productID string, qty int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.Repository.ReleaseStock(ctx, ownerID, productID, qty)
}

func (r *cancellingRepo) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if r.failCreate {
		r.cancel()
		return nil, ctx.Err()
	}
	return r.Repository.CreateSale(ctx, sale)
}

func (r *cancellingRepo) IncrementRegister(ctx context.Context, delta store.RegisterDelta) (*domain.DailyCashRegister, error) {
	if r.failIncrement {
		r.cancel()
		return nil, ctx.Err()
	}
	return r.Repository.IncrementRegister(ctx, delta)
}

func (r *cancellingRepo) DecrementRegister(ctx context.Context, delta store.RegisterDelta) (*domain.DailyCashRegister, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.Repository.DecrementRegister(ctx, delta)
}

func (r *cancellingRepo) MarkSaleReverted(ctx context.Context, ownerID string, id string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	flipped, err := r.Repository.MarkSaleReverted(ctx, ownerID, id, at)
	if r.cancelAfterFlip {
		r.cancel()
	}
	return flipped, err
}

func TestCreateSaleRollbackSurvivesCancelledRequest(t *testing.T) {
	repo := &cancellingRepo{Repository: memory.New()}
	f := newFixture(t, repo)
	a := f.product(t, "Detergente", 1900, 10)
	b := f.product(t, "Galletitas", 1650, 10)
	ctx, cancel := context.WithCancel(f.ctx)
	defer cancel()
	repo.cancel = cancel
	repo.failReserveOf = b.ID

	if _, err := f.svc.CreateSale(ctx, testOwner, saleReq(5450, catalog(a.ID, 3), catalog(b.ID, 1))); err == nil {
		t.Fatalf("expected reservation failure")
	}
	if got := f.stockOf(t, a.ID); got != 10 {
		t.Fatalf("expected stock of A restored to 10, got %d", got)
	}
}

func TestCreateSalePersistFailureOnCancelledRequestRestoresStock(t *testing.T) {
	repo := &cancellingRepo{Repository: memory.New(), failCreate: true}
	f := newFixture(t, repo)
	p := f.product(t, "Yerba", 4500, 10)
	ctx, cancel := context.WithCancel(f.ctx)
	defer cancel()
	repo.cancel = cancel

	if _, err := f.svc.CreateSale(ctx, testOwner, saleReq(13500, catalog(p.ID, 3))); err == nil {
		t.Fatalf("expected persist failure")
	}
	if got := f.stockOf(t, p.ID); got != 10 {
		t.Fatalf("expected stock restored to 10, got %d", got)
	}
}

func TestCreateSaleCompensationSurvivesCancelledRequest(t *testing.T) {
	repo := &cancellingRepo{Repository: memory.New(), failIncrement: true}
	f := newFixture(t, repo)
	p := f.product(t, "Yerba", 4500, 10)
	ctx, cancel := context.WithCancel(f.ctx)
	defer cancel()
	repo.cancel = cancel

	if _, err := f.svc.CreateSale(ctx, testOwner, saleReq(13500, catalog(p.ID, 3))); err == nil {
		t.Fatalf("expected register update failure")
	}
	if got := f.stockOf(t, p.ID); got != 10 {
		t.Fatalf("expected stock restored to 10, got %d", got)
	}

	sales, err := f.svc.ListSales(f.ctx, testOwner, "")
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 1 || sales[0].Status != domain.SaleStatusReverted {
		t.Fatalf("expected the orphan sale to be reverted, got %+v", sales)
	}
}

func TestRevertSaleFinishesAfterRequestIsCancelled(t *testing.T) {
	repo := &cancellingRepo{Repository: memory.New()}
	f := newFixture(t, repo)
	p := f.product(t, "Yerba", 4500, 7)

	sale, err := f.svc.CreateSale(f.ctx, testOwner, saleReq(9000, catalog(p.ID, 2)))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	ctx, cancel := context.WithCancel(f.ctx)
	defer cancel()
	repo.cancel = cancel
	repo.cancelAfterFlip = true

	res, err := f.svc.RevertSale(ctx, testOwner, sale.ID)
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if res.AlreadyReverted {
		t.Fatalf("first revert must not report already reverted")
	}
	if got := f.stockOf(t, p.ID); got != 7 {
		t.Fatalf("expected stock restored to 7, got %d", got)
	}

	reg, err := f.svc.GetRegisterByDate(f.ctx, testOwner, "2025-11-05")
	if err != nil {
		t.Fatalf("get register: %v", err)
	}
	if reg.TotalOperations != 0 || !reg.TotalSalesAmount.IsZero() {
		t.Fatalf("expected register emptied, got %d / %s", reg.TotalOperations, reg.TotalSalesAmount)
	}
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	f := newFixture(t, nil)
	p := f.product(t, "Azucar", 1200, 7)

	var wg sync.WaitGroup
	var sold atomic.Int32
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateSale(f.ctx, testOwner, saleReq(1200, catalog(p.ID, 1)))
			if err == nil {
				sold.Add(1)
				return
			}
			if !errors.Is(err, store.ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if sold.Load() != 7 {
		t.Fatalf("expected exactly 7 sales, got %d", sold.Load())
	}
	if got := f.stockOf(t, p.ID); got != 0 {
		t.Fatalf("expected stock 0, got %d", got)
	}
	reg, err := f.svc.GetOrCreateTodayRegister(f.ctx, testOwner)
	if err != nil {
		t.Fatalf("today register: %v", err)
	}
	if reg.TotalOperations != 7 || !reg.TotalSalesAmount.Equal(decimal.NewFromInt(8400)) {
		t.Fatalf("unexpected register totals: %s / %d", reg.TotalSalesAmount, reg.TotalOperations)
	}
}

func TestRevertSaleIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	p := f.product(t, "Leche", 1350, 10)

	sale, err := f.svc.CreateSale(f.ctx, testOwner, saleReq(4050, catalog(p.ID, 3)))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	first, err := f.svc.RevertSale(f.ctx, testOwner, sale.ID)
	if err != nil {
		t.Fatalf("first revert: %v", err)
	}
	if !first.Reverted || first.AlreadyReverted {
		t.Fatalf("unexpected first revert response: %+v", first)
	}
	if got := f.stockOf(t, p.ID); got != 10 {
		t.Fatalf("expected stock back to 10, got %d", got)
	}

	second, err := f.svc.RevertSale(f.ctx, testOwner, sale.ID)
	if err != nil {
		t.Fatalf("second revert: %v", err)
	}
	if !second.AlreadyReverted || second.Reverted {
		t.Fatalf("expected already_reverted, got %+v", second)
	}
	if got := f.stockOf(t, p.ID); got != 10 {
		t.Fatalf("second revert must not touch stock, got %d", got)
	}

	reg, err := f.svc.GetOrCreateTodayRegister(f.ctx, testOwner)
	if err != nil {
		t.Fatalf("today register: %v", err)
	}
	if !reg.TotalSalesAmount.IsZero() || reg.TotalOperations != 0 || len(reg.SaleIDs) != 0 {
		t.Fatalf("expected empty register after revert, got %s / %d / %v", reg.TotalSalesAmount, reg.TotalOperations, reg.SaleIDs)
	}
}

func TestConcurrentRevertsReleaseStockOnce(t *testing.T) {
	f := newFixture(t, nil)
	p := f.product(t, "Pan", 2100, 5)

	sale, err := f.svc.CreateSale(f.ctx, testOwner, saleReq(4200, catalog(p.ID, 2)))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	var wg sync.WaitGroup
	var reverted atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.svc.RevertSale(f.ctx, testOwner, sale.ID)
			if err != nil {
				t.Errorf("revert: %v", err)
				return
			}
			if resp.Reverted {
				reverted.Add(1)
			}
		}()
	}
	wg.Wait()

	if reverted.Load() != 1 {
		t.Fatalf("expected exactly one effective revert, got %d", reverted.Load())
	}
	if got := f.stockOf(t, p.ID); got != 5 {
		t.Fatalf("expected stock 5, got %d", got)
	}
}

func TestRevertSaleOfAnotherOwnerIsNotFound(t *testing.T) {
	f := newFixture(t, nil)
	p := f.product(t, "Yerba", 4500, 10)
	sale, err := f.svc.CreateSale(f.ctx, testOwner, saleReq(4500, catalog(p.ID, 1)))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	_, err = f.svc.RevertSale(f.ctx, "owner-2", sale.ID)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if got := f.stockOf(t, p.ID); got != 9 {
		t.Fatalf("foreign revert must not touch stock, got %d", got)
	}
}

func TestRevertUsesTheSalesOwnBusinessDay(t *testing.T) {
	f := newFixture(t, nil)
	p := f.product(t, "Gaseosa", 2800, 10)

	sale, err := f.svc.CreateSale(f.ctx, testOwner, saleReq(2800, catalog(p.ID, 1)))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if _, err := f.svc.CreateSale(f.ctx, testOwner, saleReq(5600, catalog(p.ID, 2))); err != nil {
		t.Fatalf("create second sale: %v", err)
	}

	f.clock.Set(f.clock.Now().Add(24 * time.Hour))
	if _, err := f.svc.RevertSale(f.ctx, testOwner, sale.ID); err != nil {
		t.Fatalf("revert: %v", err)
	}

	dayD, err := f.svc.GetRegisterByDate(f.ctx, testOwner, "2025-11-05")
	if err != nil {
		t.Fatalf("register D: %v", err)
	}
	if !dayD.TotalSalesAmount.Equal(decimal.NewFromInt(5600)) || dayD.TotalOperations != 1 {
		t.Fatalf("expected day D to lose the reverted sale, got %s / %d", dayD.TotalSalesAmount, dayD.TotalOperations)
	}

	_, err = f.svc.GetRegisterByDate(f.ctx, testOwner, "2025-11-06")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("revert must not create day D+1 register, got %v", err)
	}
}

func TestRevertToleratesMissingRegister(t *testing.T) {
	f := newFixture(t, nil)
	p := f.product(t, "Fideos", 980, 4)

	if err := f.repo.ReserveStock(context.Background(), testOwner, p.ID, 1); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	orphan, err := f.repo.CreateSale(context.Background(), domain.Sale{
		OwnerID:       testOwner,
		Items:         []domain.LineItem{domain.CatalogLine(p.ID, 1, decimal.NewFromInt(980))},
		Total:         decimal.NewFromInt(980),
		PaymentMethod: domain.PaymentDebit,
		CreatedAt:     f.clock.Now().Add(-72 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create orphan sale: %v", err)
	}

	resp, err := f.svc.RevertSale(f.ctx, testOwner, orphan.ID)
	if err != nil {
		t.Fatalf("revert must tolerate a missing register: %v", err)
	}
	if !resp.Reverted {
		t.Fatalf("expected reverted, got %+v", resp)
	}
	if got := f.stockOf(t, p.ID); got != 4 {
		t.Fatalf("expected stock 4, got %d", got)
	}
}

func TestRevertAgainstClosedRegisterKeepsSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	p := f.product(t, "Yerba", 4500, 10)

	sale, err := f.svc.CreateSale(f.ctx, testOwner, saleReq(4500, catalog(p.ID, 1)))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	closed, err := f.svc.CloseRegisterByDate(f.ctx, testOwner, "2025-11-05", domain.RegisterCloseRequest{})
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	resp, err := f.svc.RevertSale(f.ctx, testOwner, sale.ID)
	if err != nil || !resp.Reverted {
		t.Fatalf("expected revert to succeed, got %+v / %v", resp, err)
	}
	if got := f.stockOf(t, p.ID); got != 10 {
		t.Fatalf("expected stock 10, got %d", got)
	}

	after, err := f.svc.GetRegister(f.ctx, testOwner, closed.ID)
	if err != nil {
		t.Fatalf("get register: %v", err)
	}
	if !after.TotalSalesAmount.Equal(closed.TotalSalesAmount) || !after.FinalExpected.Equal(closed.FinalExpected) {
		t.Fatalf("closed snapshot changed: %+v", after)
	}
}

func TestSalesAcrossLocalMidnightLandInDifferentRegisters(t *testing.T) {
	f := newFixture(t, nil)
	local := f.days.Location()

	f.clock.Set(time.Date(2025, 11, 5, 23, 59, 59, 0, local))
	if _, err := f.svc.CreateSale(f.ctx, testOwner, saleReq(100, manual("Late", 1, 100))); err != nil {
		t.Fatalf("late sale: %v", err)
	}
	f.clock.Set(time.Date(2025, 11, 6, 0, 0, 1, 0, local))
	if _, err := f.svc.CreateSale(f.ctx, testOwner, saleReq(200, manual("Early", 1, 200))); err != nil {
		t.Fatalf("early sale: %v", err)
	}

	summaries, err := f.svc.ListRegisters(f.ctx, testOwner)
	if err != nil {
		t.Fatalf("list registers: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected two registers, got %d", len(summaries))
	}
	if summaries[0].BusinessDate != "2025-11-06" || summaries[1].BusinessDate != "2025-11-05" {
		t.Fatalf("unexpected order: %s, %s", summaries[0].BusinessDate, summaries[1].BusinessDate)
	}
}

func TestReconcileComputation(t *testing.T) {
	reg := domain.DailyCashRegister{TotalSalesAmount: decimal.NewFromInt(10000)}
	closedAt := time.Date(2025, 11, 5, 23, 0, 0, 0, time.UTC)

	closure, err := Reconcile(reg, domain.RegisterCloseRequest{
		ExtraExpenses:    []domain.ExtraExpense{{Description: "limpieza", Amount: decimal.NewFromInt(500)}},
		SupplierPayments: []domain.SupplierPayment{{Method: "cash", Amount: decimal.NewFromInt(1000)}},
	}, closedAt)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	checks := map[string]struct{ got, want decimal.Decimal }{
		"total_out":      {closure.TotalOut, decimal.NewFromInt(1500)},
		"final_expected": {closure.FinalExpected, decimal.NewFromInt(8500)},
		"final_real":     {closure.FinalReal, decimal.NewFromInt(8500)},
		"difference":     {closure.Difference, decimal.Zero},
	}
	for name, c := range checks {
		if !c.got.Equal(c.want) {
			t.Fatalf("%s: expected %s, got %s", name, c.want, c.got)
		}
	}

	counted := decimal.NewFromInt(8200)
	closure, err = Reconcile(reg, domain.RegisterCloseRequest{
		ExtraExpenses:    []domain.ExtraExpense{{Amount: decimal.NewFromInt(500)}},
		SupplierPayments: []domain.SupplierPayment{{Amount: decimal.NewFromInt(1000)}},
		FinalReal:        &counted,
	}, closedAt)
	if err != nil {
		t.Fatalf("reconcile with counted cash: %v", err)
	}
	if !closure.Difference.Equal(decimal.NewFromInt(-300)) {
		t.Fatalf("expected difference -300, got %s", closure.Difference)
	}

	_, err = Reconcile(reg, domain.RegisterCloseRequest{
		ExtraExpenses: []domain.ExtraExpense{{Amount: decimal.NewFromInt(-1)}},
	}, closedAt)
	if !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected negative expense to be rejected, got %v", err)
	}
}

func TestCloseRegisterTwiceIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.svc.CreateSale(f.ctx, testOwner, saleReq(10000, manual("Servicio", 1, 10000))); err != nil {
		t.Fatalf("create sale: %v", err)
	}

	counted := decimal.NewFromInt(9000)
	first, err := f.svc.CloseRegisterByDate(f.ctx, testOwner, "2025-11-05", domain.RegisterCloseRequest{
		ExtraExpenses: []domain.ExtraExpense{{Description: "hielo", Amount: decimal.NewFromInt(500)}},
		FinalReal:     &counted,
	})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if first.Status != domain.RegisterStatusClosed || first.ClosedAt == nil {
		t.Fatalf("expected closed register, got %+v", first)
	}
	if !first.FinalExpected.Equal(decimal.NewFromInt(9500)) || !first.Difference.Equal(decimal.NewFromInt(-500)) {
		t.Fatalf("unexpected reconciliation: expected=%s difference=%s", first.FinalExpected, first.Difference)
	}

	f.clock.Set(time.Date(2025, 11, 5, 20, 0, 0, 0, time.UTC))
	otherCount := decimal.NewFromInt(1)
	_, err = f.svc.CloseRegister(f.ctx, testOwner, first.ID, domain.RegisterCloseRequest{
		ExtraExpenses: []domain.ExtraExpense{{Description: "otra", Amount: decimal.NewFromInt(2000)}},
		FinalReal:     &otherCount,
	})
	if !errors.Is(err, store.ErrAlreadyClosed) {
		t.Fatalf("expected already closed, got %v", err)
	}

	again, err := f.svc.GetRegister(f.ctx, testOwner, first.ID)
	if err != nil {
		t.Fatalf("get register: %v", err)
	}
	if !again.FinalReal.Equal(counted) || !again.Difference.Equal(first.Difference) {
		t.Fatalf("second close must not overwrite the snapshot")
	}
	if again.ClosedAt == nil || !again.ClosedAt.Equal(*first.ClosedAt) {
		t.Fatalf("expected closed_at to stay %v, got %v", first.ClosedAt, again.ClosedAt)
	}
	if !again.TotalSalesAmount.Equal(first.TotalSalesAmount) || !again.TotalOut.Equal(first.TotalOut) || !again.FinalExpected.Equal(first.FinalExpected) {
		t.Fatalf("second close changed totals: sales=%s out=%s expected=%s", again.TotalSalesAmount, again.TotalOut, again.FinalExpected)
	}
	if len(again.ExtraExpenses) != 1 {
		t.Fatalf("expected the first close's expenses only, got %+v", again.ExtraExpenses)
	}
}

func TestCloseRegisterOfAnotherOwnerIsNotFound(t *testing.T) {
	f := newFixture(t, nil)
	reg, err := f.svc.GetOrCreateTodayRegister(f.ctx, testOwner)
	if err != nil {
		t.Fatalf("today register: %v", err)
	}
	_, err = f.svc.CloseRegister(f.ctx, "owner-2", reg.ID, domain.RegisterCloseRequest{})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetOrCreateTodayRegisterIsStable(t *testing.T) {
	f := newFixture(t, nil)
	first, err := f.svc.GetOrCreateTodayRegister(f.ctx, testOwner)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := f.svc.GetOrCreateTodayRegister(f.ctx, testOwner)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same register, got %s and %s", first.ID, second.ID)
	}
	if first.Status != domain.RegisterStatusOpen || !first.TotalSalesAmount.IsZero() {
		t.Fatalf("expected empty open register, got %+v", first)
	}
}

type countingCache struct {
	mu          sync.Mutex
	entries     map[string][]domain.RegisterSummary
	hits        int
	invalidated int
}

func (c *countingCache) GetSummaries(_ context.Context, ownerID string) ([]domain.RegisterSummary, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[ownerID]
	if ok {
		c.hits++
	}
	return v, ok, nil
}

func (c *countingCache) SetSummaries(_ context.Context, ownerID string, summaries []domain.RegisterSummary, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ownerID] = summaries
	return nil
}

func (c *countingCache) Invalidate(_ context.Context, ownerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, ownerID)
	c.invalidated++
	return nil
}

func TestListRegistersUsesCacheAndInvalidatesOnSale(t *testing.T) {
	c := &countingCache{entries: map[string][]domain.RegisterSummary{}}
	f := newFixture(t, nil, WithRegisterCache(c, time.Minute))

	if _, err := f.svc.CreateSale(f.ctx, testOwner, saleReq(100, manual("a", 1, 100))); err != nil {
		t.Fatalf("create sale: %v", err)
	}
	first, err := f.svc.ListRegisters(f.ctx, testOwner)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := f.svc.ListRegisters(f.ctx, testOwner); err != nil {
		t.Fatalf("list again: %v", err)
	}
	if c.hits != 1 {
		t.Fatalf("expected one cache hit, got %d", c.hits)
	}

	if _, err := f.svc.CreateSale(f.ctx, testOwner, saleReq(50, manual("b", 1, 50))); err != nil {
		t.Fatalf("create second sale: %v", err)
	}
	fresh, err := f.svc.ListRegisters(f.ctx, testOwner)
	if err != nil {
		t.Fatalf("list after sale: %v", err)
	}
	if first[0].TotalOperations != 1 || fresh[0].TotalOperations != 2 {
		t.Fatalf("expected cache to be refreshed after a sale, got %d then %d", first[0].TotalOperations, fresh[0].TotalOperations)
	}
}

// listHookRepo runs afterList once, right after a register listing has been
// read and before the service gets to cache it.
type listHookRepo struct {
	store.Repository
	afterList func()
}

func (r *listHookRepo) ListRegisters(ctx context.Context, ownerID string) ([]domain.DailyCashRegister, error) {
	registers, err := r.Repository.ListRegisters(ctx, ownerID)
	if hook := r.afterList; hook != nil {
		r.afterList = nil
		hook()
	}
	return registers, err
}

func TestListRegistersDoesNotCacheReadOlderThanInvalidation(t *testing.T) {
	c := &countingCache{entries: map[string][]domain.RegisterSummary{}}
	repo := &listHookRepo{Repository: memory.New()}
	f := newFixture(t, repo, WithRegisterCache(c, time.Minute))

	if _, err := f.svc.CreateSale(f.ctx, testOwner, saleReq(100, manual("a", 1, 100))); err != nil {
		t.Fatalf("create sale: %v", err)
	}
	repo.afterList = func() {
		if _, err := f.svc.CreateSale(f.ctx, testOwner, saleReq(50, manual("b", 1, 50))); err != nil {
			t.Errorf("create sale during listing: %v", err)
		}
	}

	stale, err := f.svc.ListRegisters(f.ctx, testOwner)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if stale[0].TotalOperations != 1 {
		t.Fatalf("expected the in-flight read to see one sale, got %d", stale[0].TotalOperations)
	}

	fresh, err := f.svc.ListRegisters(f.ctx, testOwner)
	if err != nil {
		t.Fatalf("list again: %v", err)
	}
	if fresh[0].TotalOperations != 2 {
		t.Fatalf("expected the stale read to stay out of the cache, got %d operations", fresh[0].TotalOperations)
	}
}

func TestProductWritesRequireOwner(t *testing.T) {
	f := newFixture(t, nil)
	employee := WithActor(context.Background(), domain.Actor{Username: "cajero", Role: domain.RoleEmployee, OwnerID: testOwner})

	_, err := f.svc.CreateProduct(employee, testOwner, domain.ProductCreateRequest{Name: "X", Price: decimal.NewFromInt(1)})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	created, err := f.svc.CreateProduct(f.ctx, testOwner, domain.ProductCreateRequest{
		Name:         "Mate Cocido",
		Category:     "almacen",
		Price:        decimal.RequireFromString("1500.50"),
		InitialStock: 3,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	restocked, err := f.svc.RestockProduct(f.ctx, testOwner, created.ID, domain.RestockRequest{Qty: 7})
	if err != nil {
		t.Fatalf("restock: %v", err)
	}
	if restocked.Stock != 10 {
		t.Fatalf("expected stock 10, got %d", restocked.Stock)
	}

	price := decimal.NewFromInt(1600)
	updated, err := f.svc.UpdateProduct(f.ctx, testOwner, created.ID, domain.ProductUpdateRequest{Price: &price})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.Price.Equal(price) || updated.Stock != 10 {
		t.Fatalf("unexpected product after update: %+v", updated)
	}

	logs, err := f.svc.ListAuditLogs(f.ctx, testOwner, "", 10)
	if err != nil {
		t.Fatalf("audit logs: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("expected 3 audit entries, got %d", len(logs))
	}
}

func TestRegisterReportGroupsCountedSales(t *testing.T) {
	f := newFixture(t, nil)
	yerba := f.product(t, "Yerba", 4500, 10)

	first, err := f.svc.CreateSale(f.ctx, testOwner, saleReq(4500, catalog(yerba.ID, 1)))
	if err != nil {
		t.Fatalf("first sale: %v", err)
	}
	if _, err := f.svc.CreateSale(f.ctx, testOwner, saleReq(9000, catalog(yerba.ID, 2))); err != nil {
		t.Fatalf("second sale: %v", err)
	}
	debit := saleReq(300, manual("Bolsa", 1, 300))
	debit.PaymentMethod = domain.PaymentDebit
	if _, err := f.svc.CreateSale(f.ctx, testOwner, debit); err != nil {
		t.Fatalf("debit sale: %v", err)
	}
	if _, err := f.svc.RevertSale(f.ctx, testOwner, first.ID); err != nil {
		t.Fatalf("revert: %v", err)
	}

	reg, err := f.svc.GetOrCreateTodayRegister(f.ctx, testOwner)
	if err != nil {
		t.Fatalf("today register: %v", err)
	}
	report, err := f.svc.RegisterReport(f.ctx, testOwner, reg.ID)
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	if len(report.Sales) != 2 {
		t.Fatalf("expected the reverted sale to be left out, got %d sales", len(report.Sales))
	}
	if len(report.ByPayment) != 2 {
		t.Fatalf("expected two payment rows, got %+v", report.ByPayment)
	}
	cash, card := report.ByPayment[0], report.ByPayment[1]
	if cash.Method != domain.PaymentCash || cash.Operations != 1 || !cash.Total.Equal(decimal.NewFromInt(9000)) {
		t.Fatalf("unexpected cash row %+v", cash)
	}
	if card.Method != domain.PaymentDebit || card.Operations != 1 || !card.Total.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("unexpected debit row %+v", card)
	}
	if _, err := f.svc.RegisterReport(f.ctx, "owner-2", reg.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for another owner, got %v", err)
	}
}
