package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Name      string          `json:"name"`
	Category  string          `json:"category,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type ProductCreateRequest struct {
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	Price        decimal.Decimal `json:"price"`
	InitialStock int             `json:"initial_stock"`
}

type ProductUpdateRequest struct {
	Name     *string          `json:"name,omitempty"`
	Category *string          `json:"category,omitempty"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	Active   *bool            `json:"active,omitempty"`
}

type RestockRequest struct {
	Qty int `json:"qty"`
}

type LineKind string

const (
	LineKindCatalog LineKind = "catalog"
	LineKindManual  LineKind = "manual"
)

// LineItem is either a catalog line (ProductID set) or a manual line (Name
// set). Kind is the discriminator. Catalog lines may carry the product name
// as of the sale for receipts; it never drives stock.
type LineItem struct {
	Kind      LineKind        `json:"kind"`
	ProductID string          `json:"product_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

func CatalogLine(productID string, qty int, price decimal.Decimal) LineItem {
	return LineItem{Kind: LineKindCatalog, ProductID: productID, Quantity: qty, Price: price}
}

func ManualLine(name string, qty int, price decimal.Decimal) LineItem {
	return LineItem{Kind: LineKindManual, Name: name, Quantity: qty, Price: price}
}

func (l LineItem) IsCatalog() bool {
	return l.Kind == LineKindCatalog
}

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentDebit    PaymentMethod = "debit"
	PaymentCredit   PaymentMethod = "credit"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentQR       PaymentMethod = "qr"
	PaymentOther    PaymentMethod = "other"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentDebit, PaymentCredit, PaymentTransfer, PaymentQR, PaymentOther:
		return true
	default:
		return false
	}
}

const (
	SaleStatusActive   = "active"
	SaleStatusReverted = "reverted"
)

type Sale struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"owner_id"`
	Items         []LineItem      `json:"items"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Status        string          `json:"status"`
	CreatedBy     string          `json:"created_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	RevertedAt    *time.Time      `json:"reverted_at,omitempty"`
}

// CartLine is the wire shape of a cart entry. A non-empty ProductID makes it
// a catalog line; otherwise Name and Price describe a manual entry.
type CartLine struct {
	ProductID string           `json:"product_id,omitempty"`
	Name      string           `json:"name,omitempty"`
	Quantity  int              `json:"quantity"`
	Price     *decimal.Decimal `json:"price,omitempty"`
}

type SaleCreateRequest struct {
	Lines         []CartLine      `json:"lines"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
}

type SaleRevertResponse struct {
	SaleID          string `json:"sale_id"`
	Reverted        bool   `json:"reverted,omitempty"`
	AlreadyReverted bool   `json:"already_reverted,omitempty"`
}

const (
	RegisterStatusOpen   = "open"
	RegisterStatusClosed = "closed"
)

type ExtraExpense struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

type SupplierPayment struct {
	Method string          `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

// DailyCashRegister aggregates one owner's sales for one local business day.
// (OwnerID, BusinessDayStart) is unique.
type DailyCashRegister struct {
	ID               string            `json:"id"`
	OwnerID          string            `json:"owner_id"`
	BusinessDayStart time.Time         `json:"business_day_start"`
	BusinessDate     string            `json:"business_date"`
	SaleIDs          []string          `json:"sale_ids"`
	TotalSalesAmount decimal.Decimal   `json:"total_sales_amount"`
	TotalOperations  int               `json:"total_operations"`
	Status           string            `json:"status"`
	ExtraExpenses    []ExtraExpense    `json:"extra_expenses,omitempty"`
	SupplierPayments []SupplierPayment `json:"supplier_payments,omitempty"`
	TotalOut         decimal.Decimal   `json:"total_out"`
	FinalExpected    decimal.Decimal   `json:"final_expected"`
	FinalReal        decimal.Decimal   `json:"final_real"`
	Difference       decimal.Decimal   `json:"difference"`
	CreatedAt        time.Time         `json:"created_at"`
	ClosedAt         *time.Time        `json:"closed_at,omitempty"`
}

// RegisterSummary is the list view of a register.
type RegisterSummary struct {
	ID               string          `json:"id"`
	BusinessDate     string          `json:"business_date"`
	BusinessDayStart time.Time       `json:"business_day_start"`
	TotalSalesAmount decimal.Decimal `json:"total_sales_amount"`
	TotalOperations  int             `json:"total_operations"`
	Status           string          `json:"status"`
	Difference       decimal.Decimal `json:"difference"`
	ClosedAt         *time.Time      `json:"closed_at,omitempty"`
}

func (r DailyCashRegister) Summary() RegisterSummary {
	return RegisterSummary{
		ID:               r.ID,
		BusinessDate:     r.BusinessDate,
		BusinessDayStart: r.BusinessDayStart,
		TotalSalesAmount: r.TotalSalesAmount,
		TotalOperations:  r.TotalOperations,
		Status:           r.Status,
		Difference:       r.Difference,
		ClosedAt:         r.ClosedAt,
	}
}

type PaymentBreakdown struct {
	Method     PaymentMethod   `json:"method"`
	Operations int             `json:"operations"`
	Total      decimal.Decimal `json:"total"`
}

// RegisterReport is a register plus the active sales it aggregates.
type RegisterReport struct {
	Register  DailyCashRegister  `json:"register"`
	Sales     []Sale             `json:"sales"`
	ByPayment []PaymentBreakdown `json:"by_payment"`
}

type RegisterCloseRequest struct {
	ExtraExpenses    []ExtraExpense    `json:"extra_expenses"`
	SupplierPayments []SupplierPayment `json:"supplier_payments"`
	FinalReal        *decimal.Decimal  `json:"final_real,omitempty"`
}

// RegisterClosure is the reconciliation snapshot written when a register
// closes.
type RegisterClosure struct {
	ExtraExpenses    []ExtraExpense
	SupplierPayments []SupplierPayment
	TotalOut         decimal.Decimal
	FinalExpected    decimal.Decimal
	FinalReal        decimal.Decimal
	Difference       decimal.Decimal
	ClosedAt         time.Time
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	OwnerID     string `json:"owner_id"`
	ExpiresAt   string `json:"expires_at"`
}

const (
	RoleOwner    = "owner"
	RoleEmployee = "employee"
)

// Actor is the authenticated caller. OwnerID scopes every read and write.
type Actor struct {
	Username string
	Role     string
	OwnerID  string
}

type EmployeeCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type EmployeeUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	OwnerID   string    `json:"owner_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	OwnerID   string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
