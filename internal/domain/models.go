package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin  = "admin"
	RoleVendor = "vendor"
)

const (
	PaymentPix        = "pix"
	PaymentCreditCard = "credit_card"
	PaymentDebitCard  = "debit_card"
	PaymentCash       = "cash"
)

// DefaultCommissionRate is the percentage applied when a product is created without one.
var DefaultCommissionRate = decimal.NewFromInt(10)

const DefaultKioskCapacity = 50

func ValidPaymentMethod(method string) bool {
	switch method {
	case PaymentPix, PaymentCreditCard, PaymentDebitCard, PaymentCash:
		return true
	}
	return false
}

type Product struct {
	ID             string          `json:"id"`
	SKU            string          `json:"sku"`
	Name           string          `json:"name"`
	Category       string          `json:"category"`
	Material       string          `json:"material,omitempty"`
	SellPrice      decimal.Decimal `json:"sell_price"`
	CostPrice      decimal.Decimal `json:"cost_price"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
}

type Kiosk struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	StoreName string    `json:"store_name"`
	VendorID  string    `json:"vendor_id,omitempty"`
	Capacity  int       `json:"capacity"`
	CreatedAt time.Time `json:"created_at"`
}

// InventoryRecord is the stock of one product at one kiosk. Its ID is
// InventoryRecordID(KioskID, ProductID); there is never more than one record
// per pair.
type InventoryRecord struct {
	ID        string    `json:"id"`
	KioskID   string    `json:"kiosk_id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InventoryRecordID derives the record identifier from its composite key.
func InventoryRecordID(kioskID, productID string) string {
	return kioskID + ":" + productID
}

// InventoryItemView is an inventory record joined with its product.
type InventoryItemView struct {
	RecordID       string          `json:"record_id"`
	KioskID        string          `json:"kiosk_id"`
	ProductID      string          `json:"product_id"`
	Quantity       int             `json:"quantity"`
	Name           string          `json:"name"`
	SKU            string          `json:"sku"`
	Category       string          `json:"category"`
	Material       string          `json:"material,omitempty"`
	SellPrice      decimal.Decimal `json:"sell_price"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	Unknown        bool            `json:"unknown,omitempty"`
}

type CartLine struct {
	InventoryRecordID string          `json:"inventory_record_id"`
	ProductID         string          `json:"product_id"`
	Name              string          `json:"name"`
	SKU               string          `json:"sku"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	CommissionRate    decimal.Decimal `json:"commission_rate"`
	Quantity          int             `json:"quantity"`
}

// SaleMetadata is everything about a sale that does not come from the cart.
type SaleMetadata struct {
	KioskID       string          `json:"kiosk_id"`
	CustomerID    string          `json:"customer_id,omitempty"`
	PaymentMethod string          `json:"payment_method"`
	Discount      decimal.Decimal `json:"discount"`
}

type SaleLine struct {
	ProductID         string          `json:"product_id"`
	InventoryRecordID string          `json:"inventory_record_id"`
	SKU               string          `json:"sku"`
	Name              string          `json:"name"`
	Quantity          int             `json:"quantity"`
	UnitPriceAtSale   decimal.Decimal `json:"unit_price_at_sale"`
	CostAtSale        decimal.Decimal `json:"cost_at_sale"`
	CommissionRate    decimal.Decimal `json:"commission_rate"`
	CommissionAmount  decimal.Decimal `json:"commission_amount"`
}

type Sale struct {
	ID              string          `json:"id"`
	VendorID        string          `json:"vendor_id"`
	KioskID         string          `json:"kiosk_id"`
	CustomerID      string          `json:"customer_id,omitempty"`
	PaymentMethod   string          `json:"payment_method"`
	Lines           []SaleLine      `json:"lines"`
	TotalGross      decimal.Decimal `json:"total_gross"`
	Discount        decimal.Decimal `json:"discount"`
	TotalNet        decimal.Decimal `json:"total_net"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	TotalCommission decimal.Decimal `json:"total_commission"`
	CreatedAt       time.Time       `json:"created_at"`
}

type SaleFilter struct {
	KioskID  string
	VendorID string
	From     time.Time
	To       time.Time
	Limit    int
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	WhatsApp  string    `json:"whatsapp,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Name      string
	Active    bool
	CreatedAt time.Time
}

// Session is the authenticated principal on whose behalf an operation runs.
type Session struct {
	PrincipalID string `json:"principal_id"`
	Role        string `json:"role"`
	Name        string `json:"name,omitempty"`
}

func (s Session) IsAdmin() bool { return s.Role == RoleAdmin }

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type SignUpRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type VendorUser struct {
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	SKU            string           `json:"sku"`
	Name           string           `json:"name"`
	Category       string           `json:"category"`
	Material       string           `json:"material"`
	SellPrice      decimal.Decimal  `json:"sell_price"`
	CostPrice      decimal.Decimal  `json:"cost_price"`
	CommissionRate *decimal.Decimal `json:"commission_rate,omitempty"`
}

type ProductUpdateRequest struct {
	Name           *string          `json:"name,omitempty"`
	Category       *string          `json:"category,omitempty"`
	Material       *string          `json:"material,omitempty"`
	SellPrice      *decimal.Decimal `json:"sell_price,omitempty"`
	CostPrice      *decimal.Decimal `json:"cost_price,omitempty"`
	CommissionRate *decimal.Decimal `json:"commission_rate,omitempty"`
	Active         *bool            `json:"active,omitempty"`
}

type KioskCreateRequest struct {
	Code      string `json:"code"`
	StoreName string `json:"store_name"`
	VendorID  string `json:"vendor_id,omitempty"`
	Capacity  int    `json:"capacity,omitempty"`
}

type ReplenishRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CustomerCreateRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	WhatsApp string `json:"whatsapp,omitempty"`
}

// StockOverviewItem is the consolidated stock of one product across kiosks.
type StockOverviewItem struct {
	ProductID string         `json:"product_id"`
	SKU       string         `json:"sku"`
	Name      string         `json:"name"`
	Total     int            `json:"total"`
	ByKiosk   map[string]int `json:"by_kiosk"`
}
