package mongodb

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"kioskpos/backend/internal/domain"
)

type productDoc struct {
	ID             string               `bson:"_id"`
	SKU            string               `bson:"sku"`
	Name           string               `bson:"name"`
	Category       string               `bson:"category"`
	Material       string               `bson:"material"`
	SellPrice      primitive.Decimal128 `bson:"sell_price"`
	CostPrice      primitive.Decimal128 `bson:"cost_price"`
	CommissionRate primitive.Decimal128 `bson:"commission_rate"`
	Active         bool                 `bson:"active"`
	CreatedAt      time.Time            `bson:"created_at"`
}

func toProductDoc(p domain.Product) productDoc {
	return productDoc{
		ID:             p.ID,
		SKU:            p.SKU,
		Name:           p.Name,
		Category:       p.Category,
		Material:       p.Material,
		SellPrice:      toDecimal128(p.SellPrice),
		CostPrice:      toDecimal128(p.CostPrice),
		CommissionRate: toDecimal128(p.CommissionRate),
		Active:         p.Active,
		CreatedAt:      p.CreatedAt,
	}
}

func (d productDoc) domain() domain.Product {
	return domain.Product{
		ID:             d.ID,
		SKU:            d.SKU,
		Name:           d.Name,
		Category:       d.Category,
		Material:       d.Material,
		SellPrice:      fromDecimal128(d.SellPrice),
		CostPrice:      fromDecimal128(d.CostPrice),
		CommissionRate: fromDecimal128(d.CommissionRate),
		Active:         d.Active,
		CreatedAt:      d.CreatedAt.UTC(),
	}
}

type kioskDoc struct {
	ID        string    `bson:"_id"`
	Code      string    `bson:"code"`
	StoreName string    `bson:"store_name"`
	VendorID  string    `bson:"vendor_id"`
	Capacity  int       `bson:"capacity"`
	CreatedAt time.Time `bson:"created_at"`
}

func (d kioskDoc) domain() domain.Kiosk {
	return domain.Kiosk{
		ID:        d.ID,
		Code:      d.Code,
		StoreName: d.StoreName,
		VendorID:  d.VendorID,
		Capacity:  d.Capacity,
		CreatedAt: d.CreatedAt.UTC(),
	}
}

type inventoryDoc struct {
	ID        string    `bson:"_id"`
	KioskID   string    `bson:"kiosk_id"`
	ProductID string    `bson:"product_id"`
	Quantity  int       `bson:"quantity"`
	Version   int64     `bson:"version"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (d inventoryDoc) domain() domain.InventoryRecord {
	return domain.InventoryRecord{
		ID:        d.ID,
		KioskID:   d.KioskID,
		ProductID: d.ProductID,
		Quantity:  d.Quantity,
		Version:   d.Version,
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

type saleLineDoc struct {
	ProductID         string               `bson:"product_id"`
	InventoryRecordID string               `bson:"inventory_record_id"`
	SKU               string               `bson:"sku"`
	Name              string               `bson:"name"`
	Quantity          int                  `bson:"quantity"`
	UnitPriceAtSale   primitive.Decimal128 `bson:"unit_price_at_sale"`
	CostAtSale        primitive.Decimal128 `bson:"cost_at_sale"`
	CommissionRate    primitive.Decimal128 `bson:"commission_rate"`
	CommissionAmount  primitive.Decimal128 `bson:"commission_amount"`
}

type saleDoc struct {
	ID              string               `bson:"_id"`
	VendorID        string               `bson:"vendor_id"`
	KioskID         string               `bson:"kiosk_id"`
	CustomerID      string               `bson:"customer_id"`
	PaymentMethod   string               `bson:"payment_method"`
	Lines           []saleLineDoc        `bson:"lines"`
	TotalGross      primitive.Decimal128 `bson:"total_gross"`
	Discount        primitive.Decimal128 `bson:"discount"`
	TotalNet        primitive.Decimal128 `bson:"total_net"`
	TotalCost       primitive.Decimal128 `bson:"total_cost"`
	TotalCommission primitive.Decimal128 `bson:"total_commission"`
	CreatedAt       time.Time            `bson:"created_at"`
}

// saleInsertFields is the sale body without _id and created_at; the filter
// supplies the former and $currentDate the latter.
func saleInsertFields(s domain.Sale) bson.D {
	lines := make([]saleLineDoc, len(s.Lines))
	for i, l := range s.Lines {
		lines[i] = saleLineDoc{
			ProductID:         l.ProductID,
			InventoryRecordID: l.InventoryRecordID,
			SKU:               l.SKU,
			Name:              l.Name,
			Quantity:          l.Quantity,
			UnitPriceAtSale:   toDecimal128(l.UnitPriceAtSale),
			CostAtSale:        toDecimal128(l.CostAtSale),
			CommissionRate:    toDecimal128(l.CommissionRate),
			CommissionAmount:  toDecimal128(l.CommissionAmount),
		}
	}
	return bson.D{
		{Key: "vendor_id", Value: s.VendorID},
		{Key: "kiosk_id", Value: s.KioskID},
		{Key: "customer_id", Value: s.CustomerID},
		{Key: "payment_method", Value: s.PaymentMethod},
		{Key: "lines", Value: lines},
		{Key: "total_gross", Value: toDecimal128(s.TotalGross)},
		{Key: "discount", Value: toDecimal128(s.Discount)},
		{Key: "total_net", Value: toDecimal128(s.TotalNet)},
		{Key: "total_cost", Value: toDecimal128(s.TotalCost)},
		{Key: "total_commission", Value: toDecimal128(s.TotalCommission)},
	}
}

func (d saleDoc) domain() domain.Sale {
	lines := make([]domain.SaleLine, len(d.Lines))
	for i, l := range d.Lines {
		lines[i] = domain.SaleLine{
			ProductID:         l.ProductID,
			InventoryRecordID: l.InventoryRecordID,
			SKU:               l.SKU,
			Name:              l.Name,
			Quantity:          l.Quantity,
			UnitPriceAtSale:   fromDecimal128(l.UnitPriceAtSale),
			CostAtSale:        fromDecimal128(l.CostAtSale),
			CommissionRate:    fromDecimal128(l.CommissionRate),
			CommissionAmount:  fromDecimal128(l.CommissionAmount),
		}
	}
	return domain.Sale{
		ID:              d.ID,
		VendorID:        d.VendorID,
		KioskID:         d.KioskID,
		CustomerID:      d.CustomerID,
		PaymentMethod:   d.PaymentMethod,
		Lines:           lines,
		TotalGross:      fromDecimal128(d.TotalGross),
		Discount:        fromDecimal128(d.Discount),
		TotalNet:        fromDecimal128(d.TotalNet),
		TotalCost:       fromDecimal128(d.TotalCost),
		TotalCommission: fromDecimal128(d.TotalCommission),
		CreatedAt:       d.CreatedAt.UTC(),
	}
}

type customerDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	NameLower string    `bson:"name_lower"`
	Email     string    `bson:"email,omitempty"`
	WhatsApp  string    `bson:"whatsapp,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
}

func toCustomerDoc(c domain.Customer) customerDoc {
	return customerDoc{
		ID:        c.ID,
		Name:      c.Name,
		NameLower: strings.ToLower(c.Name),
		Email:     strings.ToLower(c.Email),
		WhatsApp:  c.WhatsApp,
		CreatedAt: c.CreatedAt,
	}
}

func (d customerDoc) domain() domain.Customer {
	return domain.Customer{
		ID:        d.ID,
		Name:      d.Name,
		Email:     d.Email,
		WhatsApp:  d.WhatsApp,
		CreatedAt: d.CreatedAt.UTC(),
	}
}

type userDoc struct {
	Username  string    `bson:"_id"`
	Password  string    `bson:"password"`
	Role      string    `bson:"role"`
	Name      string    `bson:"name"`
	Active    bool      `bson:"active"`
	CreatedAt time.Time `bson:"created_at"`
}

func toDecimal128(d decimal.Decimal) primitive.Decimal128 {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.NewDecimal128(0x3040000000000000, 0)
	}
	return v
}

func fromDecimal128(v primitive.Decimal128) decimal.Decimal {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}
