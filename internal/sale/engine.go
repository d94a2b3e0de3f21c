// Package sale commits a cart as a sale: it re-validates every line against
// fresh stock, decrements inventory and records the sale in one atomic unit
// of work.
package sale

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"kioskpos/backend/internal/domain"
	"kioskpos/backend/internal/money"
	"kioskpos/backend/internal/store"
	"kioskpos/backend/internal/xid"
)

// Store is what the engine needs from persistence.
type Store interface {
	store.Atomic
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
}

type Engine struct {
	store  Store
	logger *slog.Logger
	newID  func() string
}

func NewEngine(st Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  st,
		logger: logger.With("component", "sale"),
		newID:  func() string { return xid.New("sale") },
	}
}

// demand is the total quantity requested from one inventory record.
type demand struct {
	recordID  string
	productID string
	name      string
	quantity  int
}

// CommitSale validates lines, then atomically decrements stock and records
// the sale on behalf of session. Every failure is a *CommitError; on failure
// nothing was written and the caller's cart is still valid to retry.
func (e *Engine) CommitSale(ctx context.Context, lines []domain.CartLine, session domain.Session, meta domain.SaleMetadata) (*domain.Sale, error) {
	sale, err := e.commit(ctx, lines, session, meta)
	if err != nil {
		e.logger.Warn("sale rejected",
			"kiosk_id", meta.KioskID, "principal", session.PrincipalID, "lines", len(lines), "error", err)
		return nil, newCommitError(err)
	}
	return sale, nil
}

func (e *Engine) commit(ctx context.Context, lines []domain.CartLine, session domain.Session, meta domain.SaleMetadata) (*domain.Sale, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}
	if strings.TrimSpace(session.PrincipalID) == "" {
		return nil, ErrNoSession
	}
	demands, err := validate(lines, meta)
	if err != nil {
		return nil, err
	}

	saleID := e.newID()
	gross := grossOf(lines)

	// what the last attempt inserted; replies with it if the read-back fails
	var inserted domain.Sale
	err = e.store.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		// read phase
		records := make(map[string]*domain.InventoryRecord, len(demands))
		for _, d := range demands {
			rec, err := tx.GetInventory(ctx, d.recordID)
			if errors.Is(err, store.ErrNotFound) {
				return &NotFoundError{ProductID: d.productID, Product: d.name}
			}
			if err != nil {
				return fmt.Errorf("read inventory %s: %w", d.recordID, err)
			}
			records[d.recordID] = rec
		}
		products := make(map[string]*domain.Product, len(demands))
		for _, d := range demands {
			if _, seen := products[d.productID]; seen {
				continue
			}
			p, err := tx.GetProduct(ctx, d.productID)
			if errors.Is(err, store.ErrNotFound) {
				return &NotFoundError{ProductID: d.productID, Product: d.name}
			}
			if err != nil {
				return fmt.Errorf("read product %s: %w", d.productID, err)
			}
			products[d.productID] = p
		}

		// validation against what this attempt just read
		for _, d := range demands {
			rec := records[d.recordID]
			if rec.KioskID != meta.KioskID {
				return &IntegrityError{Reason: fmt.Sprintf("%s is not stocked at kiosk %s", d.name, meta.KioskID)}
			}
			if rec.ProductID != d.productID {
				return &IntegrityError{Reason: fmt.Sprintf("inventory record %s does not hold %s", d.recordID, d.name)}
			}
			if rec.Quantity < d.quantity {
				return &InsufficientStockError{
					ProductID: d.productID,
					Product:   d.name,
					Available: rec.Quantity,
					Requested: d.quantity,
				}
			}
		}

		// write phase
		for _, d := range demands {
			rec := *records[d.recordID]
			rec.Quantity -= d.quantity
			if err := tx.PutInventory(ctx, rec); err != nil {
				return err
			}
		}
		inserted = buildSale(saleID, lines, products, session, meta, gross)
		return tx.InsertSale(ctx, inserted)
	})
	if err != nil {
		return nil, err
	}

	saved, err := e.store.GetSale(ctx, saleID)
	if err != nil {
		// the sale is committed; only the server timestamp is missing from the reply
		e.logger.Error("read back committed sale", "sale_id", saleID, "error", err)
		return &inserted, nil
	}
	e.logger.Info("sale committed",
		"sale_id", saved.ID, "kiosk_id", saved.KioskID, "principal", saved.VendorID,
		"total_net", saved.TotalNet.StringFixed(money.Places), "lines", len(saved.Lines))
	return saved, nil
}

// validate checks the request shape and folds lines into per-record demand,
// preserving first-seen order.
func validate(lines []domain.CartLine, meta domain.SaleMetadata) ([]demand, error) {
	if strings.TrimSpace(meta.KioskID) == "" {
		return nil, &IntegrityError{Reason: "kiosk is required"}
	}
	if !domain.ValidPaymentMethod(meta.PaymentMethod) {
		return nil, &IntegrityError{Reason: fmt.Sprintf("unsupported payment method %q", meta.PaymentMethod)}
	}
	if meta.Discount.IsNegative() {
		return nil, &IntegrityError{Reason: "discount cannot be negative"}
	}

	index := make(map[string]int, len(lines))
	demands := make([]demand, 0, len(lines))
	for _, line := range lines {
		name := line.Name
		if name == "" {
			name = line.ProductID
		}
		switch {
		case line.InventoryRecordID == "" || line.ProductID == "":
			return nil, &IntegrityError{Reason: fmt.Sprintf("line %s has no inventory reference", name)}
		case line.Quantity < 1:
			return nil, &IntegrityError{Reason: fmt.Sprintf("quantity for %s must be positive", name)}
		case line.UnitPrice.IsNegative():
			return nil, &IntegrityError{Reason: fmt.Sprintf("price for %s cannot be negative", name)}
		case !money.ValidRate(line.CommissionRate):
			return nil, &IntegrityError{Reason: fmt.Sprintf("commission rate for %s must be between 0 and 100", name)}
		}

		if i, ok := index[line.InventoryRecordID]; ok {
			if demands[i].productID != line.ProductID {
				return nil, &IntegrityError{Reason: fmt.Sprintf("inventory record %s appears with two products", line.InventoryRecordID)}
			}
			demands[i].quantity += line.Quantity
			continue
		}
		index[line.InventoryRecordID] = len(demands)
		demands = append(demands, demand{
			recordID:  line.InventoryRecordID,
			productID: line.ProductID,
			name:      name,
			quantity:  line.Quantity,
		})
	}

	if meta.Discount.GreaterThan(grossOf(lines)) {
		return nil, &IntegrityError{Reason: "discount exceeds the sale total"}
	}
	return demands, nil
}

func grossOf(lines []domain.CartLine) decimal.Decimal {
	gross := decimal.Zero
	for _, line := range lines {
		gross = gross.Add(money.LineGross(line.UnitPrice, line.Quantity))
	}
	return gross
}

// buildSale snapshots each line as sold. Lines whose product is missing from
// products get a zero cost.
func buildSale(id string, lines []domain.CartLine, products map[string]*domain.Product, session domain.Session, meta domain.SaleMetadata, gross decimal.Decimal) domain.Sale {
	sale := domain.Sale{
		ID:              id,
		VendorID:        session.PrincipalID,
		KioskID:         meta.KioskID,
		CustomerID:      meta.CustomerID,
		PaymentMethod:   meta.PaymentMethod,
		Lines:           make([]domain.SaleLine, 0, len(lines)),
		TotalGross:      gross,
		Discount:        money.Round(meta.Discount),
		TotalCost:       decimal.Zero,
		TotalCommission: decimal.Zero,
	}
	sale.TotalNet = sale.TotalGross.Sub(sale.Discount)

	for _, line := range lines {
		cost := decimal.Zero
		if p, ok := products[line.ProductID]; ok {
			cost = p.CostPrice
		}
		commission := money.Commission(line.UnitPrice, line.Quantity, line.CommissionRate)
		sale.Lines = append(sale.Lines, domain.SaleLine{
			ProductID:         line.ProductID,
			InventoryRecordID: line.InventoryRecordID,
			SKU:               line.SKU,
			Name:              line.Name,
			Quantity:          line.Quantity,
			UnitPriceAtSale:   line.UnitPrice,
			CostAtSale:        cost,
			CommissionRate:    line.CommissionRate,
			CommissionAmount:  commission,
		})
		sale.TotalCost = sale.TotalCost.Add(money.LineGross(cost, line.Quantity))
		sale.TotalCommission = sale.TotalCommission.Add(commission)
	}
	return sale
}
