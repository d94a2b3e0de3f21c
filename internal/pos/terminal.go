// Package pos drives one operator's point of sale: the kiosk inventory they
// see, their cart, and the checkout that hands the cart to the sale engine.
package pos

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"kioskpos/backend/internal/cart"
	"kioskpos/backend/internal/domain"
	"kioskpos/backend/internal/store"
)

var (
	// ErrBusy is returned while the terminal's checkout is in flight.
	ErrBusy        = errors.New("checkout in progress")
	ErrUnknownItem = errors.New("item is not in the kiosk inventory")
	ErrNoKiosk     = errors.New("no kiosk selected")
)

// Backend is the subset of the service a terminal uses.
type Backend interface {
	KioskInventory(ctx context.Context, session domain.Session, kioskID string) ([]domain.InventoryItemView, error)
	CommitSale(ctx context.Context, session domain.Session, lines []domain.CartLine, meta domain.SaleMetadata) (*domain.Sale, error)
}

type View struct {
	KioskID string            `json:"kiosk_id"`
	State   string            `json:"state"`
	Lines   []domain.CartLine `json:"lines"`
	Total   decimal.Decimal   `json:"total"`
}

// CheckoutRequest carries the payment details chosen at checkout.
type CheckoutRequest struct {
	CustomerID    string          `json:"customer_id,omitempty"`
	PaymentMethod string          `json:"payment_method"`
	Discount      decimal.Decimal `json:"discount"`
}

type Terminal struct {
	backend Backend
	session domain.Session

	mu       sync.Mutex
	kioskID  string
	cart     *cart.Cart
	snapshot map[string]domain.InventoryItemView
}

func NewTerminal(backend Backend, session domain.Session) *Terminal {
	return &Terminal{
		backend:  backend,
		session:  session,
		cart:     cart.New(),
		snapshot: map[string]domain.InventoryItemView{},
	}
}

// Open selects the kiosk the terminal sells from and loads its inventory.
// Switching kiosks empties the cart.
func (t *Terminal) Open(ctx context.Context, kioskID string) ([]domain.InventoryItemView, error) {
	items, err := t.backend.KioskInventory(ctx, t.session, kioskID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cart.State() == cart.StateCommitPending {
		return nil, ErrBusy
	}
	if t.kioskID != kioskID {
		_ = t.cart.Clear()
		t.kioskID = kioskID
	}
	t.setSnapshot(items)
	return items, nil
}

// Refresh reloads the inventory snapshot used for the advisory stock limit.
func (t *Terminal) Refresh(ctx context.Context) ([]domain.InventoryItemView, error) {
	t.mu.Lock()
	kioskID := t.kioskID
	t.mu.Unlock()
	if kioskID == "" {
		return nil, ErrNoKiosk
	}

	items, err := t.backend.KioskInventory(ctx, t.session, kioskID)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.kioskID == kioskID {
		t.setSnapshot(items)
	}
	return items, nil
}

// Add puts one more unit of the inventory record in the cart.
func (t *Terminal) Add(recordID string) (View, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cart.State() == cart.StateCommitPending {
		return View{}, ErrBusy
	}
	item, ok := t.snapshot[recordID]
	if !ok {
		return t.view(), ErrUnknownItem
	}
	if item.Unknown {
		return t.view(), fmt.Errorf("%w: product %s is no longer in the catalog", store.ErrNotFound, item.ProductID)
	}

	record := domain.InventoryRecord{ID: item.RecordID, KioskID: item.KioskID, ProductID: item.ProductID, Quantity: item.Quantity}
	product := domain.Product{
		ID:             item.ProductID,
		SKU:            item.SKU,
		Name:           item.Name,
		SellPrice:      item.SellPrice,
		CommissionRate: item.CommissionRate,
	}
	if _, err := t.cart.AddItem(record, product); err != nil {
		return t.view(), err
	}
	return t.view(), nil
}

func (t *Terminal) Remove(recordID string) (View, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cart.State() == cart.StateCommitPending {
		return View{}, ErrBusy
	}
	if err := t.cart.RemoveItem(recordID); err != nil {
		return t.view(), err
	}
	return t.view(), nil
}

func (t *Terminal) Clear() (View, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.cart.Clear(); err != nil {
		return View{}, ErrBusy
	}
	return t.view(), nil
}

func (t *Terminal) View() View {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view()
}

// Checkout commits the cart. The terminal lock is released while the sale is
// committed; concurrent calls from the same operator get ErrBusy. On failure
// the cart is kept as it was.
func (t *Terminal) Checkout(ctx context.Context, req CheckoutRequest) (*domain.Sale, error) {
	t.mu.Lock()
	if t.kioskID == "" {
		t.mu.Unlock()
		return nil, ErrNoKiosk
	}
	lines, err := t.cart.BeginCommit()
	if errors.Is(err, cart.ErrCommitPending) {
		t.mu.Unlock()
		return nil, ErrBusy
	}
	if errors.Is(err, cart.ErrEmpty) {
		// the engine owns the empty-cart rejection and its message
		lines = nil
	} else if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	kioskID := t.kioskID
	pending := err == nil
	t.mu.Unlock()

	committed, commitErr := t.backend.CommitSale(ctx, t.session, lines, domain.SaleMetadata{
		KioskID:       kioskID,
		CustomerID:    req.CustomerID,
		PaymentMethod: req.PaymentMethod,
		Discount:      req.Discount,
	})

	t.mu.Lock()
	if pending {
		if commitErr != nil {
			_ = t.cart.CommitFailed()
		} else {
			_ = t.cart.CommitSucceeded()
		}
	}
	t.mu.Unlock()

	if commitErr != nil {
		return nil, commitErr
	}
	// a stale snapshot only weakens the advisory limit
	_, _ = t.Refresh(ctx)
	return committed, nil
}

func (t *Terminal) setSnapshot(items []domain.InventoryItemView) {
	t.snapshot = make(map[string]domain.InventoryItemView, len(items))
	for _, item := range items {
		t.snapshot[item.RecordID] = item
	}
}

func (t *Terminal) view() View {
	return View{
		KioskID: t.kioskID,
		State:   t.cart.State().String(),
		Lines:   t.cart.Lines(),
		Total:   t.cart.Total(),
	}
}
