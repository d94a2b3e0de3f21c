// Package cart keeps the lines an operator is about to sell. It never talks to
// storage: stock checks here are advisory and only use the inventory snapshot
// the caller passes in.
package cart

import (
	"errors"

	"github.com/shopspring/decimal"

	"kioskpos/backend/internal/domain"
	"kioskpos/backend/internal/money"
)

type State int

const (
	StateEmpty State = iota
	StateAccumulating
	StateCommitPending
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateAccumulating:
		return "accumulating"
	case StateCommitPending:
		return "commit_pending"
	default:
		return "unknown"
	}
}

var (
	// ErrStockLimit means the line would exceed the last known stock of its record.
	ErrStockLimit    = errors.New("not enough stock for another unit")
	ErrEmpty         = errors.New("cart is empty")
	ErrCommitPending = errors.New("a sale is already being committed")
	ErrNotPending    = errors.New("no sale is being committed")
)

// Cart is not safe for concurrent use; callers serialize access per operator.
type Cart struct {
	lines []domain.CartLine
	index map[string]int
	state State
}

func New() *Cart {
	return &Cart{index: make(map[string]int)}
}

func (c *Cart) State() State { return c.state }

func (c *Cart) Len() int { return len(c.lines) }

// AddItem adds one unit of the record's product, merging into an existing line.
// The price and commission rate are captured from product when the line is
// first created.
func (c *Cart) AddItem(record domain.InventoryRecord, product domain.Product) (domain.CartLine, error) {
	if c.state == StateCommitPending {
		return domain.CartLine{}, ErrCommitPending
	}

	if i, ok := c.index[record.ID]; ok {
		line := c.lines[i]
		if line.Quantity+1 > record.Quantity {
			return line, ErrStockLimit
		}
		line.Quantity++
		c.lines[i] = line
		return line, nil
	}

	if record.Quantity < 1 {
		return domain.CartLine{}, ErrStockLimit
	}
	line := domain.CartLine{
		InventoryRecordID: record.ID,
		ProductID:         product.ID,
		Name:              product.Name,
		SKU:               product.SKU,
		UnitPrice:         product.SellPrice,
		CommissionRate:    product.CommissionRate,
		Quantity:          1,
	}
	c.index[record.ID] = len(c.lines)
	c.lines = append(c.lines, line)
	c.state = StateAccumulating
	return line, nil
}

// RemoveItem deletes the whole line for recordID. Removing an absent line is a no-op.
func (c *Cart) RemoveItem(recordID string) error {
	if c.state == StateCommitPending {
		return ErrCommitPending
	}
	i, ok := c.index[recordID]
	if !ok {
		return nil
	}
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
	c.reindex()
	if len(c.lines) == 0 {
		c.state = StateEmpty
	}
	return nil
}

func (c *Cart) Clear() error {
	if c.state == StateCommitPending {
		return ErrCommitPending
	}
	c.reset()
	return nil
}

// Total is the sum of line gross amounts, computed exactly as the sale engine does.
func (c *Cart) Total() decimal.Decimal {
	return Total(c.lines)
}

func Total(lines []domain.CartLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(money.LineGross(line.UnitPrice, line.Quantity))
	}
	return total
}

// Lines returns a copy of the lines in insertion order.
func (c *Cart) Lines() []domain.CartLine {
	out := make([]domain.CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

// BeginCommit freezes the cart and hands out the lines to submit.
func (c *Cart) BeginCommit() ([]domain.CartLine, error) {
	switch c.state {
	case StateCommitPending:
		return nil, ErrCommitPending
	case StateEmpty:
		return nil, ErrEmpty
	}
	c.state = StateCommitPending
	return c.Lines(), nil
}

// CommitSucceeded empties the cart after the sale was recorded.
func (c *Cart) CommitSucceeded() error {
	if c.state != StateCommitPending {
		return ErrNotPending
	}
	c.reset()
	return nil
}

// CommitFailed unfreezes the cart with its lines untouched.
func (c *Cart) CommitFailed() error {
	if c.state != StateCommitPending {
		return ErrNotPending
	}
	c.state = StateAccumulating
	return nil
}

func (c *Cart) reset() {
	c.lines = nil
	c.index = make(map[string]int)
	c.state = StateEmpty
}

func (c *Cart) reindex() {
	c.index = make(map[string]int, len(c.lines))
	for i, line := range c.lines {
		c.index[line.InventoryRecordID] = i
	}
}
