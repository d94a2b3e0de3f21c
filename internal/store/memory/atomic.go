package memory

import (
	"context"
	"errors"
	"fmt"

	"kioskpos/backend/internal/domain"
	"kioskpos/backend/internal/store"
)

// RunAtomic executes fn optimistically: reads see committed state and record
// the version they saw, writes are buffered, and the commit validates every
// read version under the write lock before applying anything.
func (s *Store) RunAtomic(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		tx := newTx(s)
		if err := fn(ctx, tx); err != nil {
			return err
		}

		err := s.commit(tx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		if attempt < s.maxAttempts {
			if err := store.Backoff(ctx, attempt); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w: gave up after %d attempts", store.ErrConflict, s.maxAttempts)
}

type tx struct {
	store.Guard
	s *Store

	// version observed per id, including the version a deleted record left behind
	inventoryReads map[string]int64
	productReads   map[string]int64

	inventoryWrites map[string]domain.InventoryRecord
	writeOrder      []string
	sales           []domain.Sale
}

func newTx(s *Store) *tx {
	return &tx{
		s:               s,
		inventoryReads:  make(map[string]int64),
		productReads:    make(map[string]int64),
		inventoryWrites: make(map[string]domain.InventoryRecord),
	}
}

func (t *tx) GetInventory(_ context.Context, id string) (*domain.InventoryRecord, error) {
	if err := t.BeforeRead(); err != nil {
		return nil, err
	}

	t.s.mu.RLock()
	rec, exists := t.s.inventory[id]
	version := t.s.recordVersions[id]
	t.s.mu.RUnlock()

	t.inventoryReads[id] = version
	if !exists {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

func (t *tx) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	if err := t.BeforeRead(); err != nil {
		return nil, err
	}

	t.s.mu.RLock()
	product, exists := t.s.products[id]
	version := t.s.productVersions[id]
	t.s.mu.RUnlock()

	if !exists {
		t.productReads[id] = 0
		return nil, store.ErrNotFound
	}
	t.productReads[id] = version
	return &product, nil
}

func (t *tx) PutInventory(_ context.Context, record domain.InventoryRecord) error {
	t.BeforeWrite()

	if record.ID != domain.InventoryRecordID(record.KioskID, record.ProductID) {
		return store.ErrInvalidTransaction
	}
	if _, read := t.inventoryReads[record.ID]; !read {
		return fmt.Errorf("%w: inventory %s written without being read", store.ErrInvalidTransaction, record.ID)
	}
	if record.Quantity < 0 {
		return store.ErrInsufficientStock
	}
	if _, pending := t.inventoryWrites[record.ID]; !pending {
		t.writeOrder = append(t.writeOrder, record.ID)
	}
	t.inventoryWrites[record.ID] = record
	return nil
}

func (t *tx) InsertSale(_ context.Context, sale domain.Sale) error {
	t.BeforeWrite()

	if sale.ID == "" || len(sale.Lines) == 0 {
		return store.ErrInvalidTransaction
	}
	t.sales = append(t.sales, cloneSale(sale))
	return nil
}

func (s *Store) commit(t *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, seen := range t.inventoryReads {
		if s.recordVersions[id] != seen {
			return store.ErrConflict
		}
	}
	for id, seen := range t.productReads {
		if s.productVersions[id] != seen {
			return store.ErrConflict
		}
	}
	for _, sale := range t.sales {
		if _, exists := s.salesByID[sale.ID]; exists {
			return fmt.Errorf("%w: sale %s", store.ErrDuplicate, sale.ID)
		}
	}

	now := s.now()
	for _, id := range t.writeOrder {
		rec := t.inventoryWrites[id]
		rec.Version = t.inventoryReads[id] + 1
		rec.UpdatedAt = now
		s.inventory[id] = rec
		s.recordVersions[id] = rec.Version
	}
	for _, sale := range t.sales {
		sale.CreatedAt = now
		s.salesByID[sale.ID] = len(s.sales)
		s.sales = append(s.sales, sale)
	}
	return nil
}
