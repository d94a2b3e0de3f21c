package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kioskpos/backend/internal/domain"
	"kioskpos/backend/internal/store"
)

const ringRecord = "kiosk-center:prd-ring-01"

func decrement(ctx context.Context, s *Store, id string, qty int) error {
	return s.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		rec, err := tx.GetInventory(ctx, id)
		if err != nil {
			return err
		}
		rec.Quantity -= qty
		return tx.PutInventory(ctx, *rec)
	})
}

func TestRunAtomicAppliesWritesAndBumpsVersion(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	require.NoError(t, decrement(ctx, s, ringRecord, 2))

	records, err := s.ListInventoryByKiosk(ctx, "kiosk-center")
	require.NoError(t, err)
	for _, rec := range records {
		if rec.ID == ringRecord {
			assert.Equal(t, 1, rec.Quantity)
			assert.Equal(t, int64(2), rec.Version)
			return
		}
	}
	t.Fatalf("record %s missing", ringRecord)
}

func TestRunAtomicRetriesWithFreshReadsOnConflict(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	attempts := 0
	seen := []int{}
	err := s.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		attempts++
		rec, err := tx.GetInventory(ctx, ringRecord)
		if err != nil {
			return err
		}
		seen = append(seen, rec.Quantity)
		if attempts == 1 {
			// a competing writer lands between our read and our commit
			require.NoError(t, decrement(ctx, s, ringRecord, 1))
		}
		rec.Quantity--
		return tx.PutInventory(ctx, *rec)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, []int{3, 2}, seen)

	rec, err := s.peek(ringRecord)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Quantity)
}

func TestRunAtomicGivesUpAfterMaxAttempts(t *testing.T) {
	s := NewSeeded(WithMaxAttempts(2))
	ctx := context.Background()

	err := s.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		rec, err := tx.GetInventory(ctx, ringRecord)
		if err != nil {
			return err
		}
		require.NoError(t, decrement(ctx, s, ringRecord, 0))
		return tx.PutInventory(ctx, *rec)
	})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestRunAtomicDiscardsWritesWhenFnFails(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		rec, err := tx.GetInventory(ctx, ringRecord)
		if err != nil {
			return err
		}
		rec.Quantity = 0
		if err := tx.PutInventory(ctx, *rec); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	rec, err := s.peek(ringRecord)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Quantity)
}

func TestTxRejectsReadAfterWrite(t *testing.T) {
	s := NewSeeded()
	err := s.RunAtomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		rec, err := tx.GetInventory(ctx, ringRecord)
		if err != nil {
			return err
		}
		if err := tx.PutInventory(ctx, *rec); err != nil {
			return err
		}
		_, err = tx.GetProduct(ctx, "prd-ring-01")
		return err
	})
	assert.ErrorIs(t, err, store.ErrReadAfterWrite)
}

func TestTxRejectsBlindWrite(t *testing.T) {
	s := NewSeeded()
	err := s.RunAtomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.PutInventory(ctx, domain.InventoryRecord{
			ID:        ringRecord,
			KioskID:   "kiosk-center",
			ProductID: "prd-ring-01",
			Quantity:  99,
		})
	})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestTxCreatesMissingRecordOnlyOnce(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	id := domain.InventoryRecordID("kiosk-north", "prd-ring-02")

	upsert := func() error {
		return s.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
			rec, err := tx.GetInventory(ctx, id)
			switch {
			case errors.Is(err, store.ErrNotFound):
				rec = &domain.InventoryRecord{ID: id, KioskID: "kiosk-north", ProductID: "prd-ring-02"}
			case err != nil:
				return err
			}
			rec.Quantity += 4
			return tx.PutInventory(ctx, *rec)
		})
	}
	require.NoError(t, upsert())
	require.NoError(t, upsert())

	records, err := s.ListInventoryByKiosk(ctx, "kiosk-north")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 8, records[0].Quantity)
}

func TestInsertSaleStampsServerTime(t *testing.T) {
	fixed := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	s := NewSeeded(WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	err := s.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertSale(ctx, domain.Sale{
			ID:       "sale-1",
			KioskID:  "kiosk-center",
			VendorID: "vendor",
			Lines:    []domain.SaleLine{{ProductID: "prd-ring-01", Quantity: 1, UnitPriceAtSale: decimal.NewFromInt(10)}},
			// a client-supplied timestamp is ignored
			CreatedAt: fixed.Add(-time.Hour),
		})
	})
	require.NoError(t, err)

	sale, err := s.GetSale(ctx, "sale-1")
	require.NoError(t, err)
	assert.True(t, sale.CreatedAt.Equal(fixed))
}

func TestListSalesFiltersByVendorNewestFirst(t *testing.T) {
	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { tick = tick.Add(time.Minute); return tick }))
	ctx := context.Background()

	for i, vendor := range []string{"ana", "bia", "ana"} {
		id := []string{"s1", "s2", "s3"}[i]
		require.NoError(t, s.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.InsertSale(ctx, domain.Sale{ID: id, VendorID: vendor, Lines: []domain.SaleLine{{Quantity: 1}}})
		}))
	}

	sales, err := s.ListSales(ctx, domain.SaleFilter{VendorID: "ana"})
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, "s3", sales[0].ID)
	assert.Equal(t, "s1", sales[1].ID)
}

func TestCreateCustomerRejectsDuplicateEmail(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.CreateCustomer(ctx, domain.Customer{ID: "c1", Name: "Maria", Email: "maria@example.com"})
	require.NoError(t, err)
	_, err = s.CreateCustomer(ctx, domain.Customer{ID: "c2", Name: "Maria B", Email: "MARIA@example.com"})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	found, err := s.SearchCustomers(ctx, "mar", 10)
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestDeleteInventoryInvalidatesConcurrentUnit(t *testing.T) {
	s := NewSeeded(WithMaxAttempts(3))
	ctx := context.Background()

	calls := 0
	err := s.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		calls++
		rec, err := tx.GetInventory(ctx, ringRecord)
		if err != nil {
			return err
		}
		if calls == 1 {
			require.NoError(t, s.DeleteInventory(ctx, ringRecord))
		}
		rec.Quantity--
		return tx.PutInventory(ctx, *rec)
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 2, calls)

	_, err = s.peek(ringRecord)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteInventory(ctx, ringRecord), store.ErrNotFound)
}

func TestRecreatedInventoryDoesNotReuseVersion(t *testing.T) {
	s := NewSeeded(WithMaxAttempts(3))
	ctx := context.Background()

	calls := 0
	err := s.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		calls++
		rec, err := tx.GetInventory(ctx, ringRecord)
		if err != nil {
			return err
		}
		if calls == 1 {
			// removed and restocked with a single unit while this unit is open
			require.NoError(t, s.DeleteInventory(ctx, ringRecord))
			require.NoError(t, s.RunAtomic(ctx, func(ctx context.Context, other store.Tx) error {
				_, err := other.GetInventory(ctx, ringRecord)
				require.ErrorIs(t, err, store.ErrNotFound)
				return other.PutInventory(ctx, domain.InventoryRecord{
					ID:        ringRecord,
					KioskID:   "kiosk-center",
					ProductID: "prd-ring-01",
					Quantity:  1,
				})
			}))
		}
		rec.Quantity -= 2
		return tx.PutInventory(ctx, *rec)
	})
	assert.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Equal(t, 2, calls)

	rec, err := s.peek(ringRecord)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Quantity)
	assert.Equal(t, int64(3), rec.Version)
}

func (s *Store) peek(id string) (domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.inventory[id]
	if !ok {
		return domain.InventoryRecord{}, store.ErrNotFound
	}
	return rec, nil
}
