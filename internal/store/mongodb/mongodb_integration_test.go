package mongodb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"kioskpos/backend/internal/domain"
	"kioskpos/backend/internal/store"
)

// Requires a replica set, e.g. mongodb://localhost:27017/?replicaSet=rs0
func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("KIOSKPOS_TEST_MONGODB_URI")
	if uri == "" {
		t.Skip("set KIOSKPOS_TEST_MONGODB_URI to run mongodb integration test")
	}
	dbName := fmt.Sprintf("kioskpos_it_%d", time.Now().UnixNano())
	s, err := New(context.Background(), uri, dbName, 10)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.db.Drop(context.Background())
		_ = s.Close()
	})
	return s
}

func TestConcurrentDecrementsNeverOversell(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	recID := domain.InventoryRecordID("kiosk-it", "prd-it")

	require.NoError(t, s.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetInventory(ctx, recID); !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("expected missing record, got %v", err)
		}
		return tx.PutInventory(ctx, domain.InventoryRecord{ID: recID, KioskID: "kiosk-it", ProductID: "prd-it", Quantity: 5})
	}))

	var wg sync.WaitGroup
	var succeeded atomic.Int32
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
				rec, err := tx.GetInventory(ctx, recID)
				if err != nil {
					return err
				}
				if rec.Quantity < 2 {
					return store.ErrInsufficientStock
				}
				rec.Quantity -= 2
				return tx.PutInventory(ctx, *rec)
			})
			if err == nil {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	records, err := s.ListInventoryByKiosk(ctx, "kiosk-it")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int32(2), succeeded.Load())
	assert.Equal(t, 1, records[0].Quantity)
}

func TestInsertSaleUsesServerTimestamp(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	before := time.Now().Add(-time.Minute)

	require.NoError(t, s.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertSale(ctx, domain.Sale{ID: "sale-it", VendorID: "v", KioskID: "k", PaymentMethod: domain.PaymentPix,
			Lines: []domain.SaleLine{{ProductID: "p", Quantity: 1}}})
	}))

	sale, err := s.GetSale(ctx, "sale-it")
	require.NoError(t, err)
	assert.True(t, sale.CreatedAt.After(before))

	n, err := s.db.Collection(colSales).CountDocuments(ctx, bson.M{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
