package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kioskpos/backend/internal/domain"
	"kioskpos/backend/internal/store"
)

const recordID = "kiosk-1:prd-1"

var (
	selectInventory = regexp.QuoteMeta(`FROM inventory_records WHERE id = $1`)
	updateInventory = regexp.QuoteMeta(`UPDATE inventory_records`)
)

func newMockStore(t *testing.T, maxAttempts int) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db, maxAttempts), mock
}

func inventoryRow(qty int, version int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "kiosk_id", "product_id", "quantity", "version", "updated_at"}).
		AddRow(recordID, "kiosk-1", "prd-1", qty, version, time.Now())
}

func decrementBy(qty int, calls *int) func(ctx context.Context, tx store.Tx) error {
	return func(ctx context.Context, tx store.Tx) error {
		*calls++
		rec, err := tx.GetInventory(ctx, recordID)
		if err != nil {
			return err
		}
		rec.Quantity -= qty
		return tx.PutInventory(ctx, *rec)
	}
}

func TestRunAtomicCommitsVersionedUpdate(t *testing.T) {
	s, mock := newMockStore(t, 3)

	mock.ExpectBegin()
	mock.ExpectQuery(selectInventory).WithArgs(recordID).WillReturnRows(inventoryRow(5, 3))
	mock.ExpectExec(updateInventory).WithArgs(recordID, 2, int64(3)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	calls := 0
	require.NoError(t, s.RunAtomic(context.Background(), decrementBy(3, &calls)))
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunAtomicRetriesStaleVersionWithFreshRead(t *testing.T) {
	s, mock := newMockStore(t, 3)

	mock.ExpectBegin()
	mock.ExpectQuery(selectInventory).WithArgs(recordID).WillReturnRows(inventoryRow(5, 3))
	mock.ExpectExec(updateInventory).WithArgs(recordID, 2, int64(3)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectQuery(selectInventory).WithArgs(recordID).WillReturnRows(inventoryRow(4, 4))
	mock.ExpectExec(updateInventory).WithArgs(recordID, 1, int64(4)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	calls := 0
	require.NoError(t, s.RunAtomic(context.Background(), decrementBy(3, &calls)))
	assert.Equal(t, 2, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunAtomicRetriesSerializationFailure(t *testing.T) {
	s, mock := newMockStore(t, 3)

	mock.ExpectBegin()
	mock.ExpectQuery(selectInventory).WithArgs(recordID).WillReturnRows(inventoryRow(5, 3))
	mock.ExpectExec(updateInventory).WithArgs(recordID, 4, int64(3)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: "40001"})

	mock.ExpectBegin()
	mock.ExpectQuery(selectInventory).WithArgs(recordID).WillReturnRows(inventoryRow(5, 3))
	mock.ExpectExec(updateInventory).WithArgs(recordID, 4, int64(3)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	calls := 0
	require.NoError(t, s.RunAtomic(context.Background(), decrementBy(1, &calls)))
	assert.Equal(t, 2, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunAtomicGivesUpWithErrConflict(t *testing.T) {
	s, mock := newMockStore(t, 2)

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery(selectInventory).WithArgs(recordID).WillReturnRows(inventoryRow(5, 3))
		mock.ExpectExec(updateInventory).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()
	}

	calls := 0
	err := s.RunAtomic(context.Background(), decrementBy(1, &calls))
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, 2, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunAtomicDoesNotRetryDomainErrors(t *testing.T) {
	s, mock := newMockStore(t, 5)
	rejected := errors.New("not enough stock")

	mock.ExpectBegin()
	mock.ExpectQuery(selectInventory).WithArgs(recordID).WillReturnRows(inventoryRow(1, 3))
	mock.ExpectRollback()

	err := s.RunAtomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetInventory(ctx, recordID); err != nil {
			return err
		}
		return rejected
	})
	assert.ErrorIs(t, err, rejected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutInventoryInsertsMissingRecord(t *testing.T) {
	s, mock := newMockStore(t, 1)

	mock.ExpectBegin()
	mock.ExpectQuery(selectInventory).WithArgs(recordID).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT (kiosk_id, product_id) DO NOTHING`)).
		WithArgs(recordID, "kiosk-1", "prd-1", 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.RunAtomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.GetInventory(ctx, recordID)
		require.ErrorIs(t, err, store.ErrNotFound)
		return tx.PutInventory(ctx, domain.InventoryRecord{ID: recordID, KioskID: "kiosk-1", ProductID: "prd-1", Quantity: 7})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertSaleWritesHeaderAndLines(t *testing.T) {
	s, mock := newMockStore(t, 1)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO sales`)).
		WithArgs("sale-1", "vendor", "kiosk-1", "", domain.PaymentPix,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO sale_lines`)).
		WithArgs("sale-1", 1, "prd-1", recordID, "SKU-1", "Ring", 2,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.RunAtomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertSale(ctx, domain.Sale{
			ID:            "sale-1",
			VendorID:      "vendor",
			KioskID:       "kiosk-1",
			PaymentMethod: domain.PaymentPix,
			Lines: []domain.SaleLine{{
				ProductID: "prd-1", InventoryRecordID: recordID, SKU: "SKU-1", Name: "Ring", Quantity: 2,
				UnitPriceAtSale: decimal.NewFromInt(100), CommissionRate: decimal.NewFromInt(10),
				CommissionAmount: decimal.NewFromInt(20),
			}},
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateProductMapsUniqueViolation(t *testing.T) {
	s, mock := newMockStore(t, 1)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO products`)).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := s.CreateProduct(context.Background(), domain.Product{ID: "prd-1", SKU: "SKU-1", Name: "Ring"})
	assert.ErrorIs(t, err, store.ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchCustomersEscapesLikePattern(t *testing.T) {
	s, mock := newMockStore(t, 1)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE lower(name) LIKE $1`)).
		WithArgs(`ana\_%`, 20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "whatsapp", "created_at"}).
			AddRow("c1", "Ana_Maria", "", "", time.Now()))

	customers, err := s.SearchCustomers(context.Background(), "ANA_", 0)
	require.NoError(t, err)
	require.Len(t, customers, 1)
	assert.Equal(t, "Ana_Maria", customers[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteInventoryReportsMissingRecord(t *testing.T) {
	s, mock := newMockStore(t, 1)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM inventory_records WHERE id = $1`)).
		WithArgs(recordID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, s.DeleteInventory(context.Background(), recordID), store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
