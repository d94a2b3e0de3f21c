package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"kioskpos/backend/internal/domain"
	"kioskpos/backend/internal/store"
)

// RunAtomic runs fn in a SERIALIZABLE transaction. Inventory writes are also
// guarded by the version read inside the same attempt, so a lost race shows up
// either as a serialization failure or as a stale version; both re-run fn.
func (s *Store) RunAtomic(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
		if attempt < s.maxAttempts {
			if err := store.Backoff(ctx, attempt); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w: gave up after %d attempts: %v", store.ErrConflict, s.maxAttempts, lastErr)
}

func (s *Store) runOnce(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	t := &pgTx{tx: sqlTx, versions: make(map[string]int64)}
	if err := fn(ctx, t); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// isRetryable reports serialization failures, deadlocks and stale versions.
func isRetryable(err error) bool {
	if errors.Is(err, store.ErrConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

type pgTx struct {
	store.Guard
	tx *sql.Tx
	// version observed per inventory id; 0 means the row did not exist
	versions map[string]int64
}

func (t *pgTx) GetInventory(ctx context.Context, id string) (*domain.InventoryRecord, error) {
	if err := t.BeforeRead(); err != nil {
		return nil, err
	}
	rec, err := scanInventory(t.tx.QueryRowContext(ctx, `SELECT `+inventoryColumns+` FROM inventory_records WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			t.versions[id] = 0
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	t.versions[id] = rec.Version
	return &rec, nil
}

func (t *pgTx) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	if err := t.BeforeRead(); err != nil {
		return nil, err
	}
	p, err := scanProduct(t.tx.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (t *pgTx) PutInventory(ctx context.Context, record domain.InventoryRecord) error {
	t.BeforeWrite()

	if record.ID != domain.InventoryRecordID(record.KioskID, record.ProductID) {
		return store.ErrInvalidTransaction
	}
	version, read := t.versions[record.ID]
	if !read {
		return fmt.Errorf("%w: inventory %s written without being read", store.ErrInvalidTransaction, record.ID)
	}
	if record.Quantity < 0 {
		return store.ErrInsufficientStock
	}

	var res sql.Result
	var err error
	if version == 0 {
		res, err = t.tx.ExecContext(ctx, `
			INSERT INTO inventory_records (id, kiosk_id, product_id, quantity, version, updated_at)
			VALUES ($1,$2,$3,$4,1,now())
			ON CONFLICT (kiosk_id, product_id) DO NOTHING
		`, record.ID, record.KioskID, record.ProductID, record.Quantity)
	} else {
		res, err = t.tx.ExecContext(ctx, `
			UPDATE inventory_records
			SET quantity = $2, version = version + 1, updated_at = now()
			WHERE id = $1 AND version = $3
		`, record.ID, record.Quantity, version)
	}
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return store.ErrConflict
	}
	t.versions[record.ID] = version + 1
	return nil
}

func (t *pgTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	t.BeforeWrite()

	if sale.ID == "" || len(sale.Lines) == 0 {
		return store.ErrInvalidTransaction
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (id, vendor_id, kiosk_id, customer_id, payment_method,
		                   total_gross, discount, total_net, total_cost, total_commission, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
	`, sale.ID, sale.VendorID, sale.KioskID, sale.CustomerID, sale.PaymentMethod,
		sale.TotalGross, sale.Discount, sale.TotalNet, sale.TotalCost, sale.TotalCommission)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: sale %s", store.ErrDuplicate, sale.ID)
		}
		return err
	}

	for i, line := range sale.Lines {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, line_no, product_id, inventory_record_id, sku, name, quantity,
			                        unit_price_at_sale, cost_at_sale, commission_rate, commission_amount)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, sale.ID, i+1, line.ProductID, line.InventoryRecordID, line.SKU, line.Name, line.Quantity,
			line.UnitPriceAtSale, line.CostAtSale, line.CommissionRate, line.CommissionAmount)
		if err != nil {
			return err
		}
	}
	return nil
}
