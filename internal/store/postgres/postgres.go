package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kioskpos/backend/internal/domain"
	"kioskpos/backend/internal/store"
)

//go:embed schema.sql
var schema string

type Store struct {
	db          *sql.DB
	maxAttempts int
}

func New(ctx context.Context, databaseURL string, maxAttempts int) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return NewWithDB(db, maxAttempts), nil
}

// NewWithDB wraps an already opened handle.
func NewWithDB(db *sql.DB, maxAttempts int) *Store {
	if maxAttempts < 1 {
		maxAttempts = store.DefaultMaxAttempts
	}
	return &Store{db: db, maxAttempts: maxAttempts}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates any missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

const productColumns = `id, sku, name, category, material, sell_price, cost_price, commission_rate, active, created_at`

func scanProduct(row scanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.Material, &p.SellPrice, &p.CostPrice, &p.CommissionRate, &p.Active, &p.CreatedAt)
	return p, err
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	return result, rows.Err()
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.SKU == "" || product.Name == "" {
		return nil, store.ErrInvalidTransaction
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (id, sku, name, category, material, sell_price, cost_price, commission_rate, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now(),now())
		RETURNING created_at
	`, product.ID, product.SKU, product.Name, product.Category, product.Material,
		product.SellPrice, product.CostPrice, product.CommissionRate, product.Active).Scan(&product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	updated, err := scanProduct(s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, material = $4, sell_price = $5, cost_price = $6,
		    commission_rate = $7, active = $8, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns,
		product.ID, product.Name, product.Category, product.Material,
		product.SellPrice, product.CostPrice, product.CommissionRate, product.Active))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

const kioskColumns = `id, code, store_name, vendor_id, capacity, created_at`

func scanKiosk(row scanner) (domain.Kiosk, error) {
	var k domain.Kiosk
	err := row.Scan(&k.ID, &k.Code, &k.StoreName, &k.VendorID, &k.Capacity, &k.CreatedAt)
	return k, err
}

func (s *Store) CreateKiosk(ctx context.Context, kiosk domain.Kiosk) (*domain.Kiosk, error) {
	if kiosk.ID == "" || kiosk.Code == "" {
		return nil, store.ErrInvalidTransaction
	}
	created, err := scanKiosk(s.db.QueryRowContext(ctx, `
		INSERT INTO kiosks (id, code, store_name, vendor_id, capacity, created_at)
		VALUES ($1,$2,$3,$4,$5,now())
		RETURNING `+kioskColumns,
		kiosk.ID, kiosk.Code, kiosk.StoreName, kiosk.VendorID, kiosk.Capacity))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return &created, nil
}

func (s *Store) GetKiosk(ctx context.Context, id string) (*domain.Kiosk, error) {
	k, err := scanKiosk(s.db.QueryRowContext(ctx, `SELECT `+kioskColumns+` FROM kiosks WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &k, nil
}

func (s *Store) ListKiosks(ctx context.Context) ([]domain.Kiosk, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+kioskColumns+` FROM kiosks ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	kiosks := make([]domain.Kiosk, 0, 16)
	for rows.Next() {
		k, err := scanKiosk(rows)
		if err != nil {
			return nil, err
		}
		kiosks = append(kiosks, k)
	}
	return kiosks, rows.Err()
}

func (s *Store) UpdateKioskVendor(ctx context.Context, kioskID string, vendorID string) (*domain.Kiosk, error) {
	k, err := scanKiosk(s.db.QueryRowContext(ctx, `
		UPDATE kiosks SET vendor_id = $2 WHERE id = $1
		RETURNING `+kioskColumns, kioskID, vendorID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &k, nil
}

const inventoryColumns = `id, kiosk_id, product_id, quantity, version, updated_at`

func scanInventory(row scanner) (domain.InventoryRecord, error) {
	var r domain.InventoryRecord
	err := row.Scan(&r.ID, &r.KioskID, &r.ProductID, &r.Quantity, &r.Version, &r.UpdatedAt)
	return r, err
}

func (s *Store) ListInventoryByKiosk(ctx context.Context, kioskID string) ([]domain.InventoryRecord, error) {
	return s.queryInventory(ctx, `SELECT `+inventoryColumns+` FROM inventory_records WHERE kiosk_id = $1 ORDER BY id`, kioskID)
}

func (s *Store) ListInventory(ctx context.Context) ([]domain.InventoryRecord, error) {
	return s.queryInventory(ctx, `SELECT `+inventoryColumns+` FROM inventory_records ORDER BY id`)
}

func (s *Store) DeleteInventory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM inventory_records WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) queryInventory(ctx context.Context, query string, args ...any) ([]domain.InventoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.InventoryRecord, 0, 32)
	for rows.Next() {
		r, err := scanInventory(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

const saleColumns = `id, vendor_id, kiosk_id, customer_id, payment_method, total_gross, discount, total_net, total_cost, total_commission, created_at`

func scanSale(row scanner) (domain.Sale, error) {
	var sale domain.Sale
	err := row.Scan(&sale.ID, &sale.VendorID, &sale.KioskID, &sale.CustomerID, &sale.PaymentMethod,
		&sale.TotalGross, &sale.Discount, &sale.TotalNet, &sale.TotalCost, &sale.TotalCommission, &sale.CreatedAt)
	return sale, err
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sales := []domain.Sale{sale}
	if err := s.attachLines(ctx, sales); err != nil {
		return nil, err
	}
	return &sales[0], nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	conditions := make([]string, 0, 4)
	args := make([]any, 0, 5)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if filter.KioskID != "" {
		add("kiosk_id = $%d", filter.KioskID)
	}
	if filter.VendorID != "" {
		add("vendor_id = $%d", filter.VendorID)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at < $%d", filter.To)
	}

	query := `SELECT ` + saleColumns + ` FROM sales`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	sales := make([]domain.Sale, 0, 32)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if err := s.attachLines(ctx, sales); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) attachLines(ctx context.Context, sales []domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	ids := make([]string, len(sales))
	index := make(map[string]int, len(sales))
	for i, sale := range sales {
		ids[i] = sale.ID
		index[sale.ID] = i
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, product_id, inventory_record_id, sku, name, quantity,
		       unit_price_at_sale, cost_at_sale, commission_rate, commission_amount
		FROM sale_lines
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, line_no
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var saleID string
		var line domain.SaleLine
		if err := rows.Scan(&saleID, &line.ProductID, &line.InventoryRecordID, &line.SKU, &line.Name, &line.Quantity,
			&line.UnitPriceAtSale, &line.CostAtSale, &line.CommissionRate, &line.CommissionAmount); err != nil {
			return err
		}
		if i, ok := index[saleID]; ok {
			sales[i].Lines = append(sales[i].Lines, line)
		}
	}
	return rows.Err()
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" || strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO customers (id, name, email, whatsapp, created_at)
		VALUES ($1,$2,$3,$4,now())
		RETURNING created_at
	`, customer.ID, customer.Name, customer.Email, customer.WhatsApp).Scan(&customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return &customer, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, whatsapp, created_at FROM customers WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Email, &c.WhatsApp, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) SearchCustomers(ctx context.Context, namePrefix string, limit int) ([]domain.Customer, error) {
	if limit < 1 {
		limit = 20
	}
	pattern := escapeLike(strings.ToLower(strings.TrimSpace(namePrefix))) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, whatsapp, created_at
		FROM customers
		WHERE lower(name) LIKE $1
		ORDER BY lower(name)
		LIMIT $2
	`, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, limit)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.WhatsApp, &c.CreatedAt); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleVendor
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, name, active, created_at)
		VALUES ($1,$2,$3,$4,true,$5)
	`, user.Username, user.Password, user.Role, user.Name, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, name, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Name, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE app_users SET password = $2 WHERE username = $1`,
		strings.ToLower(strings.TrimSpace(username)), password)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
