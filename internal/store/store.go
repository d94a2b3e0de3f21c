package store

import (
	"context"
	"errors"

	"kioskpos/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrDuplicate          = errors.New("already exists")
	// ErrConflict is returned by RunAtomic once every attempt lost a race
	// against a concurrent writer.
	ErrConflict       = errors.New("concurrent modification")
	ErrReadAfterWrite = errors.New("read after write in atomic unit")
)

// DefaultMaxAttempts bounds how often RunAtomic re-runs a unit of work that
// hit a conflict.
const DefaultMaxAttempts = 5

type Repository interface {
	Atomic

	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	CreateKiosk(ctx context.Context, kiosk domain.Kiosk) (*domain.Kiosk, error)
	GetKiosk(ctx context.Context, id string) (*domain.Kiosk, error)
	ListKiosks(ctx context.Context) ([]domain.Kiosk, error)
	UpdateKioskVendor(ctx context.Context, kioskID string, vendorID string) (*domain.Kiosk, error)

	ListInventoryByKiosk(ctx context.Context, kioskID string) ([]domain.InventoryRecord, error)
	ListInventory(ctx context.Context) ([]domain.InventoryRecord, error)
	// DeleteInventory removes a record outside any unit of work. Units that
	// already read it fail their commit and re-run.
	DeleteInventory(ctx context.Context, id string) error

	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	SearchCustomers(ctx context.Context, namePrefix string, limit int) ([]domain.Customer, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// Atomic runs a unit of work against a consistent view of inventory.
//
// fn may be invoked more than once: when the store detects that a record fn
// read was changed by someone else before fn's writes were applied, the
// writes are discarded and fn runs again from scratch. fn must therefore keep
// no state across invocations. Returning an error from fn aborts without
// retry and without applying any write.
type Atomic interface {
	RunAtomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the view of the store inside RunAtomic. All reads must happen before
// the first write.
type Tx interface {
	GetInventory(ctx context.Context, id string) (*domain.InventoryRecord, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	// PutInventory writes a record previously read in this unit (or reported
	// missing by GetInventory, in which case it is created).
	PutInventory(ctx context.Context, record domain.InventoryRecord) error
	// InsertSale appends a sale. CreatedAt is assigned by the store.
	InsertSale(ctx context.Context, sale domain.Sale) error
}

// Guard enforces read-before-write ordering for Tx implementations.
type Guard struct {
	wrote bool
}

func (g *Guard) BeforeRead() error {
	if g.wrote {
		return ErrReadAfterWrite
	}
	return nil
}

func (g *Guard) BeforeWrite() {
	g.wrote = true
}
