package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"kioskpos/backend/internal/domain"
	"kioskpos/backend/internal/store"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	productVersions map[string]int64
	skuIndex        map[string]string
	kiosks          map[string]domain.Kiosk
	inventory       map[string]domain.InventoryRecord
	// last version per inventory id, kept after a delete so a recreated
	// record never reuses a version an open unit may have read
	recordVersions  map[string]int64
	sales           []domain.Sale
	salesByID       map[string]int
	customers       map[string]domain.Customer
	usersByUsername map[string]domain.UserAccount

	maxAttempts int
	now         func() time.Time
}

type Option func(*Store)

// WithMaxAttempts bounds RunAtomic retries.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithClock replaces the clock used for server-assigned timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		products:        make(map[string]domain.Product),
		productVersions: make(map[string]int64),
		skuIndex:        make(map[string]string),
		kiosks:          make(map[string]domain.Kiosk),
		inventory:       make(map[string]domain.InventoryRecord),
		recordVersions:  make(map[string]int64),
		salesByID:       make(map[string]int),
		customers:       make(map[string]domain.Customer),
		usersByUsername: make(map[string]domain.UserAccount),
		maxAttempts:     store.DefaultMaxAttempts,
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmp.Compare(a.Name, b.Name)
		}
		return cmp.Compare(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.SKU == "" || product.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrDuplicate
	}
	if _, exists := s.skuIndex[product.SKU]; exists {
		return nil, store.ErrDuplicate
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = s.now()
	}

	s.products[product.ID] = product
	s.productVersions[product.ID] = 1
	s.skuIndex[product.SKU] = product.ID
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.products[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if product.SKU != existing.SKU {
		return nil, store.ErrInvalidTransaction
	}
	product.CreatedAt = existing.CreatedAt

	s.products[product.ID] = product
	s.productVersions[product.ID]++
	updated := product
	return &updated, nil
}

func (s *Store) CreateKiosk(_ context.Context, kiosk domain.Kiosk) (*domain.Kiosk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if kiosk.ID == "" || kiosk.Code == "" {
		return nil, store.ErrInvalidTransaction
	}
	for _, k := range s.kiosks {
		if k.ID == kiosk.ID || strings.EqualFold(k.Code, kiosk.Code) {
			return nil, store.ErrDuplicate
		}
	}
	if kiosk.CreatedAt.IsZero() {
		kiosk.CreatedAt = s.now()
	}
	s.kiosks[kiosk.ID] = kiosk
	created := kiosk
	return &created, nil
}

func (s *Store) GetKiosk(_ context.Context, id string) (*domain.Kiosk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kiosk, exists := s.kiosks[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &kiosk, nil
}

func (s *Store) ListKiosks(_ context.Context) ([]domain.Kiosk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kiosks := make([]domain.Kiosk, 0, len(s.kiosks))
	for _, k := range s.kiosks {
		kiosks = append(kiosks, k)
	}
	slices.SortFunc(kiosks, func(a, b domain.Kiosk) int { return cmp.Compare(a.Code, b.Code) })
	return kiosks, nil
}

func (s *Store) UpdateKioskVendor(_ context.Context, kioskID string, vendorID string) (*domain.Kiosk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kiosk, exists := s.kiosks[kioskID]
	if !exists {
		return nil, store.ErrNotFound
	}
	kiosk.VendorID = vendorID
	s.kiosks[kioskID] = kiosk
	return &kiosk, nil
}

func (s *Store) ListInventoryByKiosk(_ context.Context, kioskID string) ([]domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]domain.InventoryRecord, 0, 16)
	for _, rec := range s.inventory {
		if rec.KioskID == kioskID {
			records = append(records, rec)
		}
	}
	slices.SortFunc(records, func(a, b domain.InventoryRecord) int { return cmp.Compare(a.ID, b.ID) })
	return records, nil
}

func (s *Store) ListInventory(_ context.Context) ([]domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]domain.InventoryRecord, 0, len(s.inventory))
	for _, rec := range s.inventory {
		records = append(records, rec)
	}
	slices.SortFunc(records, func(a, b domain.InventoryRecord) int { return cmp.Compare(a.ID, b.ID) })
	return records, nil
}

func (s *Store) DeleteInventory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inventory[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.inventory, id)
	s.recordVersions[id]++
	return nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	sale := cloneSale(s.sales[idx])
	return &sale, nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, 32)
	for i := len(s.sales) - 1; i >= 0; i-- {
		sale := s.sales[i]
		if filter.KioskID != "" && sale.KioskID != filter.KioskID {
			continue
		}
		if filter.VendorID != "" && sale.VendorID != filter.VendorID {
			continue
		}
		if !filter.From.IsZero() && sale.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !sale.CreatedAt.Before(filter.To) {
			continue
		}
		sales = append(sales, cloneSale(sale))
		if filter.Limit > 0 && len(sales) >= filter.Limit {
			break
		}
	}
	return sales, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" || strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	for _, c := range s.customers {
		if c.ID == customer.ID {
			return nil, store.ErrDuplicate
		}
		if customer.Email != "" && strings.EqualFold(c.Email, customer.Email) {
			return nil, store.ErrDuplicate
		}
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = s.now()
	}
	s.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customers[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) SearchCustomers(_ context.Context, namePrefix string, limit int) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := strings.ToLower(strings.TrimSpace(namePrefix))
	result := make([]domain.Customer, 0, 8)
	for _, c := range s.customers {
		if strings.HasPrefix(strings.ToLower(c.Name), prefix) {
			result = append(result, c)
		}
	}
	slices.SortFunc(result, func(a, b domain.Customer) int {
		return cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrDuplicate
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleVendor
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmp.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneSale(src domain.Sale) domain.Sale {
	dup := src
	dup.Lines = make([]domain.SaleLine, len(src.Lines))
	copy(dup.Lines, src.Lines)
	return dup
}
