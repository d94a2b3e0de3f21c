package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"kioskpos/backend/internal/cache"
	"kioskpos/backend/internal/domain"
	"kioskpos/backend/internal/money"
	"kioskpos/backend/internal/sale"
	"kioskpos/backend/internal/store"
	"kioskpos/backend/internal/xid"
)

// ErrForbidden means the session may not perform the operation.
var ErrForbidden = errors.New("forbidden")

type Service struct {
	repo     store.Repository
	cache    cache.InventoryCache
	cacheTTL time.Duration
	engine   *sale.Engine
	logger   *slog.Logger

	// invalidation count per kiosk; a view loaded across an invalidation is
	// not left in the cache
	genMu       sync.Mutex
	generations map[string]uint64
}

func New(repo store.Repository, inventoryCache cache.InventoryCache, cacheTTL time.Duration, logger *slog.Logger) *Service {
	if inventoryCache == nil {
		inventoryCache = cache.NoopInventoryCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		repo:     repo,
		cache:    inventoryCache,
		cacheTTL: cacheTTL,
		engine:   sale.NewEngine(repo, logger),
		logger:   logger.With("component", "service"),

		generations: make(map[string]uint64),
	}
}

func requireAdmin(session domain.Session) error {
	if !session.IsAdmin() {
		return fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return nil
}

// authorizeKiosk returns the kiosk if session may operate it: admins reach
// every kiosk, vendors only the ones they are responsible for.
func (s *Service) authorizeKiosk(ctx context.Context, session domain.Session, kioskID string) (*domain.Kiosk, error) {
	if strings.TrimSpace(kioskID) == "" {
		return nil, fmt.Errorf("%w: kiosk_id is required", store.ErrInvalidTransaction)
	}
	kiosk, err := s.repo.GetKiosk(ctx, kioskID)
	if err != nil {
		return nil, err
	}
	if !session.IsAdmin() && kiosk.VendorID != session.PrincipalID {
		return nil, fmt.Errorf("%w: kiosk %s belongs to another vendor", ErrForbidden, kioskID)
	}
	return kiosk, nil
}

// audit records an operator action in the structured log.
func (s *Service) audit(ctx context.Context, session domain.Session, action string, entity string, attrs ...any) {
	args := append([]any{"action", action, "entity", entity, "principal", session.PrincipalID, "role", session.Role}, attrs...)
	s.logger.InfoContext(ctx, "audit", args...)
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, session domain.Session, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireAdmin(session); err != nil {
		return domain.Product{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.ToLower(strings.TrimSpace(req.Category))
	req.Material = strings.TrimSpace(req.Material)

	if req.SKU == "" || req.Name == "" || req.Category == "" {
		return domain.Product{}, store.ErrInvalidTransaction
	}
	if !req.SellPrice.IsPositive() || req.CostPrice.IsNegative() {
		return domain.Product{}, store.ErrInvalidTransaction
	}
	rate := domain.DefaultCommissionRate
	if req.CommissionRate != nil {
		rate = *req.CommissionRate
	}
	if !money.ValidRate(rate) {
		return domain.Product{}, store.ErrInvalidTransaction
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:             xid.New("prd"),
		SKU:            req.SKU,
		Name:           req.Name,
		Category:       req.Category,
		Material:       req.Material,
		SellPrice:      money.Round(req.SellPrice),
		CostPrice:      money.Round(req.CostPrice),
		CommissionRate: rate,
		Active:         true,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.audit(ctx, session, "product_create", created.ID, "sku", created.SKU, "price", created.SellPrice.StringFixed(money.Places))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, session domain.Session, productID string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := requireAdmin(session); err != nil {
		return domain.Product{}, err
	}

	current, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	next := *current

	if req.Name != nil {
		next.Name = strings.TrimSpace(*req.Name)
	}
	if req.Category != nil {
		next.Category = strings.ToLower(strings.TrimSpace(*req.Category))
	}
	if req.Material != nil {
		next.Material = strings.TrimSpace(*req.Material)
	}
	if req.SellPrice != nil {
		next.SellPrice = money.Round(*req.SellPrice)
	}
	if req.CostPrice != nil {
		next.CostPrice = money.Round(*req.CostPrice)
	}
	if req.CommissionRate != nil {
		next.CommissionRate = *req.CommissionRate
	}
	if req.Active != nil {
		next.Active = *req.Active
	}

	if next.Name == "" || next.Category == "" || !next.SellPrice.IsPositive() || next.CostPrice.IsNegative() {
		return domain.Product{}, store.ErrInvalidTransaction
	}
	if !money.ValidRate(next.CommissionRate) {
		return domain.Product{}, store.ErrInvalidTransaction
	}

	saved, err := s.repo.UpdateProduct(ctx, next)
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidateAll(ctx)

	s.audit(ctx, session, "product_update", saved.ID,
		"old_price", current.SellPrice.StringFixed(money.Places),
		"new_price", saved.SellPrice.StringFixed(money.Places),
		"active", saved.Active)
	return *saved, nil
}

func (s *Service) CreateKiosk(ctx context.Context, session domain.Session, req domain.KioskCreateRequest) (domain.Kiosk, error) {
	if err := requireAdmin(session); err != nil {
		return domain.Kiosk{}, err
	}

	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	req.StoreName = strings.TrimSpace(req.StoreName)
	req.VendorID = strings.TrimSpace(req.VendorID)
	if req.Code == "" || req.StoreName == "" || req.Capacity < 0 {
		return domain.Kiosk{}, store.ErrInvalidTransaction
	}
	if req.Capacity == 0 {
		req.Capacity = domain.DefaultKioskCapacity
	}
	if req.VendorID != "" {
		if err := s.ensureVendor(ctx, req.VendorID); err != nil {
			return domain.Kiosk{}, err
		}
	}

	created, err := s.repo.CreateKiosk(ctx, domain.Kiosk{
		ID:        xid.New("kiosk"),
		Code:      req.Code,
		StoreName: req.StoreName,
		VendorID:  req.VendorID,
		Capacity:  req.Capacity,
	})
	if err != nil {
		return domain.Kiosk{}, err
	}

	s.audit(ctx, session, "kiosk_create", created.ID, "code", created.Code, "vendor", created.VendorID)
	return *created, nil
}

// ListKiosks returns every kiosk to admins and only their own to vendors.
func (s *Service) ListKiosks(ctx context.Context, session domain.Session) ([]domain.Kiosk, error) {
	if !session.IsAdmin() {
		return s.VendorKiosks(ctx, session)
	}
	return s.repo.ListKiosks(ctx)
}

// VendorKiosks is the "my kiosk" lookup for the logged-in vendor.
func (s *Service) VendorKiosks(ctx context.Context, session domain.Session) ([]domain.Kiosk, error) {
	all, err := s.repo.ListKiosks(ctx)
	if err != nil {
		return nil, err
	}
	mine := make([]domain.Kiosk, 0, 1)
	for _, k := range all {
		if k.VendorID == session.PrincipalID {
			mine = append(mine, k)
		}
	}
	return mine, nil
}

// AssignVendor sets the vendor responsible for a kiosk. An empty vendorID
// leaves the kiosk unassigned.
func (s *Service) AssignVendor(ctx context.Context, session domain.Session, kioskID string, vendorID string) (domain.Kiosk, error) {
	if err := requireAdmin(session); err != nil {
		return domain.Kiosk{}, err
	}
	vendorID = strings.TrimSpace(vendorID)
	if vendorID != "" {
		if err := s.ensureVendor(ctx, vendorID); err != nil {
			return domain.Kiosk{}, err
		}
	}

	updated, err := s.repo.UpdateKioskVendor(ctx, kioskID, vendorID)
	if err != nil {
		return domain.Kiosk{}, err
	}
	s.audit(ctx, session, "kiosk_assign_vendor", kioskID, "vendor", vendorID)
	return *updated, nil
}

func (s *Service) ListVendors(ctx context.Context, session domain.Session) ([]domain.VendorUser, error) {
	if err := requireAdmin(session); err != nil {
		return nil, err
	}
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	vendors := make([]domain.VendorUser, 0, len(users))
	for _, u := range users {
		if u.Role != domain.RoleVendor {
			continue
		}
		vendors = append(vendors, domain.VendorUser{
			Username:  u.Username,
			Name:      u.Name,
			Role:      u.Role,
			Active:    u.Active,
			CreatedAt: u.CreatedAt,
		})
	}
	return vendors, nil
}

func (s *Service) ensureVendor(ctx context.Context, vendorID string) error {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return err
	}
	for _, u := range users {
		if u.Username == vendorID && u.Role == domain.RoleVendor && u.Active {
			return nil
		}
	}
	return fmt.Errorf("%w: vendor %s", store.ErrNotFound, vendorID)
}
