package memory

import (
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"kioskpos/backend/internal/domain"
)

// seedUsers builds the demo accounts. Passwords come from SEED_ADMIN_PASSWORD
// and SEED_VENDOR_PASSWORD, falling back to dev defaults with a warning.
func seedUsers(now time.Time) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	vendorPwd := envOr("SEED_VENDOR_PASSWORD", "vendor123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_VENDOR_PASSWORD") == "" {
		slog.Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_VENDOR_PASSWORD to override", "component", "memory-store")
	}

	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
		name     string
	}{
		{"admin", adminPwd, domain.RoleAdmin, "Administrator"},
		{"vendor", vendorPwd, domain.RoleVendor, "Kiosk Vendor"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			panic("memory-store: hash seed password: " + err.Error())
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Name:      u.name,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with demo users, two kiosks and a small jewelry
// catalog stocked at the first kiosk.
func NewSeeded(opts ...Option) *Store {
	s := New(opts...)
	now := s.now()

	price := decimal.RequireFromString
	products := []domain.Product{
		{ID: "prd-ring-01", SKU: "RING-01", Name: "Gold Solitaire Ring", Category: "rings", Material: "18k gold", SellPrice: price("1290.00"), CostPrice: price("610.00"), CommissionRate: price("10")},
		{ID: "prd-ring-02", SKU: "RING-02", Name: "Silver Band", Category: "rings", Material: "925 silver", SellPrice: price("189.90"), CostPrice: price("62.00"), CommissionRate: price("12")},
		{ID: "prd-neck-01", SKU: "NECK-01", Name: "Pearl Necklace", Category: "necklaces", Material: "freshwater pearl", SellPrice: price("459.00"), CostPrice: price("180.00"), CommissionRate: price("10")},
		{ID: "prd-ear-01", SKU: "EAR-01", Name: "Hoop Earrings", Category: "earrings", Material: "gold plated", SellPrice: price("99.90"), CostPrice: price("28.50"), CommissionRate: price("15")},
		{ID: "prd-brac-01", SKU: "BRAC-01", Name: "Charm Bracelet", Category: "bracelets", Material: "925 silver", SellPrice: price("249.00"), CostPrice: price("95.00"), CommissionRate: price("10")},
	}
	stock := map[string]int{
		"prd-ring-01": 3,
		"prd-ring-02": 12,
		"prd-neck-01": 5,
		"prd-ear-01":  20,
		"prd-brac-01": 8,
	}

	kiosks := []domain.Kiosk{
		{ID: "kiosk-center", Code: "CTR-01", StoreName: "Center Mall", VendorID: "vendor", Capacity: domain.DefaultKioskCapacity, CreatedAt: now},
		{ID: "kiosk-north", Code: "NTH-01", StoreName: "North Plaza", Capacity: domain.DefaultKioskCapacity, CreatedAt: now},
	}
	for _, k := range kiosks {
		s.kiosks[k.ID] = k
	}

	for _, p := range products {
		p.Active = true
		p.CreatedAt = now
		s.products[p.ID] = p
		s.productVersions[p.ID] = 1
		s.skuIndex[p.SKU] = p.ID

		id := domain.InventoryRecordID("kiosk-center", p.ID)
		s.inventory[id] = domain.InventoryRecord{
			ID:        id,
			KioskID:   "kiosk-center",
			ProductID: p.ID,
			Quantity:  stock[p.ID],
			Version:   1,
			UpdatedAt: now,
		}
		s.recordVersions[id] = 1
	}

	s.usersByUsername = seedUsers(now)
	return s
}
