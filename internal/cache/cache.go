package cache

import (
	"context"
	"time"

	"kioskpos/backend/internal/domain"
)

// InventoryCache holds the joined inventory view of a kiosk. Entries are
// advisory; the sale engine always re-reads inventory inside its transaction.
type InventoryCache interface {
	Get(ctx context.Context, kioskID string) ([]domain.InventoryItemView, bool, error)
	Set(ctx context.Context, kioskID string, items []domain.InventoryItemView, ttl time.Duration) error
	Invalidate(ctx context.Context, kioskID string) error
}

type NoopInventoryCache struct{}

func (NoopInventoryCache) Get(_ context.Context, _ string) ([]domain.InventoryItemView, bool, error) {
	return nil, false, nil
}

func (NoopInventoryCache) Set(_ context.Context, _ string, _ []domain.InventoryItemView, _ time.Duration) error {
	return nil
}

func (NoopInventoryCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

func inventoryKey(kioskID string) string {
	return "kioskpos:inventory:" + kioskID
}
