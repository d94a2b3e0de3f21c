package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kioskpos/backend/internal/domain"
)

func TestNoopInventoryCacheAlwaysMisses(t *testing.T) {
	var c InventoryCache = NoopInventoryCache{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "kiosk-1", []domain.InventoryItemView{{RecordID: "r"}}, time.Minute))
	_, hit, err := c.Get(ctx, "kiosk-1")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NoError(t, c.Invalidate(ctx, "kiosk-1"))
}

func TestRedisInventoryCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("KIOSKPOS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set KIOSKPOS_TEST_REDIS_ADDR to run redis integration test")
	}
	c := NewRedisInventoryCache(addr, "", 0)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))

	kioskID := "kiosk-it-" + time.Now().Format("150405.000000")
	items := []domain.InventoryItemView{{
		RecordID:  domain.InventoryRecordID(kioskID, "prd-1"),
		KioskID:   kioskID,
		ProductID: "prd-1",
		Quantity:  4,
		Name:      "Ring",
		SellPrice: decimal.RequireFromString("129.90"),
	}}
	require.NoError(t, c.Set(ctx, kioskID, items, time.Minute))

	got, hit, err := c.Get(ctx, kioskID)
	require.NoError(t, err)
	require.True(t, hit)
	require.Len(t, got, 1)
	assert.Equal(t, 4, got[0].Quantity)
	assert.True(t, got[0].SellPrice.Equal(items[0].SellPrice))

	require.NoError(t, c.Invalidate(ctx, kioskID))
	_, hit, err = c.Get(ctx, kioskID)
	require.NoError(t, err)
	assert.False(t, hit)
}
