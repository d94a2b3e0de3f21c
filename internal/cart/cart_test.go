package cart

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kioskpos/backend/internal/domain"
)

func record(id string, qty int) domain.InventoryRecord {
	return domain.InventoryRecord{ID: id, KioskID: "k1", ProductID: "p-" + id, Quantity: qty}
}

func product(id string, price string) domain.Product {
	return domain.Product{ID: "p-" + id, Name: "Item " + id, SKU: "SKU-" + id,
		SellPrice: decimal.RequireFromString(price), CommissionRate: decimal.NewFromInt(10)}
}

func TestAddItemMergesAndCapsAtSnapshotStock(t *testing.T) {
	c := New()
	rec := record("a", 2)

	_, err := c.AddItem(rec, product("a", "10"))
	require.NoError(t, err)
	line, err := c.AddItem(rec, product("a", "10"))
	require.NoError(t, err)
	assert.Equal(t, 2, line.Quantity)

	line, err = c.AddItem(rec, product("a", "10"))
	assert.ErrorIs(t, err, ErrStockLimit)
	assert.Equal(t, 2, line.Quantity)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, StateAccumulating, c.State())
}

func TestAddItemRejectsOutOfStockRecord(t *testing.T) {
	c := New()
	_, err := c.AddItem(record("a", 0), product("a", "10"))
	assert.ErrorIs(t, err, ErrStockLimit)
	assert.Equal(t, StateEmpty, c.State())
	assert.Zero(t, c.Len())
}

func TestPriceIsCapturedWhenLineIsCreated(t *testing.T) {
	c := New()
	rec := record("a", 5)
	_, err := c.AddItem(rec, product("a", "10"))
	require.NoError(t, err)

	// a later catalog price change does not reprice the open line
	_, err = c.AddItem(rec, product("a", "99"))
	require.NoError(t, err)
	assert.True(t, c.Total().Equal(decimal.NewFromInt(20)))
}

func TestRemoveItemKeepsOrderAndReturnsToEmpty(t *testing.T) {
	c := New()
	for _, id := range []string{"a", "b", "c"} {
		_, err := c.AddItem(record(id, 3), product(id, "1"))
		require.NoError(t, err)
	}

	require.NoError(t, c.RemoveItem("b"))
	lines := c.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "a", lines[0].InventoryRecordID)
	assert.Equal(t, "c", lines[1].InventoryRecordID)

	_, err := c.AddItem(record("c", 3), product("c", "1"))
	require.NoError(t, err)
	assert.Equal(t, 2, c.Lines()[1].Quantity)

	require.NoError(t, c.RemoveItem("missing"))
	require.NoError(t, c.RemoveItem("a"))
	require.NoError(t, c.RemoveItem("c"))
	assert.Equal(t, StateEmpty, c.State())
}

func TestTotalUsesCurrencyRounding(t *testing.T) {
	c := New()
	rec := record("a", 10)
	for i := 0; i < 3; i++ {
		_, err := c.AddItem(rec, product("a", "0.335"))
		require.NoError(t, err)
	}
	assert.Equal(t, "1.01", c.Total().StringFixed(2))
}

func TestCommitLifecycle(t *testing.T) {
	c := New()

	_, err := c.BeginCommit()
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = c.AddItem(record("a", 5), product("a", "100"))
	require.NoError(t, err)

	lines, err := c.BeginCommit()
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, StateCommitPending, c.State())

	_, err = c.BeginCommit()
	assert.ErrorIs(t, err, ErrCommitPending)
	_, err = c.AddItem(record("a", 5), product("a", "100"))
	assert.ErrorIs(t, err, ErrCommitPending)
	assert.ErrorIs(t, c.RemoveItem("a"), ErrCommitPending)
	assert.ErrorIs(t, c.Clear(), ErrCommitPending)

	require.NoError(t, c.CommitFailed())
	assert.Equal(t, StateAccumulating, c.State())
	assert.Equal(t, 1, c.Len())

	_, err = c.BeginCommit()
	require.NoError(t, err)
	require.NoError(t, c.CommitSucceeded())
	assert.Equal(t, StateEmpty, c.State())
	assert.Zero(t, c.Len())
	assert.ErrorIs(t, c.CommitSucceeded(), ErrNotPending)
}

func TestLinesReturnsCopy(t *testing.T) {
	c := New()
	_, err := c.AddItem(record("a", 5), product("a", "100"))
	require.NoError(t, err)

	lines := c.Lines()
	lines[0].Quantity = 99
	assert.Equal(t, 1, c.Lines()[0].Quantity)
}
