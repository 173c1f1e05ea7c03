package catalog

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safar/storefront-core/internal/models"
	"github.com/safar/storefront-core/internal/statestore"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	backend, err := statestore.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	return New(statestore.New(backend))
}

func strPtr(items ...string) *[]string {
	s := append([]string{}, items...)
	return &s
}

func TestNormalizeDerivesStock(t *testing.T) {
	p := models.Product{
		ID:        "p1",
		Name:      "  VPN  ",
		Price:     decimal.NewFromInt(10),
		Inventory: []string{"a", " ", "b", ""},
	}
	Normalize(&p)

	assert.Equal(t, "VPN", p.Name)
	assert.Equal(t, []string{"a", "b"}, p.Inventory)
	assert.Equal(t, 2, p.Stock)
	assert.Equal(t, "1 Month", p.Duration)
	assert.Equal(t, "OTHER", p.Type)
	assert.Equal(t, "public", p.Visibility)
	assert.True(t, p.OriginalPrice.Equal(p.Price))
}

func TestNormalizeTieredStock(t *testing.T) {
	p := models.Product{
		ID:        "p1",
		Inventory: []string{"leaked"},
		Tiers: []models.Tier{
			{ID: "t1", Inventory: []string{"a", "b"}},
			{ID: "t2", Inventory: []string{"c"}},
		},
	}
	Normalize(&p)

	assert.Equal(t, 3, p.Stock)
	assert.Empty(t, p.Inventory)
	assert.Equal(t, 2, p.Tiers[0].Stock)
	assert.Equal(t, 1, p.Tiers[1].Stock)
}

func TestNormalizeBareCounterKept(t *testing.T) {
	p := models.Product{ID: "p1", Stock: 7}
	Normalize(&p)
	assert.Equal(t, 7, p.Stock)
}

func TestUpsertPreservesInventory(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Upsert(ctx, UpsertInput{
		ID:        "p1",
		Name:      "Keys",
		Price:     decimal.NewFromInt(5),
		Inventory: strPtr("k1", "k2"),
	})
	require.NoError(t, err)

	// metadata-only edit, no inventory field
	p, err := svc.Upsert(ctx, UpsertInput{
		ID:    "p1",
		Name:  "Keys v2",
		Price: decimal.NewFromInt(6),
	})
	require.NoError(t, err)
	assert.Equal(t, "Keys v2", p.Name)
	assert.Equal(t, []string{"k1", "k2"}, p.Inventory)
	assert.Equal(t, 2, p.Stock)

	// explicit empty array wipes
	p, err = svc.Upsert(ctx, UpsertInput{
		ID:        "p1",
		Name:      "Keys v3",
		Price:     decimal.NewFromInt(6),
		Inventory: strPtr(),
	})
	require.NoError(t, err)
	assert.Empty(t, p.Inventory)
	assert.Equal(t, 0, p.Stock)
}

func TestUpsertKeepsNameWhenOmitted(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Upsert(ctx, UpsertInput{ID: "p1", Name: "Keys", Price: decimal.NewFromInt(5)})
	require.NoError(t, err)

	// price-only re-upsert round-trips the stored name
	p, err := svc.Upsert(ctx, UpsertInput{ID: "p1", Price: decimal.NewFromInt(8)})
	require.NoError(t, err)
	assert.Equal(t, "Keys", p.Name)
	assert.True(t, p.Price.Equal(decimal.NewFromInt(8)))
}

func TestUpsertMergesTierInventory(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Upsert(ctx, UpsertInput{
		ID: "p1", Name: "Plans", Price: decimal.NewFromInt(5),
		Tiers: &[]TierInput{
			{ID: "t1", Name: "Basic", Price: decimal.NewFromInt(5), Inventory: strPtr("a", "b")},
		},
	})
	require.NoError(t, err)

	p, err := svc.Upsert(ctx, UpsertInput{
		ID: "p1", Name: "Plans", Price: decimal.NewFromInt(5),
		Tiers: &[]TierInput{
			{ID: "t1", Name: "Basic+", Price: decimal.NewFromInt(7)},
			{ID: "t2", Name: "Pro", Price: decimal.NewFromInt(9), Inventory: strPtr("x")},
		},
	})
	require.NoError(t, err)

	require.Len(t, p.Tiers, 2)
	assert.Equal(t, []string{"a", "b"}, p.Tiers[0].Inventory)
	assert.Equal(t, "Basic+", p.Tiers[0].Name)
	assert.Equal(t, []string{"x"}, p.Tiers[1].Inventory)
	assert.Equal(t, 3, p.Stock)
}

func TestDeleteUnknownProduct(t *testing.T) {
	svc := newTestService(t)
	err := svc.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestAddInventory(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Upsert(ctx, UpsertInput{ID: "p1", Name: "Keys", Price: decimal.NewFromInt(5)})
	require.NoError(t, err)

	stock, err := svc.AddInventory(ctx, "p1", "", []string{"k1", "  ", "k2"})
	require.NoError(t, err)
	assert.Equal(t, 2, stock)

	_, err = svc.AddInventory(ctx, "p1", "", []string{" "})
	assert.ErrorIs(t, err, ErrNoInventory)

	_, err = svc.AddInventory(ctx, "missing", "", []string{"k"})
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestAddInventoryTier(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Upsert(ctx, UpsertInput{
		ID: "p1", Name: "Plans", Price: decimal.NewFromInt(5),
		Tiers: &[]TierInput{{ID: "t1", Name: "Basic", Price: decimal.NewFromInt(5)}},
	})
	require.NoError(t, err)

	stock, err := svc.AddInventory(ctx, "p1", "t1", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, 3, stock)

	_, err = svc.AddInventory(ctx, "p1", "nope", []string{"a"})
	assert.ErrorIs(t, err, ErrTierNotFound)

	_, err = svc.AddInventory(ctx, "p1", "", []string{"a"})
	assert.ErrorIs(t, err, ErrTierRequired)
}

func TestAdjustStock(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Upsert(ctx, UpsertInput{
		ID: "p1", Name: "Keys", Price: decimal.NewFromInt(5),
		Inventory: strPtr("a", "b", "c"),
	})
	require.NoError(t, err)

	_, err = svc.AdjustStock(ctx, "p1", "", 2)
	assert.ErrorIs(t, err, ErrPositiveAdjust)

	p, err := svc.AdjustStock(ctx, "p1", "", -2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, p.Inventory)
	assert.Equal(t, 1, p.Stock)

	// over-trim floors at zero
	p, err = svc.AdjustStock(ctx, "p1", "", -5)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Stock)
}

func TestAdjustStockBareCounter(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Upsert(ctx, UpsertInput{ID: "p1", Name: "Keys", Price: decimal.NewFromInt(5), Stock: 4})
	require.NoError(t, err)

	p, err := svc.AdjustStock(ctx, "p1", "", -3)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stock)

	p, err = svc.AdjustStock(ctx, "p1", "", -3)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Stock)
}

func TestAdjustStockTierRequired(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Upsert(ctx, UpsertInput{
		ID: "p1", Name: "Plans", Price: decimal.NewFromInt(5),
		Tiers: &[]TierInput{{ID: "t1", Name: "Basic", Price: decimal.NewFromInt(5), Inventory: strPtr("a", "b")}},
	})
	require.NoError(t, err)

	_, err = svc.AdjustStock(ctx, "p1", "", -1)
	assert.ErrorIs(t, err, ErrTierRequired)

	p, err := svc.AdjustStock(ctx, "p1", "t1", -1)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Tier("t1").Stock)
}

func TestPublicViewStripsInventory(t *testing.T) {
	p := models.Product{
		ID:        "p1",
		Inventory: []string{"secret"},
		Tiers:     []models.Tier{{ID: "t1", Inventory: []string{"secret2"}}},
	}
	pub := PublicView(p)

	assert.Nil(t, pub.Inventory)
	assert.Nil(t, pub.Tiers[0].Inventory)
	// original untouched
	assert.Equal(t, []string{"secret"}, p.Inventory)
	assert.Equal(t, []string{"secret2"}, p.Tiers[0].Inventory)
}
