package purchase

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safar/storefront-core/internal/catalog"
	"github.com/safar/storefront-core/internal/models"
	"github.com/safar/storefront-core/internal/statestore"
)

type countingNotifier struct {
	sent int
}

func (n *countingNotifier) PurchaseEmail(_ context.Context, _ *models.SafeUser, _ *models.Order) error {
	n.sent++
	return nil
}

func newTestPipeline(t *testing.T) (*Pipeline, *catalog.Service, *countingNotifier) {
	t.Helper()
	backend, err := statestore.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	state := statestore.New(backend)
	cat := catalog.New(state)
	notifier := &countingNotifier{}
	return New(state, cat, notifier), cat, notifier
}

func seedProduct(t *testing.T, cat *catalog.Service, id string, price int64, inventory ...string) {
	t.Helper()
	inv := append([]string{}, inventory...)
	_, err := cat.Upsert(context.Background(), catalog.UpsertInput{
		ID:        id,
		Name:      "Product " + id,
		Price:     decimal.NewFromInt(price),
		Inventory: &inv,
	})
	require.NoError(t, err)
}

func testUser() *models.User {
	return &models.User{ID: "u1", Email: "buyer@example.com", Role: models.RoleUser}
}

func TestPrepareRecomputesPrices(t *testing.T) {
	ctx := context.Background()
	pipe, cat, _ := newTestPipeline(t)
	seedProduct(t, cat, "p1", 10, "a", "b", "c")

	items, total, err := pipe.Prepare(ctx, []RawLine{{ProductID: "p1", Quantity: 2}})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "p1", items[0].ID)
	assert.True(t, items[0].Price.Equal(decimal.NewFromInt(10)))
	assert.True(t, total.Equal(decimal.NewFromInt(20)))
}

func TestPrepareRejectsBadLines(t *testing.T) {
	ctx := context.Background()
	pipe, cat, _ := newTestPipeline(t)
	seedProduct(t, cat, "p1", 10, "a")

	_, _, err := pipe.Prepare(ctx, []RawLine{{ProductID: "missing", Quantity: 1}})
	assert.ErrorIs(t, err, catalog.ErrProductNotFound)

	_, _, err = pipe.Prepare(ctx, []RawLine{{ProductID: "p1", Quantity: 0}})
	assert.ErrorIs(t, err, ErrQuantityInvalid)

	_, _, err = pipe.Prepare(ctx, []RawLine{{Quantity: 1}})
	assert.ErrorIs(t, err, ErrLineInvalid)

	_, _, err = pipe.Prepare(ctx, nil)
	assert.ErrorIs(t, err, ErrLineInvalid)
}

func TestPrepareTierPricing(t *testing.T) {
	ctx := context.Background()
	pipe, cat, _ := newTestPipeline(t)

	tiers := []catalog.TierInput{
		{ID: "t1", Name: "Basic", Price: decimal.NewFromInt(5)},
		{ID: "t2", Name: "Pro", Price: decimal.NewFromInt(12)},
	}
	_, err := cat.Upsert(ctx, catalog.UpsertInput{
		ID: "p1", Name: "Plans", Price: decimal.NewFromInt(5), Tiers: &tiers,
	})
	require.NoError(t, err)

	items, total, err := pipe.Prepare(ctx, []RawLine{{ProductID: "p1", TierID: "t2", Quantity: 1}})
	require.NoError(t, err)
	assert.Equal(t, "p1::t2", items[0].ID)
	assert.Equal(t, "Plans - Pro", items[0].Name)
	assert.True(t, total.Equal(decimal.NewFromInt(12)))

	_, _, err = pipe.Prepare(ctx, []RawLine{{ProductID: "p1", Quantity: 1}})
	assert.ErrorIs(t, err, catalog.ErrTierRequired)

	_, _, err = pipe.Prepare(ctx, []RawLine{{ProductID: "p1", TierID: "nope", Quantity: 1}})
	assert.ErrorIs(t, err, catalog.ErrTierNotFound)
}

func TestProcessAllocatesAndRecords(t *testing.T) {
	ctx := context.Background()
	pipe, cat, notifier := newTestPipeline(t)
	seedProduct(t, cat, "p1", 10, "c1", "c2", "c3")

	items, _, err := pipe.Prepare(ctx, []RawLine{{ProductID: "p1", Quantity: 2}})
	require.NoError(t, err)

	order, err := pipe.Process(ctx, testUser(), Request{
		OrderID:       "ord-1",
		PaymentMethod: "card",
		Items:         items,
	})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusCompleted, order.Status)
	assert.Equal(t, "c1\nc2", order.Credentials["p1"])
	assert.True(t, order.Total.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, 1, notifier.sent)

	p, err := cat.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c3"}, p.Inventory)
	assert.Equal(t, 1, p.Stock)
}

func TestProcessDrainsStockToZero(t *testing.T) {
	ctx := context.Background()
	pipe, cat, _ := newTestPipeline(t)
	seedProduct(t, cat, "p1", 10, "c1", "c2")

	items, _, err := pipe.Prepare(ctx, []RawLine{{ProductID: "p1", Quantity: 2}})
	require.NoError(t, err)

	_, err = pipe.Process(ctx, testUser(), Request{OrderID: "ord-1", Items: items})
	require.NoError(t, err)

	p, err := cat.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, p.Inventory)
	assert.Equal(t, 0, p.Stock)
}

func TestProcessIdempotentOnOrderID(t *testing.T) {
	ctx := context.Background()
	pipe, cat, notifier := newTestPipeline(t)
	seedProduct(t, cat, "p1", 10, "c1", "c2", "c3")

	items, _, err := pipe.Prepare(ctx, []RawLine{{ProductID: "p1", Quantity: 2}})
	require.NoError(t, err)
	req := Request{OrderID: "ord-1", PaymentMethod: "card", Items: items}

	first, err := pipe.Process(ctx, testUser(), req)
	require.NoError(t, err)

	second, err := pipe.Process(ctx, testUser(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Credentials, second.Credentials)
	assert.Equal(t, 1, notifier.sent)

	// stock decremented exactly once
	p, err := cat.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stock)
}

func TestProcessOwnerConflict(t *testing.T) {
	ctx := context.Background()
	pipe, cat, _ := newTestPipeline(t)
	seedProduct(t, cat, "p1", 10, "c1", "c2")

	items, _, err := pipe.Prepare(ctx, []RawLine{{ProductID: "p1", Quantity: 1}})
	require.NoError(t, err)
	req := Request{OrderID: "ord-1", PaymentMethod: "card", Items: items}

	_, err = pipe.Process(ctx, testUser(), req)
	require.NoError(t, err)

	other := &models.User{ID: "u2", Email: "other@example.com"}
	_, err = pipe.Process(ctx, other, req)
	assert.ErrorIs(t, err, ErrOwnerConflict)
}

func TestProcessNoOverselling(t *testing.T) {
	ctx := context.Background()
	pipe, cat, _ := newTestPipeline(t)
	seedProduct(t, cat, "p1", 10, "c1")

	items := []models.OrderLine{{
		ID: "p1", ProductID: "p1", Price: decimal.NewFromInt(10), Quantity: 3,
	}}
	_, err := pipe.Process(ctx, testUser(), Request{OrderID: "ord-1", Items: items})

	var stockErr *StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "p1", stockErr.ProductID)
	assert.Equal(t, 1, stockErr.Available)

	// inventory untouched
	p, err := cat.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, p.Inventory)
}

func TestProcessDuplicateLinesSumAgainstStock(t *testing.T) {
	ctx := context.Background()
	pipe, cat, _ := newTestPipeline(t)
	seedProduct(t, cat, "p1", 10, "c1", "c2", "c3")

	// two lines for the same product, summing past the available 3
	items := []models.OrderLine{
		{ID: "p1", ProductID: "p1", Price: decimal.NewFromInt(10), Quantity: 2},
		{ID: "p1", ProductID: "p1", Price: decimal.NewFromInt(10), Quantity: 2},
	}
	_, err := pipe.Process(ctx, testUser(), Request{OrderID: "ord-1", Items: items})

	var stockErr *StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "p1", stockErr.ProductID)
	assert.Equal(t, 4, stockErr.Requested)
	assert.Equal(t, 3, stockErr.Available)

	p, err := cat.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2", "c3"}, p.Inventory)

	// a duplicate-line cart that fits is delivered in full
	items[1].Quantity = 1
	order, err := pipe.Process(ctx, testUser(), Request{OrderID: "ord-1", Items: items})
	require.NoError(t, err)
	assert.Equal(t, "c1\nc2\nc3", order.Credentials["p1"])

	p, err = cat.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, p.Stock)
}

func TestProcessAllOrNothing(t *testing.T) {
	ctx := context.Background()
	pipe, cat, _ := newTestPipeline(t)
	seedProduct(t, cat, "p1", 10, "a1", "a2")
	seedProduct(t, cat, "p2", 5, "b1")

	items := []models.OrderLine{
		{ID: "p1", ProductID: "p1", Price: decimal.NewFromInt(10), Quantity: 1},
		{ID: "p2", ProductID: "p2", Price: decimal.NewFromInt(5), Quantity: 2},
	}
	_, err := pipe.Process(ctx, testUser(), Request{OrderID: "ord-1", Items: items})

	var stockErr *StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "p2", stockErr.ProductID)

	p1, err := cat.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, p1.Stock)
	p2, err := cat.Get(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, 1, p2.Stock)
}

func TestPriceIntegrity(t *testing.T) {
	ctx := context.Background()
	pipe, cat, _ := newTestPipeline(t)
	seedProduct(t, cat, "p1", 10, "c1", "c2")

	// client-forged price is discarded by Prepare
	items, total, err := pipe.Prepare(ctx, []RawLine{{ProductID: "p1", Quantity: 2}})
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(20)))

	order, err := pipe.Process(ctx, testUser(), Request{OrderID: "ord-1", Items: items})
	require.NoError(t, err)
	assert.True(t, order.Total.Equal(decimal.NewFromInt(20)))
}

func TestScenarioAddBuyRetry(t *testing.T) {
	ctx := context.Background()
	pipe, cat, _ := newTestPipeline(t)

	_, err := cat.Upsert(ctx, catalog.UpsertInput{ID: "P1", Name: "Keys", Price: decimal.NewFromInt(4)})
	require.NoError(t, err)

	stock, err := cat.AddInventory(ctx, "P1", "", []string{"k1", "k2", "k3"})
	require.NoError(t, err)
	require.Equal(t, 3, stock)

	items, _, err := pipe.Prepare(ctx, []RawLine{{ProductID: "P1", Quantity: 2}})
	require.NoError(t, err)
	req := Request{OrderID: "ord-retry", Items: items}

	order, err := pipe.Process(ctx, testUser(), req)
	require.NoError(t, err)
	assert.Equal(t, "k1\nk2", order.Credentials["P1"])

	p, err := cat.Get(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stock)

	again, err := pipe.Process(ctx, testUser(), req)
	require.NoError(t, err)
	assert.Equal(t, order.ID, again.ID)

	p, err = cat.Get(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stock)
}
