package payments

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safar/storefront-core/internal/catalog"
	"github.com/safar/storefront-core/internal/config"
	"github.com/safar/storefront-core/internal/models"
	"github.com/safar/storefront-core/internal/purchase"
	"github.com/safar/storefront-core/internal/statestore"
)

type fakeGateway struct {
	id         string
	configured bool
	settled    bool
	confirms   int
}

func (f *fakeGateway) ID() string       { return f.id }
func (f *fakeGateway) Configured() bool { return f.configured }

func (f *fakeGateway) Create(_ context.Context, token string, order *models.Order, _ *models.SafeUser) (string, string, bool, error) {
	return "https://pay.example.com/" + token, "ref-" + order.ID, false, nil
}

func (f *fakeGateway) Confirm(_ context.Context, _ string, _ *models.PendingPayment) error {
	f.confirms++
	if !f.settled {
		return ErrUnsettled
	}
	return nil
}

func newTestService(t *testing.T) (*Service, *catalog.Service, *fakeGateway) {
	t.Helper()
	backend, err := statestore.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	state := statestore.New(backend)
	cat := catalog.New(state)
	pipe := purchase.New(state, cat, nil)

	svc := NewService(state, pipe, config.PaymentsConfig{})
	fake := &fakeGateway{id: MethodCard, configured: true, settled: true}
	svc.gateways[MethodCard] = fake
	return svc, cat, fake
}

func seedProduct(t *testing.T, cat *catalog.Service, id string, price int64, inventory ...string) {
	t.Helper()
	inv := append([]string{}, inventory...)
	_, err := cat.Upsert(context.Background(), catalog.UpsertInput{
		ID: id, Name: "Product " + id, Price: decimal.NewFromInt(price), Inventory: &inv,
	})
	require.NoError(t, err)
}

func cartFor(id string, price int64, qty int) []models.OrderLine {
	return []models.OrderLine{{
		ID: id, ProductID: id, Name: "Product " + id,
		Price: decimal.NewFromInt(price), Quantity: qty,
	}}
}

func buyer() *models.User {
	return &models.User{ID: "u1", Email: "buyer@example.com", Role: models.RoleUser}
}

func TestMethodsTogglesAndConfiguration(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	methods, err := svc.Methods(ctx)
	require.NoError(t, err)
	byID := map[string]MethodInfo{}
	for _, m := range methods {
		byID[m.ID] = m
	}
	assert.True(t, byID[MethodCard].Available)
	assert.False(t, byID[MethodPayPal].Available) // nothing configured
	assert.False(t, byID[MethodCrypto].Available)

	// disable card via the persisted toggle, using the pm- prefix id
	err = svc.state.Save(ctx, statestore.KeyPaymentMethods,
		[]map[string]any{{"id": "pm-card", "enabled": false}})
	require.NoError(t, err)

	methods, err = svc.Methods(ctx)
	require.NoError(t, err)
	for _, m := range methods {
		if m.ID == MethodCard {
			assert.False(t, m.Available)
		}
	}
}

func TestCreateAndConfirm(t *testing.T) {
	ctx := context.Background()
	svc, cat, fake := newTestService(t)
	seedProduct(t, cat, "p1", 10, "c1", "c2")

	res, err := svc.CreateCheckout(ctx, buyer(), MethodCard, "ord-1", cartFor("p1", 10, 1), decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Contains(t, res.CheckoutURL, res.Token)

	// nothing allocated yet
	p, err := cat.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Stock)

	order, err := svc.Confirm(ctx, buyer(), res.Token, MethodCard)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, order.Status)
	assert.Equal(t, "c1", order.Credentials["p1"])
	assert.Equal(t, 1, fake.confirms)

	p, err = cat.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stock)
}

func TestConfirmIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, cat, fake := newTestService(t)
	seedProduct(t, cat, "p1", 10, "c1", "c2")

	res, err := svc.CreateCheckout(ctx, buyer(), MethodCard, "ord-1", cartFor("p1", 10, 1), decimal.NewFromInt(10))
	require.NoError(t, err)

	first, err := svc.Confirm(ctx, buyer(), res.Token, MethodCard)
	require.NoError(t, err)

	// re-confirm returns the recorded order without touching the gateway
	second, err := svc.Confirm(ctx, buyer(), res.Token, MethodCard)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Credentials, second.Credentials)
	assert.Equal(t, 1, fake.confirms)

	p, err := cat.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stock)
}

type stallGateway struct {
	fakeGateway
	entered chan struct{}
	release chan struct{}
}

func (g *stallGateway) Confirm(ctx context.Context, token string, p *models.PendingPayment) error {
	close(g.entered)
	<-g.release
	return g.fakeGateway.Confirm(ctx, token, p)
}

func TestConfirmDoesNotBlockCheckouts(t *testing.T) {
	ctx := context.Background()
	svc, cat, _ := newTestService(t)
	seedProduct(t, cat, "p1", 10, "c1", "c2")

	stall := &stallGateway{
		fakeGateway: fakeGateway{id: MethodCard, configured: true, settled: true},
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	svc.gateways[MethodCard] = stall

	res, err := svc.CreateCheckout(ctx, buyer(), MethodCard, "ord-1", cartFor("p1", 10, 1), decimal.NewFromInt(10))
	require.NoError(t, err)

	confirmed := make(chan error, 1)
	go func() {
		_, err := svc.Confirm(ctx, buyer(), res.Token, MethodCard)
		confirmed <- err
	}()
	<-stall.entered

	// a second checkout must not queue behind the in-flight gateway call
	second := make(chan error, 1)
	go func() {
		_, err := svc.CreateCheckout(ctx, buyer(), MethodCard, "ord-2", cartFor("p1", 10, 1), decimal.NewFromInt(10))
		second <- err
	}()
	select {
	case err := <-second:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("checkout blocked behind a slow gateway confirm")
	}

	close(stall.release)
	require.NoError(t, <-confirmed)
}

func TestConfirmRejections(t *testing.T) {
	ctx := context.Background()
	svc, cat, fake := newTestService(t)
	seedProduct(t, cat, "p1", 10, "c1")

	res, err := svc.CreateCheckout(ctx, buyer(), MethodCard, "ord-1", cartFor("p1", 10, 1), decimal.NewFromInt(10))
	require.NoError(t, err)

	_, err = svc.Confirm(ctx, buyer(), "no-such-token", MethodCard)
	assert.ErrorIs(t, err, ErrTokenUnknown)

	other := &models.User{ID: "u2", Email: "other@example.com"}
	_, err = svc.Confirm(ctx, other, res.Token, MethodCard)
	assert.ErrorIs(t, err, ErrWrongOwner)

	_, err = svc.Confirm(ctx, buyer(), res.Token, MethodPayPal)
	assert.ErrorIs(t, err, ErrMethodMismatch)

	fake.settled = false
	_, err = svc.Confirm(ctx, buyer(), res.Token, MethodCard)
	assert.ErrorIs(t, err, ErrUnsettled)

	// unsettled confirm left everything pending
	p, err := cat.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stock)
}

func TestCreateUnavailableMethod(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	_, err := svc.CreateCheckout(ctx, buyer(), MethodPayPal, "", cartFor("p1", 10, 1), decimal.NewFromInt(10))
	assert.ErrorIs(t, err, ErrMethodUnavailable)
}

func TestPayPalManualURL(t *testing.T) {
	order := &models.Order{ID: "ord-9", Total: decimal.NewFromFloat(12.50)}

	g := NewPayPalGateway(config.PayPalConfig{ManualHandle: "shopkeeper", Currency: "USD"})
	assert.True(t, g.Configured())
	assert.True(t, g.ManualOnly())
	assert.Equal(t, "https://paypal.me/shopkeeper/12.50", g.manualURL(order))

	g = NewPayPalGateway(config.PayPalConfig{
		ManualURL: "https://pay.example.com/{currency}/{amount}?ref={order_id}",
		Currency:  "EUR",
	})
	assert.Equal(t, "https://pay.example.com/EUR/12.50?ref=ord-9", g.manualURL(order))
}

func TestOxaPayManualURL(t *testing.T) {
	g := NewOxaPayGateway(config.OxaPayConfig{ManualURL: "https://crypto.example.com/pay"})
	assert.True(t, g.Configured())
	assert.True(t, g.ManualOnly())

	got := g.manualURL(&models.Order{ID: "ord-9", Total: decimal.NewFromInt(20)})
	assert.Contains(t, got, "amount=20.00")
	assert.Contains(t, got, "order_id=ord-9")
}

func TestManualConfirmStaysUnsettled(t *testing.T) {
	g := NewPayPalGateway(config.PayPalConfig{ManualHandle: "shopkeeper"})
	err := g.Confirm(context.Background(), "tok", &models.PendingPayment{Manual: true})
	assert.ErrorIs(t, err, ErrUnsettled)

	o := NewOxaPayGateway(config.OxaPayConfig{ManualURL: "https://crypto.example.com"})
	err = o.Confirm(context.Background(), "tok", &models.PendingPayment{Manual: true})
	assert.ErrorIs(t, err, ErrUnsettled)
}
