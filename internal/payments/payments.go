package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/thanhpk/randstr"

	"github.com/safar/storefront-core/internal/config"
	"github.com/safar/storefront-core/internal/models"
	"github.com/safar/storefront-core/internal/purchase"
	"github.com/safar/storefront-core/internal/statestore"
)

var (
	ErrMethodUnavailable = errors.New("payment method not configured or disabled")
	ErrTokenUnknown      = errors.New("unknown payment token")
	ErrAlreadyCompleted  = errors.New("payment already processed")
	ErrWrongOwner        = errors.New("payment belongs to another user")
	ErrMethodMismatch    = errors.New("payment method mismatch")
	ErrUnsettled         = errors.New("payment not settled")
	ErrProofMismatch     = errors.New("gateway proof does not match this payment")
)

// GatewayError wraps an upstream failure; the raw body is kept for
// the audit log, never shown to the client.
type GatewayError struct {
	Gateway string
	Status  int
	Body    string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s gateway: %v", e.Gateway, e.Err)
	}
	return fmt.Sprintf("%s gateway: status %d", e.Gateway, e.Status)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Gateway is one payment provider adapter. Create returns the
// checkout URL the client is redirected to plus the provider-side
// reference; manual adapters return a static/templated URL and no
// automatic confirmation.
type Gateway interface {
	ID() string
	Configured() bool
	Create(ctx context.Context, token string, order *models.Order, user *models.SafeUser) (checkoutURL, gatewayRef string, manual bool, err error)
	Confirm(ctx context.Context, token string, pending *models.PendingPayment) error
}

const (
	MethodCard   = "card"
	MethodPayPal = "paypal"
	MethodCrypto = "crypto"
)

type MethodInfo struct {
	ID        string `json:"id"`
	Available bool   `json:"available"`
	Manual    bool   `json:"manual,omitempty"`
}

type CreateResult struct {
	CheckoutURL string `json:"checkoutUrl"`
	Token       string `json:"token"`
	Manual      bool   `json:"manual,omitempty"`
}

// Service owns the pending-payment ledger and drives the purchase
// pipeline once a gateway reports settlement.
type Service struct {
	state    *statestore.Store
	pipeline *purchase.Pipeline
	gateways map[string]Gateway
}

func NewService(state *statestore.Store, pipeline *purchase.Pipeline, cfg config.PaymentsConfig) *Service {
	s := &Service{
		state:    state,
		pipeline: pipeline,
		gateways: make(map[string]Gateway),
	}
	s.gateways[MethodCard] = NewStripeGateway(cfg.Stripe)
	s.gateways[MethodPayPal] = NewPayPalGateway(cfg.PayPal)
	s.gateways[MethodCrypto] = NewOxaPayGateway(cfg.OxaPay)
	return s
}

// methodToggle maps both the persisted pm-* ids and bare method names
// onto the gateway id.
func methodToggle(id string) string {
	switch id {
	case "pm-card", MethodCard:
		return MethodCard
	case "pm-paypal", MethodPayPal:
		return MethodPayPal
	case "pm-crypto", MethodCrypto:
		return MethodCrypto
	}
	return ""
}

// Methods computes availability from configured gateways crossed with
// the enabled toggles under the payment_methods state key.
func (s *Service) Methods(ctx context.Context) ([]MethodInfo, error) {
	var toggles []struct {
		ID      string `json:"id"`
		Enabled bool   `json:"enabled"`
	}
	if err := s.state.Load(ctx, statestore.KeyPaymentMethods, &toggles); err != nil {
		return nil, err
	}

	enabled := map[string]bool{MethodCard: true, MethodPayPal: true, MethodCrypto: true}
	for _, t := range toggles {
		if method := methodToggle(t.ID); method != "" {
			enabled[method] = t.Enabled
		}
	}

	out := make([]MethodInfo, 0, len(s.gateways))
	for _, id := range []string{MethodCard, MethodPayPal, MethodCrypto} {
		gw := s.gateways[id]
		info := MethodInfo{ID: id, Available: gw.Configured() && enabled[id]}
		if m, ok := gw.(interface{ ManualOnly() bool }); ok && info.Available {
			info.Manual = m.ManualOnly()
		}
		out = append(out, info)
	}
	return out, nil
}

func (s *Service) available(ctx context.Context, method string) (Gateway, error) {
	methods, err := s.Methods(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range methods {
		if m.ID == method && m.Available {
			return s.gateways[method], nil
		}
	}
	return nil, ErrMethodUnavailable
}

// CreateCheckout prepares an order draft, mints the pending-payment
// token and hands the cart to the gateway. Nothing is allocated or
// recorded yet.
func (s *Service) CreateCheckout(ctx context.Context, user *models.User, method, orderID string, items []models.OrderLine, total decimal.Decimal) (*CreateResult, error) {
	gateway, err := s.available(ctx, method)
	if err != nil {
		return nil, err
	}

	if orderID == "" {
		orderID = "ord-" + uuid.NewString()
	}
	draft := models.Order{
		ID:            orderID,
		UserID:        user.ID,
		CreatedAt:     time.Now().UTC(),
		PaymentMethod: method,
		Items:         items,
		Total:         total,
		Status:        models.OrderStatusPending,
	}

	token := randstr.Hex(24)
	checkoutURL, gatewayRef, manual, err := gateway.Create(ctx, token, &draft, user.Safe())
	if err != nil {
		return nil, err
	}

	pending := models.PendingPayment{
		Order:         draft,
		User:          *user.Safe(),
		PaymentMethod: method,
		Gateway:       gateway.ID(),
		GatewayRef:    gatewayRef,
		Manual:        manual,
		CreatedAt:     time.Now().UTC(),
	}

	unlock := s.state.Lock(statestore.KeyPendingPayments)
	defer unlock()

	pendings := map[string]models.PendingPayment{}
	if err := s.state.Load(ctx, statestore.KeyPendingPayments, &pendings); err != nil {
		return nil, err
	}
	pendings[token] = pending
	if err := s.state.Save(ctx, statestore.KeyPendingPayments, pendings); err != nil {
		return nil, err
	}

	return &CreateResult{CheckoutURL: checkoutURL, Token: token, Manual: manual}, nil
}

// Confirm reconciles a token against its gateway and, on settlement,
// runs the purchase pipeline exactly once. Pending records are never
// deleted; Completed flips true and stays.
func (s *Service) Confirm(ctx context.Context, user *models.User, token, method string) (*models.Order, error) {
	pending, recorded, err := s.checkPending(ctx, user, token, method)
	if err != nil {
		return nil, err
	}
	if recorded != nil {
		return recorded, nil
	}

	// gateway call runs outside the pending-payments lock so a slow
	// remote never stalls unrelated checkouts
	gateway, ok := s.gateways[pending.Gateway]
	if !ok {
		return nil, ErrMethodUnavailable
	}
	if err := gateway.Confirm(ctx, token, pending); err != nil {
		return nil, err
	}

	order, err := s.pipeline.Process(ctx, user, purchase.Request{
		OrderID:       pending.Order.ID,
		PaymentMethod: pending.PaymentMethod,
		Items:         pending.Order.Items,
	})
	if err != nil {
		return nil, err
	}

	unlock := s.state.Lock(statestore.KeyPendingPayments)
	defer unlock()

	pendings := map[string]models.PendingPayment{}
	if err := s.state.Load(ctx, statestore.KeyPendingPayments, &pendings); err != nil {
		return nil, err
	}
	latest, ok := pendings[token]
	if !ok {
		return nil, ErrTokenUnknown
	}
	if latest.Completed {
		// a concurrent confirm won the race; the pipeline already
		// handed back its recorded order
		return order, nil
	}
	latest.Completed = true
	latest.CompletedAt = time.Now().UTC()
	pendings[token] = latest
	if err := s.state.Save(ctx, statestore.KeyPendingPayments, pendings); err != nil {
		return nil, err
	}
	return order, nil
}

// checkPending validates the token under the pending-payments lock.
// For an already-completed token it returns the recorded order; for a
// live one it returns the pending record to confirm.
func (s *Service) checkPending(ctx context.Context, user *models.User, token, method string) (*models.PendingPayment, *models.Order, error) {
	unlock := s.state.Lock(statestore.KeyPendingPayments)
	defer unlock()

	pendings := map[string]models.PendingPayment{}
	if err := s.state.Load(ctx, statestore.KeyPendingPayments, &pendings); err != nil {
		return nil, nil, err
	}

	pending, ok := pendings[token]
	if !ok {
		return nil, nil, ErrTokenUnknown
	}
	if !ownsPending(&pending, user) {
		return nil, nil, ErrWrongOwner
	}
	if pending.Completed {
		// idempotent re-confirm: hand back the recorded order
		var orders []models.Order
		if err := s.state.Load(ctx, statestore.KeyOrders, &orders); err != nil {
			return nil, nil, err
		}
		for i := range orders {
			if orders[i].ID == pending.Order.ID {
				return nil, &orders[i], nil
			}
		}
		return nil, nil, ErrAlreadyCompleted
	}
	if method != "" && method != pending.PaymentMethod {
		return nil, nil, ErrMethodMismatch
	}
	return &pending, nil, nil
}

func ownsPending(pending *models.PendingPayment, user *models.User) bool {
	if pending.User.ID != "" && pending.User.ID == user.ID {
		return true
	}
	return models.NormalizeEmail(pending.User.Email) == models.NormalizeEmail(user.Email)
}
