package payments

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"

	"github.com/safar/storefront-core/internal/config"
	"github.com/safar/storefront-core/internal/models"
)

var centFactor = decimal.NewFromInt(100)

// StripeGateway drives hosted checkout sessions. Settlement is
// verified by re-fetching the session and cross-checking the metadata
// token against the local pending token.
type StripeGateway struct {
	cfg config.StripeConfig
	sc  *client.API
}

func NewStripeGateway(cfg config.StripeConfig) *StripeGateway {
	g := &StripeGateway{cfg: cfg}
	if cfg.SecretKey != "" {
		g.sc = &client.API{}
		g.sc.Init(cfg.SecretKey, nil)
	}
	return g
}

func (g *StripeGateway) ID() string { return MethodCard }

func (g *StripeGateway) Configured() bool { return g.sc != nil }

func (g *StripeGateway) Create(ctx context.Context, token string, order *models.Order, user *models.SafeUser) (string, string, bool, error) {
	if g.sc == nil {
		return "", "", false, ErrMethodUnavailable
	}

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(order.Items))
	for _, item := range order.Items {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(g.cfg.Currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
				UnitAmount: stripe.Int64(item.Price.Mul(centFactor).IntPart()),
			},
			Quantity: stripe.Int64(int64(item.Quantity)),
		})
	}

	params := &stripe.CheckoutSessionParams{
		SuccessURL: stripe.String(g.cfg.SuccessURL + "?token=" + token),
		CancelURL:  stripe.String(g.cfg.CancelURL),
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:  lineItems,
		PaymentMethodTypes: stripe.StringSlice([]string{
			"card",
		}),
	}
	if user.Email != "" {
		params.CustomerEmail = stripe.String(user.Email)
	}
	params.Context = ctx
	params.AddMetadata("token", token)
	params.AddMetadata("order_id", order.ID)

	session, err := g.sc.CheckoutSessions.New(params)
	if err != nil {
		return "", "", false, &GatewayError{Gateway: MethodCard, Err: err}
	}
	return session.URL, session.ID, false, nil
}

func (g *StripeGateway) Confirm(ctx context.Context, token string, pending *models.PendingPayment) error {
	if g.sc == nil {
		return ErrMethodUnavailable
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	session, err := g.sc.CheckoutSessions.Get(pending.GatewayRef, params)
	if err != nil {
		return &GatewayError{Gateway: MethodCard, Err: err}
	}

	if session.Metadata["token"] != token {
		return ErrProofMismatch
	}
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return fmt.Errorf("%w: payment_status %s", ErrUnsettled, session.PaymentStatus)
	}
	return nil
}
