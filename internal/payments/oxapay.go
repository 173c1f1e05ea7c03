package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/safar/storefront-core/internal/config"
	"github.com/safar/storefront-core/internal/models"
)

// OxaPayGateway creates crypto invoices and polls the merchant
// inquiry endpoint for settlement. Without a merchant key it degrades
// to an external manual URL.
type OxaPayGateway struct {
	cfg  config.OxaPayConfig
	http *http.Client
}

func NewOxaPayGateway(cfg config.OxaPayConfig) *OxaPayGateway {
	return &OxaPayGateway{
		cfg:  cfg,
		http: &http.Client{Timeout: 20 * time.Second},
	}
}

func (g *OxaPayGateway) ID() string { return MethodCrypto }

func (g *OxaPayGateway) Configured() bool {
	return g.cfg.MerchantKey != "" || g.cfg.ManualURL != ""
}

func (g *OxaPayGateway) ManualOnly() bool { return g.cfg.MerchantKey == "" && g.cfg.ManualURL != "" }

var paidStatuses = map[string]bool{
	"paid":      true,
	"completed": true,
	"complete":  true,
	"confirmed": true,
}

func (g *OxaPayGateway) Create(ctx context.Context, token string, order *models.Order, user *models.SafeUser) (string, string, bool, error) {
	if g.cfg.MerchantKey == "" {
		return g.manualURL(order), "", true, nil
	}

	amount, _ := order.Total.Float64()
	body := map[string]any{
		"merchant":       g.cfg.MerchantKey,
		"amount":         amount,
		"currency":       g.cfg.Currency,
		"lifeTime":       g.cfg.LifetimeMin,
		"feePaidByPayer": 1,
		"returnUrl":      g.cfg.ReturnURL + "?token=" + token,
		"orderId":        order.ID,
		"description":    fmt.Sprintf("Order %s", order.ID),
		"email":          user.Email,
	}

	var created struct {
		Result     json.Number `json:"result"`
		Message    string      `json:"message"`
		TrackID    json.Number `json:"trackId"`
		PayLink    string      `json:"payLink"`
		PaymentURL string      `json:"payment_url"`
		PayLink2   string      `json:"pay_link"`
	}
	raw, err := g.post(ctx, "/merchants/request", body, &created)
	if err != nil {
		return "", "", false, err
	}

	checkoutURL := created.PaymentURL
	if checkoutURL == "" {
		checkoutURL = created.PayLink
	}
	if checkoutURL == "" {
		checkoutURL = created.PayLink2
	}
	if created.Result.String() != "100" || checkoutURL == "" || created.TrackID.String() == "" {
		return "", "", false, &GatewayError{Gateway: MethodCrypto, Body: raw, Err: fmt.Errorf("invoice rejected: %s", created.Message)}
	}
	return checkoutURL, created.TrackID.String(), false, nil
}

func (g *OxaPayGateway) Confirm(ctx context.Context, _ string, pending *models.PendingPayment) error {
	if g.cfg.MerchantKey == "" || pending.Manual {
		return fmt.Errorf("%w: manual payment requires staff confirmation", ErrUnsettled)
	}

	var inquiry struct {
		Result  json.Number `json:"result"`
		Status  string      `json:"status"`
		TrackID json.Number `json:"trackId"`
	}
	raw, err := g.post(ctx, "/merchants/inquiry", map[string]any{
		"merchant": g.cfg.MerchantKey,
		"trackId":  pending.GatewayRef,
	}, &inquiry)
	if err != nil {
		return err
	}
	if inquiry.Result.String() != "100" {
		return &GatewayError{Gateway: MethodCrypto, Body: raw, Err: fmt.Errorf("inquiry rejected")}
	}
	if tid := inquiry.TrackID.String(); tid != "" && tid != pending.GatewayRef {
		return ErrProofMismatch
	}
	if !paidStatuses[inquiry.Status] {
		return fmt.Errorf("%w: invoice status %s", ErrUnsettled, inquiry.Status)
	}
	return nil
}

// manualURL appends the amount and order id to the configured
// external payment page.
func (g *OxaPayGateway) manualURL(order *models.Order) string {
	u, err := url.Parse(g.cfg.ManualURL)
	if err != nil {
		return g.cfg.ManualURL
	}
	q := u.Query()
	q.Set("amount", order.Total.StringFixed(2))
	q.Set("order_id", order.ID)
	u.RawQuery = q.Encode()
	return u.String()
}

func (g *OxaPayGateway) post(ctx context.Context, path string, body any, out any) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode oxapay request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.APIBase+path, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build oxapay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return "", &GatewayError{Gateway: MethodCrypto, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &GatewayError{Gateway: MethodCrypto, Status: resp.StatusCode, Body: string(raw)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return "", &GatewayError{Gateway: MethodCrypto, Status: resp.StatusCode, Body: string(raw), Err: err}
	}
	return string(raw), nil
}
