package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/safar/storefront-core/internal/config"
	"github.com/safar/storefront-core/internal/models"
)

// PayPalGateway talks to the Orders v2 API with a cached
// client-credentials token. Without API credentials it degrades to a
// manual paypal.me / templated URL that staff confirm out-of-band.
type PayPalGateway struct {
	cfg  config.PayPalConfig
	http *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewPayPalGateway(cfg config.PayPalConfig) *PayPalGateway {
	return &PayPalGateway{
		cfg:  cfg,
		http: &http.Client{Timeout: 20 * time.Second},
	}
}

func (g *PayPalGateway) ID() string { return MethodPayPal }

func (g *PayPalGateway) Configured() bool {
	return g.apiConfigured() || g.cfg.ManualHandle != "" || g.cfg.ManualURL != ""
}

func (g *PayPalGateway) ManualOnly() bool { return !g.apiConfigured() && g.Configured() }

func (g *PayPalGateway) apiConfigured() bool {
	return g.cfg.ClientID != "" && g.cfg.ClientSecret != ""
}

func (g *PayPalGateway) Create(ctx context.Context, token string, order *models.Order, user *models.SafeUser) (string, string, bool, error) {
	if !g.apiConfigured() {
		return g.manualURL(order), "", true, nil
	}

	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": order.ID,
			"amount": map[string]string{
				"currency_code": g.cfg.Currency,
				"value":         order.Total.StringFixed(2),
			},
		}},
		"application_context": map[string]string{
			"return_url": g.cfg.ReturnURL + "?token=" + token,
			"cancel_url": g.cfg.CancelURL,
		},
	}

	var created struct {
		ID    string `json:"id"`
		Links []struct {
			Href string `json:"href"`
			Rel  string `json:"rel"`
		} `json:"links"`
	}
	if err := g.call(ctx, http.MethodPost, "/v2/checkout/orders", body, &created); err != nil {
		return "", "", false, err
	}

	approveURL := ""
	for _, rel := range []string{"approve", "payer-action"} {
		for _, link := range created.Links {
			if link.Rel == rel {
				approveURL = link.Href
				break
			}
		}
		if approveURL != "" {
			break
		}
	}
	if approveURL == "" || created.ID == "" {
		return "", "", false, &GatewayError{Gateway: MethodPayPal, Err: fmt.Errorf("no approve link in response")}
	}
	return approveURL, created.ID, false, nil
}

func (g *PayPalGateway) Confirm(ctx context.Context, _ string, pending *models.PendingPayment) error {
	if !g.apiConfigured() || pending.Manual {
		return fmt.Errorf("%w: manual payment requires staff confirmation", ErrUnsettled)
	}

	var captured struct {
		Status string `json:"status"`
	}
	path := "/v2/checkout/orders/" + url.PathEscape(pending.GatewayRef) + "/capture"
	if err := g.call(ctx, http.MethodPost, path, map[string]any{}, &captured); err != nil {
		return err
	}
	if captured.Status != "COMPLETED" {
		return fmt.Errorf("%w: capture status %s", ErrUnsettled, captured.Status)
	}
	return nil
}

// manualURL builds the fallback link: a templated URL with
// {amount}/{currency}/{order_id} placeholders, or a paypal.me handle.
func (g *PayPalGateway) manualURL(order *models.Order) string {
	amount := order.Total.StringFixed(2)
	if g.cfg.ManualURL != "" {
		r := strings.NewReplacer(
			"{amount}", amount,
			"{currency}", g.cfg.Currency,
			"{order_id}", order.ID,
		)
		return r.Replace(g.cfg.ManualURL)
	}
	return fmt.Sprintf("https://paypal.me/%s/%s", g.cfg.ManualHandle, amount)
}

func (g *PayPalGateway) call(ctx context.Context, method, path string, body any, out any) error {
	accessToken, err := g.token(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode paypal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.cfg.APIBase+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build paypal request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := g.http.Do(req)
	if err != nil {
		return &GatewayError{Gateway: MethodPayPal, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &GatewayError{Gateway: MethodPayPal, Status: resp.StatusCode, Body: string(raw)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &GatewayError{Gateway: MethodPayPal, Status: resp.StatusCode, Body: string(raw), Err: err}
	}
	return nil
}

// token returns a cached client-credentials token, refreshing when
// within a minute of expiry.
func (g *PayPalGateway) token(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.accessToken != "" && time.Now().Before(g.tokenExpiry.Add(-time.Minute)) {
		return g.accessToken, nil
	}

	form := strings.NewReader("grant_type=client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.APIBase+"/v1/oauth2/token", form)
	if err != nil {
		return "", fmt.Errorf("build paypal token request: %w", err)
	}
	req.SetBasicAuth(g.cfg.ClientID, g.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.http.Do(req)
	if err != nil {
		return "", &GatewayError{Gateway: MethodPayPal, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &GatewayError{Gateway: MethodPayPal, Status: resp.StatusCode, Body: string(raw)}
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &tok); err != nil || tok.AccessToken == "" {
		return "", &GatewayError{Gateway: MethodPayPal, Status: resp.StatusCode, Body: string(raw), Err: err}
	}

	g.accessToken = tok.AccessToken
	g.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return g.accessToken, nil
}
