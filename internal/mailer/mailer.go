package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/safar/storefront-core/internal/config"
	"github.com/safar/storefront-core/internal/models"
)

var ErrNotConfigured = errors.New("no mail delivery configured")

// Mailer delivers transactional e-mail through the Resend HTTP API
// when an API key is set, otherwise over plain SMTP. All sends are
// best-effort from the caller's point of view.
type Mailer struct {
	cfg      config.MailConfig
	shopName string
	http     *http.Client
}

func New(cfg config.MailConfig, shopName string) *Mailer {
	return &Mailer{
		cfg:      cfg,
		shopName: shopName,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (m *Mailer) Configured() bool {
	return m.cfg.ResendAPIKey != "" || m.cfg.SMTPHost != ""
}

func (m *Mailer) Send(ctx context.Context, to, subject, text string) error {
	if m.cfg.ResendAPIKey != "" {
		return m.sendResend(ctx, to, subject, text)
	}
	if m.cfg.SMTPHost != "" {
		return m.sendSMTP(to, subject, text)
	}
	return ErrNotConfigured
}

// PurchaseEmail sends the delivered credentials after a completed
// order.
func (m *Mailer) PurchaseEmail(ctx context.Context, user *models.SafeUser, order *models.Order) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Thanks for your purchase at %s!\n\n", m.shopName)
	fmt.Fprintf(&b, "Order %s — total %s\n\n", order.ID, order.Total.StringFixed(2))
	for _, item := range order.Items {
		fmt.Fprintf(&b, "%d x %s\n", item.Quantity, item.Name)
		if creds := order.Credentials[item.ID]; creds != "" {
			fmt.Fprintf(&b, "%s\n", creds)
		}
		b.WriteString("\n")
	}
	return m.Send(ctx, user.Email, fmt.Sprintf("Your %s order %s", m.shopName, order.ID), b.String())
}

// OTPEmail delivers the second-factor code.
func (m *Mailer) OTPEmail(ctx context.Context, to, code string) error {
	text := fmt.Sprintf("Your %s verification code is %s.\nIt expires in a few minutes.\n", m.shopName, code)
	return m.Send(ctx, to, m.shopName+" verification code", text)
}

func (m *Mailer) sendResend(ctx context.Context, to, subject, text string) error {
	payload, err := json.Marshal(map[string]any{
		"from":    m.cfg.FromAddress,
		"to":      []string{to},
		"subject": subject,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("encode mail: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.resend.com/emails", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.cfg.ResendAPIKey)

	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("send mail: status %d: %s", resp.StatusCode, body)
	}
	return nil
}

func (m *Mailer) sendSMTP(to, subject, text string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		m.cfg.FromAddress, to, subject, text)

	addr := m.cfg.SMTPHost + ":" + m.cfg.SMTPPort
	var auth smtp.Auth
	if m.cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", m.cfg.SMTPUser, m.cfg.SMTPPassword, m.cfg.SMTPHost)
	}
	if err := smtp.SendMail(addr, auth, m.cfg.FromAddress, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
