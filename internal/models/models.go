package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Product is a sellable catalog entry. A product either owns its
// inventory directly or delegates it to tiers; Stock is always derived
// from the inventory lists, never stored independently.
type Product struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Price         decimal.Decimal `json:"price"`
	OriginalPrice decimal.Decimal `json:"originalPrice"`
	Image         string          `json:"image,omitempty"`
	Duration      string          `json:"duration"`
	Type          string          `json:"type"`
	Visibility    string          `json:"visibility"`
	Badge         *Badge          `json:"badge,omitempty"`
	CategoryID    string          `json:"categoryId,omitempty"`
	Stock         int             `json:"stock"`
	Inventory     []string        `json:"inventory"`
	Tiers         []Tier          `json:"tiers,omitempty"`
}

type Tier struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Price         decimal.Decimal `json:"price"`
	OriginalPrice decimal.Decimal `json:"originalPrice"`
	Image         string          `json:"image,omitempty"`
	Duration      string          `json:"duration,omitempty"`
	Stock         int             `json:"stock"`
	Inventory     []string        `json:"inventory"`
}

type Badge struct {
	Text string `json:"text,omitempty"`
	Icon string `json:"icon,omitempty"`
}

func (p *Product) Tiered() bool {
	return len(p.Tiers) > 0
}

// Tier returns the tier with the given id, or nil.
func (p *Product) Tier(tierID string) *Tier {
	for i := range p.Tiers {
		if p.Tiers[i].ID == tierID {
			return &p.Tiers[i]
		}
	}
	return nil
}

// OrderLine is one cart line after server-side price resolution.
// ID is productId for plain products and productId::tierId for tiers.
type OrderLine struct {
	ID            string          `json:"id"`
	ProductID     string          `json:"productId"`
	TierID        string          `json:"tierId,omitempty"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	OriginalPrice decimal.Decimal `json:"originalPrice"`
	Quantity      int             `json:"quantity"`
}

func LineID(productID, tierID string) string {
	if tierID == "" {
		return productID
	}
	return productID + "::" + tierID
}

type Order struct {
	ID            string            `json:"id"`
	UserID        string            `json:"userId"`
	CreatedAt     time.Time         `json:"createdAt"`
	PaymentMethod string            `json:"paymentMethod"`
	User          *SafeUser         `json:"user,omitempty"`
	Items         []OrderLine       `json:"items"`
	Total         decimal.Decimal   `json:"total"`
	Status        string            `json:"status"`
	Credentials   map[string]string `json:"credentials,omitempty"`
}

const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusRefunded  = "refunded"
	OrderStatusCancelled = "cancelled"
)

func ValidOrderStatus(s string) bool {
	switch s {
	case OrderStatusPending, OrderStatusCompleted, OrderStatusRefunded, OrderStatusCancelled:
		return true
	}
	return false
}

// PendingPayment is minted when a checkout is initiated and kept
// forever; Completed flips to true exactly once on settlement.
type PendingPayment struct {
	Order         Order     `json:"order"`
	User          SafeUser  `json:"user"`
	PaymentMethod string    `json:"paymentMethod"`
	Gateway       string    `json:"gateway"`
	GatewayRef    string    `json:"gatewayRef,omitempty"`
	Manual        bool      `json:"manual,omitempty"`
	Completed     bool      `json:"completed"`
	CreatedAt     time.Time `json:"createdAt"`
	CompletedAt   time.Time `json:"completedAt,omitzero"`
}

type User struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	Name            string    `json:"name,omitempty"`
	Password        string    `json:"password,omitempty"`
	Role            string    `json:"role"`
	CreatedAt       time.Time `json:"createdAt,omitzero"`
	DiscordID       string    `json:"discordId,omitempty"`
	DiscordUsername string    `json:"discordUsername,omitempty"`
}

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// SafeUser is the client-visible projection of a User; it never
// carries the password hash.
type SafeUser struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	Name            string `json:"name,omitempty"`
	Role            string `json:"role"`
	DiscordID       string `json:"discordId,omitempty"`
	DiscordUsername string `json:"discordUsername,omitempty"`
}

func (u *User) Safe() *SafeUser {
	return &SafeUser{
		ID:              u.ID,
		Email:           u.Email,
		Name:            u.Name,
		Role:            NormalizeRole(u.Role),
		DiscordID:       u.DiscordID,
		DiscordUsername: u.DiscordUsername,
	}
}

func NormalizeRole(role string) string {
	if strings.EqualFold(role, RoleAdmin) {
		return RoleAdmin
	}
	return RoleUser
}

// NormalizeEmail case-folds and trims for unique comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type Coupon struct {
	ID        string          `json:"id"`
	Code      string          `json:"code"`
	Type      string          `json:"type"`
	Value     decimal.Decimal `json:"value"`
	CreatedAt time.Time       `json:"createdAt"`
}

const (
	CouponTypePercent = "percent"
	CouponTypeFixed   = "fixed"
)

// LogEntry is one line of the capped security/audit log.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	Meta    any       `json:"meta,omitempty"`
}
