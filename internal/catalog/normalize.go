package catalog

import (
	"strings"

	"github.com/safar/storefront-core/internal/models"
)

const (
	defaultDuration   = "1 Month"
	defaultType       = "OTHER"
	defaultVisibility = "public"
	defaultBadgeIcon  = "grid"
)

var badgeIcons = map[string]bool{
	"grid":   true,
	"key":    true,
	"shield": true,
}

// Normalize fills defaults and recomputes derived stock. A product
// with literal inventory gets stock = len(inventory); a tiered product
// gets the sum of its tiers' stock. A product with neither keeps its
// bare counter, floored at zero.
func Normalize(p *models.Product) {
	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	if p.Duration == "" {
		p.Duration = defaultDuration
	}
	if p.Type == "" {
		p.Type = defaultType
	}
	if p.Visibility == "" {
		p.Visibility = defaultVisibility
	}
	if p.Badge != nil && !badgeIcons[p.Badge.Icon] {
		p.Badge.Icon = defaultBadgeIcon
	}
	if p.OriginalPrice.IsZero() {
		p.OriginalPrice = p.Price
	}

	p.Inventory = cleanInventory(p.Inventory)

	if len(p.Tiers) > 0 {
		total := 0
		for i := range p.Tiers {
			t := &p.Tiers[i]
			t.ID = strings.TrimSpace(t.ID)
			t.Name = strings.TrimSpace(t.Name)
			if t.OriginalPrice.IsZero() {
				t.OriginalPrice = t.Price
			}
			t.Inventory = cleanInventory(t.Inventory)
			if len(t.Inventory) > 0 || t.Stock < 0 {
				t.Stock = len(t.Inventory)
			}
			total += t.Stock
		}
		p.Inventory = []string{}
		p.Stock = total
		return
	}

	if len(p.Inventory) > 0 || p.Stock < 0 {
		p.Stock = len(p.Inventory)
	}
}

// cleanInventory drops empty entries and trims the rest. Never
// returns nil so the document always carries an explicit array.
func cleanInventory(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// PublicView strips deliverable inventory from a product before it
// leaves the service.
func PublicView(p models.Product) models.Product {
	p.Inventory = nil
	if len(p.Tiers) > 0 {
		tiers := make([]models.Tier, len(p.Tiers))
		copy(tiers, p.Tiers)
		for i := range tiers {
			tiers[i].Inventory = nil
		}
		p.Tiers = tiers
	}
	return p
}
