package catalog

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/safar/storefront-core/internal/models"
	"github.com/safar/storefront-core/internal/statestore"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrTierNotFound    = errors.New("tier not found")
	ErrTierRequired    = errors.New("tiered product requires a tier")
	ErrPositiveAdjust  = errors.New("cannot increase stock numerically")
	ErrNoInventory     = errors.New("no inventory items supplied")
)

type Service struct {
	state *statestore.Store
}

func New(state *statestore.Store) *Service {
	return &Service{state: state}
}

func (s *Service) List(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	if err := s.state.Load(ctx, statestore.KeyProducts, &products); err != nil {
		return nil, err
	}
	return products, nil
}

// ListPublic returns publicly visible products with inventory
// stripped.
func (s *Service) ListPublic(ctx context.Context) ([]models.Product, error) {
	products, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Product, 0, len(products))
	for _, p := range products {
		if p.Visibility != "public" {
			continue
		}
		out = append(out, PublicView(p))
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Product, error) {
	products, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range products {
		if products[i].ID == id {
			return &products[i], nil
		}
	}
	return nil, ErrProductNotFound
}

// TierInput mirrors a tier payload; a nil Inventory means "keep what
// is stored", an explicit array replaces it.
type TierInput struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	OriginalPrice decimal.Decimal `json:"originalPrice"`
	Image         string          `json:"image"`
	Duration      string          `json:"duration"`
	Stock         int             `json:"stock"`
	Inventory     *[]string       `json:"inventory"`
}

// UpsertInput carries a product payload. Pointer fields distinguish
// "absent" from "explicitly empty" so a metadata edit cannot wipe
// stored inventory.
type UpsertInput struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	OriginalPrice decimal.Decimal `json:"originalPrice"`
	Image         string          `json:"image"`
	Duration      string          `json:"duration"`
	Type          string          `json:"type"`
	Visibility    string          `json:"visibility"`
	Badge         *models.Badge   `json:"badge"`
	CategoryID    string          `json:"categoryId"`
	Stock         int             `json:"stock"`
	Inventory     *[]string       `json:"inventory"`
	Tiers         *[]TierInput    `json:"tiers"`
}

// Upsert creates or replaces a product. Stored inventory (product and
// per-tier, matched by tier id) survives unless the payload includes
// a replacement array.
func (s *Service) Upsert(ctx context.Context, in UpsertInput) (*models.Product, error) {
	unlock := s.state.Lock(statestore.KeyProducts)
	defer unlock()

	products, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	var existing *models.Product
	idx := -1
	for i := range products {
		if products[i].ID == in.ID {
			existing = &products[i]
			idx = i
			break
		}
	}

	next := buildProduct(in, existing)
	Normalize(&next)

	if idx >= 0 {
		products[idx] = next
	} else {
		products = append(products, next)
	}

	if err := s.state.Save(ctx, statestore.KeyProducts, products); err != nil {
		return nil, err
	}
	return &next, nil
}

func buildProduct(in UpsertInput, existing *models.Product) models.Product {
	name := in.Name
	if name == "" && existing != nil {
		name = existing.Name
	}
	p := models.Product{
		ID:            in.ID,
		Name:          name,
		Description:   in.Description,
		Price:         in.Price,
		OriginalPrice: in.OriginalPrice,
		Image:         in.Image,
		Duration:      in.Duration,
		Type:          in.Type,
		Visibility:    in.Visibility,
		Badge:         in.Badge,
		CategoryID:    in.CategoryID,
		Stock:         in.Stock,
	}

	switch {
	case in.Inventory != nil:
		p.Inventory = *in.Inventory
	case existing != nil:
		p.Inventory = existing.Inventory
	}

	if in.Tiers != nil {
		for _, ti := range *in.Tiers {
			t := models.Tier{
				ID:            ti.ID,
				Name:          ti.Name,
				Description:   ti.Description,
				Price:         ti.Price,
				OriginalPrice: ti.OriginalPrice,
				Image:         ti.Image,
				Duration:      ti.Duration,
				Stock:         ti.Stock,
			}
			switch {
			case ti.Inventory != nil:
				t.Inventory = *ti.Inventory
			case existing != nil:
				if prev := existing.Tier(ti.ID); prev != nil {
					t.Inventory = prev.Inventory
				}
			}
			p.Tiers = append(p.Tiers, t)
		}
	} else if existing != nil {
		p.Tiers = existing.Tiers
	}

	return p
}

func (s *Service) Delete(ctx context.Context, id string) error {
	unlock := s.state.Lock(statestore.KeyProducts)
	defer unlock()

	products, err := s.List(ctx)
	if err != nil {
		return err
	}
	for i := range products {
		if products[i].ID == id {
			products = append(products[:i], products[i+1:]...)
			return s.state.Save(ctx, statestore.KeyProducts, products)
		}
	}
	return ErrProductNotFound
}

// AddInventory appends credential strings to a product or tier and
// returns the new stock count. Blank strings are dropped.
func (s *Service) AddInventory(ctx context.Context, productID, tierID string, items []string) (int, error) {
	items = cleanInventory(items)
	if len(items) == 0 {
		return 0, ErrNoInventory
	}

	unlock := s.state.Lock(statestore.KeyProducts)
	defer unlock()

	products, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	var stock int
	found := false
	for i := range products {
		p := &products[i]
		if p.ID != productID {
			continue
		}
		if tierID != "" {
			t := p.Tier(tierID)
			if t == nil {
				return 0, ErrTierNotFound
			}
			t.Inventory = append(t.Inventory, items...)
			Normalize(p)
			stock = p.Tier(tierID).Stock
		} else {
			if p.Tiered() {
				return 0, ErrTierRequired
			}
			p.Inventory = append(p.Inventory, items...)
			Normalize(p)
			stock = p.Stock
		}
		found = true
		break
	}
	if !found {
		return 0, ErrProductNotFound
	}

	if err := s.state.Save(ctx, statestore.KeyProducts, products); err != nil {
		return 0, err
	}
	return stock, nil
}

// AdjustStock applies a negative delta by trimming inventory from the
// tail, or by decrementing a bare counter when no literal inventory
// exists. Positive deltas are rejected; stock grows only through
// AddInventory.
func (s *Service) AdjustStock(ctx context.Context, productID, tierID string, delta int) (*models.Product, error) {
	if delta > 0 {
		return nil, ErrPositiveAdjust
	}
	if delta == 0 {
		return s.Get(ctx, productID)
	}

	unlock := s.state.Lock(statestore.KeyProducts)
	defer unlock()

	products, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	for i := range products {
		p := &products[i]
		if p.ID != productID {
			continue
		}
		if p.Tiered() {
			if tierID == "" {
				return nil, ErrTierRequired
			}
			t := p.Tier(tierID)
			if t == nil {
				return nil, ErrTierNotFound
			}
			trim(&t.Inventory, &t.Stock, -delta)
		} else {
			trim(&p.Inventory, &p.Stock, -delta)
		}
		Normalize(p)
		if err := s.state.Save(ctx, statestore.KeyProducts, products); err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, ErrProductNotFound
}

func trim(inventory *[]string, stock *int, n int) {
	if len(*inventory) > 0 {
		if n > len(*inventory) {
			n = len(*inventory)
		}
		*inventory = (*inventory)[:len(*inventory)-n]
		*stock = len(*inventory)
		return
	}
	*stock -= n
	if *stock < 0 {
		*stock = 0
	}
}

// SaveAll writes the full normalized product set back in one write.
func (s *Service) SaveAll(ctx context.Context, products []models.Product) error {
	for i := range products {
		Normalize(&products[i])
	}
	return s.state.Save(ctx, statestore.KeyProducts, products)
}
