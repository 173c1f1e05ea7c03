package purchase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/safar/storefront-core/internal/catalog"
	"github.com/safar/storefront-core/internal/models"
	"github.com/safar/storefront-core/internal/statestore"
)

var (
	ErrOwnerConflict   = errors.New("order id belongs to another user")
	ErrQuantityInvalid = errors.New("invalid quantity")
	ErrLineInvalid     = errors.New("invalid order line")
	ErrPriceInvalid    = errors.New("product has no purchasable price")
)

// StockError identifies the line that could not be reserved.
type StockError struct {
	ProductID string
	TierID    string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	if e.TierID != "" {
		return fmt.Sprintf("insufficient stock for %s::%s: requested %d, available %d",
			e.ProductID, e.TierID, e.Requested, e.Available)
	}
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// Notifier delivers best-effort post-purchase side effects.
type Notifier interface {
	PurchaseEmail(ctx context.Context, user *models.SafeUser, order *models.Order) error
}

// RawLine is a client-submitted cart line before any price
// resolution. Client prices are never read.
type RawLine struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	TierID    string `json:"tierId"`
	Quantity  int    `json:"quantity"`
}

type Request struct {
	OrderID       string
	PaymentMethod string
	Items         []models.OrderLine
}

// Pipeline turns a validated cart into an exactly-once inventory
// allocation and an immutable completed order.
type Pipeline struct {
	state   *statestore.Store
	catalog *catalog.Service
	notify  Notifier

	// serializes reserve-allocate-record so two purchases cannot both
	// pass the reservation check before either writes back
	mu sync.Mutex
}

func New(state *statestore.Store, cat *catalog.Service, notify Notifier) *Pipeline {
	return &Pipeline{state: state, catalog: cat, notify: notify}
}

// Prepare resolves raw cart lines against the current catalog,
// recomputing every unit price server-side.
func (p *Pipeline) Prepare(ctx context.Context, lines []RawLine) ([]models.OrderLine, decimal.Decimal, error) {
	if len(lines) == 0 {
		return nil, decimal.Zero, fmt.Errorf("%w: empty cart", ErrLineInvalid)
	}

	products, err := p.catalog.List(ctx)
	if err != nil {
		return nil, decimal.Zero, err
	}
	byID := make(map[string]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	items := make([]models.OrderLine, 0, len(lines))
	total := decimal.Zero
	for _, line := range lines {
		if line.ProductID == "" {
			return nil, decimal.Zero, fmt.Errorf("%w: missing productId", ErrLineInvalid)
		}
		if line.Quantity <= 0 {
			return nil, decimal.Zero, fmt.Errorf("%w: quantity %d for %s", ErrQuantityInvalid, line.Quantity, line.ProductID)
		}

		product, ok := byID[line.ProductID]
		if !ok {
			return nil, decimal.Zero, catalog.ErrProductNotFound
		}

		name := product.Name
		price := product.Price
		originalPrice := product.OriginalPrice
		if line.TierID != "" {
			tier := product.Tier(line.TierID)
			if tier == nil {
				return nil, decimal.Zero, catalog.ErrTierNotFound
			}
			name = product.Name + " - " + tier.Name
			price = tier.Price
			originalPrice = tier.OriginalPrice
		} else if product.Tiered() {
			return nil, decimal.Zero, catalog.ErrTierRequired
		}

		if price.LessThanOrEqual(decimal.Zero) {
			return nil, decimal.Zero, fmt.Errorf("%w: %s", ErrPriceInvalid, line.ProductID)
		}

		id := line.ID
		if id == "" {
			id = models.LineID(line.ProductID, line.TierID)
		}
		items = append(items, models.OrderLine{
			ID:            id,
			ProductID:     line.ProductID,
			TierID:        line.TierID,
			Name:          name,
			Price:         price,
			OriginalPrice: originalPrice,
			Quantity:      line.Quantity,
		})
		total = total.Add(price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	return items, total.Round(2), nil
}

// Process runs the purchase state machine: idempotency check, full
// reservation, allocation, order record, notification. The order and
// products writes are two separate store writes; retried calls are
// safe because an existing order id short-circuits before any
// mutation.
func (p *Pipeline) Process(ctx context.Context, user *models.User, req Request) (*models.Order, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: empty cart", ErrLineInvalid)
	}

	p.mu.Lock()
	order, created, err := p.process(ctx, user, req)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if p.notify != nil && created {
		if err := p.notify.PurchaseEmail(ctx, user.Safe(), order); err != nil {
			log.Printf("Purchase email for order %s failed: %v", order.ID, err)
		}
	}
	return order, nil
}

func (p *Pipeline) process(ctx context.Context, user *models.User, req Request) (*models.Order, bool, error) {
	var orders []models.Order
	if err := p.state.Load(ctx, statestore.KeyOrders, &orders); err != nil {
		return nil, false, err
	}

	if req.OrderID != "" {
		if existing := findOrder(orders, req.OrderID); existing != nil {
			if !sameOwner(existing, user) {
				return nil, false, ErrOwnerConflict
			}
			return existing, false, nil
		}
	}

	products, err := p.catalog.List(ctx)
	if err != nil {
		return nil, false, err
	}
	byID := make(map[string]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	// verify every line before touching any inventory; quantities are
	// summed per product/tier so duplicate lines cannot oversell
	requested := make(map[string]int, len(req.Items))
	for _, item := range req.Items {
		available, err := availableFor(byID, item)
		if err != nil {
			return nil, false, err
		}
		key := models.LineID(item.ProductID, item.TierID)
		requested[key] += item.Quantity
		if available < requested[key] {
			return nil, false, &StockError{
				ProductID: item.ProductID,
				TierID:    item.TierID,
				Requested: requested[key],
				Available: available,
			}
		}
	}

	credentials := make(map[string]string, len(req.Items))
	total := decimal.Zero
	for _, item := range req.Items {
		product := byID[item.ProductID]
		inv := &product.Inventory
		stock := &product.Stock
		if item.TierID != "" {
			tier := product.Tier(item.TierID)
			inv = &tier.Inventory
			stock = &tier.Stock
		}
		delivered := strings.Join((*inv)[:item.Quantity], "\n")
		if prev, ok := credentials[item.ID]; ok {
			delivered = prev + "\n" + delivered
		}
		credentials[item.ID] = delivered
		*inv = append([]string{}, (*inv)[item.Quantity:]...)
		// keep the counter in sync even when the slice empties
		*stock = len(*inv)
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	if err := p.catalog.SaveAll(ctx, products); err != nil {
		return nil, false, err
	}

	orderID := req.OrderID
	if orderID == "" {
		orderID = "ord-" + uuid.NewString()
	}
	order := models.Order{
		ID:            orderID,
		UserID:        user.ID,
		CreatedAt:     time.Now().UTC(),
		PaymentMethod: req.PaymentMethod,
		User:          user.Safe(),
		Items:         req.Items,
		Total:         total.Round(2),
		Status:        models.OrderStatusCompleted,
		Credentials:   credentials,
	}

	orders = append(orders, order)
	if err := p.state.Save(ctx, statestore.KeyOrders, orders); err != nil {
		return nil, false, err
	}
	return &order, true, nil
}

func findOrder(orders []models.Order, id string) *models.Order {
	for i := range orders {
		if orders[i].ID == id {
			return &orders[i]
		}
	}
	return nil
}

func sameOwner(order *models.Order, user *models.User) bool {
	if order.UserID != "" && order.UserID == user.ID {
		return true
	}
	if order.User != nil && models.NormalizeEmail(order.User.Email) == models.NormalizeEmail(user.Email) {
		return true
	}
	return false
}

func availableFor(byID map[string]*models.Product, item models.OrderLine) (int, error) {
	product, ok := byID[item.ProductID]
	if !ok {
		return 0, catalog.ErrProductNotFound
	}
	if item.TierID != "" {
		tier := product.Tier(item.TierID)
		if tier == nil {
			return 0, catalog.ErrTierNotFound
		}
		return len(tier.Inventory), nil
	}
	if product.Tiered() {
		return 0, catalog.ErrTierRequired
	}
	return len(product.Inventory), nil
}
