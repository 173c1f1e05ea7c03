package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/safar/storefront-core/internal/models"
	"github.com/safar/storefront-core/internal/statestore"
)

func (s *Server) handleGetState(c *gin.Context) {
	key := c.Param("key")
	if !statestore.Known(key) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown state key"})
		return
	}

	raw, err := s.state.Get(c.Request.Context(), key)
	if err != nil {
		respondError(c, err)
		return
	}

	if key == statestore.KeyUsers {
		raw = stripPasswords(raw)
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "state": raw})
}

// handlePutState replaces a whole state document. The payload shape
// must match the key's kind, and writing users re-runs admin
// bootstrap plus password hashing.
func (s *Server) handlePutState(c *gin.Context) {
	key := c.Param("key")
	if !statestore.Known(key) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown state key"})
		return
	}

	var req struct {
		State json.RawMessage `json:"state"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.State) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state is required"})
		return
	}
	if !statestore.ValidShape(key, req.State) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state shape mismatch"})
		return
	}

	ctx := c.Request.Context()
	if key == statestore.KeyUsers {
		var users []models.User
		if err := json.Unmarshal(req.State, &users); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "state shape mismatch"})
			return
		}
		if err := s.users.Save(ctx, users); err != nil {
			respondError(c, err)
			return
		}
	} else if err := s.state.Set(ctx, key, req.State); err != nil {
		respondError(c, err)
		return
	}

	s.cache.flush()
	s.audit(ctx, "state", "state replaced", gin.H{"key": key, "by": currentUser(c).ID})

	raw, err := s.state.Get(ctx, key)
	if err != nil {
		respondError(c, err)
		return
	}
	if key == statestore.KeyUsers {
		raw = stripPasswords(raw)
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "state": raw})
}

func stripPasswords(raw json.RawMessage) json.RawMessage {
	var users []map[string]any
	if err := json.Unmarshal(raw, &users); err != nil {
		return raw
	}
	for _, u := range users {
		delete(u, "password")
	}
	out, err := json.Marshal(users)
	if err != nil {
		return raw
	}
	return out
}

func (s *Server) handleListCoupons(c *gin.Context) {
	var coupons []models.Coupon
	if err := s.state.Load(c.Request.Context(), statestore.KeyCoupons, &coupons); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"coupons": coupons})
}

func (s *Server) handleCreateCoupon(c *gin.Context) {
	var req struct {
		Code  string          `json:"code"`
		Type  string          `json:"type"`
		Value decimal.Decimal `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" || (req.Type != models.CouponTypePercent && req.Type != models.CouponTypeFixed) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code and a valid type are required"})
		return
	}
	if req.Value.LessThanOrEqual(decimal.Zero) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "value must be positive"})
		return
	}

	ctx := c.Request.Context()
	unlock := s.state.Lock(statestore.KeyCoupons)
	defer unlock()

	var coupons []models.Coupon
	if err := s.state.Load(ctx, statestore.KeyCoupons, &coupons); err != nil {
		respondError(c, err)
		return
	}
	for i := range coupons {
		if strings.EqualFold(coupons[i].Code, req.Code) {
			respondError(c, errCouponExists)
			return
		}
	}

	coupon := models.Coupon{
		ID:        "coupon-" + uuid.NewString(),
		Code:      req.Code,
		Type:      req.Type,
		Value:     req.Value,
		CreatedAt: time.Now().UTC(),
	}
	coupons = append(coupons, coupon)
	if err := s.state.Save(ctx, statestore.KeyCoupons, coupons); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"coupon": coupon})
}

// handleSummary rolls completed revenue, units and per-status counts.
func (s *Server) handleSummary(c *gin.Context) {
	orders, ok := s.loadOrders(c)
	if !ok {
		return
	}

	revenue := decimal.Zero
	units := 0
	byStatus := map[string]int{}
	for _, order := range orders {
		byStatus[order.Status]++
		if order.Status != models.OrderStatusCompleted {
			continue
		}
		revenue = revenue.Add(order.Total)
		for _, item := range order.Items {
			units += item.Quantity
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"revenue":        revenue,
		"unitsSold":      units,
		"ordersByStatus": byStatus,
		"totalOrders":    len(orders),
	})
}

// handleAnalytics adds top products and customer roll-ups on top of
// the summary counters.
func (s *Server) handleAnalytics(c *gin.Context) {
	orders, ok := s.loadOrders(c)
	if !ok {
		return
	}

	type productAgg struct {
		ProductID string          `json:"productId"`
		Name      string          `json:"name"`
		Units     int             `json:"units"`
		Revenue   decimal.Decimal `json:"revenue"`
	}
	byProduct := map[string]*productAgg{}
	customers := map[string]int{}

	for _, order := range orders {
		if order.Status != models.OrderStatusCompleted {
			continue
		}
		customers[order.UserID]++
		for _, item := range order.Items {
			agg, ok := byProduct[item.ProductID]
			if !ok {
				agg = &productAgg{ProductID: item.ProductID, Name: item.Name, Revenue: decimal.Zero}
				byProduct[item.ProductID] = agg
			}
			agg.Units += item.Quantity
			agg.Revenue = agg.Revenue.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}
	}

	top := make([]productAgg, 0, len(byProduct))
	for _, agg := range byProduct {
		top = append(top, *agg)
	}
	for i := 0; i < len(top); i++ {
		for j := i + 1; j < len(top); j++ {
			if top[j].Units > top[i].Units {
				top[i], top[j] = top[j], top[i]
			}
		}
	}
	if len(top) > 10 {
		top = top[:10]
	}

	repeat := 0
	for _, n := range customers {
		if n > 1 {
			repeat++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"topProducts":     top,
		"customers":       len(customers),
		"repeatCustomers": repeat,
	})
}
