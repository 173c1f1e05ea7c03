package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/safar/storefront-core/internal/models"
	"github.com/safar/storefront-core/internal/payments"
	"github.com/safar/storefront-core/internal/purchase"
)

func (s *Server) handlePaymentMethods(c *gin.Context) {
	if body, ok := s.cache.get("payment-methods"); ok {
		c.Data(http.StatusOK, "application/json", body)
		return
	}

	methods, err := s.payments.Methods(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	body, err := json.Marshal(gin.H{"methods": methods})
	if err != nil {
		respondError(c, err)
		return
	}
	s.cache.set("payment-methods", body, methodsCacheTTL)
	c.Data(http.StatusOK, "application/json", body)
}

type buyRequest struct {
	OrderID         string             `json:"orderId"`
	PaymentMethod   string             `json:"paymentMethod"`
	PaymentVerified bool               `json:"paymentVerified"`
	Items           []purchase.RawLine `json:"items"`
}

// handleBuy runs the purchase pipeline directly. Card purchases must
// already be verified through the payments flow.
func (s *Server) handleBuy(c *gin.Context) {
	var req buyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.PaymentMethod == payments.MethodCard && !req.PaymentVerified {
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "card payment not verified"})
		return
	}

	ctx := c.Request.Context()
	items, _, err := s.pipeline.Prepare(ctx, req.Items)
	if err != nil {
		respondError(c, err)
		return
	}

	user := currentUser(c)
	order, err := s.pipeline.Process(ctx, user, purchase.Request{
		OrderID:       req.OrderID,
		PaymentMethod: req.PaymentMethod,
		Items:         items,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	s.cache.flush()
	s.audit(ctx, "purchase", "order completed", gin.H{"orderId": order.ID, "userId": user.ID})
	s.respondOrderWithProducts(c, order)
}

func (s *Server) handleCreatePayment(c *gin.Context) {
	var req struct {
		OrderID       string             `json:"orderId"`
		PaymentMethod string             `json:"paymentMethod"`
		Items         []purchase.RawLine `json:"items"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	items, total, err := s.pipeline.Prepare(ctx, req.Items)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := s.payments.CreateCheckout(ctx, currentUser(c), req.PaymentMethod, req.OrderID, items, total)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleConfirmPayment(c *gin.Context) {
	var req struct {
		Token         string `json:"token"`
		PaymentMethod string `json:"paymentMethod"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}

	ctx := c.Request.Context()
	user := currentUser(c)
	order, err := s.payments.Confirm(ctx, user, req.Token, req.PaymentMethod)
	if err != nil {
		respondError(c, err)
		return
	}

	s.cache.flush()
	s.audit(ctx, "payment", "payment confirmed", gin.H{"orderId": order.ID, "userId": user.ID})
	s.respondOrderWithProducts(c, order)
}

// respondOrderWithProducts returns the order plus the refreshed
// public catalog so clients can update stock in one round trip.
func (s *Server) respondOrderWithProducts(c *gin.Context, order *models.Order) {
	products, err := s.catalog.ListPublic(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "products": products})
}
