package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/safar/storefront-core/internal/models"
	"github.com/safar/storefront-core/internal/statestore"
)

func (s *Server) loadOrders(c *gin.Context) ([]models.Order, bool) {
	var orders []models.Order
	if err := s.state.Load(c.Request.Context(), statestore.KeyOrders, &orders); err != nil {
		respondError(c, err)
		return nil, false
	}
	return orders, true
}

func ownsOrder(order *models.Order, user *models.User) bool {
	if order.UserID != "" && order.UserID == user.ID {
		return true
	}
	return order.User != nil &&
		models.NormalizeEmail(order.User.Email) == models.NormalizeEmail(user.Email)
}

// handleListOrders returns the caller's orders; admins may widen the
// view with userId/userEmail/status filters.
func (s *Server) handleListOrders(c *gin.Context) {
	orders, ok := s.loadOrders(c)
	if !ok {
		return
	}

	user := currentUser(c)
	admin := isAdmin(c)
	filterUserID := c.Query("userId")
	filterEmail := models.NormalizeEmail(c.Query("userEmail"))
	filterStatus := c.Query("status")

	out := make([]models.Order, 0, len(orders))
	for _, order := range orders {
		if !admin {
			if !ownsOrder(&order, user) {
				continue
			}
		} else {
			if filterUserID != "" && order.UserID != filterUserID {
				continue
			}
			if filterEmail != "" && (order.User == nil ||
				models.NormalizeEmail(order.User.Email) != filterEmail) {
				continue
			}
		}
		if filterStatus != "" && order.Status != filterStatus {
			continue
		}
		out = append(out, order)
	}

	page, pageSize := pageParams(c)
	result := paginate(out, page, pageSize)
	c.JSON(http.StatusOK, gin.H{
		"orders":     result.Items,
		"total":      result.Total,
		"page":       result.Page,
		"pageSize":   result.PageSize,
		"totalPages": result.TotalPages,
	})
}

func (s *Server) handleGetInvoice(c *gin.Context) {
	orders, ok := s.loadOrders(c)
	if !ok {
		return
	}

	id := c.Param("id")
	for i := range orders {
		if orders[i].ID != id {
			continue
		}
		if !isAdmin(c) && !ownsOrder(&orders[i], currentUser(c)) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not your order"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"order": orders[i]})
		return
	}
	respondError(c, errOrderNotFound)
}

func (s *Server) handleOrderStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || !models.ValidOrderStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	ctx := c.Request.Context()
	unlock := s.state.Lock(statestore.KeyOrders)
	defer unlock()

	var orders []models.Order
	if err := s.state.Load(ctx, statestore.KeyOrders, &orders); err != nil {
		respondError(c, err)
		return
	}

	id := c.Param("id")
	for i := range orders {
		if orders[i].ID != id {
			continue
		}
		orders[i].Status = req.Status
		if err := s.state.Save(ctx, statestore.KeyOrders, orders); err != nil {
			respondError(c, err)
			return
		}
		s.audit(ctx, "order", "status updated", gin.H{"orderId": id, "status": req.Status})
		c.JSON(http.StatusOK, gin.H{"order": orders[i]})
		return
	}
	respondError(c, errOrderNotFound)
}

// handleValidateLicense scans completed orders' delivered credential
// lines for an exact match.
func (s *Server) handleValidateLicense(c *gin.Context) {
	var req struct {
		Key string `json:"key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Key) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}
	key := strings.TrimSpace(req.Key)

	orders, ok := s.loadOrders(c)
	if !ok {
		return
	}

	for i := range orders {
		if orders[i].Status != models.OrderStatusCompleted {
			continue
		}
		for lineID, delivered := range orders[i].Credentials {
			for _, line := range strings.Split(delivered, "\n") {
				if strings.TrimSpace(line) == key {
					c.JSON(http.StatusOK, gin.H{
						"valid":   true,
						"orderId": orders[i].ID,
						"lineId":  lineID,
					})
					return
				}
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"valid": false})
}
