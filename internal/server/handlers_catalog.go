package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/safar/storefront-core/internal/catalog"
	"github.com/safar/storefront-core/internal/statestore"
)

func (s *Server) handleListProducts(c *gin.Context) {
	if body, ok := s.cache.get("products"); ok {
		c.Data(http.StatusOK, "application/json", body)
		return
	}

	products, err := s.catalog.ListPublic(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	body, err := json.Marshal(gin.H{"products": products})
	if err != nil {
		respondError(c, err)
		return
	}
	s.cache.set("products", body, productsCacheTTL)
	c.Data(http.StatusOK, "application/json", body)
}

func (s *Server) handleUpsertProduct(c *gin.Context) {
	var in catalog.UpsertInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if in.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}

	product, err := s.catalog.Upsert(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	s.cache.flush()
	c.JSON(http.StatusOK, gin.H{"product": product})
}

func (s *Server) handleDeleteProduct(c *gin.Context) {
	if err := s.catalog.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	s.cache.flush()
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (s *Server) handleAddInventory(c *gin.Context) {
	var req struct {
		ProductID string   `json:"productId"`
		TierID    string   `json:"tierId"`
		Items     []string `json:"items"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	stock, err := s.catalog.AddInventory(c.Request.Context(), req.ProductID, req.TierID, req.Items)
	if err != nil {
		respondError(c, err)
		return
	}
	s.cache.flush()
	c.JSON(http.StatusOK, gin.H{"stock": stock})
}

func (s *Server) handleGetInventory(c *gin.Context) {
	product, err := s.catalog.Get(c.Request.Context(), c.Param("productId"))
	if err != nil {
		respondError(c, err)
		return
	}

	tierID := c.Query("tierId")
	if tierID != "" {
		tier := product.Tier(tierID)
		if tier == nil {
			respondError(c, catalog.ErrTierNotFound)
			return
		}
		c.JSON(http.StatusOK, gin.H{"inventory": tier.Inventory, "stock": tier.Stock})
		return
	}
	c.JSON(http.StatusOK, gin.H{"inventory": product.Inventory, "stock": product.Stock})
}

func (s *Server) handleAdjustStock(c *gin.Context) {
	var req struct {
		ProductID string `json:"productId"`
		TierID    string `json:"tierId"`
		Delta     int    `json:"delta"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	product, err := s.catalog.AdjustStock(c.Request.Context(), req.ProductID, req.TierID, req.Delta)
	if err != nil {
		respondError(c, err)
		return
	}
	s.cache.flush()
	c.JSON(http.StatusOK, gin.H{"product": catalog.PublicView(*product)})
}

func (s *Server) handleHealth(c *gin.Context) {
	if body, ok := s.cache.get("health"); ok {
		c.Data(http.StatusOK, "application/json", body)
		return
	}

	ctx := c.Request.Context()
	products, err := s.catalog.List(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	var orders []json.RawMessage
	if err := s.state.Load(ctx, statestore.KeyOrders, &orders); err != nil {
		respondError(c, err)
		return
	}
	users, err := s.users.List(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	body, err := json.Marshal(gin.H{
		"status":  "ok",
		"storage": s.state.BackendName(),
		"counts": gin.H{
			"products": len(products),
			"orders":   len(orders),
			"users":    len(users),
		},
		"shop": gin.H{
			"name": s.cfg.Shop.Name,
			"logo": s.cfg.Shop.LogoURL,
		},
	})
	if err != nil {
		respondError(c, err)
		return
	}
	s.cache.set("health", body, healthCacheTTL)
	c.Data(http.StatusOK, "application/json", body)
}
