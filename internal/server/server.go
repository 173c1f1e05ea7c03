package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/safar/storefront-core/internal/auth"
	"github.com/safar/storefront-core/internal/catalog"
	"github.com/safar/storefront-core/internal/config"
	"github.com/safar/storefront-core/internal/mailer"
	"github.com/safar/storefront-core/internal/models"
	"github.com/safar/storefront-core/internal/payments"
	"github.com/safar/storefront-core/internal/purchase"
	"github.com/safar/storefront-core/internal/statestore"
)

const (
	productsCacheTTL = 15 * time.Second
	healthCacheTTL   = 30 * time.Second
	methodsCacheTTL  = 60 * time.Second

	maxLogEntries = 100
)

type Server struct {
	cfg      *config.Config
	state    *statestore.Store
	catalog  *catalog.Service
	pipeline *purchase.Pipeline
	payments *payments.Service
	users    *auth.Users
	signer   *auth.Signer
	otp      *auth.OTPService
	linker   *auth.Linker
	mail     *mailer.Mailer
	cache    *responseCache

	engine *gin.Engine
}

func New(cfg *config.Config, state *statestore.Store) *Server {
	mail := mailer.New(cfg.Mail, cfg.Shop.Name)
	cat := catalog.New(state)
	pipe := purchase.New(state, cat, mail)
	users := auth.NewUsers(state, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword)

	s := &Server{
		cfg:      cfg,
		state:    state,
		catalog:  cat,
		pipeline: pipe,
		payments: payments.NewService(state, pipe, cfg.Payments),
		users:    users,
		signer:   auth.NewSigner(cfg.Auth.SessionSecret, cfg.Auth.SessionTTL),
		otp:      auth.NewOTPService(cfg.Auth.OTPTTL, cfg.Auth.OTPResendInterval, cfg.Auth.OTPMaxAttempts),
		linker:   auth.NewLinker(cfg.Auth.Discord, users, cfg.Server.AllowedOrigins),
		mail:     mail,
		cache:    newResponseCache(),
	}
	s.engine = s.buildRouter()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) buildRouter() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(securityHeaders())
	engine.Use(s.corsMiddleware())

	shop := engine.Group("/shop")

	// public surface
	shop.GET("/products", s.handleListProducts)
	shop.GET("/health", s.handleHealth)
	shop.GET("/payment-methods", s.handlePaymentMethods)
	shop.POST("/auth/login", s.handleLogin)
	shop.POST("/auth/register", s.handleRegister)
	shop.POST("/auth/verify-otp", s.handleVerifyOTP)
	shop.POST("/licenses/validate", s.handleValidateLicense)
	shop.GET("/auth/discord/callback", s.handleDiscordCallback)

	// session surface
	session := shop.Group("", s.requireSession())
	session.GET("/me", s.handleMe)
	session.POST("/buy", s.handleBuy)
	session.POST("/payments/create", s.handleCreatePayment)
	session.POST("/payments/confirm", s.handleConfirmPayment)
	session.GET("/orders", s.handleListOrders)
	session.GET("/invoices/:id", s.handleGetInvoice)
	session.POST("/auth/discord/connect-url", s.handleDiscordConnectURL)
	session.POST("/auth/discord/unlink", s.handleDiscordUnlink)

	// admin surface
	admin := shop.Group("", s.requireSession(), s.requireAdmin())
	admin.POST("/products", s.handleUpsertProduct)
	admin.DELETE("/products/:id", s.handleDeleteProduct)
	admin.POST("/inventory/add", s.handleAddInventory)
	admin.GET("/inventory/:productId", s.handleGetInventory)
	admin.POST("/stock", s.handleAdjustStock)
	admin.POST("/orders/:id/status", s.handleOrderStatus)
	admin.GET("/coupons", s.handleListCoupons)
	admin.POST("/coupons", s.handleCreateCoupon)
	admin.GET("/admin/summary", s.handleSummary)
	admin.GET("/analytics", s.handleAnalytics)
	admin.GET("/state/:key", s.handleGetState)
	admin.PUT("/state/:key", s.handlePutState)

	return engine
}

// audit appends to the capped security log; failures are logged and
// swallowed, never surfaced to the request.
func (s *Server) audit(ctx context.Context, kind, message string, meta any) {
	unlock := s.state.Lock(statestore.KeyLogs)
	defer unlock()

	var entries []models.LogEntry
	if err := s.state.Load(ctx, statestore.KeyLogs, &entries); err != nil {
		log.Printf("Audit log load failed: %v", err)
		return
	}
	entries = append(entries, models.LogEntry{
		Time:    time.Now().UTC(),
		Kind:    kind,
		Message: message,
		Meta:    meta,
	})
	if len(entries) > maxLogEntries {
		entries = entries[len(entries)-maxLogEntries:]
	}
	if err := s.state.Save(ctx, statestore.KeyLogs, entries); err != nil {
		log.Printf("Audit log save failed: %v", err)
	}
}
