package server

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/safar/storefront-core/internal/auth"
	"github.com/safar/storefront-core/internal/catalog"
	"github.com/safar/storefront-core/internal/payments"
	"github.com/safar/storefront-core/internal/purchase"
)

// respondError maps domain sentinels onto the HTTP taxonomy. Gateway
// failures keep their raw payload in the server log only.
func respondError(c *gin.Context, err error) {
	var stockErr *purchase.StockError
	if errors.As(err, &stockErr) {
		body := gin.H{"error": "insufficient stock", "productId": stockErr.ProductID}
		if stockErr.TierID != "" {
			body["tierId"] = stockErr.TierID
		}
		c.JSON(http.StatusConflict, body)
		return
	}

	var gatewayErr *payments.GatewayError
	if errors.As(err, &gatewayErr) {
		log.Printf("Gateway %s failure (status %d): %s: %v",
			gatewayErr.Gateway, gatewayErr.Status, gatewayErr.Body, gatewayErr.Err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment gateway error"})
		return
	}

	var resendErr *auth.ResendError
	if errors.As(err, &resendErr) {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":             "code recently sent",
			"retryAfterSeconds": int(resendErr.RetryAfter.Seconds()) + 1,
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, catalog.ErrTierNotFound),
		errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, payments.ErrTokenUnknown),
		errors.Is(err, errOrderNotFound),
		errors.Is(err, errCouponNotFound):
		status = http.StatusNotFound
	case errors.Is(err, catalog.ErrTierRequired),
		errors.Is(err, catalog.ErrPositiveAdjust),
		errors.Is(err, catalog.ErrNoInventory),
		errors.Is(err, purchase.ErrQuantityInvalid),
		errors.Is(err, purchase.ErrLineInvalid),
		errors.Is(err, purchase.ErrPriceInvalid),
		errors.Is(err, payments.ErrMethodUnavailable),
		errors.Is(err, auth.ErrLinkUnavailable),
		errors.Is(err, auth.ErrStateInvalid),
		errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, purchase.ErrOwnerConflict),
		errors.Is(err, payments.ErrAlreadyCompleted),
		errors.Is(err, payments.ErrMethodMismatch),
		errors.Is(err, payments.ErrProofMismatch),
		errors.Is(err, auth.ErrEmailTaken),
		errors.Is(err, auth.ErrAlreadyLinked),
		errors.Is(err, errCouponExists):
		status = http.StatusConflict
	case errors.Is(err, payments.ErrWrongOwner):
		status = http.StatusForbidden
	case errors.Is(err, payments.ErrUnsettled):
		status = http.StatusPaymentRequired
	case errors.Is(err, auth.ErrBadCredentials),
		errors.Is(err, auth.ErrOTPInvalid),
		errors.Is(err, auth.ErrOTPExhausted),
		errors.Is(err, auth.ErrTokenInvalid),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrLinkInvalid):
		status = http.StatusUnauthorized
	}

	if status == http.StatusInternalServerError {
		log.Printf("Internal error: %v", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

var (
	errBadRequest     = errors.New("bad request")
	errOrderNotFound  = errors.New("order not found")
	errCouponNotFound = errors.New("coupon not found")
	errCouponExists   = errors.New("coupon code already exists")
)
