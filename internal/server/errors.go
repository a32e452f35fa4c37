package server

import (
	"errors"
	"net/http"

	gatewaydomain "github.com/creditrelay/creditrelay/internal/gateway/domain"
	ledgerdomain "github.com/creditrelay/creditrelay/internal/ledger/domain"
	paymentdomain "github.com/creditrelay/creditrelay/internal/payment/domain"
	pricingdomain "github.com/creditrelay/creditrelay/internal/pricing/domain"
	proxypooldomain "github.com/creditrelay/creditrelay/internal/proxypool/domain"
	registrydomain "github.com/creditrelay/creditrelay/internal/registry/domain"
	"github.com/gin-gonic/gin"
)

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidRequest  = errors.New("invalid_request")
	ErrNotFound        = errors.New("not_found")
	ErrTooManyRequests = errors.New("too_many_requests")
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, gatewaydomain.ErrUnauthorized),
		errors.Is(err, ledgerdomain.ErrInvalidToken):
		return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Message: "unauthorized"}

	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{Type: "forbidden", Message: "forbidden"}

	case errors.Is(err, ledgerdomain.ErrInsufficientCredit):
		return http.StatusPaymentRequired, errorPayload{Type: "payment_required", Message: "insufficient credit"}

	case errors.Is(err, ErrTooManyRequests):
		return http.StatusTooManyRequests, errorPayload{Type: "too_many_requests", Message: "rate limit exceeded"}

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, gatewaydomain.ErrInvalidRequest),
		errors.Is(err, gatewaydomain.ErrUnsupportedProvider),
		errors.Is(err, gatewaydomain.ErrImageNotSupported),
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, pricingdomain.ErrInvalidAmount),
		errors.Is(err, registrydomain.ErrInvalidProvider),
		errors.Is(err, registrydomain.ErrInvalidKey),
		errors.Is(err, proxypooldomain.ErrInvalidProxy),
		errors.Is(err, paymentdomain.ErrInvalidWebhook):
		return http.StatusBadRequest, errorPayload{Type: "bad_request", Message: err.Error()}

	case errors.Is(err, ErrNotFound),
		errors.Is(err, ledgerdomain.ErrKeyNotFound),
		errors.Is(err, paymentdomain.ErrPaymentNotFound),
		errors.Is(err, pricingdomain.ErrPackageNotFound),
		errors.Is(err, registrydomain.ErrProviderNotFound),
		errors.Is(err, proxypooldomain.ErrProxyNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: err.Error()}

	case errors.Is(err, paymentdomain.ErrAlreadySettled),
		errors.Is(err, paymentdomain.ErrPaymentExpired),
		errors.Is(err, pricingdomain.ErrDuplicateCredit),
		errors.Is(err, proxypooldomain.ErrProxyAssigned),
		errors.Is(err, proxypooldomain.ErrDuplicateProxy):
		return http.StatusConflict, errorPayload{Type: "conflict", Message: err.Error()}

	case errors.Is(err, gatewaydomain.ErrNoUpstreamAvailable),
		errors.Is(err, registrydomain.ErrNoKeysAvailable):
		return http.StatusServiceUnavailable, errorPayload{Type: "service_unavailable", Message: "no upstream capacity"}

	case errors.Is(err, gatewaydomain.ErrUpstreamFailed):
		return http.StatusBadGateway, errorPayload{Type: "bad_gateway", Message: "upstream call failed"}
	}

	return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
}
