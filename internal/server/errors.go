package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	balancedomain "github.com/smallbiznis/microsaas/internal/balance/domain"
	creditdomain "github.com/smallbiznis/microsaas/internal/credit/domain"
	paymentdomain "github.com/smallbiznis/microsaas/internal/payment/domain"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

var (
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrRateLimited    = errors.New("rate_limited")
)

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
		c.AbortWithStatusJSON(status, payload)
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorResponse) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, errorResponse{Error: ErrInternal.Error()}
	case isValidationError(err):
		return http.StatusBadRequest, errorResponse{Error: err.Error()}
	case errors.Is(err, creditdomain.ErrUnauthorized):
		return http.StatusUnauthorized, errorResponse{Error: "unauthorized"}
	case errors.Is(err, balancedomain.ErrInsufficientCredit):
		return http.StatusPaymentRequired, errorResponse{Error: "insufficient_credits", Message: "Top up required"}
	case errors.Is(err, creditdomain.ErrProviderNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: "not_found"}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorResponse{Error: "rate_limited"}
	default:
		return http.StatusInternalServerError, errorResponse{Error: ErrInternal.Error()}
	}
}

func isValidationError(err error) bool {
	var webhookErr *webhookRejection
	switch {
	case errors.As(err, &webhookErr),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, creditdomain.ErrInvalidUserID),
		errors.Is(err, creditdomain.ErrInvalidCredits),
		errors.Is(err, balancedomain.ErrInvalidUserID),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrMissingProviderRef),
		errors.Is(err, paymentdomain.ErrUserIDMissingInEvent):
		return true
	default:
		return false
	}
}

func classifyErrorForLog(err error) string {
	_, payload := mapError(err)
	return payload.Error
}

// webhookRejection carries the verifier or ledger reason back to the provider.
type webhookRejection struct {
	reason string
}

func (e *webhookRejection) Error() string {
	return e.reason
}
