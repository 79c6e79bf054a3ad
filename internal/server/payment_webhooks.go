package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/smallbiznis/microsaas/internal/credit/domain"
	paymentdomain "github.com/smallbiznis/microsaas/internal/payment/domain"
)

func (s *Server) HandlePayPalWebhook(c *gin.Context) {
	s.handleWebhook(c, paymentdomain.ProviderPayPal)
}

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	s.handleWebhook(c, strings.TrimSpace(c.Param("provider")))
}

// handleWebhook answers 2xx for every outcome the provider must not retry.
func (s *Server) handleWebhook(c *gin.Context, provider string) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		AbortWithError(c, paymentdomain.ErrInvalidPayload)
		return
	}

	outcome, err := s.creditSvc.HandleWebhook(c.Request.Context(), provider, c.Request.Header, payload)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	switch outcome.Kind {
	case creditdomain.OutcomeCredited:
		c.JSON(http.StatusOK, gin.H{
			"ok":       true,
			"user_id":  outcome.UserID,
			"credited": outcome.Credits,
			"credits":  outcome.Balance,
		})
	case creditdomain.OutcomeDuplicate:
		c.JSON(http.StatusOK, gin.H{"ok": true, "duplicate": true})
	case creditdomain.OutcomeIgnored:
		c.JSON(http.StatusOK, gin.H{"ok": true, "ignored": true})
	case creditdomain.OutcomeRejected:
		AbortWithError(c, &webhookRejection{reason: outcome.Reason})
	default:
		AbortWithError(c, errors.New("unknown webhook outcome"))
	}
}
