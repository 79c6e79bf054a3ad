package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/microsaas/internal/observability/logger"
	"github.com/smallbiznis/microsaas/internal/providers/completion"
	"github.com/smallbiznis/microsaas/internal/ratelimit"
	"go.uber.org/zap"
)

func (s *Server) GetCredits(c *gin.Context) {
	view, err := s.creditSvc.Credits(c.Request.Context(), c.Query("user"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type useRequest struct {
	UserID string `json:"user_id"`
	Prompt string `json:"prompt"`
}

// Use debits one unit and only then runs the generator.
func (s *Server) Use(c *gin.Context) {
	var req useRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	userID := strings.TrimSpace(req.UserID)
	if !s.allow(c, ratelimit.ScopeUse, userID) {
		return
	}

	ctx := c.Request.Context()
	result, err := s.creditSvc.Debit(ctx, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	output := s.generate(ctx, completion.NormalizePrompt(req.Prompt))
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"used":    result.Used,
		"credits": result.Credits,
		"result":  output,
	})
}

func (s *Server) generate(ctx context.Context, prompt string) string {
	if s.generator == nil {
		return completion.DemoOutput(prompt)
	}
	output, err := s.generator.Generate(ctx, prompt)
	if err != nil || strings.TrimSpace(output) == "" {
		logger.FromContext(ctx).Warn("generator returned no output", zap.Error(err))
		return completion.DemoOutput(prompt)
	}
	return output
}
