package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/smallbiznis/microsaas/internal/credit/domain"
)

type grantRequest struct {
	UserID     string `json:"user_id"`
	Credits    *int64 `json:"credits"`
	Note       string `json:"note"`
	AdminToken string `json:"admin_token"`
}

func (s *Server) AdminGrant(c *gin.Context) {
	// an unreadable body counts as empty so the token check still answers first
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		req = grantRequest{}
	}

	token := bearerToken(c)
	if token == "" {
		token = req.AdminToken
	}

	result, err := s.creditSvc.AdminGrant(c.Request.Context(), creditdomain.GrantRequest{
		UserID:     req.UserID,
		Credits:    req.Credits,
		Note:       req.Note,
		AdminToken: token,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"user_id":  result.UserID,
		"credited": result.Credited,
		"credits":  result.Credits,
	})
}

func (s *Server) AdminStats(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		token = c.Query("token")
	}

	stats, err := s.creditSvc.Stats(c.Request.Context(), token)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
