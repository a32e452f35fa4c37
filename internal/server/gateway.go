package server

import (
	"net/http"

	gatewaydomain "github.com/creditrelay/creditrelay/internal/gateway/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) handleGenerate(c *gin.Context) {
	var req gatewaydomain.TextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.gatewaySvc.GenerateText(c.Request.Context(), callerToken(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGenerateImage(c *gin.Context) {
	var req gatewaydomain.ImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.gatewaySvc.GenerateImage(c.Request.Context(), callerToken(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetCredit(c *gin.Context) {
	token := callerToken(c)
	if token == "" {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	key, err := s.ledgerSvc.FindActiveKey(c.Request.Context(), token)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"credit":    key.Credit,
		"is_active": key.IsActive,
	})
}
