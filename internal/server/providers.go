package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type registerProviderRequest struct {
	Name    string   `json:"name" binding:"required"`
	APIKeys []string `json:"api_keys" binding:"required"`
}

func (s *Server) handleRegisterProvider(c *gin.Context) {
	var req registerProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	provider, err := s.registrySvc.RegisterProvider(c.Request.Context(), req.Name, req.APIKeys)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, provider)
}

func (s *Server) handleListProviders(c *gin.Context) {
	providers, err := s.registrySvc.ListProviders(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"providers": providers})
}

type setProviderKeysRequest struct {
	APIKeys []string `json:"api_keys" binding:"required"`
}

func (s *Server) handleSetProviderKeys(c *gin.Context) {
	var req setProviderKeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.registrySvc.SetProviderKeys(c.Request.Context(), c.Param("name"), req.APIKeys); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

func (s *Server) handleListKeyStatus(c *gin.Context) {
	statuses, err := s.registrySvc.ListKeyStatus(c.Request.Context(), c.Param("name"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": statuses})
}

func (s *Server) handleResetQuotas(c *gin.Context) {
	if err := s.registrySvc.ResetDailyQuotas(c.Request.Context(), c.Param("name")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": true})
}
