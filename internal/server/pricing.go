package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleListPackages(c *gin.Context) {
	packages, err := s.pricingSvc.ListPackages(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"packages": packages})
}

type createPackageRequest struct {
	Credits int64 `json:"credits" binding:"required"`
	Price   int64 `json:"price" binding:"required"`
}

func (s *Server) handleCreatePackage(c *gin.Context) {
	var req createPackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	pkg, err := s.pricingSvc.CreatePackage(c.Request.Context(), req.Credits, req.Price)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, pkg)
}

func (s *Server) handleSetPackageActive(c *gin.Context) {
	id, ok := parseSnowflakeParam(c, "id")
	if !ok {
		return
	}

	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.pricingSvc.SetPackageActive(c.Request.Context(), id, *req.Active); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}
