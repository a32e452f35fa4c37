package server

import (
	"net/http"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type createKeyRequest struct {
	Token         string `json:"token" binding:"required"`
	InitialCredit int64  `json:"initial_credit"`
	Note          string `json:"note"`
}

func (s *Server) handleCreateKey(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	key, err := s.ledgerSvc.CreateKey(c.Request.Context(), req.Token, req.InitialCredit, req.Note)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, key)
}

type adjustCreditRequest struct {
	Delta int64 `json:"delta" binding:"required"`
}

func (s *Server) handleAdjustCredit(c *gin.Context) {
	var req adjustCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	key, err := s.ledgerSvc.AdjustCredit(c.Request.Context(), c.Param("token"), req.Delta)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, key)
}

type setActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

func (s *Server) handleSetKeyActive(c *gin.Context) {
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.ledgerSvc.SetActive(c.Request.Context(), c.Param("token"), *req.Active); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

func parseSnowflakeParam(c *gin.Context, name string) (snowflake.ID, bool) {
	raw, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return 0, false
	}
	return snowflake.ID(raw), true
}
