package server

import (
	"net/http"
	"strconv"

	proxypooldomain "github.com/creditrelay/creditrelay/internal/proxypool/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) handleAddProxy(c *gin.Context) {
	var input proxypooldomain.ProxyInput
	if err := c.ShouldBindJSON(&input); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	proxy, err := s.proxySvc.AddProxy(c.Request.Context(), input)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, proxy)
}

func (s *Server) handleListProxies(c *gin.Context) {
	proxies, err := s.proxySvc.ListProxies(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proxies": proxies})
}

func (s *Server) handleUpdateProxy(c *gin.Context) {
	id, ok := parseSnowflakeParam(c, "id")
	if !ok {
		return
	}

	var input proxypooldomain.ProxyInput
	if err := c.ShouldBindJSON(&input); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	proxy, err := s.proxySvc.UpdateProxy(c.Request.Context(), id, input)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, proxy)
}

func (s *Server) handleDeleteProxy(c *gin.Context) {
	id, ok := parseSnowflakeParam(c, "id")
	if !ok {
		return
	}

	if err := s.proxySvc.DeleteProxy(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (s *Server) handleReleaseProxy(c *gin.Context) {
	id, ok := parseSnowflakeParam(c, "id")
	if !ok {
		return
	}

	if err := s.proxySvc.ReleaseProxy(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": true})
}

func (s *Server) handleSuggestProxies(c *gin.Context) {
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		limit = parsed
	}

	proxies, err := s.proxySvc.SuggestUnassigned(c.Request.Context(), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proxies": proxies})
}

type autoAssignRequest struct {
	Provider string `json:"provider"`
	Force    bool   `json:"force"`
}

func (s *Server) handleAutoAssign(c *gin.Context) {
	var req autoAssignRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
	}

	results, err := s.proxySvc.AutoAssign(c.Request.Context(), req.Provider, req.Force)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
