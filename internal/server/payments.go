package server

import (
	"fmt"
	"io"
	"net/http"

	paymentdomain "github.com/creditrelay/creditrelay/internal/payment/domain"
	"github.com/gin-gonic/gin"
)

const webhookBodyLimit = 1 << 20

type createPaymentRequest struct {
	Credits int64 `json:"credits" binding:"required"`
}

func (s *Server) handleCreatePayment(c *gin.Context) {
	token := callerToken(c)
	if token == "" {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	payment, err := s.paymentSvc.CreatePayment(c.Request.Context(), token, req.Credits, paymentdomain.RequestMeta{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Referer:   c.Request.Referer(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, payment)
}

func (s *Server) handleGetPayment(c *gin.Context) {
	payment, err := s.paymentSvc.GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (s *Server) handleSettlementWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, webhookBodyLimit))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.paymentSvc.HandleWebhook(c.Request.Context(), payload); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

type confirmPaymentRequest struct {
	TransactionID string `json:"transaction_id"`
}

func (s *Server) handleConfirmPayment(c *gin.Context) {
	var req confirmPaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
	}
	if req.TransactionID == "" {
		req.TransactionID = fmt.Sprintf("admin:%s", c.GetString("request_id"))
	}

	payment, err := s.paymentSvc.CompletePayment(c.Request.Context(), c.Param("id"), req.TransactionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}
