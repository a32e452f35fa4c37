package server

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	HeaderAPIKey     = "X-API-Key"
	HeaderAdminToken = "X-Admin-Token"
	HeaderRequestID  = "X-Request-ID"
)

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", c.GetString("request_id")),
		}
		if last := c.Errors.Last(); last != nil {
			fields = append(fields, zap.Error(last.Err))
		}

		if c.Writer.Status() >= 500 {
			log.Error("request", fields...)
			return
		}
		log.Info("request", fields...)
	}
}

// callerToken reads the caller's ledger key from the X-API-Key header.
func callerToken(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(HeaderAPIKey))
}

// AdminRequired gates the admin surface on a shared token. With no token
// configured the whole surface is disabled.
func (s *Server) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminToken == "" {
			AbortWithError(c, ErrForbidden)
			return
		}
		presented := strings.TrimSpace(c.GetHeader(HeaderAdminToken))
		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.cfg.AdminToken)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

// RateLimitByKey applies the redis token bucket to the generation endpoints,
// one bucket per caller key. Unconfigured redis means no limiting; a limiter
// error fails open.
func (s *Server) RateLimitByKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		perMin := s.cfg.Gateway.RateLimitPerMin
		if s.limiter == nil || perMin <= 0 {
			c.Next()
			return
		}

		token := callerToken(c)
		if token == "" {
			// The handler rejects missing keys with a proper 401.
			c.Next()
			return
		}

		key := fmt.Sprintf("gen:%s", token)
		res, err := s.limiter.Allow(c.Request.Context(), key, float64(perMin)/60.0, perMin)
		if err != nil {
			s.log.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !res.Allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", int(res.RetryAfter/time.Second)+1))
			AbortWithError(c, ErrTooManyRequests)
			return
		}
		c.Next()
	}
}
