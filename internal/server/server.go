package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/creditrelay/creditrelay/internal/config"
	gatewaydomain "github.com/creditrelay/creditrelay/internal/gateway/domain"
	ledgerdomain "github.com/creditrelay/creditrelay/internal/ledger/domain"
	paymentdomain "github.com/creditrelay/creditrelay/internal/payment/domain"
	pricingdomain "github.com/creditrelay/creditrelay/internal/pricing/domain"
	proxypooldomain "github.com/creditrelay/creditrelay/internal/proxypool/domain"
	"github.com/creditrelay/creditrelay/internal/ratelimit"
	registrydomain "github.com/creditrelay/creditrelay/internal/registry/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, log *zap.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(log.Named("http")))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type ServerParams struct {
	fx.In

	Cfg         config.Config
	Log         *zap.Logger
	GenID       *snowflake.Node
	LedgerSvc   ledgerdomain.Service
	GatewaySvc  gatewaydomain.Service
	PaymentSvc  paymentdomain.Service
	PricingSvc  pricingdomain.Service
	RegistrySvc registrydomain.Service
	ProxySvc    proxypooldomain.Service
	Limiter     *ratelimit.TokenBucket `optional:"true"`
}

type Server struct {
	cfg         config.Config
	log         *zap.Logger
	genID       *snowflake.Node
	ledgerSvc   ledgerdomain.Service
	gatewaySvc  gatewaydomain.Service
	paymentSvc  paymentdomain.Service
	pricingSvc  pricingdomain.Service
	registrySvc registrydomain.Service
	proxySvc    proxypooldomain.Service
	limiter     *ratelimit.TokenBucket
}

func NewServer(p ServerParams) *Server {
	return &Server{
		cfg:         p.Cfg,
		log:         p.Log.Named("server"),
		genID:       p.GenID,
		ledgerSvc:   p.LedgerSvc,
		gatewaySvc:  p.GatewaySvc,
		paymentSvc:  p.PaymentSvc,
		pricingSvc:  p.PricingSvc,
		registrySvc: p.RegistrySvc,
		proxySvc:    p.ProxySvc,
		limiter:     p.Limiter,
	}
}

func RegisterRoutes(r *gin.Engine, s *Server) {
	api := r.Group("/api")
	{
		api.POST("/generate", s.RateLimitByKey(), s.handleGenerate)
		api.POST("/generate/image", s.RateLimitByKey(), s.handleGenerateImage)
		api.GET("/credit", s.handleGetCredit)
		api.GET("/packages", s.handleListPackages)
		api.POST("/payments", s.handleCreatePayment)
		api.GET("/payments/:id", s.handleGetPayment)
	}

	r.POST("/webhooks/payos", s.handleSettlementWebhook)

	admin := r.Group("/admin", s.AdminRequired())
	{
		admin.POST("/keys", s.handleCreateKey)
		admin.POST("/keys/:token/adjust", s.handleAdjustCredit)
		admin.POST("/keys/:token/active", s.handleSetKeyActive)

		admin.POST("/payments/:id/confirm", s.handleConfirmPayment)

		admin.POST("/packages", s.handleCreatePackage)
		admin.POST("/packages/:id/active", s.handleSetPackageActive)

		admin.POST("/providers", s.handleRegisterProvider)
		admin.GET("/providers", s.handleListProviders)
		admin.PUT("/providers/:name/keys", s.handleSetProviderKeys)
		admin.GET("/providers/:name/keys", s.handleListKeyStatus)
		admin.POST("/providers/:name/quota-reset", s.handleResetQuotas)

		admin.POST("/proxies", s.handleAddProxy)
		admin.GET("/proxies", s.handleListProxies)
		admin.PUT("/proxies/:id", s.handleUpdateProxy)
		admin.DELETE("/proxies/:id", s.handleDeleteProxy)
		admin.POST("/proxies/:id/release", s.handleReleaseProxy)
		admin.GET("/proxies/suggestions", s.handleSuggestProxies)
		admin.POST("/proxies/auto-assign", s.handleAutoAssign)
	}
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.ListenAddr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
