package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/creditrelay/creditrelay/internal/config"
	"github.com/creditrelay/creditrelay/internal/gateway/adapters"
	gatewaydomain "github.com/creditrelay/creditrelay/internal/gateway/domain"
	ledgerdomain "github.com/creditrelay/creditrelay/internal/ledger/domain"
	"github.com/creditrelay/creditrelay/internal/metrics"
	pooldomain "github.com/creditrelay/creditrelay/internal/proxypool/domain"
	registrydomain "github.com/creditrelay/creditrelay/internal/registry/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config   config.Config
	Log      *zap.Logger
	Metrics  *metrics.Metrics `optional:"true"`
	Ledger   ledgerdomain.Service
	Registry registrydomain.Service
	Pool     pooldomain.Service
	Adapters *adapters.Registry
}

type Service struct {
	cfg      config.GatewayConfig
	log      *zap.Logger
	metrics  *metrics.Metrics
	ledger   ledgerdomain.Service
	registry registrydomain.Service
	pool     pooldomain.Service
	adapters *adapters.Registry
}

func New(p Params) gatewaydomain.Service {
	return &Service{
		cfg:      p.Config.Gateway,
		log:      p.Log.Named("gateway.service"),
		metrics:  p.Metrics,
		ledger:   p.Ledger,
		registry: p.Registry,
		pool:     p.Pool,
		adapters: p.Adapters,
	}
}

func (s *Service) GenerateText(ctx context.Context, callerToken string, req gatewaydomain.TextRequest) (*gatewaydomain.TextResponse, error) {
	if err := validate(callerToken, req.Provider, req.Prompt); err != nil {
		return nil, err
	}

	flow, err := s.begin(ctx, callerToken, req.Provider)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := flow.adapter.GenerateText(ctx, s.pool.ClientFor(flow.apiKey), flow.apiKey, req)
	if err != nil {
		return nil, flow.fail(ctx, err)
	}
	flow.commit(ctx, time.Since(start))

	return &gatewaydomain.TextResponse{
		Provider:        flow.provider,
		Model:           result.Model,
		Text:            result.Text,
		Usage:           result.Usage,
		RemainingCredit: flow.remaining,
	}, nil
}

func (s *Service) GenerateImage(ctx context.Context, callerToken string, req gatewaydomain.ImageRequest) (*gatewaydomain.ImageResponse, error) {
	if err := validate(callerToken, req.Provider, req.Prompt); err != nil {
		return nil, err
	}

	flow, err := s.begin(ctx, callerToken, req.Provider)
	if err != nil {
		return nil, err
	}

	imageAdapter, ok := flow.adapter.(gatewaydomain.ImageCapable)
	if !ok {
		flow.refund(ctx, "image not supported")
		return nil, gatewaydomain.ErrImageNotSupported
	}

	start := time.Now()
	result, err := imageAdapter.GenerateImage(ctx, s.pool.ClientFor(flow.apiKey), flow.apiKey, req)
	if err != nil {
		return nil, flow.fail(ctx, err)
	}
	flow.commit(ctx, time.Since(start))

	return &gatewaydomain.ImageResponse{
		Provider:        flow.provider,
		Model:           result.Model,
		ImagesB64:       result.ImagesB64,
		RemainingCredit: flow.remaining,
	}, nil
}

func validate(callerToken, provider, prompt string) error {
	if strings.TrimSpace(callerToken) == "" {
		return gatewaydomain.ErrUnauthorized
	}
	if strings.TrimSpace(provider) == "" || strings.TrimSpace(prompt) == "" {
		return gatewaydomain.ErrInvalidRequest
	}
	return nil
}

// flow tracks one paid generation attempt from reservation to settlement.
type flow struct {
	svc       *Service
	token     string
	provider  string
	apiKey    string
	adapter   gatewaydomain.Adapter
	cost      int64
	remaining int64
	refunded  bool
}

// begin reserves credit, resolves the adapter, and picks an upstream key.
// Any failure after the reservation refunds it before returning.
func (s *Service) begin(ctx context.Context, callerToken, provider string) (*flow, error) {
	cost := s.cfg.CostPerRequest
	if cost <= 0 {
		cost = 1
	}

	key, err := s.ledger.ReserveCredit(ctx, callerToken, cost)
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrKeyNotFound) {
			return nil, gatewaydomain.ErrUnauthorized
		}
		return nil, err
	}

	f := &flow{
		svc:       s,
		token:     callerToken,
		provider:  strings.ToLower(strings.TrimSpace(provider)),
		cost:      cost,
		remaining: key.Credit,
	}

	adapter, ok := s.adapters.Adapter(f.provider)
	if !ok {
		f.refund(ctx, "unsupported provider")
		return nil, gatewaydomain.ErrUnsupportedProvider
	}
	f.adapter = adapter

	apiKey, err := s.registry.GetBestAPIKey(ctx, f.provider)
	if err != nil {
		f.refund(ctx, "no upstream key")
		return nil, gatewaydomain.ErrNoUpstreamAvailable
	}
	f.apiKey = apiKey
	return f, nil
}

func (f *flow) commit(ctx context.Context, elapsed time.Duration) {
	s := f.svc
	s.registry.MarkKeyUsed(ctx, f.provider, f.apiKey)
	if s.metrics != nil {
		s.metrics.GatewayRequests.WithLabelValues(f.provider, "ok").Inc()
		s.metrics.GatewayDuration.WithLabelValues(f.provider).Observe(elapsed.Seconds())
	}
}

// fail settles a failed upstream call: key health bookkeeping, one refund,
// and a caller-distinguishable error.
func (f *flow) fail(ctx context.Context, err error) error {
	s := f.svc

	statusCode := 0
	message := err.Error()
	var upstreamErr *gatewaydomain.UpstreamError
	if errors.As(err, &upstreamErr) {
		statusCode = upstreamErr.StatusCode
		message = upstreamErr.Message
	}
	signals := registrydomain.ClassifyError(statusCode, message)
	s.registry.MarkKeyError(ctx, f.provider, f.apiKey, signals, message)

	f.refund(ctx, "upstream failure")
	if s.metrics != nil {
		s.metrics.GatewayRequests.WithLabelValues(f.provider, "upstream_error").Inc()
	}
	s.log.Warn("upstream call failed",
		zap.String("provider", f.provider),
		zap.Int("status", statusCode),
		zap.Error(err),
	)
	return errors.Join(gatewaydomain.ErrUpstreamFailed, err)
}

// refund returns the reservation at most once. A refund persistence failure
// is a financial discrepancy and is logged loudly, never retried.
func (f *flow) refund(ctx context.Context, reason string) {
	if f.refunded {
		return
	}
	f.refunded = true

	s := f.svc
	if err := s.ledger.GrantCredit(ctx, f.token, f.cost); err != nil {
		s.log.Error("credit refund failed, balance is short",
			zap.String("provider", f.provider),
			zap.Int64("amount", f.cost),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return
	}
	f.remaining += f.cost
	if s.metrics != nil {
		s.metrics.CreditRefunds.Inc()
	}
}
