package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/creditrelay/creditrelay/internal/clock"
	"github.com/creditrelay/creditrelay/internal/config"
	"github.com/creditrelay/creditrelay/internal/metrics"
	pooldomain "github.com/creditrelay/creditrelay/internal/proxypool/domain"
	registrydomain "github.com/creditrelay/creditrelay/internal/registry/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const assignCandidateLimit = 25

type Params struct {
	fx.In

	Config   config.Config
	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Metrics  *metrics.Metrics `optional:"true"`
	Repo     pooldomain.Repository
	Registry registrydomain.Service
}

type lookupEntry struct {
	proxy   *pooldomain.Proxy
	expires time.Time
}

type Service struct {
	cfg      config.ProxyPoolConfig
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	metrics  *metrics.Metrics
	repo     pooldomain.Repository
	registry registrydomain.Service

	upstreamTimeout time.Duration

	mu    sync.Mutex
	cache map[string]lookupEntry
}

func New(p Params) pooldomain.Service {
	return &Service{
		cfg:             p.Config.ProxyPool,
		db:              p.DB,
		log:             p.Log.Named("proxypool.service"),
		genID:           p.GenID,
		clock:           p.Clock,
		metrics:         p.Metrics,
		repo:            p.Repo,
		registry:        p.Registry,
		upstreamTimeout: p.Config.Gateway.UpstreamTimeout,
		cache:           make(map[string]lookupEntry),
	}
}

func (s *Service) AddProxy(ctx context.Context, input pooldomain.ProxyInput) (*pooldomain.Proxy, error) {
	host := strings.TrimSpace(input.Host)
	if host == "" || input.Port <= 0 || input.Port > 65535 {
		return nil, pooldomain.ErrInvalidProxy
	}

	existing, err := s.repo.FindByHostPort(ctx, s.db, host, input.Port)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, pooldomain.ErrDuplicateProxy
	}

	now := s.clock.Now()
	proxy := &pooldomain.Proxy{
		ID:        s.genID.Generate(),
		Host:      host,
		Port:      input.Port,
		Protocol:  pooldomain.NormalizeProtocol(input.Protocol),
		Username:  input.Username,
		Password:  input.Password,
		Location:  input.Location,
		Vendor:    input.Vendor,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if input.IsActive != nil {
		proxy.IsActive = *input.IsActive
	}
	if err := s.repo.Insert(ctx, s.db, proxy); err != nil {
		return nil, err
	}
	return proxy, nil
}

func (s *Service) GetProxy(ctx context.Context, id snowflake.ID) (*pooldomain.Proxy, error) {
	proxy, err := s.repo.Find(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if proxy == nil {
		return nil, pooldomain.ErrProxyNotFound
	}
	return proxy, nil
}

func (s *Service) ListProxies(ctx context.Context) ([]pooldomain.Proxy, error) {
	return s.repo.ListAll(ctx, s.db)
}

func (s *Service) UpdateProxy(ctx context.Context, id snowflake.ID, input pooldomain.ProxyInput) (*pooldomain.Proxy, error) {
	proxy, err := s.GetProxy(ctx, id)
	if err != nil {
		return nil, err
	}

	if host := strings.TrimSpace(input.Host); host != "" {
		proxy.Host = host
	}
	if input.Port > 0 && input.Port <= 65535 {
		proxy.Port = input.Port
	}
	if strings.TrimSpace(input.Protocol) != "" {
		proxy.Protocol = pooldomain.NormalizeProtocol(input.Protocol)
	}
	if input.Username != nil {
		proxy.Username = input.Username
	}
	if input.Password != nil {
		proxy.Password = input.Password
	}
	if input.Location != nil {
		proxy.Location = input.Location
	}
	if input.Vendor != nil {
		proxy.Vendor = input.Vendor
	}
	if input.IsActive != nil {
		proxy.IsActive = *input.IsActive
	}

	if err := s.repo.Update(ctx, s.db, proxy); err != nil {
		return nil, err
	}

	// Deactivating a bound proxy releases its key so lookups and auto-assign
	// see it as free immediately.
	if !proxy.IsActive && proxy.AssignedAPIKey != nil {
		if _, err := s.repo.ClearAssignment(ctx, s.db, proxy.ID); err != nil {
			return nil, err
		}
		s.invalidate(*proxy.AssignedAPIKey)
		proxy.AssignedAPIKey = nil
	}
	return proxy, nil
}

func (s *Service) DeleteProxy(ctx context.Context, id snowflake.ID) error {
	proxy, err := s.GetProxy(ctx, id)
	if err != nil {
		return err
	}
	if proxy.AssignedAPIKey != nil {
		return pooldomain.ErrProxyAssigned
	}
	return s.repo.Delete(ctx, s.db, id)
}

func (s *Service) GetProxyForAPIKey(ctx context.Context, apiKey string) (*pooldomain.Proxy, error) {
	now := s.clock.Now()

	s.mu.Lock()
	if entry, ok := s.cache[apiKey]; ok && now.Before(entry.expires) {
		proxy := entry.proxy
		s.mu.Unlock()
		return proxy, nil
	}
	s.mu.Unlock()

	proxy, err := s.repo.FindByAssignedKey(ctx, s.db, apiKey)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[apiKey] = lookupEntry{proxy: proxy, expires: now.Add(s.cfg.LookupCacheTTL)}
	s.mu.Unlock()
	return proxy, nil
}

func (s *Service) RequestThrough(ctx context.Context, req *http.Request, apiKey string) (*http.Response, error) {
	return s.ClientFor(apiKey).Do(req.WithContext(ctx))
}

func (s *Service) ClientFor(apiKey string) *http.Client {
	return &http.Client{
		Transport: &poolRoundTripper{svc: s, apiKey: apiKey},
		Timeout:   s.upstreamTimeout,
	}
}

// poolRoundTripper routes each request through the key's assigned proxy,
// records the outcome, and retries once over the direct transport when the
// proxy fails with a transient network error.
type poolRoundTripper struct {
	svc    *Service
	apiKey string
}

func (rt *poolRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	s := rt.svc
	ctx := req.Context()

	proxy, err := s.GetProxyForAPIKey(ctx, rt.apiKey)
	if err != nil {
		s.log.Warn("proxy lookup failed, going direct", zap.Error(err))
		return http.DefaultTransport.RoundTrip(req)
	}
	if proxy == nil {
		return http.DefaultTransport.RoundTrip(req)
	}

	transport, err := BuildTransport(proxy)
	if err != nil {
		s.log.Warn("proxy transport build failed, going direct",
			zap.Int64("proxy_id", proxy.ID.Int64()),
			zap.Error(err),
		)
		return http.DefaultTransport.RoundTrip(req)
	}

	start := time.Now()
	resp, err := transport.RoundTrip(req)
	if err == nil {
		elapsed := time.Since(start).Milliseconds()
		if recErr := s.repo.RecordSuccess(ctx, s.db, proxy.ID, elapsed); recErr != nil {
			s.log.Warn("record proxy success failed", zap.Error(recErr))
		}
		return resp, nil
	}

	if recErr := s.repo.RecordFailure(ctx, s.db, proxy.ID); recErr != nil {
		s.log.Warn("record proxy failure failed", zap.Error(recErr))
	}
	if !isRetryableNetErr(err) {
		return nil, err
	}

	s.log.Warn("proxy request failed, retrying direct",
		zap.Int64("proxy_id", proxy.ID.Int64()),
		zap.Error(err),
	)
	retry := req.Clone(ctx)
	if req.GetBody != nil {
		body, bodyErr := req.GetBody()
		if bodyErr != nil {
			return nil, err
		}
		retry.Body = body
	}
	return http.DefaultTransport.RoundTrip(retry)
}

func (s *Service) ReleaseProxy(ctx context.Context, id snowflake.ID) error {
	proxy, err := s.GetProxy(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.repo.ClearAssignment(ctx, s.db, id); err != nil {
		return err
	}
	if proxy.AssignedAPIKey != nil {
		s.invalidate(*proxy.AssignedAPIKey)
	}
	return nil
}

func (s *Service) PerformHealthCheck(ctx context.Context) error {
	proxies, err := s.repo.ListActive(ctx, s.db)
	if err != nil {
		return err
	}

	for i := range proxies {
		proxy := &proxies[i]
		start := time.Now()
		if err := s.probe(ctx, proxy); err == nil {
			elapsed := time.Since(start).Milliseconds()
			s.countHealthCheck("ok")
			if recErr := s.repo.RecordSuccess(ctx, s.db, proxy.ID, elapsed); recErr != nil {
				s.log.Warn("record health check success failed", zap.Error(recErr))
			}
			continue
		}

		s.countHealthCheck("fail")
		if recErr := s.repo.RecordFailure(ctx, s.db, proxy.ID); recErr != nil {
			s.log.Warn("record health check failure failed", zap.Error(recErr))
			continue
		}
		current, findErr := s.repo.Find(ctx, s.db, proxy.ID)
		if findErr != nil || current == nil {
			continue
		}
		if current.FailureCount > s.cfg.FailureThreshold {
			note := fmt.Sprintf("auto-deactivated %s after %d consecutive probe failures",
				s.clock.Now().Format(time.RFC3339), current.FailureCount)
			if deErr := s.repo.Deactivate(ctx, s.db, proxy.ID, note); deErr != nil {
				s.log.Error("deactivate unhealthy proxy failed", zap.Error(deErr))
				continue
			}
			if _, clErr := s.repo.ClearAssignment(ctx, s.db, proxy.ID); clErr != nil {
				s.log.Error("release unhealthy proxy failed", zap.Error(clErr))
			}
			if current.AssignedAPIKey != nil {
				s.invalidate(*current.AssignedAPIKey)
			}
			s.log.Warn("proxy deactivated by health check",
				zap.Int64("proxy_id", proxy.ID.Int64()),
				zap.String("addr", proxy.Addr()),
				zap.Int64("failure_count", current.FailureCount),
			)
		}
	}
	return nil
}

func (s *Service) probe(ctx context.Context, proxy *pooldomain.Proxy) error {
	transport, err := BuildTransport(proxy)
	if err != nil {
		return err
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.HealthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, s.cfg.HealthCheckURL, nil)
	if err != nil {
		return err
	}
	client := &http.Client{Transport: transport, Timeout: s.cfg.HealthCheckTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	// Any response means the proxy is reachable and forwarding.
	resp.Body.Close()
	return nil
}

func (s *Service) SuggestUnassigned(ctx context.Context, limit int) ([]pooldomain.Proxy, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.repo.ListUnassignedActive(ctx, s.db, limit)
}

func (s *Service) AutoAssign(ctx context.Context, providerFilter string, forceReassign bool) ([]pooldomain.AssignResult, error) {
	var providers []registrydomain.Provider
	if strings.TrimSpace(providerFilter) != "" {
		provider, err := s.registry.GetProvider(ctx, providerFilter)
		if err != nil {
			return nil, err
		}
		providers = []registrydomain.Provider{*provider}
	} else {
		var err error
		providers, err = s.registry.ListProviders(ctx)
		if err != nil {
			return nil, err
		}
	}

	var results []pooldomain.AssignResult
	for i := range providers {
		provider := &providers[i]
		statuses, err := s.registry.ListKeyStatus(ctx, provider.Name)
		if err != nil {
			return nil, err
		}
		for _, status := range statuses {
			if !status.IsActive {
				continue
			}
			results = append(results, s.assignOne(ctx, provider.Name, status.APIKey, forceReassign))
		}
	}
	return results, nil
}

func (s *Service) assignOne(ctx context.Context, provider, apiKey string, force bool) pooldomain.AssignResult {
	result := pooldomain.AssignResult{Provider: provider, APIKey: apiKey}

	existing, err := s.repo.FindByAssignedKey(ctx, s.db, apiKey)
	if err != nil {
		result.Outcome = pooldomain.AssignOutcomeError
		result.Error = err.Error()
		return result
	}
	if existing != nil {
		if !force {
			result.Outcome = pooldomain.AssignOutcomeAlreadyAssigned
			result.ProxyID = existing.ID
			return result
		}
		if _, err := s.repo.ClearAssignment(ctx, s.db, existing.ID); err != nil {
			result.Outcome = pooldomain.AssignOutcomeError
			result.Error = err.Error()
			return result
		}
		s.invalidate(apiKey)
	}

	candidates, err := s.repo.ListUnassignedActive(ctx, s.db, assignCandidateLimit)
	if err != nil {
		result.Outcome = pooldomain.AssignOutcomeError
		result.Error = err.Error()
		return result
	}
	for i := range candidates {
		ok, err := s.repo.AssignIfFree(ctx, s.db, candidates[i].ID, apiKey)
		if err != nil {
			result.Outcome = pooldomain.AssignOutcomeError
			result.Error = err.Error()
			return result
		}
		if ok {
			s.invalidate(apiKey)
			result.Outcome = pooldomain.AssignOutcomeAssigned
			result.ProxyID = candidates[i].ID
			return result
		}
		// Lost the race for this candidate; try the next one.
	}
	result.Outcome = pooldomain.AssignOutcomeNoProxy
	return result
}

func (s *Service) invalidate(apiKey string) {
	s.mu.Lock()
	delete(s.cache, apiKey)
	s.mu.Unlock()
}

func (s *Service) countHealthCheck(result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ProxyHealthChecks.WithLabelValues(result).Inc()
}
