package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/creditrelay/creditrelay/internal/clock"
	"github.com/creditrelay/creditrelay/internal/metrics"
	paymentdomain "github.com/creditrelay/creditrelay/internal/payment/domain"
	proxypooldomain "github.com/creditrelay/creditrelay/internal/proxypool/domain"
	registrydomain "github.com/creditrelay/creditrelay/internal/registry/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

type Params struct {
	fx.In

	Log         *zap.Logger
	Clock       clock.Clock
	Metrics     *metrics.Metrics `optional:"true"`
	RegistrySvc registrydomain.Service
	ProxySvc    proxypooldomain.Service
	PaymentSvc  paymentdomain.Service
	Config      Config `optional:"true"`
}

// Scheduler drives the periodic maintenance jobs: proxy health probes, daily
// upstream quota resets, expired payment sweeps, and pending checkout polls.
type Scheduler struct {
	log         *zap.Logger
	cfg         Config
	clock       clock.Clock
	metrics     *metrics.Metrics
	registrySvc registrydomain.Service
	proxySvc    proxypooldomain.Service
	paymentSvc  paymentdomain.Service

	lastRun map[string]time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.RegistrySvc == nil || p.ProxySvc == nil || p.PaymentSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:         p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:         p.Config.withDefaults(),
		clock:       p.Clock,
		metrics:     p.Metrics,
		registrySvc: p.RegistrySvc,
		proxySvc:    p.ProxySvc,
		paymentSvc:  p.PaymentSvc,
		lastRun:     map[string]time.Time{},
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	start := s.clock.Now()
	s.countRun(name)

	err := fn(ctx)
	s.log.Debug("job finished",
		zap.String("job", name),
		zap.Duration("elapsed", time.Since(start)),
	)
	if err == nil {
		return nil
	}

	// A deadline is a soft failure: the next tick picks up where this one
	// stopped.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	s.countFail(name)
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes every enabled job whose interval has elapsed since its
// last run. All due jobs run; their errors are joined.
func (s *Scheduler) RunOnce(parent context.Context) error {
	now := s.clock.Now()
	var err error

	jobs := []struct {
		Name     string
		Interval time.Duration
		Run      func(context.Context) error
	}{
		{"proxy_health_check", s.cfg.ProxyHealthCheckInterval, s.proxySvc.PerformHealthCheck},
		{"reset_daily_quotas", s.cfg.QuotaResetInterval, s.resetDailyQuotas},
		{"cleanup_expired_payments", s.cfg.PaymentCleanupInterval, func(ctx context.Context) error {
			_, cleanupErr := s.paymentSvc.CleanupExpiredPayments(ctx)
			return cleanupErr
		}},
		{"poll_pending_payments", s.cfg.PaymentPollInterval, s.paymentSvc.PollPendingPayments},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		if last, ok := s.lastRun[job.Name]; ok && now.Sub(last) < job.Interval {
			continue
		}
		s.lastRun[job.Name] = now
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.JobTimeout, job.Run))
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

func (s *Scheduler) resetDailyQuotas(ctx context.Context) error {
	providers, err := s.registrySvc.ListProviders(ctx)
	if err != nil {
		return err
	}

	var jobErr error
	for _, provider := range providers {
		if err := s.registrySvc.ResetDailyQuotas(ctx, provider.Name); err != nil {
			s.log.Warn("quota reset failed",
				zap.String("provider", provider.Name),
				zap.Error(err),
			)
			jobErr = errors.Join(jobErr, err)
		}
	}
	return jobErr
}

func (s *Scheduler) countRun(name string) {
	if s.metrics == nil {
		return
	}
	s.metrics.SchedulerJobRuns.WithLabelValues(name).Inc()
}

func (s *Scheduler) countFail(name string) {
	if s.metrics == nil {
		return
	}
	s.metrics.SchedulerJobFails.WithLabelValues(name).Inc()
}
