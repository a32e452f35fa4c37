package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/creditrelay/creditrelay/internal/clock"
	paymentdomain "github.com/creditrelay/creditrelay/internal/payment/domain"
	proxypooldomain "github.com/creditrelay/creditrelay/internal/proxypool/domain"
	registrydomain "github.com/creditrelay/creditrelay/internal/registry/domain"
	"go.uber.org/zap"
)

type stubRegistry struct {
	registrydomain.Service

	providers []registrydomain.Provider
	resets    []string
	resetErr  error
}

func (s *stubRegistry) ListProviders(ctx context.Context) ([]registrydomain.Provider, error) {
	return s.providers, nil
}

func (s *stubRegistry) ResetDailyQuotas(ctx context.Context, name string) error {
	s.resets = append(s.resets, name)
	return s.resetErr
}

type stubProxyPool struct {
	proxypooldomain.Service

	healthChecks int
	healthErr    error
	healthFn     func(ctx context.Context) error
}

func (s *stubProxyPool) PerformHealthCheck(ctx context.Context) error {
	s.healthChecks++
	if s.healthFn != nil {
		return s.healthFn(ctx)
	}
	return s.healthErr
}

type stubPayments struct {
	paymentdomain.Service

	cleanups   int
	cleanupErr error
	polls      int
	pollErr    error
}

func (s *stubPayments) CleanupExpiredPayments(ctx context.Context) (int64, error) {
	s.cleanups++
	return 0, s.cleanupErr
}

func (s *stubPayments) PollPendingPayments(ctx context.Context) error {
	s.polls++
	return s.pollErr
}

type fixture struct {
	sched    *Scheduler
	clock    *clock.FakeClock
	registry *stubRegistry
	pool     *stubProxyPool
	payments *stubPayments
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	registry := &stubRegistry{providers: []registrydomain.Provider{{Name: "gemini"}, {Name: "openai"}}}
	pool := &stubProxyPool{}
	payments := &stubPayments{}

	sched, err := New(Params{
		Log:         zap.NewNop(),
		Clock:       fakeClock,
		RegistrySvc: registry,
		ProxySvc:    pool,
		PaymentSvc:  payments,
		Config:      cfg,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return &fixture{sched: sched, clock: fakeClock, registry: registry, pool: pool, payments: payments}
}

func TestRunOnceHonorsPerJobIntervals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	if err := f.sched.RunOnce(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if f.pool.healthChecks != 1 || f.payments.cleanups != 1 || f.payments.polls != 1 {
		t.Fatalf("first run counts = health %d cleanup %d poll %d, want 1 each",
			f.pool.healthChecks, f.payments.cleanups, f.payments.polls)
	}
	if len(f.registry.resets) != 2 {
		t.Fatalf("quota resets = %v, want both providers", f.registry.resets)
	}

	// Half a tick later nothing is due yet.
	f.clock.Advance(30 * time.Second)
	if err := f.sched.RunOnce(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if f.pool.healthChecks != 1 || f.payments.cleanups != 1 || f.payments.polls != 1 {
		t.Fatalf("jobs re-ran before their interval elapsed")
	}

	// At the one minute mark the payment jobs fire again; the five minute
	// health check and daily quota reset do not.
	f.clock.Advance(30 * time.Second)
	if err := f.sched.RunOnce(ctx); err != nil {
		t.Fatalf("third run: %v", err)
	}
	if f.payments.cleanups != 2 || f.payments.polls != 2 {
		t.Fatalf("payment jobs = cleanup %d poll %d, want 2 each", f.payments.cleanups, f.payments.polls)
	}
	if f.pool.healthChecks != 1 || len(f.registry.resets) != 2 {
		t.Fatalf("slow jobs fired early: health %d resets %v", f.pool.healthChecks, f.registry.resets)
	}

	f.clock.Advance(4 * time.Minute)
	if err := f.sched.RunOnce(ctx); err != nil {
		t.Fatalf("fourth run: %v", err)
	}
	if f.pool.healthChecks != 2 {
		t.Fatalf("health checks = %d after interval elapsed, want 2", f.pool.healthChecks)
	}
	if len(f.registry.resets) != 2 {
		t.Fatalf("quota reset fired before a day elapsed: %v", f.registry.resets)
	}
}

func TestEnabledJobsRestrictsRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{EnabledJobs: []string{"poll_pending_payments"}})

	if err := f.sched.RunOnce(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if f.payments.polls != 1 {
		t.Fatalf("polls = %d, want 1", f.payments.polls)
	}
	if f.pool.healthChecks != 0 || f.payments.cleanups != 0 || len(f.registry.resets) != 0 {
		t.Fatalf("disabled jobs ran: health %d cleanup %d resets %v",
			f.pool.healthChecks, f.payments.cleanups, f.registry.resets)
	}
}

func TestJobErrorIsNamedAndDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.payments.cleanupErr = errors.New("sweep failed")

	err := f.sched.RunOnce(ctx)
	if err == nil {
		t.Fatal("expected error from failing job")
	}
	if !strings.Contains(err.Error(), "cleanup_expired_payments") {
		t.Fatalf("error %q does not name the failing job", err)
	}
	if f.payments.polls != 1 || f.pool.healthChecks != 1 {
		t.Fatalf("later jobs skipped after failure: poll %d health %d", f.payments.polls, f.pool.healthChecks)
	}
}

func TestJobTimeoutIsSoft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{JobTimeout: 10 * time.Millisecond})
	f.pool.healthFn = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	if err := f.sched.RunOnce(ctx); err != nil {
		t.Fatalf("timed-out job surfaced as hard error: %v", err)
	}
	if f.pool.healthChecks != 1 {
		t.Fatalf("health checks = %d, want 1", f.pool.healthChecks)
	}
}

func TestQuotaResetFailureIsAggregated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{EnabledJobs: []string{"reset_daily_quotas"}})
	f.registry.resetErr = errors.New("db down")

	err := f.sched.RunOnce(ctx)
	if err == nil || !strings.Contains(err.Error(), "reset_daily_quotas") {
		t.Fatalf("err = %v, want reset_daily_quotas failure", err)
	}
	// Both providers were still attempted.
	if len(f.registry.resets) != 2 {
		t.Fatalf("resets = %v, want both providers attempted", f.registry.resets)
	}
}
