package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/creditrelay/creditrelay/internal/clock"
	"github.com/creditrelay/creditrelay/internal/config"
	pooldomain "github.com/creditrelay/creditrelay/internal/proxypool/domain"
	poolrepo "github.com/creditrelay/creditrelay/internal/proxypool/repository"
	poolservice "github.com/creditrelay/creditrelay/internal/proxypool/service"
	registryrepo "github.com/creditrelay/creditrelay/internal/registry/repository"
	registryservice "github.com/creditrelay/creditrelay/internal/registry/service"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_proxypool_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("raw db: %v", err)
	}
	// sqlite serializes writers; a single conn avoids spurious busy errors in
	// the concurrency tests.
	sqlDB.SetMaxOpenConns(1)

	schema := []string{
		`CREATE TABLE proxies (
			id BIGINT PRIMARY KEY,
			host TEXT NOT NULL,
			port INTEGER NOT NULL,
			protocol TEXT NOT NULL DEFAULT 'https',
			username TEXT,
			password TEXT,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			location TEXT,
			vendor TEXT,
			success_count BIGINT NOT NULL DEFAULT 0,
			failure_count BIGINT NOT NULL DEFAULT 0,
			avg_response_time_ms BIGINT NOT NULL DEFAULT 0,
			last_used TIMESTAMP,
			assigned_api_key TEXT,
			note TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_proxies_host_port ON proxies(host, port)`,
		`CREATE UNIQUE INDEX ux_proxies_assigned_api_key ON proxies(assigned_api_key) WHERE assigned_api_key IS NOT NULL`,
		`CREATE TABLE providers (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			api_keys TEXT NOT NULL DEFAULT '[]',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE upstream_key_status (
			id BIGINT PRIMARY KEY,
			provider_id BIGINT NOT NULL,
			api_key TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			quota_exceeded BOOLEAN NOT NULL DEFAULT FALSE,
			last_error TEXT,
			last_error_time TIMESTAMP,
			request_count BIGINT NOT NULL DEFAULT 0,
			last_used TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_upstream_key_status_provider_key ON upstream_key_status(provider_id, api_key)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

func newFixture(t *testing.T, cfg config.Config) (pooldomain.Service, *clock.FakeClock, *gorm.DB, func(name string, keys []string)) {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(13)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	registry := registryservice.New(registryservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fakeClock,
		Repo:  registryrepo.Provide(),
	})

	pool := poolservice.New(poolservice.Params{
		Config:   cfg,
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fakeClock,
		Repo:     poolrepo.Provide(),
		Registry: registry,
	})

	register := func(name string, keys []string) {
		if _, err := registry.RegisterProvider(context.Background(), name, keys); err != nil {
			t.Fatalf("register provider: %v", err)
		}
	}
	return pool, fakeClock, db, register
}

func testConfig() config.Config {
	return config.Config{
		Gateway: config.GatewayConfig{UpstreamTimeout: 5 * time.Second},
		ProxyPool: config.ProxyPoolConfig{
			LookupCacheTTL:     30 * time.Minute,
			HealthCheckTimeout: 2 * time.Second,
			HealthCheckURL:     "http://127.0.0.1:9/generate_204",
			FailureThreshold:   1,
		},
	}
}

// closedPort returns a local port with nothing listening on it.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestRequestWithoutProxyGoesDirect(t *testing.T) {
	ctx := context.Background()
	pool, _, _, _ := newFixture(t, testConfig())

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "direct ok")
	}))
	defer upstream.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, upstream.URL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := pool.RequestThrough(ctx, req, "key_without_proxy")
	if err != nil {
		t.Fatalf("request through: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "direct ok" {
		t.Fatalf("body = %q, want direct ok", body)
	}
}

func TestRequestRetriesDirectOnDeadProxy(t *testing.T) {
	ctx := context.Background()
	pool, _, db, register := newFixture(t, testConfig())

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "fallback ok")
	}))
	defer upstream.Close()

	proxy, err := pool.AddProxy(ctx, pooldomain.ProxyInput{
		Host:     "127.0.0.1",
		Port:     closedPort(t),
		Protocol: "http",
	})
	if err != nil {
		t.Fatalf("add proxy: %v", err)
	}
	register("gemini", []string{"key_a"})
	if _, err := pool.AutoAssign(ctx, "gemini", false); err != nil {
		t.Fatalf("auto assign: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, upstream.URL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := pool.RequestThrough(ctx, req, "key_a")
	if err != nil {
		t.Fatalf("request through: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "fallback ok" {
		t.Fatalf("body = %q, want fallback ok", body)
	}

	var failures int64
	if err := db.Raw(`SELECT failure_count FROM proxies WHERE id = ?`, proxy.ID).Scan(&failures).Error; err != nil {
		t.Fatalf("read failure count: %v", err)
	}
	if failures != 1 {
		t.Fatalf("failure_count = %d, want 1", failures)
	}
}

func TestAutoAssignBindsEachKeyOnce(t *testing.T) {
	ctx := context.Background()
	pool, _, _, register := newFixture(t, testConfig())

	for i := 0; i < 2; i++ {
		if _, err := pool.AddProxy(ctx, pooldomain.ProxyInput{
			Host:     "10.0.0.1",
			Port:     8000 + i,
			Protocol: "http",
		}); err != nil {
			t.Fatalf("add proxy: %v", err)
		}
	}
	register("gemini", []string{"key_a", "key_b", "key_c"})

	results, err := pool.AutoAssign(ctx, "gemini", false)
	if err != nil {
		t.Fatalf("auto assign: %v", err)
	}

	outcomes := map[string]int{}
	seenProxies := map[int64]string{}
	for _, res := range results {
		outcomes[res.Outcome]++
		if res.Outcome == pooldomain.AssignOutcomeAssigned {
			if prev, dup := seenProxies[res.ProxyID.Int64()]; dup {
				t.Fatalf("proxy %d bound to both %s and %s", res.ProxyID.Int64(), prev, res.APIKey)
			}
			seenProxies[res.ProxyID.Int64()] = res.APIKey
		}
	}
	if outcomes[pooldomain.AssignOutcomeAssigned] != 2 {
		t.Fatalf("assigned = %d, want 2 (results %+v)", outcomes[pooldomain.AssignOutcomeAssigned], results)
	}
	if outcomes[pooldomain.AssignOutcomeNoProxy] != 1 {
		t.Fatalf("no_proxy = %d, want 1 (results %+v)", outcomes[pooldomain.AssignOutcomeNoProxy], results)
	}

	// Second run is a no-op for the bound keys.
	results, err = pool.AutoAssign(ctx, "gemini", false)
	if err != nil {
		t.Fatalf("auto assign again: %v", err)
	}
	for _, res := range results {
		if res.Outcome == pooldomain.AssignOutcomeAssigned {
			t.Fatalf("re-run assigned %s, want already_assigned/no_proxy only", res.APIKey)
		}
	}
}

func TestLookupCacheInvalidatedByAssignment(t *testing.T) {
	ctx := context.Background()
	pool, fakeClock, _, register := newFixture(t, testConfig())

	// Prime a negative cache entry.
	got, err := pool.GetProxyForAPIKey(ctx, "key_a")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got != nil {
		t.Fatalf("lookup = %+v, want nil before assignment", got)
	}

	if _, err := pool.AddProxy(ctx, pooldomain.ProxyInput{Host: "10.0.0.9", Port: 8080, Protocol: "http"}); err != nil {
		t.Fatalf("add proxy: %v", err)
	}
	register("gemini", []string{"key_a"})
	if _, err := pool.AutoAssign(ctx, "gemini", false); err != nil {
		t.Fatalf("auto assign: %v", err)
	}

	got, err = pool.GetProxyForAPIKey(ctx, "key_a")
	if err != nil {
		t.Fatalf("lookup after assign: %v", err)
	}
	if got == nil {
		t.Fatal("lookup after assign = nil, assignment should invalidate the cache")
	}

	// Entries also expire on their own.
	fakeClock.Advance(31 * time.Minute)
	if _, err := pool.GetProxyForAPIKey(ctx, "key_a"); err != nil {
		t.Fatalf("lookup after ttl: %v", err)
	}
}

func TestDeleteAssignedProxyRejected(t *testing.T) {
	ctx := context.Background()
	pool, _, _, register := newFixture(t, testConfig())

	proxy, err := pool.AddProxy(ctx, pooldomain.ProxyInput{Host: "10.0.0.2", Port: 8080, Protocol: "http"})
	if err != nil {
		t.Fatalf("add proxy: %v", err)
	}
	register("gemini", []string{"key_a"})
	if _, err := pool.AutoAssign(ctx, "gemini", false); err != nil {
		t.Fatalf("auto assign: %v", err)
	}

	if err := pool.DeleteProxy(ctx, proxy.ID); !errors.Is(err, pooldomain.ErrProxyAssigned) {
		t.Fatalf("delete err = %v, want ErrProxyAssigned", err)
	}

	if err := pool.ReleaseProxy(ctx, proxy.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := pool.DeleteProxy(ctx, proxy.ID); err != nil {
		t.Fatalf("delete after release: %v", err)
	}
}

func TestDuplicateHostPortRejected(t *testing.T) {
	ctx := context.Background()
	pool, _, _, _ := newFixture(t, testConfig())

	input := pooldomain.ProxyInput{Host: "10.0.0.3", Port: 3128, Protocol: "http"}
	if _, err := pool.AddProxy(ctx, input); err != nil {
		t.Fatalf("add proxy: %v", err)
	}
	if _, err := pool.AddProxy(ctx, input); !errors.Is(err, pooldomain.ErrDuplicateProxy) {
		t.Fatalf("err = %v, want ErrDuplicateProxy", err)
	}
}

func TestHealthCheckDeactivatesFailingProxy(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.ProxyPool.FailureThreshold = 1
	pool, _, db, register := newFixture(t, cfg)

	proxy, err := pool.AddProxy(ctx, pooldomain.ProxyInput{
		Host:     "127.0.0.1",
		Port:     closedPort(t),
		Protocol: "http",
	})
	if err != nil {
		t.Fatalf("add proxy: %v", err)
	}
	register("gemini", []string{"key_a"})
	if _, err := pool.AutoAssign(ctx, "gemini", false); err != nil {
		t.Fatalf("auto assign: %v", err)
	}

	// First failure stays at the threshold, second crosses it.
	if err := pool.PerformHealthCheck(ctx); err != nil {
		t.Fatalf("health check: %v", err)
	}
	if err := pool.PerformHealthCheck(ctx); err != nil {
		t.Fatalf("health check: %v", err)
	}

	var row struct {
		IsActive       bool
		AssignedAPIKey *string
		Note           *string
	}
	if err := db.Raw(
		`SELECT is_active, assigned_api_key, note FROM proxies WHERE id = ?`,
		proxy.ID,
	).Scan(&row).Error; err != nil {
		t.Fatalf("read proxy: %v", err)
	}
	if row.IsActive {
		t.Fatal("proxy still active after crossing failure threshold")
	}
	if row.AssignedAPIKey != nil {
		t.Fatalf("assignment not released, still bound to %q", *row.AssignedAPIKey)
	}
	if row.Note == nil || *row.Note == "" {
		t.Fatal("deactivation note missing")
	}

	got, err := pool.GetProxyForAPIKey(ctx, "key_a")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got != nil {
		t.Fatalf("lookup = %+v, want nil after deactivation", got)
	}
}

func TestHealthCheckRecordsResponseTime(t *testing.T) {
	ctx := context.Background()
	pool, _, db, _ := newFixture(t, testConfig())

	forward := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer forward.Close()

	host, portStr, err := net.SplitHostPort(forward.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	proxy, err := pool.AddProxy(ctx, pooldomain.ProxyInput{
		Host:     host,
		Port:     port,
		Protocol: "http",
	})
	if err != nil {
		t.Fatalf("add proxy: %v", err)
	}

	readAvg := func() int64 {
		t.Helper()
		var avg int64
		if err := db.Raw(
			`SELECT avg_response_time_ms FROM proxies WHERE id = ?`, proxy.ID,
		).Scan(&avg).Error; err != nil {
			t.Fatalf("read avg: %v", err)
		}
		return avg
	}

	if err := pool.PerformHealthCheck(ctx); err != nil {
		t.Fatalf("health check: %v", err)
	}
	first := readAvg()
	if first < 20 {
		t.Fatalf("avg_response_time_ms = %d after first check, want >= 20", first)
	}

	// The running average must track the measured latency, not decay toward
	// zero on every successful round.
	if err := pool.PerformHealthCheck(ctx); err != nil {
		t.Fatalf("health check: %v", err)
	}
	second := readAvg()
	if second < 20 {
		t.Fatalf("avg_response_time_ms = %d after second check, want >= 20", second)
	}
}

func TestNormalizeProtocolDefaultsToHTTPS(t *testing.T) {
	cases := map[string]string{
		"http":    "http",
		"HTTPS":   "https",
		"socks4":  "socks4",
		"SOCKS5":  "socks5",
		"":        "https",
		"unknown": "https",
	}
	for in, want := range cases {
		if got := pooldomain.NormalizeProtocol(in); got != want {
			t.Fatalf("NormalizeProtocol(%q) = %q, want %q", in, got, want)
		}
	}
}
