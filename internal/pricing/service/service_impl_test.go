package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/creditrelay/creditrelay/internal/clock"
	"github.com/creditrelay/creditrelay/internal/config"
	pricingdomain "github.com/creditrelay/creditrelay/internal/pricing/domain"
	pricingrepo "github.com/creditrelay/creditrelay/internal/pricing/repository"
	pricingservice "github.com/creditrelay/creditrelay/internal/pricing/service"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_pricing_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("raw db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	schema := []string{
		`CREATE TABLE credit_packages (
			id BIGINT PRIMARY KEY,
			credits BIGINT NOT NULL,
			price BIGINT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_credit_packages_credits ON credit_packages(credits)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

func newService(t *testing.T, db *gorm.DB) pricingdomain.Service {
	t.Helper()
	node, err := snowflake.NewNode(15)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return pricingservice.New(pricingservice.Params{
		Config: config.Config{
			Pricing: config.PricingConfig{
				FlatRatePerCredit:  4545,
				MaxFlexibleCredits: 10000,
			},
		},
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Repo:  pricingrepo.Provide(),
	})
}

func TestQuoteUsesExactPackagePrice(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db)

	if _, err := svc.CreatePackage(ctx, 100, 500000); err != nil {
		t.Fatalf("create package: %v", err)
	}

	price, err := svc.Quote(ctx, 100)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if price != 500000 {
		t.Fatalf("price = %d, want 500000", price)
	}
}

func TestQuoteFallsBackToFlatRate(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db)

	if _, err := svc.CreatePackage(ctx, 100, 500000); err != nil {
		t.Fatalf("create package: %v", err)
	}

	price, err := svc.Quote(ctx, 137)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if price != 622665 {
		t.Fatalf("price = %d, want 137*4545=622665", price)
	}
}

func TestQuoteRejectsInvalidAmounts(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db)

	for _, credits := range []int64{0, -5, 10001} {
		if _, err := svc.Quote(ctx, credits); !errors.Is(err, pricingdomain.ErrInvalidAmount) {
			t.Fatalf("Quote(%d) err = %v, want ErrInvalidAmount", credits, err)
		}
	}

	// The ceiling itself is still quotable.
	price, err := svc.Quote(ctx, 10000)
	if err != nil {
		t.Fatalf("quote at ceiling: %v", err)
	}
	if price != 10000*4545 {
		t.Fatalf("price = %d, want %d", price, int64(10000*4545))
	}
}

func TestInactivePackageIsIgnored(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db)

	pkg, err := svc.CreatePackage(ctx, 200, 900000)
	if err != nil {
		t.Fatalf("create package: %v", err)
	}
	if err := svc.SetPackageActive(ctx, pkg.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	price, err := svc.Quote(ctx, 200)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if price != 200*4545 {
		t.Fatalf("price = %d, want flat-rate %d", price, int64(200*4545))
	}
}

func TestDuplicateCreditAmountRejected(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db)

	if _, err := svc.CreatePackage(ctx, 100, 500000); err != nil {
		t.Fatalf("create package: %v", err)
	}
	if _, err := svc.CreatePackage(ctx, 100, 450000); !errors.Is(err, pricingdomain.ErrDuplicateCredit) {
		t.Fatalf("err = %v, want ErrDuplicateCredit", err)
	}
}
