package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/creditrelay/creditrelay/internal/clock"
	"github.com/creditrelay/creditrelay/internal/config"
	pricingdomain "github.com/creditrelay/creditrelay/internal/pricing/domain"
	pkgdb "github.com/creditrelay/creditrelay/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Config config.Config
	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Repo   pricingdomain.Repository
}

type Service struct {
	cfg   config.PricingConfig
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  pricingdomain.Repository
}

func New(p Params) pricingdomain.Service {
	return &Service{
		cfg:   p.Config.Pricing,
		db:    p.DB,
		log:   p.Log.Named("pricing.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Quote(ctx context.Context, credits int64) (int64, error) {
	if credits <= 0 {
		return 0, pricingdomain.ErrInvalidAmount
	}

	pkg, err := s.repo.FindActiveByCredits(ctx, s.db, credits)
	if err != nil {
		return 0, err
	}
	if pkg != nil {
		return pkg.Price, nil
	}

	if credits > s.cfg.MaxFlexibleCredits {
		return 0, pricingdomain.ErrInvalidAmount
	}
	return credits * s.cfg.FlatRatePerCredit, nil
}

func (s *Service) ListPackages(ctx context.Context) ([]pricingdomain.CreditPackage, error) {
	return s.repo.ListAll(ctx, s.db)
}

func (s *Service) CreatePackage(ctx context.Context, credits, price int64) (*pricingdomain.CreditPackage, error) {
	if credits <= 0 || price <= 0 {
		return nil, pricingdomain.ErrInvalidAmount
	}

	now := s.clock.Now()
	pkg := &pricingdomain.CreditPackage{
		ID:        s.genID.Generate(),
		Credits:   credits,
		Price:     price,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, pkg); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return nil, pricingdomain.ErrDuplicateCredit
		}
		return nil, err
	}
	return pkg, nil
}

func (s *Service) SetPackageActive(ctx context.Context, id snowflake.ID, active bool) error {
	updated, err := s.repo.SetActive(ctx, s.db, id, active)
	if err != nil {
		return err
	}
	if !updated {
		return pricingdomain.ErrPackageNotFound
	}
	return nil
}
