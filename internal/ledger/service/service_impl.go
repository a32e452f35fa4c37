package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/creditrelay/creditrelay/internal/clock"
	ledgerdomain "github.com/creditrelay/creditrelay/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  ledgerdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  ledgerdomain.Repository
}

func New(p Params) ledgerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) FindActiveKey(ctx context.Context, token string) (*ledgerdomain.Key, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ledgerdomain.ErrInvalidToken
	}
	key, err := s.repo.FindActive(ctx, s.db, token)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, ledgerdomain.ErrKeyNotFound
	}
	return key, nil
}

func (s *Service) CreateKey(ctx context.Context, token string, initialCredit int64, note string) (*ledgerdomain.Key, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ledgerdomain.ErrInvalidToken
	}
	if initialCredit < 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}

	now := s.clock.Now()
	key := &ledgerdomain.Key{
		ID:        s.genID.Generate(),
		Token:     token,
		IsActive:  true,
		Credit:    initialCredit,
		Note:      strings.TrimSpace(note),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, key); err != nil {
		return nil, err
	}
	return key, nil
}

func (s *Service) ReserveCredit(ctx context.Context, token string, amount int64) (*ledgerdomain.Key, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ledgerdomain.ErrInvalidToken
	}
	if amount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}

	ok, err := s.repo.DecrementIfAvailable(ctx, s.db, token, amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Either the key is unknown/inactive or the balance is too low.
		// Distinguish so the boundary can answer 401 vs 402.
		key, findErr := s.repo.FindActive(ctx, s.db, token)
		if findErr != nil {
			return nil, findErr
		}
		if key == nil {
			return nil, ledgerdomain.ErrKeyNotFound
		}
		return nil, ledgerdomain.ErrInsufficientCredit
	}

	key, err := s.repo.Find(ctx, s.db, token)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, ledgerdomain.ErrKeyNotFound
	}
	return key, nil
}

func (s *Service) GrantCredit(ctx context.Context, token string, amount int64) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ledgerdomain.ErrInvalidToken
	}
	if amount <= 0 {
		return ledgerdomain.ErrInvalidAmount
	}

	ok, err := s.repo.Increment(ctx, s.db, token, amount)
	if err != nil {
		return err
	}
	if !ok {
		return ledgerdomain.ErrKeyNotFound
	}
	return nil
}

func (s *Service) SetActive(ctx context.Context, token string, active bool) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ledgerdomain.ErrInvalidToken
	}
	ok, err := s.repo.SetActive(ctx, s.db, token, active)
	if err != nil {
		return err
	}
	if !ok {
		return ledgerdomain.ErrKeyNotFound
	}
	return nil
}

func (s *Service) AdjustCredit(ctx context.Context, token string, delta int64) (*ledgerdomain.Key, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ledgerdomain.ErrInvalidToken
	}

	ok, err := s.repo.AdjustFloored(ctx, s.db, token, delta)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ledgerdomain.ErrKeyNotFound
	}
	key, err := s.repo.Find(ctx, s.db, token)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, ledgerdomain.ErrKeyNotFound
	}
	return key, nil
}
