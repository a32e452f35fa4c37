package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/creditrelay/creditrelay/internal/clock"
	registrydomain "github.com/creditrelay/creditrelay/internal/registry/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  registrydomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  registrydomain.Repository
}

func New(p Params) registrydomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("registry.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) RegisterProvider(ctx context.Context, name string, apiKeys []string) (*registrydomain.Provider, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, registrydomain.ErrInvalidProvider
	}

	existing, err := s.repo.FindByName(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, s.SyncKeyStatus(ctx, existing)
	}

	encoded, err := encodeKeys(apiKeys)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	provider := &registrydomain.Provider{
		ID:        s.genID.Generate(),
		Name:      name,
		APIKeys:   datatypes.JSON(encoded),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, provider); err != nil {
		return nil, err
	}
	return provider, s.SyncKeyStatus(ctx, provider)
}

func (s *Service) GetProvider(ctx context.Context, name string) (*registrydomain.Provider, error) {
	provider, err := s.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	return provider, nil
}

func (s *Service) ListProviders(ctx context.Context) ([]registrydomain.Provider, error) {
	return s.repo.ListAll(ctx, s.db)
}

func (s *Service) SetProviderKeys(ctx context.Context, name string, apiKeys []string) error {
	provider, err := s.lookup(ctx, name)
	if err != nil {
		return err
	}

	encoded, err := encodeKeys(apiKeys)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateKeys(ctx, s.db, provider.ID, encoded); err != nil {
		return err
	}
	provider.APIKeys = datatypes.JSON(encoded)
	return s.SyncKeyStatus(ctx, provider)
}

func (s *Service) GetBestAPIKey(ctx context.Context, name string) (string, error) {
	provider, err := s.lookup(ctx, name)
	if err != nil {
		return "", err
	}
	if err := s.SyncKeyStatus(ctx, provider); err != nil {
		return "", err
	}

	status, err := s.repo.BestAvailable(ctx, s.db, provider.ID)
	if err != nil {
		return "", err
	}
	if status != nil {
		return status.APIKey, nil
	}

	// Every key is quota-exceeded or errored; degrade to the active key with
	// the oldest error rather than hard-failing.
	status, err = s.repo.BestDegraded(ctx, s.db, provider.ID)
	if err != nil {
		return "", err
	}
	if status == nil {
		return "", registrydomain.ErrNoKeysAvailable
	}
	s.log.Warn("degraded upstream key selection",
		zap.String("provider", provider.Name),
	)
	return status.APIKey, nil
}

func (s *Service) MarkKeyUsed(ctx context.Context, name string, apiKey string) {
	provider, err := s.lookup(ctx, name)
	if err != nil {
		s.log.Warn("mark key used: provider lookup failed", zap.String("provider", name), zap.Error(err))
		return
	}
	if err := s.repo.MarkUsed(ctx, s.db, provider.ID, apiKey); err != nil {
		s.log.Warn("mark key used failed", zap.String("provider", name), zap.Error(err))
	}
}

func (s *Service) MarkKeyError(ctx context.Context, name string, apiKey string, signals registrydomain.ErrorSignals, message string) {
	provider, err := s.lookup(ctx, name)
	if err != nil {
		s.log.Warn("mark key error: provider lookup failed", zap.String("provider", name), zap.Error(err))
		return
	}

	if err := s.repo.MarkError(ctx, s.db, provider.ID, apiKey, message, signals.Quota, signals.Auth); err != nil {
		s.log.Warn("mark key error failed", zap.String("provider", name), zap.Error(err))
		return
	}
	if signals.Auth {
		s.log.Warn("upstream key deactivated after auth error",
			zap.String("provider", provider.Name),
		)
	}
}

func (s *Service) ResetDailyQuotas(ctx context.Context, name string) error {
	provider, err := s.lookup(ctx, name)
	if err != nil {
		return err
	}
	return s.repo.ResetQuotas(ctx, s.db, provider.ID)
}

func (s *Service) SyncKeyStatus(ctx context.Context, provider *registrydomain.Provider) error {
	if provider == nil {
		return registrydomain.ErrInvalidProvider
	}

	keys, err := decodeKeys(provider.APIKeys)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	for _, apiKey := range keys {
		status := &registrydomain.UpstreamKeyStatus{
			ID:         s.genID.Generate(),
			ProviderID: provider.ID,
			APIKey:     apiKey,
			IsActive:   true,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.repo.InsertStatusIfMissing(ctx, s.db, status); err != nil {
			return err
		}
	}
	return s.repo.DeleteStatusNotIn(ctx, s.db, provider.ID, keys)
}

func (s *Service) ListKeyStatus(ctx context.Context, name string) ([]registrydomain.UpstreamKeyStatus, error) {
	provider, err := s.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := s.SyncKeyStatus(ctx, provider); err != nil {
		return nil, err
	}
	return s.repo.ListStatus(ctx, s.db, provider.ID)
}

func (s *Service) ActiveKeyCount(ctx context.Context, name string) (int64, error) {
	provider, err := s.lookup(ctx, name)
	if err != nil {
		return 0, err
	}
	return s.repo.CountActive(ctx, s.db, provider.ID)
}

func (s *Service) lookup(ctx context.Context, name string) (*registrydomain.Provider, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, registrydomain.ErrInvalidProvider
	}
	provider, err := s.repo.FindByName(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, registrydomain.ErrProviderNotFound
	}
	return provider, nil
}

func encodeKeys(apiKeys []string) ([]byte, error) {
	cleaned := make([]string, 0, len(apiKeys))
	for _, key := range apiKeys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		cleaned = append(cleaned, key)
	}
	return json.Marshal(cleaned)
}

func decodeKeys(raw datatypes.JSON) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var keys []string
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}
