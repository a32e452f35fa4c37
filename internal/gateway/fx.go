package gateway

import (
	"github.com/creditrelay/creditrelay/internal/config"
	"github.com/creditrelay/creditrelay/internal/gateway/adapters"
	"github.com/creditrelay/creditrelay/internal/gateway/adapters/gemini"
	"github.com/creditrelay/creditrelay/internal/gateway/adapters/openai"
	"github.com/creditrelay/creditrelay/internal/gateway/service"
	"go.uber.org/fx"
)

var Module = fx.Module("gateway.service",
	fx.Provide(newAdapterRegistry),
	fx.Provide(service.New),
)

func newAdapterRegistry(cfg config.Config) *adapters.Registry {
	return adapters.NewRegistry(
		gemini.New(cfg.Gateway.GeminiBaseURL),
		openai.New(cfg.Gateway.OpenAIBaseURL),
	)
}
