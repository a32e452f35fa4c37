package pricing

import (
	"github.com/creditrelay/creditrelay/internal/pricing/repository"
	"github.com/creditrelay/creditrelay/internal/pricing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("pricing.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
