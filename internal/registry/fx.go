package registry

import (
	"github.com/creditrelay/creditrelay/internal/registry/repository"
	"github.com/creditrelay/creditrelay/internal/registry/service"
	"go.uber.org/fx"
)

var Module = fx.Module("registry.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
