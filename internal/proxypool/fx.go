package proxypool

import (
	"github.com/creditrelay/creditrelay/internal/proxypool/repository"
	"github.com/creditrelay/creditrelay/internal/proxypool/service"
	"go.uber.org/fx"
)

var Module = fx.Module("proxypool.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
