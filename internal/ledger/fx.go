package ledger

import (
	"github.com/creditrelay/creditrelay/internal/ledger/repository"
	"github.com/creditrelay/creditrelay/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
