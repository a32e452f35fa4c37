package payment

import (
	"github.com/creditrelay/creditrelay/internal/payment/repository"
	"github.com/creditrelay/creditrelay/internal/payment/service"
	"github.com/creditrelay/creditrelay/internal/settlement/payos"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(payos.Provide),
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
