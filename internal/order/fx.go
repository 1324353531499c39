package order

import (
	"github.com/smallbiznis/studiodesk/internal/order/repository"
	"github.com/smallbiznis/studiodesk/internal/order/service"
	"go.uber.org/fx"
)

var Module = fx.Module("order",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
