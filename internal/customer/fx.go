package customer

import (
	"github.com/smallbiznis/studiodesk/internal/customer/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("customer",
	fx.Provide(repository.Provide),
)
