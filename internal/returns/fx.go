package returns

import (
	"github.com/smallbiznis/repairpay/internal/returns/repository"
	"github.com/smallbiznis/repairpay/internal/returns/service"
	"go.uber.org/fx"
)

var Module = fx.Module("returns.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
