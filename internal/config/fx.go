package config

import (
	"github.com/smallbiznis/repairpay/internal/commission"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPayrollHolder),
	fx.Provide(func(h *PayrollHolder) commission.PolicySource { return h }),
)
