package pdf

import (
	"github.com/smallbiznis/repairpay/internal/config"
	settlementdomain "github.com/smallbiznis/repairpay/internal/settlement/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("pdf",
	fx.Provide(func(cfg config.Config) settlementdomain.PayslipRenderer {
		return NewPayslipProvider(cfg.PayslipIssuer)
	}),
)
