package credits

import (
	"kull-server/pkg/config"

	"go.uber.org/fx"
)

var Module = fx.Module("credits",
	fx.Provide(NewService),
	fx.Invoke(applyConfig),
)

func applyConfig(cfg *config.Config, svc *Service) {
	if cfg.Credits.LowBalanceThreshold > 0 {
		svc.SetLowBalanceThreshold(cfg.Credits.LowBalanceThreshold)
	}
}
