package culling

import (
	"go.uber.org/fx"

	"kull-server/services/credits"
)

var Module = fx.Module("culling",
	fx.Provide(
		func(svc *credits.Service) Storage { return svc },
		NewService,
	),
)
