package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"kull-server/pkg/config"
	"kull-server/pkg/health"
	"kull-server/pkg/middleware"
	"kull-server/services/report"
)

var Module = fx.Module("api",
	fx.Provide(
		NewHandler,
		NewRouter,
		report.NewArchiver,
		func(r *gin.Engine) http.Handler { return r },
	),
	fx.Invoke(registerRoutes),
)

func NewRouter(cfg *config.Config) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Error())
	return r
}

type registerRoutesParams struct {
	fx.In

	Router  *gin.Engine
	Handler *Handler
	Health  health.HealthService
}

func registerRoutes(p registerRoutesParams) {
	p.Router.GET("/healthz", p.Health.Liveness)
	p.Router.GET("/readyz", p.Health.Readiness)
	p.Handler.Register(p.Router)
}
