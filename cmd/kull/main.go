package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"kull-server/pkg/config"
	"kull-server/pkg/db"
	"kull-server/pkg/gen"
	"kull-server/pkg/health"
	"kull-server/pkg/logger"
	"kull-server/pkg/minio"
	"kull-server/pkg/redis"
	"kull-server/pkg/sequence"
	"kull-server/pkg/server"
	"kull-server/pkg/task"
	"kull-server/services/api"
	"kull-server/services/bootstrap"
	"kull-server/services/credits"
	"kull-server/services/culling"
	"kull-server/services/notify"
	"kull-server/services/provider"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		gen.Module,
		sequence.Module,
		minio.Client,
		task.Client,
		health.Module,
		notify.Module,
		provider.Module,
		credits.Module,
		culling.Module,
		bootstrap.Module,
		api.Module,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
