package app

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/minirag-backend/internal/observability"
	"github.com/yungbote/minirag-backend/internal/platform/logger"
	"github.com/yungbote/minirag-backend/internal/server"
)

func wireRouter(cfg Config, log *logger.Logger, handlers Handlers, middleware Middleware, metrics *observability.Metrics) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		ServiceName:        cfg.ServiceName,
		AllowOrigins:       cfg.AllowOrigins,
		Log:                log,
		AuthHandler:        handlers.Auth,
		DataHandler:        handlers.Data,
		NLPHandler:         handlers.NLP,
		MaintenanceHandler: handlers.Maintenance,
		AuthMiddleware:     middleware.Auth,
		Metrics:            metrics,
	})
}
