package app

import (
	"github.com/yungbote/minirag-backend/internal/handlers"
	"github.com/yungbote/minirag-backend/internal/platform/logger"
)

type Handlers struct {
	Auth        *handlers.AuthHandler
	Data        *handlers.DataHandler
	NLP         *handlers.NLPHandler
	Maintenance *handlers.MaintenanceHandler
}

func wireHandlers(log *logger.Logger, services Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Auth:        handlers.NewAuthHandler(log, services.Auth),
		Data:        handlers.NewDataHandler(log, services.Project, services.Asset, services.Ingestion, services.Deletion),
		NLP:         handlers.NewNLPHandler(log, services.Retrieval, services.Ingestion),
		Maintenance: handlers.NewMaintenanceHandler(log, services.Auth, services.Deletion),
	}
}
