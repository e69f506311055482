package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yungbote/minirag-backend/internal/db"
	"github.com/yungbote/minirag-backend/internal/observability"
	"github.com/yungbote/minirag-backend/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Repos    Repos
	Clients  Clients
	Services Services
	Metrics  *observability.Metrics
	cancel   context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)
	metrics := observability.Init(log)

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	clientset, err := wireClients(log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	index, vectorDim, err := resolveVectorIndex(log, cfg, theDB)
	if err != nil {
		log.Sync()
		return nil, err
	}

	reposet := wireRepos(theDB, log)

	serviceset, err := wireServices(theDB, log, cfg, reposet, clientset, index, vectorDim)
	if err != nil {
		log.Sync()
		return nil, err
	}

	handlerset := wireHandlers(log, serviceset)
	middleware := wireMiddleware(log, serviceset)
	router := wireRouter(cfg, log, handlerset, middleware, metrics)

	return &App{
		Log:      log,
		DB:       theDB,
		Router:   router,
		Cfg:      cfg,
		Repos:    reposet,
		Clients:  clientset,
		Services: serviceset,
		Metrics:  metrics,
	}, nil
}

func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Metrics != nil {
		a.Metrics.StartServer(ctx, a.Log, a.Cfg.MetricsAddr)
		a.Metrics.StartSLOEvaluator(ctx, a.Log)
	}

	if a.Services.TemporalWorker != nil {
		go func() {
			if err := a.Services.TemporalWorker.Start(ctx); err != nil {
				a.Log.Error("Temporal worker failed to start", "error", err)
			}
		}()
	}

	if a.Cfg.SweepInterval > 0 {
		go a.runSweepLoop(ctx)
		a.Log.Info("Orphan collection sweep scheduled", "interval", a.Cfg.SweepInterval.String())
	}
}

func (a *App) runSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(a.Cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := a.Services.Deletion.Sweep(ctx)
			if err != nil {
				a.Log.Warn("Scheduled sweep failed", "error", err)
				a.Metrics.ObserveSweep("error", 0)
				continue
			}
			a.Metrics.ObserveSweep("success", len(report.DroppedCollections))
			if len(report.DroppedCollections) > 0 || len(report.FailedCollections) > 0 {
				a.Log.Info("Scheduled sweep finished",
					"scanned", report.ScannedCollections,
					"dropped", len(report.DroppedCollections),
					"failed", len(report.FailedCollections),
				)
			}
		}
	}
}

func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.Clients.Close()
	if a.Log != nil {
		a.Log.Sync()
	}
}
