package server

import (
  "github.com/gin-contrib/cors"
  "github.com/gin-gonic/gin"
  "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

  "github.com/yungbote/minirag-backend/internal/handlers"
  "github.com/yungbote/minirag-backend/internal/middleware"
  "github.com/yungbote/minirag-backend/internal/observability"
  "github.com/yungbote/minirag-backend/internal/platform/logger"
)

type RouterConfig struct {
  ServiceName        string
  AllowOrigins       []string
  Log                *logger.Logger
  AuthHandler        *handlers.AuthHandler
  DataHandler        *handlers.DataHandler
  NLPHandler         *handlers.NLPHandler
  MaintenanceHandler *handlers.MaintenanceHandler
  AuthMiddleware     *middleware.AuthMiddleware
  Metrics            *observability.Metrics
}

func NewRouter(cfg RouterConfig) *gin.Engine {
  router := gin.New()
  router.Use(gin.Recovery())
  router.Use(otelgin.Middleware(cfg.ServiceName))
  router.Use(middleware.AttachTraceContext())
  router.Use(middleware.RequestLogger(cfg.Log))
  router.Use(middleware.Metrics(cfg.Metrics))

  // Cors
  allowOrigins := cfg.AllowOrigins
  if len(allowOrigins) == 0 {
    allowOrigins = []string{
      "http://localhost:80",
      "http://localhost:3000",
      "http://localhost:5173",
    }
  }
  router.Use(cors.New(cors.Config{
    AllowOrigins:     allowOrigins,
    AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
    AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
    AllowCredentials: true,
  }))

// ===============
// || Public    ||
// ===============
  router.GET("/healthcheck", handlers.HealthCheck)
  router.POST("/auth/register", cfg.AuthHandler.Register)
  router.POST("/auth/login", cfg.AuthHandler.Login)

// ===============
// || Protected ||
// ===============
  protected := router.Group("/")
  protected.Use(cfg.AuthMiddleware.RequireAuth())
  protected.GET("/auth/me", cfg.AuthHandler.Me)

  data := protected.Group("/api/v1/data")
  {
    data.GET("/projects", cfg.DataHandler.ListProjects)
    data.POST("/projects/create/:project_code", cfg.DataHandler.CreateProject)
    data.GET("/projects/:project_code", cfg.DataHandler.GetProject)
    data.DELETE("/projects/:project_code", cfg.DataHandler.DeleteProject)
    data.POST("/upload/:project_code", cfg.DataHandler.Upload)
    data.POST("/process/:project_code", cfg.DataHandler.Process)
    data.GET("/file/content/:project_code/:asset_id", cfg.DataHandler.FileContent)
    data.DELETE("/file/:project_code/:asset_id", cfg.DataHandler.DeleteAsset)
  }

  nlp := protected.Group("/api/v1/nlp")
  {
    nlp.POST("/index/push/:project_code", cfg.NLPHandler.IndexPush)
    nlp.GET("/index/info/:project_code", cfg.NLPHandler.IndexInfo)
    nlp.POST("/index/search/:project_code", cfg.NLPHandler.Search)
    nlp.POST("/index/answer/:project_code", cfg.NLPHandler.Answer)
    nlp.GET("/answers", cfg.NLPHandler.History)
  }

  protected.POST("/api/v1/maintenance/sweep", cfg.MaintenanceHandler.Sweep)

  return router
}
