package main

import (
  "context"
  "fmt"
  "os"
  "os/signal"
  "syscall"
  "time"

  "github.com/yungbote/minirag-backend/internal/app"
  "github.com/yungbote/minirag-backend/internal/observability"
  "github.com/yungbote/minirag-backend/internal/utils"
)

func main() {
  application, err := app.New()
  if err != nil {
    fmt.Printf("Failed to start: %v\n", err)
    os.Exit(1)
  }
  defer application.Close()

  shutdownTracing := observability.InitOTel(context.Background(), application.Log, observability.OtelConfig{
    ServiceName: application.Cfg.ServiceName,
    Environment: os.Getenv("APP_ENV"),
    Version:     os.Getenv("APP_VERSION"),
  })
  if shutdownTracing != nil {
    defer func() {
      ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
      defer cancel()
      if err := shutdownTracing(ctx); err != nil {
        application.Log.Warn("Tracing shutdown failed", "error", err)
      }
    }()
  }

  application.Start()

  go func() {
    sig := make(chan os.Signal, 1)
    signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
    <-sig
    application.Log.Info("Shutting down...")
    application.Close()
    os.Exit(0)
  }()

  port := utils.GetEnv("PORT", "8080", application.Log)
  fmt.Printf("Server listening on :%s\n", port)
  if err := application.Run(":" + port); err != nil {
    application.Log.Error("Server failed", "error", err)
    os.Exit(1)
  }
}
