package app

import (
	"strings"
	"time"

	"github.com/yungbote/minirag-backend/internal/platform/logger"
	"github.com/yungbote/minirag-backend/internal/utils"
)

type Config struct {
	ServiceName    string
	JWTSecretKey   string
	AccessTokenTTL time.Duration
	VectorProvider string
	SweepInterval  time.Duration
	MetricsAddr    string
	AllowOrigins   []string
}

func LoadConfig(log *logger.Logger) Config {
	jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
	accessTokenTTLSeconds := utils.GetEnvAsInt("ACCESS_TOKEN_TTL", 3600, log)
	sweepIntervalSeconds := utils.GetEnvAsInt("DELETION_SWEEP_INTERVAL_SECONDS", 0, log)

	var origins []string
	for _, o := range strings.Split(utils.GetEnv("CORS_ALLOW_ORIGINS", "", log), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return Config{
		ServiceName:    utils.GetEnv("SERVICE_NAME", "minirag-backend", log),
		JWTSecretKey:   jwtSecretKey,
		AccessTokenTTL: time.Duration(accessTokenTTLSeconds) * time.Second,
		VectorProvider: strings.ToLower(strings.TrimSpace(utils.GetEnv("VECTOR_PROVIDER", "qdrant", log))),
		SweepInterval:  time.Duration(sweepIntervalSeconds) * time.Second,
		MetricsAddr:    utils.GetEnv("METRICS_ADDR", "", log),
		AllowOrigins:   origins,
	}
}
