package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/minirag-backend/internal/platform/logger"
	"github.com/yungbote/minirag-backend/internal/repos"
)

type Repos struct {
	User      repos.UserRepo
	Project   repos.ProjectRepo
	Asset     repos.AssetRepo
	DataChunk repos.DataChunkRepo
	QueryLog  repos.QueryLogRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		User:      repos.NewUserRepo(db, log),
		Project:   repos.NewProjectRepo(db, log),
		Asset:     repos.NewAssetRepo(db, log),
		DataChunk: repos.NewDataChunkRepo(db, log),
		QueryLog:  repos.NewQueryLogRepo(db, log),
	}
}
