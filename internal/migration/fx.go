package migration

import (
	"strings"

	"github.com/smallbiznis/microsaas/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Apply),
)

func Apply(conn *gorm.DB, cfg db.Config, log *zap.Logger) error {
	if !strings.EqualFold(strings.TrimSpace(cfg.Type), "postgres") {
		log.Info("applying schema from models", zap.String("type", cfg.Type))
		return AutoMigrate(conn)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	log.Info("applying postgres migrations")
	return RunMigrations(sqlDB)
}
