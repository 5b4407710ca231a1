// Package db opens the single Postgres connection pool shared by the
// orchestrator engine and the robot agent's claim store, following the
// teacher's internal/db.PostgresService pattern.
package db

import (
	"fmt"
	stdlog "log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/rpa-orchestrator/internal/logger"
)

// PostgresService wraps an opened *gorm.DB, matching the teacher's
// connect-then-AutoMigrate lifecycle.
type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewPostgresService opens dsn with a gorm logger that suppresses
// record-not-found noise (the claim store polls constantly) and enables the
// uuid-ossp extension needed for gen_random_uuid()-style defaults.
func NewPostgresService(dsn string, log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	gormLog := gormLogger.New(
		stdlog.New(os.Stdout, "\r\n", stdlog.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	serviceLog.Info("connecting to postgres")
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger: gormLog,
	})
	if err != nil {
		serviceLog.Error("failed to connect to postgres", "error", err)
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := gdb.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		serviceLog.Warn("could not enable uuid-ossp extension, continuing", "error", err)
	}

	return &PostgresService{db: gdb, log: serviceLog}, nil
}

// DB returns the underlying handle.
func (s *PostgresService) DB() *gorm.DB { return s.db }
