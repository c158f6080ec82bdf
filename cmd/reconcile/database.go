package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MarkoPoloResearchLab/legacyrecon/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/legacyrecon/internal/store/legacystore"
	"github.com/MarkoPoloResearchLab/legacyrecon/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/legacyrecon/pkg/reconcile"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type closer func()

func openSource(cfg storeConfig) (*legacystore.Store, closer, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case driverMySQL:
		dialector = mysql.Open(mysqlDSN(cfg))
	case driverSQLite:
		path, err := normalizeSQLitePath(cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		dialector = sqlite.Open(path)
	default:
		return nil, nil, fmt.Errorf("unsupported source driver %q", cfg.Driver)
	}
	db, cleanup, err := openGorm(dialector)
	if err != nil {
		return nil, nil, fmt.Errorf("source open: %w", err)
	}
	return legacystore.New(db), cleanup, nil
}

func openDestination(ctx context.Context, cfg storeConfig, engine string) (reconcile.Destination, closer, error) {
	if engine == enginePGX {
		pool, err := pgxpool.New(ctx, postgresURL(cfg))
		if err != nil {
			return nil, nil, fmt.Errorf("destination open: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("destination ping: %w", err)
		}
		return pgstore.New(pool), pool.Close, nil
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case driverPostgres:
		dialector = postgres.Open(postgresURL(cfg))
	case driverSQLite:
		path, err := normalizeSQLitePath(cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		dialector = sqlite.Open(path)
	default:
		return nil, nil, fmt.Errorf("unsupported destination driver %q", cfg.Driver)
	}
	db, cleanup, err := openGorm(dialector)
	if err != nil {
		return nil, nil, fmt.Errorf("destination open: %w", err)
	}
	if cfg.Driver == driverSQLite {
		if err := db.AutoMigrate(gormstore.Models()...); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("auto migrate: %w", err)
		}
	}
	return gormstore.New(db), cleanup, nil
}

func openGorm(dialector gorm.Dialector) (*gorm.DB, closer, error) {
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}
	return db, func() { _ = sqlDB.Close() }, nil
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, nil
}
