package db

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"labbook-backend/config"
	"labbook-backend/internal/model"
)

// Init opens the database, configures the pool and runs migrations.
func Init(cfg *config.DatabaseConfig, log *slog.Logger) (*gorm.DB, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	log.Info("running database migrations", "dialect", db.Dialector.Name())
	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Info("database initialization complete")
	return db, nil
}

// Open connects to PostgreSQL when the DSN is a postgres URL and to SQLite otherwise.
func Open(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	level := logger.Warn
	if cfg.LogSQL {
		level = logger.Info
	}
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(level),
		// Usage history outlives the instruments and users it references.
		DisableForeignKeyConstraintWhenMigrating: true,
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	var dialector gorm.Dialector
	if isPostgres(cfg.DSN) {
		dialector = postgres.Open(cfg.DSN)
	} else {
		dialector = sqlite.Open(sqliteDSN(cfg.DSN))
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.User{},
		&model.Instrument{},
		&model.Checkout{},
		&model.UsageSession{},
	); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}
	return applyIndexDDL(db)
}

// applyIndexDDL adds indexes gorm tags cannot express. Both PostgreSQL and
// SQLite support partial indexes.
func applyIndexDDL(db *gorm.DB) error {
	ddls := []string{
		// At most one active session per user per instrument.
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_usage_active_pair ON usage_sessions (instrument_id, user_id) WHERE status = 'active'",
		"CREATE INDEX IF NOT EXISTS idx_usage_ended_at ON usage_sessions (ended_at) WHERE status <> 'active'",
	}

	for _, ddl := range ddls {
		if err := db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("DDL failed on %q: %w", ddl, err)
		}
	}
	return nil
}

// sqliteFileParams make concurrent writers on a file database queue on the
// database lock instead of failing with SQLITE_BUSY on a lock upgrade.
var sqliteFileParams = []struct{ key, value string }{
	{"_txlock", "immediate"},
	{"_busy_timeout", "5000"},
	{"_journal_mode", "WAL"},
}

// sqliteDSN adds the file-database parameters the DSN does not already set.
// In-memory databases are returned unchanged.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return dsn
	}
	var params []string
	for _, p := range sqliteFileParams {
		if !strings.Contains(dsn, p.key+"=") {
			params = append(params, p.key+"="+p.value)
		}
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}
