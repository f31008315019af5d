package db

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	apperr "github.com/andrewdyar/switchyard-sub001/internal/pkg/errors"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/envutil"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Driver     string
	DSN        string
	SQLitePath string
}

// ConfigFromEnv reads DATABASE_URL (with an optional SUPABASE_SERVICE_KEY used
// as the password) or the discrete POSTGRES_* variables.
func ConfigFromEnv() Config {
	cfg := Config{
		Driver:     strings.ToLower(envutil.String("CATALOG_DRIVER", DriverPostgres)),
		SQLitePath: envutil.String("SQLITE_PATH", "catalog.db"),
	}
	if dsn := envutil.String("DATABASE_URL", ""); dsn != "" {
		cfg.DSN = withServiceKey(dsn, envutil.String("SUPABASE_SERVICE_KEY", ""))
		return cfg
	}
	host := envutil.String("POSTGRES_HOST", "")
	if host == "" {
		return cfg
	}
	cfg.DSN = fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		url.QueryEscape(envutil.String("POSTGRES_USER", "postgres")),
		url.QueryEscape(envutil.String("POSTGRES_PASSWORD", "")),
		host,
		envutil.String("POSTGRES_PORT", "5432"),
		envutil.String("POSTGRES_NAME", "catalog"),
		envutil.String("POSTGRES_SSLMODE", "disable"),
	)
	return cfg
}

func withServiceKey(dsn, key string) string {
	if key == "" {
		return dsn
	}
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, has := u.User.Password(); has {
		return dsn
	}
	u.User = url.UserPassword(u.User.Username(), key)
	return u.String()
}

type PostgresService struct {
	db     *gorm.DB
	log    *logger.Logger
	driver string
}

func NewPostgresService(logg *logger.Logger, cfg Config) (*PostgresService, error) {
	serviceLog := logg.With("service", "PostgresService")

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	gcfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		Logger:                                   gormLog,
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case DriverSQLite:
		db, err = gorm.Open(sqlite.Open(cfg.SQLitePath+"?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL"), gcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite %q: %w", cfg.SQLitePath, err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlite handle: %w", err)
		}
		// sqlite allows one writer; retailer units queue on the pool instead
		// of failing with "database is locked".
		sqlDB.SetMaxOpenConns(1)
	case DriverPostgres, "":
		if cfg.DSN == "" {
			return nil, apperr.Configf("DATABASE_URL", "missing DATABASE_URL or POSTGRES_HOST")
		}
		db, err = gorm.Open(postgres.Open(cfg.DSN), gcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		cfg.Driver = DriverPostgres
	default:
		return nil, apperr.Configf("CATALOG_DRIVER", "unknown driver %q", cfg.Driver)
	}

	serviceLog.Info("Catalog store connected", "driver", cfg.Driver)
	return &PostgresService{db: db, log: serviceLog, driver: cfg.Driver}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating catalog tables...")
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("Auto migration failed for catalog tables", "error", err)
		return err
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB { return s.db }

func (s *PostgresService) Driver() string { return s.driver }

func (s *PostgresService) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *PostgresService) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
