package app

import (
	"time"

	"github.com/andrewdyar/switchyard-sub001/internal/data/db"
	"github.com/andrewdyar/switchyard-sub001/internal/fetch"
	"github.com/andrewdyar/switchyard-sub001/internal/ingest"
	apperr "github.com/andrewdyar/switchyard-sub001/internal/pkg/errors"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/envutil"
	"github.com/andrewdyar/switchyard-sub001/internal/proxy"
	"github.com/andrewdyar/switchyard-sub001/internal/session"
)

// ErrConfig and ConfigError are re-exported so the entrypoint can map
// configuration failures to their exit code without reaching into pkg.
var ErrConfig = apperr.ErrConfig

type ConfigError = apperr.ConfigError

type Config struct {
	LogMode     string
	Environment string
	Version     string

	// RetailersPath and TaxonomyPath fall back to the embedded defaults.
	RetailersPath string
	TaxonomyPath  string
	// Retailers restricts the run to the named retailers; empty means all.
	Retailers []string

	DB          db.Config
	Redis       session.RedisConfig
	SessionFile string

	ProxyList []string
	ProxyFile string
	Proxy     proxy.Config

	HTTPTimeout     time.Duration
	StabilizeImages bool
	StatusAddr      string

	Ingest ingest.Config
}

func LoadConfig() (Config, error) {
	pcfg, err := proxy.ConfigFromEnv()
	if err != nil {
		return Config{}, apperr.Config("PROXY_STRATEGY", err)
	}
	cfg := Config{
		LogMode:         envutil.String("LOG_MODE", "development"),
		Environment:     envutil.String("ENVIRONMENT", "development"),
		Version:         envutil.String("SERVICE_VERSION", ""),
		RetailersPath:   envutil.String("RETAILERS_CONFIG", ""),
		TaxonomyPath:    envutil.String("TAXONOMY_CONFIG", ""),
		Retailers:       envutil.List("INGEST_RETAILERS"),
		DB:              db.ConfigFromEnv(),
		Redis:           session.RedisConfigFromEnv(),
		SessionFile:     envutil.String("SESSION_FILE", ""),
		ProxyList:       envutil.List("PROXY_LIST"),
		ProxyFile:       envutil.String("PROXY_FILE", ""),
		Proxy:           pcfg,
		HTTPTimeout:     envutil.Duration("HTTP_TIMEOUT", fetch.DefaultTimeout),
		StabilizeImages: envutil.Bool("INGEST_STABILIZE_IMAGES", false),
		StatusAddr:      envutil.String("STATUS_ADDR", ""),
		Ingest:          ingest.ConfigFromEnv(),
	}
	if cfg.HTTPTimeout <= 0 {
		return cfg, apperr.Configf("HTTP_TIMEOUT", "must be positive, got %s", cfg.HTTPTimeout)
	}
	if cfg.Ingest.MaxRetailers < 0 {
		return cfg, apperr.Configf("INGEST_MAX_RETAILERS", "must not be negative, got %d", cfg.Ingest.MaxRetailers)
	}
	return cfg, nil
}
