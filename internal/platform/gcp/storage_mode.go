package gcp

import (
	"net/url"
	"os"
	"strings"

	apperr "github.com/andrewdyar/switchyard-sub001/internal/pkg/errors"
)

type ObjectStorageMode string

const (
	ObjectStorageModeGCS         ObjectStorageMode = "gcs"
	ObjectStorageModeGCSEmulator ObjectStorageMode = "gcs_emulator"
)

type ObjectStorageConfig struct {
	Mode         ObjectStorageMode
	EmulatorHost string
	// Bucket holds product images, one key prefix per retailer.
	Bucket    string
	CDNDomain string
	// PublicBaseURL overrides the host used in returned URLs.
	PublicBaseURL string
}

func (cfg ObjectStorageConfig) IsEmulatorMode() bool {
	return cfg.Mode == ObjectStorageModeGCSEmulator
}

// ResolveObjectStorageConfigFromEnv reads OBJECT_STORAGE_MODE,
// STORAGE_EMULATOR_HOST, PRODUCT_IMAGE_GCS_BUCKET, PRODUCT_IMAGE_CDN_DOMAIN
// and OBJECT_STORAGE_PUBLIC_BASE_URL. An emulator host with no explicit mode
// selects the emulator.
func ResolveObjectStorageConfigFromEnv() (ObjectStorageConfig, error) {
	cfg := ObjectStorageConfig{
		EmulatorHost:  strings.TrimRight(strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST")), "/"),
		Bucket:        strings.TrimSpace(os.Getenv("PRODUCT_IMAGE_GCS_BUCKET")),
		CDNDomain:     strings.TrimSpace(os.Getenv("PRODUCT_IMAGE_CDN_DOMAIN")),
		PublicBaseURL: strings.TrimRight(strings.TrimSpace(os.Getenv("OBJECT_STORAGE_PUBLIC_BASE_URL")), "/"),
	}
	raw := strings.TrimSpace(os.Getenv("OBJECT_STORAGE_MODE"))
	switch mode := ObjectStorageMode(strings.ToLower(raw)); mode {
	case "":
		cfg.Mode = ObjectStorageModeGCS
		if cfg.EmulatorHost != "" {
			cfg.Mode = ObjectStorageModeGCSEmulator
		}
	case ObjectStorageModeGCS, ObjectStorageModeGCSEmulator:
		cfg.Mode = mode
	default:
		return cfg, apperr.Configf("OBJECT_STORAGE_MODE", "invalid mode %q (allowed: %q, %q)", raw, ObjectStorageModeGCS, ObjectStorageModeGCSEmulator)
	}
	return cfg, ValidateObjectStorageConfig(cfg)
}

func ValidateObjectStorageConfig(cfg ObjectStorageConfig) error {
	switch cfg.Mode {
	case ObjectStorageModeGCS, ObjectStorageModeGCSEmulator:
	default:
		return apperr.Configf("OBJECT_STORAGE_MODE", "invalid mode %q", cfg.Mode)
	}
	if cfg.Bucket == "" {
		return apperr.Configf("PRODUCT_IMAGE_GCS_BUCKET", "required when image stabilization is enabled")
	}
	if cfg.PublicBaseURL != "" && !absoluteURL(cfg.PublicBaseURL) {
		return apperr.Configf("OBJECT_STORAGE_PUBLIC_BASE_URL", "expected absolute URL like http://localhost:4443, got %q", cfg.PublicBaseURL)
	}
	if !cfg.IsEmulatorMode() {
		return nil
	}
	if cfg.EmulatorHost == "" {
		return apperr.Configf("STORAGE_EMULATOR_HOST", "required for mode %q", cfg.Mode)
	}
	if !absoluteURL(cfg.EmulatorHost) {
		return apperr.Configf("STORAGE_EMULATOR_HOST", "expected absolute URL like http://fake-gcs:4443, got %q", cfg.EmulatorHost)
	}
	return nil
}

func absoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}
