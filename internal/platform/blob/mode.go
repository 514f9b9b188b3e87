package blob

import (
	"fmt"
	"net/url"
	"strings"
)

type Mode string

const (
	ModeGCS         Mode = "gcs"
	ModeGCSEmulator Mode = "gcs_emulator"
	ModeLocal       Mode = "local"
	ModeMemory      Mode = "memory"
)

type Config struct {
	Mode          Mode
	Bucket        string
	EmulatorHost  string
	PublicBaseURL string
	LocalDir      string
	// CompatibilityFallback is set when the emulator was picked only because
	// STORAGE_EMULATOR_HOST was present.
	CompatibilityFallback bool
}

func IsSupportedMode(mode Mode) bool {
	switch mode {
	case ModeGCS, ModeGCSEmulator, ModeLocal, ModeMemory:
		return true
	default:
		return false
	}
}

func (cfg Config) IsEmulatorMode() bool { return cfg.Mode == ModeGCSEmulator }

func (cfg Config) ModeSource() string {
	if cfg.CompatibilityFallback {
		return "compatibility_fallback"
	}
	return "explicit_or_default"
}

type ConfigErrorCode string

const (
	ConfigErrorInvalidMode         ConfigErrorCode = "invalid_mode"
	ConfigErrorMissingBucket       ConfigErrorCode = "missing_bucket"
	ConfigErrorMissingEmulatorHost ConfigErrorCode = "missing_emulator_host"
	ConfigErrorInvalidEmulatorHost ConfigErrorCode = "invalid_emulator_host"
	ConfigErrorMissingLocalDir     ConfigErrorCode = "missing_local_dir"
	ConfigErrorInvalidPublicURL    ConfigErrorCode = "invalid_public_base_url"
)

type ConfigError struct {
	Code  ConfigErrorCode
	Mode  string
	Value string
	Cause error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid object storage config"
	}
	switch e.Code {
	case ConfigErrorInvalidMode:
		return fmt.Sprintf("invalid OBJECT_STORAGE_MODE=%q (allowed: %q, %q, %q, %q)", e.Mode, ModeGCS, ModeGCSEmulator, ModeLocal, ModeMemory)
	case ConfigErrorMissingBucket:
		return fmt.Sprintf("OBJECT_STORAGE_MODE=%q requires GCS_BUCKET", e.Mode)
	case ConfigErrorMissingEmulatorHost:
		return fmt.Sprintf("OBJECT_STORAGE_MODE=%q requires STORAGE_EMULATOR_HOST to be set", ModeGCSEmulator)
	case ConfigErrorInvalidEmulatorHost:
		return fmt.Sprintf("invalid STORAGE_EMULATOR_HOST=%q; expected absolute URL like http://fake-gcs:4443", e.Value)
	case ConfigErrorMissingLocalDir:
		return fmt.Sprintf("OBJECT_STORAGE_MODE=%q requires LOCAL_BLOB_DIR", ModeLocal)
	case ConfigErrorInvalidPublicURL:
		return fmt.Sprintf("invalid PUBLIC_BLOB_BASE_URL=%q; expected absolute URL like http://localhost:8080/blobs", e.Value)
	default:
		return "invalid object storage config"
	}
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ResolveConfig normalizes raw settings. An empty mode means gcs, or the
// emulator when an emulator host is configured.
func ResolveConfig(rawMode string, cfg Config) (Config, error) {
	cfg.EmulatorHost = strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/")
	cfg.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	cfg.LocalDir = strings.TrimSpace(cfg.LocalDir)

	mode := Mode(strings.ToLower(strings.TrimSpace(rawMode)))
	switch mode {
	case "":
		if cfg.EmulatorHost != "" {
			cfg.Mode = ModeGCSEmulator
			cfg.CompatibilityFallback = true
		} else {
			cfg.Mode = ModeGCS
		}
	default:
		cfg.Mode = mode
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if !IsSupportedMode(cfg.Mode) {
		return &ConfigError{Code: ConfigErrorInvalidMode, Mode: string(cfg.Mode)}
	}
	if cfg.PublicBaseURL != "" && !isAbsoluteURL(cfg.PublicBaseURL) {
		return &ConfigError{Code: ConfigErrorInvalidPublicURL, Mode: string(cfg.Mode), Value: cfg.PublicBaseURL}
	}
	switch cfg.Mode {
	case ModeGCS:
		if cfg.Bucket == "" {
			return &ConfigError{Code: ConfigErrorMissingBucket, Mode: string(cfg.Mode)}
		}
	case ModeGCSEmulator:
		if cfg.Bucket == "" {
			return &ConfigError{Code: ConfigErrorMissingBucket, Mode: string(cfg.Mode)}
		}
		if cfg.EmulatorHost == "" {
			return &ConfigError{Code: ConfigErrorMissingEmulatorHost, Mode: string(cfg.Mode)}
		}
		if !isAbsoluteURL(cfg.EmulatorHost) {
			return &ConfigError{Code: ConfigErrorInvalidEmulatorHost, Mode: string(cfg.Mode), Value: cfg.EmulatorHost}
		}
	case ModeLocal:
		if cfg.LocalDir == "" {
			return &ConfigError{Code: ConfigErrorMissingLocalDir, Mode: string(cfg.Mode)}
		}
	}
	return nil
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && strings.TrimSpace(u.Scheme) != "" && strings.TrimSpace(u.Host) != ""
}
