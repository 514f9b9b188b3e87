package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/yungbote/chatcore-backend/internal/platform/blob"
	"github.com/yungbote/chatcore-backend/internal/platform/gcp"
	"github.com/yungbote/chatcore-backend/internal/platform/logger"
)

var newBucketStore = func(ctx context.Context, log *logger.Logger, cfg gcp.BucketConfig) (blob.Store, func() error, error) {
	bs, err := gcp.NewBucketStore(ctx, log, cfg)
	if err != nil {
		return nil, nil, err
	}
	return bs, bs.Close, nil
}

type StorageProviderBootstrapErrorCode string

const (
	StorageProviderBootstrapErrorInvalidMode         StorageProviderBootstrapErrorCode = "invalid_mode"
	StorageProviderBootstrapErrorMissingBucket       StorageProviderBootstrapErrorCode = "missing_bucket"
	StorageProviderBootstrapErrorMissingEmulatorHost StorageProviderBootstrapErrorCode = "missing_emulator_host"
	StorageProviderBootstrapErrorInvalidEmulatorHost StorageProviderBootstrapErrorCode = "invalid_emulator_host"
	StorageProviderBootstrapErrorMissingLocalDir     StorageProviderBootstrapErrorCode = "missing_local_dir"
	StorageProviderBootstrapErrorInvalidPublicURL    StorageProviderBootstrapErrorCode = "invalid_public_base_url"
	StorageProviderBootstrapErrorConnectFailed       StorageProviderBootstrapErrorCode = "connect_failed"
)

type StorageProviderBootstrapError struct {
	Code  StorageProviderBootstrapErrorCode
	Mode  string
	Cause error
}

func (e *StorageProviderBootstrapError) Error() string {
	if e == nil {
		return "object storage bootstrap failed"
	}
	return fmt.Sprintf("object storage bootstrap failed (code=%s mode=%q): %v", e.Code, e.Mode, e.Cause)
}

func (e *StorageProviderBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// blobStoreResult carries the store plus whether the API must serve its
// bytes itself under /blobs.
type blobStoreResult struct {
	Store      blob.Store
	ServeBlobs bool
	Close      func() error
}

func resolveBlobStore(ctx context.Context, log *logger.Logger, cfg Config) (blobStoreResult, error) {
	raw := cfg.Storage
	if raw.PublicBaseURL == "" && (cfg.ObjectStorageMode == string(blob.ModeLocal) || cfg.ObjectStorageMode == string(blob.ModeMemory)) {
		raw.PublicBaseURL = "http://localhost" + cfg.Address() + "/blobs"
	}
	storageCfg, err := blob.ResolveConfig(cfg.ObjectStorageMode, raw)
	if err != nil {
		classified := classifyStorageProviderBootstrapError(storageCfg, err)
		log.Error(
			"Object storage provider selection failed",
			"mode", storageCfg.Mode,
			"mode_source", storageCfg.ModeSource(),
			"error_code", storageProviderBootstrapErrorCode(classified),
			"error", classified,
		)
		return blobStoreResult{}, classified
	}

	log.Info(
		"Selecting object storage provider",
		"mode", storageCfg.Mode,
		"mode_source", storageCfg.ModeSource(),
		"compatibility_fallback", storageCfg.CompatibilityFallback,
		"emulator_host", storageCfg.EmulatorHost,
	)

	switch storageCfg.Mode {
	case blob.ModeMemory:
		return blobStoreResult{Store: blob.NewMemoryStore(storageCfg.PublicBaseURL), ServeBlobs: true, Close: noopClose}, nil
	case blob.ModeLocal:
		ls, err := blob.NewLocalStore(storageCfg.LocalDir, storageCfg.PublicBaseURL)
		if err != nil {
			return blobStoreResult{}, &StorageProviderBootstrapError{
				Code:  StorageProviderBootstrapErrorConnectFailed,
				Mode:  string(storageCfg.Mode),
				Cause: err,
			}
		}
		return blobStoreResult{Store: ls, ServeBlobs: true, Close: noopClose}, nil
	}

	store, closeFn, err := newBucketStore(ctx, log, gcp.BucketConfig{
		Storage:         storageCfg,
		CDNDomain:       cfg.GCSCDNDomain,
		CredentialsJSON: cfg.GCSCredentialsJSON,
		CredentialsFile: cfg.GCSCredentialsFile,
	})
	if err != nil {
		classified := classifyStorageProviderBootstrapError(storageCfg, err)
		log.Error(
			"Object storage provider bootstrap failed",
			"mode", storageCfg.Mode,
			"emulator_host", storageCfg.EmulatorHost,
			"error_code", storageProviderBootstrapErrorCode(classified),
			"error", classified,
		)
		return blobStoreResult{}, classified
	}
	return blobStoreResult{Store: store, Close: closeFn}, nil
}

func noopClose() error { return nil }

func classifyStorageProviderBootstrapError(storageCfg blob.Config, err error) error {
	code := StorageProviderBootstrapErrorConnectFailed
	var cfgErr *blob.ConfigError
	if errors.As(err, &cfgErr) {
		switch cfgErr.Code {
		case blob.ConfigErrorInvalidMode:
			code = StorageProviderBootstrapErrorInvalidMode
		case blob.ConfigErrorMissingBucket:
			code = StorageProviderBootstrapErrorMissingBucket
		case blob.ConfigErrorMissingEmulatorHost:
			code = StorageProviderBootstrapErrorMissingEmulatorHost
		case blob.ConfigErrorInvalidEmulatorHost:
			code = StorageProviderBootstrapErrorInvalidEmulatorHost
		case blob.ConfigErrorMissingLocalDir:
			code = StorageProviderBootstrapErrorMissingLocalDir
		case blob.ConfigErrorInvalidPublicURL:
			code = StorageProviderBootstrapErrorInvalidPublicURL
		}
	}
	return &StorageProviderBootstrapError{
		Code:  code,
		Mode:  string(storageCfg.Mode),
		Cause: err,
	}
}

func storageProviderBootstrapErrorCode(err error) StorageProviderBootstrapErrorCode {
	var bootstrapErr *StorageProviderBootstrapError
	if errors.As(err, &bootstrapErr) && bootstrapErr.Code != "" {
		return bootstrapErr.Code
	}
	return StorageProviderBootstrapErrorConnectFailed
}
