package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/yungbote/chatcore-backend/internal/platform/blob"
	"github.com/yungbote/chatcore-backend/internal/platform/logger"
)

type BucketConfig struct {
	Storage         blob.Config
	CDNDomain       string
	CredentialsJSON string
	CredentialsFile string
}

// BucketStore keeps attachment bytes in a single GCS bucket (or the
// fake-gcs emulator).
type BucketStore struct {
	log           *logger.Logger
	client        *storage.Client
	httpClient    *http.Client
	mode          blob.Mode
	bucket        string
	emulatorHost  string
	cdnDomain     string
	publicBaseURL string
}

var _ blob.Store = (*BucketStore)(nil)

func NewBucketStore(ctx context.Context, log *logger.Logger, cfg BucketConfig) (*BucketStore, error) {
	if cfg.Storage.Mode != blob.ModeGCS && cfg.Storage.Mode != blob.ModeGCSEmulator {
		return nil, &blob.ConfigError{Code: blob.ConfigErrorInvalidMode, Mode: string(cfg.Storage.Mode)}
	}
	if err := blob.Validate(cfg.Storage); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	client, err := newStorageClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	publicBaseURL, publicBaseSource := resolvePublicBaseURL(cfg.Storage)

	serviceLog := log.With("service", "BucketStore")
	serviceLog.Info(
		"Object storage initialized",
		"mode", cfg.Storage.Mode,
		"mode_source", cfg.Storage.ModeSource(),
		"emulator_host", cfg.Storage.EmulatorHost,
		"public_base_source", publicBaseSource,
		"public_base_url", publicBaseURL,
		"bucket", cfg.Storage.Bucket,
	)
	return &BucketStore{
		log:           serviceLog,
		client:        client,
		httpClient:    &http.Client{},
		mode:          cfg.Storage.Mode,
		bucket:        cfg.Storage.Bucket,
		emulatorHost:  strings.TrimRight(cfg.Storage.EmulatorHost, "/"),
		cdnDomain:     strings.TrimSpace(cfg.CDNDomain),
		publicBaseURL: publicBaseURL,
	}, nil
}

func newStorageClient(ctx context.Context, cfg BucketConfig) (*storage.Client, error) {
	if cfg.Storage.IsEmulatorMode() {
		_ = os.Setenv("STORAGE_EMULATOR_HOST", cfg.Storage.EmulatorHost)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	}
	opts := ClientOptions(cfg.CredentialsJSON, cfg.CredentialsFile)
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	return storage.NewClient(ctx, opts...)
}

func resolvePublicBaseURL(cfg blob.Config) (baseURL string, source string) {
	if cfg.PublicBaseURL != "" {
		return cfg.PublicBaseURL, "public_blob_base_url"
	}
	if cfg.IsEmulatorMode() {
		return cfg.EmulatorHost, "storage_emulator_host"
	}
	return "", "gcs_default"
}

func (bs *BucketStore) Close() error {
	if bs == nil || bs.client == nil {
		return nil
	}
	return bs.client.Close()
}

func (bs *BucketStore) Upload(ctx context.Context, key string, contentType string, r io.Reader) (blob.Object, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := bs.client.Bucket(bs.bucket).Object(key).NewWriter(ctx)
	if contentType == "" {
		contentType = blob.ContentTypeForKey(key)
	}
	if contentType != "" {
		w.ContentType = contentType
	}
	n, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		return blob.Object{}, fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return blob.Object{}, fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return blob.Object{Key: key, URL: bs.URL(key), Size: n, ContentType: contentType}, nil
}

func (bs *BucketStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	err := bs.client.Bucket(bs.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", key, bs.bucket, err)
	}
	return nil
}

func (bs *BucketStore) List(ctx context.Context, prefix string) ([]blob.ObjectInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	it := bs.client.Bucket(bs.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	out := []blob.ObjectInfo{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, blob.ObjectInfo{Key: attrs.Name, Updated: attrs.Updated})
	}
	return out, nil
}

// Open returns a reader whose context lives until Close.
func (bs *BucketStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
	if bs.mode == blob.ModeGCSEmulator && bs.emulatorHost != "" {
		req, err := http.NewRequestWithContext(ctx2, http.MethodGet, emulatorMediaURL(bs.emulatorHost, bs.bucket, key), nil)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed creating emulator download request: %w", err)
		}
		resp, err := bs.httpClient.Do(req)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed emulator download request: %w", err)
		}
		if resp.StatusCode == http.StatusNotFound {
			_ = resp.Body.Close()
			cancel()
			return nil, blob.ErrNotFound
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			_ = resp.Body.Close()
			cancel()
			return nil, fmt.Errorf("emulator download failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return &readCloserWithCancel{ReadCloser: resp.Body, cancel: cancel}, nil
	}

	r, err := bs.client.Bucket(bs.bucket).Object(key).NewReader(ctx2)
	if err != nil {
		cancel()
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, blob.ErrNotFound
		}
		return nil, fmt.Errorf("failed to open GCS reader: %w", err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func (bs *BucketStore) URL(key string) string {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if bs.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", bs.cdnDomain, key)
	}
	if bs.mode == blob.ModeGCSEmulator {
		base := bs.publicBaseURL
		if base == "" {
			base = bs.emulatorHost
		}
		if base != "" {
			return emulatorMediaURL(base, bs.bucket, key)
		}
	}
	if bs.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", bs.publicBaseURL, bs.bucket, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bs.bucket, key)
}

func emulatorMediaURL(base, bucket, key string) string {
	return fmt.Sprintf(
		"%s/storage/v1/b/%s/o/%s?alt=media",
		strings.TrimRight(base, "/"),
		url.PathEscape(bucket),
		url.PathEscape(key),
	)
}

// The reader outlives Open, so cancel is deferred to Close.
type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}
