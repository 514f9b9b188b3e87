package gcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/chatcore-backend/internal/platform/blob"
	"github.com/yungbote/chatcore-backend/internal/platform/logger"
)

func TestBucketStoreEmulatorLifecycle(t *testing.T) {
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("CC_RUN_GCS_EMULATOR_INTEGRATION")), "true") {
		t.Skip("set CC_RUN_GCS_EMULATOR_INTEGRATION=true to run emulator integration tests")
	}

	emulatorHost := strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST"))
	if emulatorHost == "" {
		emulatorHost = "http://127.0.0.1:4443"
	}
	emulatorHost = strings.TrimRight(emulatorHost, "/")

	if !isEmulatorReachable(t, emulatorHost) {
		t.Skipf("storage emulator not reachable at %s", emulatorHost)
	}

	suffix := time.Now().UnixNano()
	bucketName := fmt.Sprintf("cc-it-attachments-%d", suffix)
	createBucketIfMissing(t, emulatorHost, bucketName)
	t.Setenv("STORAGE_EMULATOR_HOST", emulatorHost)

	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	defer log.Sync()

	ctx := context.Background()
	storageCfg, err := blob.ResolveConfig("gcs_emulator", blob.Config{Bucket: bucketName, EmulatorHost: emulatorHost})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	store, err := NewBucketStore(ctx, log, BucketConfig{Storage: storageCfg})
	if err != nil {
		t.Fatalf("NewBucketStore: %v", err)
	}
	defer store.Close()

	prefix := fmt.Sprintf("attachments/it-%d", suffix)
	keyA := prefix + "/a.txt"
	keyB := prefix + "/b.txt"

	if _, err := store.Upload(ctx, keyA, "text/plain", strings.NewReader("alpha")); err != nil {
		t.Fatalf("Upload(%s): %v", keyA, err)
	}
	if _, err := store.Upload(ctx, keyB, "text/plain", strings.NewReader("beta")); err != nil {
		t.Fatalf("Upload(%s): %v", keyB, err)
	}

	waitForKeys(t, store, ctx, prefix, keyA, keyB)

	body, err := openWithRetry(ctx, store, keyA, 5*time.Second)
	if err != nil {
		t.Fatalf("openWithRetry(%s): %v", keyA, err)
	}
	if string(body) != "alpha" {
		t.Fatalf("download body: want=%q got=%q", "alpha", string(body))
	}

	if err := store.Delete(ctx, keyA); err != nil {
		t.Fatalf("Delete(%s): %v", keyA, err)
	}
	if err := store.Delete(ctx, keyA); err != nil {
		t.Fatalf("Delete(%s) twice: %v", keyA, err)
	}
	keys, err := listKeys(ctx, store, prefix)
	if err != nil {
		t.Fatalf("List after delete: %v", err)
	}
	if slices.Contains(keys, keyA) {
		t.Fatalf("expected %s to be deleted; keys=%v", keyA, keys)
	}
	if !slices.Contains(keys, keyB) {
		t.Fatalf("expected %s to remain; keys=%v", keyB, keys)
	}
}

func listKeys(ctx context.Context, store blob.Store, prefix string) ([]string, error) {
	infos, err := store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(infos))
	for _, info := range infos {
		out = append(out, info.Key)
	}
	return out, nil
}

func isEmulatorReachable(t *testing.T, emulatorHost string) bool {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(emulatorHost + "/storage/v1/b?project=local-dev")
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 500
}

func createBucketIfMissing(t *testing.T, emulatorHost string, bucket string) {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"name": bucket})
	if err != nil {
		t.Fatalf("json.Marshal(bucket): %v", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(
		http.MethodPost,
		emulatorHost+"/storage/v1/b?project=local-dev",
		bytes.NewReader(payload),
	)
	if err != nil {
		t.Fatalf("http.NewRequest(create bucket): %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("create bucket %q: %v", bucket, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusConflict {
		return
	}
	b, _ := io.ReadAll(resp.Body)
	t.Fatalf("create bucket %q failed: status=%d body=%s", bucket, resp.StatusCode, strings.TrimSpace(string(b)))
}

func waitForKeys(
	t *testing.T,
	store blob.Store,
	ctx context.Context,
	prefix string,
	keys ...string,
) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last []string
	for {
		got, err := listKeys(ctx, store, prefix)
		if err == nil {
			last = got
			ok := true
			for _, k := range keys {
				if !slices.Contains(got, k) {
					ok = false
					break
				}
			}
			if ok {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for keys %v under prefix %q; last=%v", keys, prefix, last)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func openWithRetry(
	ctx context.Context,
	store blob.Store,
	key string,
	timeout time.Duration,
) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		rc, err := store.Open(ctx, key)
		if err == nil {
			body, readErr := io.ReadAll(rc)
			_ = rc.Close()
			if readErr == nil {
				return body, nil
			}
			lastErr = readErr
		} else {
			lastErr = err
		}
		if time.Now().After(deadline) {
			return nil, lastErr
		}
		time.Sleep(100 * time.Millisecond)
	}
}
