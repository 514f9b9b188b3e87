package gcp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/yungbote/chatcore-backend/internal/platform/blob"
)

func TestResolvePublicBaseURLGCSDefault(t *testing.T) {
	baseURL, source := resolvePublicBaseURL(blob.Config{Mode: blob.ModeGCS})
	if baseURL != "" {
		t.Fatalf("baseURL: want empty got=%q", baseURL)
	}
	if source != "gcs_default" {
		t.Fatalf("source: want=%q got=%q", "gcs_default", source)
	}
}

func TestResolvePublicBaseURLEmulatorFallback(t *testing.T) {
	baseURL, source := resolvePublicBaseURL(blob.Config{
		Mode:         blob.ModeGCSEmulator,
		EmulatorHost: "http://fake-gcs:4443",
	})
	if baseURL != "http://fake-gcs:4443" {
		t.Fatalf("baseURL: want=%q got=%q", "http://fake-gcs:4443", baseURL)
	}
	if source != "storage_emulator_host" {
		t.Fatalf("source: want=%q got=%q", "storage_emulator_host", source)
	}
}

func TestResolvePublicBaseURLOverride(t *testing.T) {
	baseURL, source := resolvePublicBaseURL(blob.Config{
		Mode:          blob.ModeGCSEmulator,
		EmulatorHost:  "http://fake-gcs:4443",
		PublicBaseURL: "http://localhost:4443",
	})
	if baseURL != "http://localhost:4443" {
		t.Fatalf("baseURL: want=%q got=%q", "http://localhost:4443", baseURL)
	}
	if source != "public_blob_base_url" {
		t.Fatalf("source: want=%q got=%q", "public_blob_base_url", source)
	}
}

func TestURLGCSDefault(t *testing.T) {
	bs := &BucketStore{mode: blob.ModeGCS, bucket: "chat-attachments"}

	got := bs.URL("attachments/u/1.png")
	want := "https://storage.googleapis.com/chat-attachments/attachments/u/1.png"
	if got != want {
		t.Fatalf("URL: want=%q got=%q", want, got)
	}
}

func TestURLUsesCDNDomain(t *testing.T) {
	bs := &BucketStore{mode: blob.ModeGCS, bucket: "chat-attachments", cdnDomain: "cdn.example.com"}

	got := bs.URL("/attachments/u/file.pdf")
	want := "https://cdn.example.com/attachments/u/file.pdf"
	if got != want {
		t.Fatalf("URL: want=%q got=%q", want, got)
	}
}

func TestURLUsesPublicBaseURL(t *testing.T) {
	bs := &BucketStore{mode: blob.ModeGCS, bucket: "chat-attachments", publicBaseURL: "http://localhost:4443"}

	got := bs.URL("/attachments/u/file.pdf")
	want := "http://localhost:4443/chat-attachments/attachments/u/file.pdf"
	if got != want {
		t.Fatalf("URL: want=%q got=%q", want, got)
	}
}

func TestURLUsesEmulatorMediaEndpoint(t *testing.T) {
	bs := &BucketStore{mode: blob.ModeGCSEmulator, bucket: "chat-attachments", emulatorHost: "http://fake-gcs:4443"}

	got := bs.URL("/attachments/abc/123.png")
	want := "http://fake-gcs:4443/storage/v1/b/chat-attachments/o/attachments%2Fabc%2F123.png?alt=media"
	if got != want {
		t.Fatalf("URL: want=%q got=%q", want, got)
	}
	if ct := blob.ContentTypeForKey(got); ct != "image/png" {
		t.Fatalf("ContentTypeForKey(media url): want=%q got=%q", "image/png", ct)
	}
}

func TestOpenEmulatorReadsMediaEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("alt") != "media" {
			t.Errorf("missing alt=media: %s", r.URL.String())
		}
		if strings.HasSuffix(r.URL.EscapedPath(), "missing.png") {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "pixels")
	}))
	defer srv.Close()

	bs := &BucketStore{
		mode:         blob.ModeGCSEmulator,
		bucket:       "chat-attachments",
		emulatorHost: srv.URL,
		httpClient:   srv.Client(),
	}

	rc, err := bs.Open(context.Background(), "attachments/u/1.png")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	body, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(body) != "pixels" {
		t.Fatalf("body: want=%q got=%q", "pixels", string(body))
	}

	if _, err := bs.Open(context.Background(), "attachments/u/missing.png"); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("Open missing: want ErrNotFound got=%v", err)
	}
}
