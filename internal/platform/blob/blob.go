package blob

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("blob not found")

type Object struct {
	Key         string
	URL         string
	Size        int64
	ContentType string
}

type ObjectInfo struct {
	Key     string
	Updated time.Time
}

// Store holds uploaded attachment bytes. Delete of a missing key succeeds.
type Store interface {
	Upload(ctx context.Context, key string, contentType string, r io.Reader) (Object, error)
	Delete(ctx context.Context, key string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	URL(key string) string
}

const AttachmentPrefix = "attachments/"

// NewAttachmentKey builds a unique object key that keeps the file extension.
func NewAttachmentKey(ownerID uuid.UUID, filename string) string {
	ext := strings.ToLower(path.Ext(strings.TrimSpace(filename)))
	if len(ext) > 10 || strings.ContainsAny(ext, "/\\?#") {
		ext = ""
	}
	return AttachmentPrefix + ownerID.String() + "/" + uuid.NewString() + ext
}

func ContentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	if i := strings.Index(s, "?"); i >= 0 {
		s = s[:i]
	}
	switch {
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".webp"):
		return "image/webp"
	case strings.HasSuffix(s, ".gif"):
		return "image/gif"
	case strings.HasSuffix(s, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(s, ".txt"), strings.HasSuffix(s, ".md"):
		return "text/plain"
	case strings.HasSuffix(s, ".json"):
		return "application/json"
	default:
		return ""
	}
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}
