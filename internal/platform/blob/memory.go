package blob

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

type memObject struct {
	data        []byte
	contentType string
	updated     time.Time
}

// MemoryStore keeps blobs in process. Used for tests and single-node dev.
type MemoryStore struct {
	baseURL string

	mu      sync.RWMutex
	objects map[string]memObject
}

func NewMemoryStore(baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = "memory://blobs"
	}
	return &MemoryStore{baseURL: baseURL, objects: map[string]memObject{}}
}

func (s *MemoryStore) Upload(ctx context.Context, key string, contentType string, r io.Reader) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Object{}, err
	}
	s.mu.Lock()
	s.objects[key] = memObject{data: data, contentType: contentType, updated: time.Now().UTC()}
	s.mu.Unlock()
	return Object{Key: key, URL: s.URL(key), Size: int64(len(data)), ContentType: contentType}, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *MemoryStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []ObjectInfo{}
	for k, obj := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, ObjectInfo{Key: k, Updated: obj.updated})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) URL(key string) string { return joinURL(s.baseURL, key) }

func (s *MemoryStore) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok
}

// Touch overrides an object's modification time.
func (s *MemoryStore) Touch(key string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj, ok := s.objects[key]; ok {
		obj.updated = at
		s.objects[key] = obj
	}
}
