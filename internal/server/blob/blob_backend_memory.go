package blob

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrObjectNotFound = errors.New("object not found")
)

type memoryObject struct {
	data         []byte
	contentType  string
	etag         string
	lastModified time.Time
}

// MemoryBackend is an in-process Backend used for local development
// and tests. Objects live in a map guarded by a RWMutex; keys behave
// like S3 keys (flat namespace, prefix listing).
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[string]*memoryObject
	baseURL string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		objects: make(map[string]*memoryObject),
		baseURL: "memory://",
	}
}

func (m *MemoryBackend) GetObject(_ context.Context, key string) (*GetObjectResponse, error) {
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrObjectNotFound
	}

	return &GetObjectResponse{
		Body:         io.NopCloser(bytes.NewReader(obj.data)),
		ETag:         obj.etag,
		Size:         int64(len(obj.data)),
		LastModified: obj.lastModified,
	}, nil
}

func (m *MemoryBackend) GetObjectPresigned(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return "", ErrObjectNotFound
	}
	return m.baseURL + key, nil
}

func (m *MemoryBackend) PutObject(_ context.Context, params *PutObjectParams) (*PutObjectResponse, error) {
	if !ValidateKey(params.Key) {
		return nil, ErrInvalidKey
	}

	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, fmt.Errorf("read object body: %w", err)
	}

	obj := &memoryObject{
		data:         data,
		contentType:  params.ContentType,
		etag:         fmt.Sprintf("%x", md5.Sum(data)),
		lastModified: time.Now().UTC(),
	}

	m.mu.Lock()
	m.objects[params.Key] = obj
	m.mu.Unlock()

	return &PutObjectResponse{
		Key:          params.Key,
		ETag:         obj.etag,
		Size:         int64(len(data)),
		LastModified: obj.lastModified,
	}, nil
}

// DeleteObject is idempotent, deleting an absent key is not an error.
func (m *MemoryBackend) DeleteObject(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return true, nil
}

func (m *MemoryBackend) ListObjects(_ context.Context, prefix string) ([]*ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var objects []*ObjectInfo
	for key, obj := range m.objects {
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			continue
		}
		objects = append(objects, &ObjectInfo{
			Key:          key,
			ETag:         obj.etag,
			Size:         int64(len(obj.data)),
			LastModified: obj.lastModified.Format(time.RFC3339),
		})
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].Key < objects[j].Key
	})
	return objects, nil
}

func (m *MemoryBackend) Delegate() any {
	return m.objects
}

var _ Backend = (*MemoryBackend)(nil)
