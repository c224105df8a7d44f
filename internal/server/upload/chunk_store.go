package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/uplinkhq/uplink/internal/server/blob"
)

var (
	ErrChunkNotFound = errors.New("chunk not found")
)

// ChunkKey is the deterministic storage key for a (session, index)
// pair. Retrying an upload lands on the same key, so a retry
// overwrites rather than duplicates.
func ChunkKey(sessionID string, index int) string {
	return fmt.Sprintf("uploads/%s/chunks/%06d", sessionID, index)
}

// ChunkPrefix is the key prefix holding all chunks of a session.
func ChunkPrefix(sessionID string) string {
	return fmt.Sprintf("uploads/%s/chunks/", sessionID)
}

// FinalObjectKey is where the assembled file lands.
func FinalObjectKey(sessionID, filename string) string {
	// keep keys flat and S3-safe; the filename only affects the last
	// path segment
	safe := strings.ReplaceAll(filename, "/", "_")
	return fmt.Sprintf("media/%s/%s", sessionID, safe)
}

// ChunkStore stores chunk bytes in the blob backend under
// deterministic keys. Chunk sizes are recorded separately in the
// session store so byte offsets can be computed without re-fetching.
type ChunkStore struct {
	backend blob.Backend
}

func NewChunkStore(backend blob.Backend) *ChunkStore {
	return &ChunkStore{backend: backend}
}

func (cs *ChunkStore) Backend() blob.Backend {
	return cs.backend
}

// Put stores one chunk, overwriting any previous write of the same
// (session, index). Returns the storage key.
func (cs *ChunkStore) Put(ctx context.Context, sessionID string, index int, size int64, body io.Reader) (string, error) {
	key := ChunkKey(sessionID, index)
	_, err := cs.backend.PutObject(ctx, &blob.PutObjectParams{
		Key:         key,
		Size:        size,
		Body:        body,
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", fmt.Errorf("put chunk %s: %w", key, err)
	}
	return key, nil
}

// Get fetches stored chunk bytes by storage key.
func (cs *ChunkStore) Get(ctx context.Context, storageKey string) ([]byte, error) {
	resp, err := cs.backend.GetObject(ctx, storageKey)
	if err != nil {
		if errors.Is(err, blob.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrChunkNotFound, storageKey)
		}
		return nil, fmt.Errorf("get chunk %s: %w", storageKey, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read chunk %s: %w", storageKey, err)
	}
	return data, nil
}

// Delete removes one chunk object. Deleting an absent chunk is not an
// error.
func (cs *ChunkStore) Delete(ctx context.Context, sessionID string, index int) error {
	if _, err := cs.backend.DeleteObject(ctx, ChunkKey(sessionID, index)); err != nil {
		return fmt.Errorf("delete chunk: %w", err)
	}
	return nil
}

// DeleteAll removes every chunk object of a session. Best effort: a
// failed delete is logged and skipped, the remaining chunks are still
// attempted.
func (cs *ChunkStore) DeleteAll(ctx context.Context, sessionID string) error {
	objects, err := cs.backend.ListObjects(ctx, ChunkPrefix(sessionID))
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}

	for _, obj := range objects {
		if _, err := cs.backend.DeleteObject(ctx, obj.Key); err != nil {
			slog.Warn("chunk gc delete failed", "key", obj.Key, "error", err)
		}
	}
	return nil
}
