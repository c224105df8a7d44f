package uploader

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// UploadRecord mirrors server-side session progress on local disk so a
// restarted process can resume without re-sending every chunk. The
// server's received set stays the source of truth; this is a hint.
type UploadRecord struct {
	SessionID            string    `json:"sessionId"`
	Filename             string    `json:"filename"`
	FilePath             string    `json:"filePath"`
	FileSizeBytes        int64     `json:"fileSizeBytes"`
	UploadedChunkIndices []int     `json:"uploadedChunkIndices"`
	CreatedAt            time.Time `json:"createdAt"`
}

// RecordStore keeps one JSON file per upload under a cache directory,
// keyed by a hash of the file path.
type RecordStore struct {
	dir string
	ttl time.Duration
}

func NewRecordStore(dir string, ttl time.Duration) (*RecordStore, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "uplink-upload-cache")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure record dir: %w", err)
	}
	return &RecordStore{dir: dir, ttl: ttl}, nil
}

// Load returns the record for a file path, or nil when none exists or
// it no longer matches the file's size.
func (rs *RecordStore) Load(filePath string, fileSize int64) (*UploadRecord, error) {
	data, err := os.ReadFile(rs.recordPath(filePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read record: %w", err)
	}

	var record UploadRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}

	// a record for a changed file would resume the wrong bytes
	if record.FilePath != filePath || record.FileSizeBytes != fileSize {
		_ = os.Remove(rs.recordPath(filePath))
		return nil, nil
	}
	if time.Since(record.CreatedAt) > rs.ttl {
		_ = os.Remove(rs.recordPath(filePath))
		return nil, nil
	}

	return &record, nil
}

func (rs *RecordStore) Save(record *UploadRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return os.WriteFile(rs.recordPath(record.FilePath), data, 0o644)
}

// Delete is idempotent, removing an absent record is fine.
func (rs *RecordStore) Delete(filePath string) error {
	err := os.Remove(rs.recordPath(filePath))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// PurgeExpired removes records older than the TTL. Best effort.
func (rs *RecordStore) PurgeExpired() error {
	entries, err := os.ReadDir(rs.dir)
	if err != nil {
		return fmt.Errorf("read record dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(rs.dir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var record UploadRecord
		if err := json.Unmarshal(data, &record); err != nil {
			_ = os.Remove(path)
			continue
		}
		if time.Since(record.CreatedAt) > rs.ttl {
			_ = os.Remove(path)
		}
	}
	return nil
}

func (rs *RecordStore) recordPath(filePath string) string {
	hash := sha1.Sum([]byte(filePath))
	return filepath.Join(rs.dir, hex.EncodeToString(hash[:])+".json")
}
