package uploader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uplinkhq/uplink/internal/db"
	"github.com/uplinkhq/uplink/internal/sdk"
	"github.com/uplinkhq/uplink/internal/server"
	"github.com/uplinkhq/uplink/internal/server/blob"
	"github.com/uplinkhq/uplink/internal/server/upload"
)

var chunkPathRe = regexp.MustCompile(`^/api/v1/uploads/[^/]+/chunks/(\d+)$`)

// testBackend fronts the real upload server so tests can count and
// fail chunk PUTs and observe pause/resume calls.
type testBackend struct {
	inner http.Handler

	mu            sync.Mutex
	chunkPuts     map[int]int
	failChunkPuts int
	pauses        int
	resumes       int
	pausedCh      chan string
}

func (b *testBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPut {
		if m := chunkPathRe.FindStringSubmatch(r.URL.Path); m != nil {
			index, _ := strconv.Atoi(m[1])
			b.mu.Lock()
			b.chunkPuts[index]++
			fail := b.failChunkPuts > 0
			if fail {
				b.failChunkPuts--
			}
			b.mu.Unlock()
			if fail {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
		}
	}
	if r.Method == http.MethodPost {
		switch {
		case strings.HasSuffix(r.URL.Path, "/pause"):
			id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v1/uploads/"), "/pause")
			b.mu.Lock()
			b.pauses++
			b.mu.Unlock()
			select {
			case b.pausedCh <- id:
			default:
			}
		case strings.HasSuffix(r.URL.Path, "/resume"):
			b.mu.Lock()
			b.resumes++
			b.mu.Unlock()
		}
	}
	b.inner.ServeHTTP(w, r)
}

func (b *testBackend) putCount(index int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chunkPuts[index]
}

func (b *testBackend) totalPuts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, n := range b.chunkPuts {
		total += n
	}
	return total
}

func newTestUploader(t *testing.T, cfg Config) (*Uploader, *sdk.Client, *testBackend) {
	t.Helper()

	sqldb, err := db.NewSqliteDB(db.WithMaxOpenConns(1))
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	config := &server.Config{
		Blob: blob.Config{Backend: "memory"},
		Upload: upload.Config{
			Assembler: upload.AssemblerConfig{
				FetchAttempts:  1,
				FetchBaseDelay: time.Millisecond,
			},
		},
	}
	require.NoError(t, config.Validate())

	services, err := server.NewServices(config, sqldb)
	require.NoError(t, err)

	handler, err := server.SetupRoutes(config, services)
	require.NoError(t, err)

	backend := &testBackend{
		inner:     handler,
		chunkPuts: make(map[int]int),
		pausedCh:  make(chan string, 4),
	}
	ts := httptest.NewServer(backend)
	t.Cleanup(ts.Close)

	client, err := sdk.New(ts.URL)
	require.NoError(t, err)

	if cfg.RecordDir == "" {
		cfg.RecordDir = t.TempDir()
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	up, err := New(client, cfg)
	require.NoError(t, err)
	return up, client, backend
}

func writeTestFile(t *testing.T, size int) string {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte('a' + i%26)
	}
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestUploaderConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultConcurrency, cfg.Concurrency)
	assert.Equal(t, DefaultPersistEvery, cfg.PersistEvery)
	assert.Equal(t, DefaultMaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, DefaultAutoResumeAfter, cfg.AutoResumeAfter)

	clamped := Config{Concurrency: 12}.withDefaults()
	assert.Equal(t, MaxConcurrency, clamped.Concurrency)
}

func TestUploadEndToEnd(t *testing.T) {
	recordDir := t.TempDir()
	up, _, backend := newTestUploader(t, Config{
		Concurrency:    2,
		ChunkSizeBytes: 10,
		RecordDir:      recordDir,
	})
	path := writeTestFile(t, 25)

	var lastUploaded, lastTotal int
	result, err := up.Upload(context.Background(), &UploadRequest{
		FilePath: path,
		OwnerID:  "user-1",
		MimeType: "video/mp4",
		Progress: func(uploaded, total int) {
			lastUploaded, lastTotal = uploaded, total
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalChunks)
	assert.False(t, result.Resumed)
	assert.True(t, strings.HasPrefix(result.FinalObjectKey, "media/"), result.FinalObjectKey)
	assert.NotEmpty(t, result.FinalObjectURL)

	assert.Equal(t, 3, lastUploaded)
	assert.Equal(t, 3, lastTotal)
	for idx := 0; idx < 3; idx++ {
		assert.Equal(t, 1, backend.putCount(idx), "chunk %d", idx)
	}

	// the resume record is cleaned up once the upload completes
	records, err := NewRecordStore(recordDir, time.Hour)
	require.NoError(t, err)
	record, err := records.Load(path, 25)
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestUploadResumeSkipsReceivedChunks(t *testing.T) {
	recordDir := t.TempDir()
	up, client, backend := newTestUploader(t, Config{
		Concurrency:    1,
		ChunkSizeBytes: 10,
		RecordDir:      recordDir,
	})
	path := writeTestFile(t, 25)
	ctx := context.Background()

	// a previous run got two chunks through before dying
	session, err := client.Uploads.CreateSession(ctx, &sdk.CreateSessionParams{
		OwnerID:        "user-1",
		Filename:       filepath.Base(path),
		FileSizeBytes:  25,
		ChunkSizeBytes: 10,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	_, err = client.Uploads.UploadChunk(ctx, session.ID, 0, data[0:10])
	require.NoError(t, err)
	_, err = client.Uploads.UploadChunk(ctx, session.ID, 1, data[10:20])
	require.NoError(t, err)

	records, err := NewRecordStore(recordDir, time.Hour)
	require.NoError(t, err)
	require.NoError(t, records.Save(&UploadRecord{
		SessionID:            session.ID,
		Filename:             session.Filename,
		FilePath:             path,
		FileSizeBytes:        25,
		UploadedChunkIndices: []int{0, 1},
		CreatedAt:            time.Now().UTC(),
	}))

	result, err := up.Upload(ctx, &UploadRequest{FilePath: path, OwnerID: "user-1"})
	require.NoError(t, err)

	assert.True(t, result.Resumed)
	assert.Equal(t, session.ID, result.SessionID)
	// only the missing chunk went over the wire this run
	assert.Equal(t, 1, backend.putCount(0))
	assert.Equal(t, 1, backend.putCount(1))
	assert.Equal(t, 1, backend.putCount(2))
}

func TestUploadResumeStaleSessionStartsOver(t *testing.T) {
	recordDir := t.TempDir()
	up, _, backend := newTestUploader(t, Config{
		Concurrency:    1,
		ChunkSizeBytes: 10,
		RecordDir:      recordDir,
	})
	path := writeTestFile(t, 25)

	records, err := NewRecordStore(recordDir, time.Hour)
	require.NoError(t, err)
	require.NoError(t, records.Save(&UploadRecord{
		SessionID:     "no-such-session",
		FilePath:      path,
		FileSizeBytes: 25,
		CreatedAt:     time.Now().UTC(),
	}))

	result, err := up.Upload(context.Background(), &UploadRequest{FilePath: path, OwnerID: "user-1"})
	require.NoError(t, err)

	assert.False(t, result.Resumed)
	assert.NotEqual(t, "no-such-session", result.SessionID)
	assert.Equal(t, 3, backend.totalPuts())
}

func TestUploadAutoPauseAndResume(t *testing.T) {
	up, _, backend := newTestUploader(t, Config{
		Concurrency:     1,
		ChunkSizeBytes:  10,
		MaxAttempts:     1,
		AutoResumeAfter: 25 * time.Millisecond,
	})
	backend.failChunkPuts = 1
	path := writeTestFile(t, 25)

	result, err := up.Upload(context.Background(), &UploadRequest{FilePath: path, OwnerID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalChunks)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.GreaterOrEqual(t, backend.pauses, 1)
	assert.GreaterOrEqual(t, backend.resumes, 1)
}

func TestManualResumeShortcutsCooldown(t *testing.T) {
	up, _, backend := newTestUploader(t, Config{
		Concurrency:     1,
		ChunkSizeBytes:  10,
		MaxAttempts:     1,
		AutoResumeAfter: time.Minute, // only a manual resume finishes this in time
	})
	backend.failChunkPuts = 1
	path := writeTestFile(t, 25)

	go func() {
		sessionID := <-backend.pausedCh
		up.Resume(sessionID)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := up.Upload(ctx, &UploadRequest{FilePath: path, OwnerID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalChunks)
}

func TestCancelDuringUpload(t *testing.T) {
	recordDir := t.TempDir()
	up, client, backend := newTestUploader(t, Config{
		Concurrency:    1,
		ChunkSizeBytes: 10,
		RecordDir:      recordDir,
	})
	path := writeTestFile(t, 50)
	ctx := context.Background()

	// resume a known session so the test can cancel it by id
	session, err := client.Uploads.CreateSession(ctx, &sdk.CreateSessionParams{
		OwnerID:        "user-1",
		Filename:       filepath.Base(path),
		FileSizeBytes:  50,
		ChunkSizeBytes: 10,
	})
	require.NoError(t, err)

	records, err := NewRecordStore(recordDir, time.Hour)
	require.NoError(t, err)
	require.NoError(t, records.Save(&UploadRecord{
		SessionID:     session.ID,
		Filename:      session.Filename,
		FilePath:      path,
		FileSizeBytes: 50,
		CreatedAt:     time.Now().UTC(),
	}))

	var once sync.Once
	var cancelErr error
	_, err = up.Upload(ctx, &UploadRequest{
		FilePath: path,
		OwnerID:  "user-1",
		Progress: func(uploaded, total int) {
			once.Do(func() {
				cancelErr = up.Cancel(ctx, session.ID)
			})
		},
	})
	require.NoError(t, cancelErr)
	require.ErrorIs(t, err, ErrCancelled)

	// nothing after the first ack went out
	assert.Equal(t, 1, backend.totalPuts())

	got, err := client.Uploads.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, sdk.StatusCancelled, got.Status)
}

func TestCancelLeavesOtherSessionsQueued(t *testing.T) {
	up, _, _ := newTestUploader(t, Config{})

	up.pending.Enqueue(chunkJob{SessionID: "sess-a", Index: 0}, 0)
	up.pending.Enqueue(chunkJob{SessionID: "sess-b", Index: 0}, 0)
	up.pending.Enqueue(chunkJob{SessionID: "sess-a", Index: 1}, 1)
	up.pending.Enqueue(chunkJob{SessionID: "sess-b", Index: 1}, 1)

	require.NoError(t, up.Cancel(context.Background(), "sess-a"))

	assert.True(t, up.isCancelled("sess-a"))
	assert.False(t, up.isCancelled("sess-b"))

	require.Equal(t, 2, up.pending.Len())
	for i := 0; i < 2; i++ {
		job, ok := up.pending.Dequeue()
		require.True(t, ok)
		assert.Equal(t, "sess-b", job.SessionID)
		assert.Equal(t, i, job.Index)
	}
}

func TestRecordPersistedOnInterval(t *testing.T) {
	recordDir := t.TempDir()
	up, _, _ := newTestUploader(t, Config{
		Concurrency:    1,
		ChunkSizeBytes: 10,
		PersistEvery:   5,
		RecordDir:      recordDir,
	})
	path := writeTestFile(t, 70) // 7 chunks

	records, err := NewRecordStore(recordDir, time.Hour)
	require.NoError(t, err)

	var midFlight *UploadRecord
	_, err = up.Upload(context.Background(), &UploadRequest{
		FilePath: path,
		OwnerID:  "user-1",
		Progress: func(uploaded, total int) {
			// by the sixth ack the fifth-chunk save has landed
			if uploaded == 6 && midFlight == nil {
				midFlight, _ = records.Load(path, 70)
			}
		},
	})
	require.NoError(t, err)

	require.NotNil(t, midFlight)
	assert.GreaterOrEqual(t, len(midFlight.UploadedChunkIndices), 5)
	assert.Less(t, len(midFlight.UploadedChunkIndices), 7)
}
