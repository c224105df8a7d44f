package upload

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uplinkhq/uplink/internal/server/blob"
)

type captureRecordCreator struct {
	mu      sync.Mutex
	records []*MediaRecord
}

func (c *captureRecordCreator) CreateMediaRecord(_ context.Context, record *MediaRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, record)
	return nil
}

func (c *captureRecordCreator) list() []*MediaRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*MediaRecord{}, c.records...)
}

func newTestService(t *testing.T) (*Service, *captureRecordCreator) {
	t.Helper()
	records := &captureRecordCreator{}
	svc, err := NewService(newTestDB(t), blob.NewMemoryBackend(), records, &Config{
		Assembler: AssemblerConfig{
			FetchAttempts:  2,
			FetchBaseDelay: time.Millisecond,
		},
	})
	require.NoError(t, err)
	return svc, records
}

func TestServiceCreateSessionDefaults(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, &CreateSessionParams{
		OwnerID:       "user-1",
		Filename:      "movie",
		FileSizeBytes: 52 * 1024 * 1024,
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultChunkSize, session.ChunkSizeBytes)
	assert.Equal(t, 11, session.TotalChunks)
	assert.Equal(t, "application/octet-stream", session.MimeType)

	// mime sniffed from the filename when the client sends none
	session, err = svc.CreateSession(ctx, &CreateSessionParams{
		OwnerID:       "user-1",
		Filename:      "notes.md",
		FileSizeBytes: 1024,
	})
	require.NoError(t, err)
	assert.Equal(t, "text/plain; charset=utf-8", session.MimeType)

	// oversized chunk requests are clamped
	session, err = svc.CreateSession(ctx, &CreateSessionParams{
		OwnerID:        "user-1",
		Filename:       "movie.mkv",
		FileSizeBytes:  1024,
		ChunkSizeBytes: MaxChunkSize * 4,
	})
	require.NoError(t, err)
	assert.Equal(t, MaxChunkSize, session.ChunkSizeBytes)

	_, err = svc.CreateSession(ctx, &CreateSessionParams{OwnerID: "u", Filename: "f", FileSizeBytes: 0})
	assert.ErrorIs(t, err, ErrInvalidFileSize)

	_, err = svc.CreateSession(ctx, &CreateSessionParams{OwnerID: "u", FileSizeBytes: 10})
	assert.ErrorIs(t, err, ErrInvalidFilename)
}

func uploadAll(t *testing.T, svc *Service, session *Session, data []byte) {
	t.Helper()
	ctx := context.Background()
	for idx := 0; idx < session.TotalChunks; idx++ {
		offset, length := ChunkRange(session.FileSizeBytes, session.ChunkSizeBytes, idx)
		_, err := svc.UploadChunk(ctx, session.ID, idx, length, bytes.NewReader(data[offset:offset+length]))
		require.NoError(t, err)
	}
}

func TestServiceUploadChunk(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, &CreateSessionParams{
		OwnerID:        "user-1",
		Filename:       "clip.mp4",
		MimeType:       "video/mp4",
		FileSizeBytes:  25,
		ChunkSizeBytes: 10,
	})
	require.NoError(t, err)
	require.Equal(t, 3, session.TotalChunks)

	count, err := svc.UploadChunk(ctx, session.ID, 0, 10, bytes.NewReader(make([]byte, 10)))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// re-upload of the same index leaves the count unchanged
	count, err = svc.UploadChunk(ctx, session.ID, 0, 10, bytes.NewReader(make([]byte, 10)))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// the final chunk carries the remainder
	count, err = svc.UploadChunk(ctx, session.ID, 2, 5, bytes.NewReader(make([]byte, 5)))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// index beyond the chunk count
	_, err = svc.UploadChunk(ctx, session.ID, 3, 10, bytes.NewReader(make([]byte, 10)))
	assert.ErrorIs(t, err, ErrChunkOutOfRange)

	// wrong size for the index
	_, err = svc.UploadChunk(ctx, session.ID, 1, 7, bytes.NewReader(make([]byte, 7)))
	assert.ErrorIs(t, err, ErrChunkOutOfRange)

	_, err = svc.UploadChunk(ctx, "no-such-session", 0, 10, bytes.NewReader(make([]byte, 10)))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestServiceUploadChunkWhilePaused(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, &CreateSessionParams{
		OwnerID:        "user-1",
		Filename:       "clip.mp4",
		FileSizeBytes:  20,
		ChunkSizeBytes: 10,
	})
	require.NoError(t, err)

	// in-flight chunks still land after a pause
	require.NoError(t, svc.Pause(ctx, session.ID))
	_, err = svc.UploadChunk(ctx, session.ID, 0, 10, bytes.NewReader(make([]byte, 10)))
	require.NoError(t, err)

	// but not after a cancel
	require.NoError(t, svc.Resume(ctx, session.ID))
	require.NoError(t, svc.Cancel(ctx, session.ID))
	_, err = svc.UploadChunk(ctx, session.ID, 1, 10, bytes.NewReader(make([]byte, 10)))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func waitForStatus(t *testing.T, svc *Service, id string, want SessionStatus) *Session {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		session, err := svc.GetSession(context.Background(), id)
		require.NoError(t, err)
		if session.Status == want {
			return session
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session %s never reached %s", id, want)
	return nil
}

func TestServiceFinalizeEndToEnd(t *testing.T) {
	svc, records := newTestService(t)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, &CreateSessionParams{
		OwnerID:        "user-1",
		Filename:       "clip.mp4",
		MimeType:       "video/mp4",
		FileSizeBytes:  105,
		ChunkSizeBytes: 10,
	})
	require.NoError(t, err)

	data := bytes.Repeat([]byte("0123456789"), 11)[:105]
	uploadAll(t, svc, session, data)

	got, err := svc.Finalize(ctx, session.ID)
	require.NoError(t, err)
	assert.Contains(t, []SessionStatus{StatusFinalizing, StatusCompleted}, got.Status)

	final := waitForStatus(t, svc, session.ID, StatusCompleted)
	assert.Equal(t, PhaseComplete, final.AssemblyPhase)
	assert.NotEmpty(t, final.FinalObjectURL)
	assert.Equal(t, FinalObjectKey(session.ID, "clip.mp4"), final.FinalObjectKey)

	status, err := svc.GetFinalizeStatus(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status.Status)
	assert.Equal(t, status.TotalChunks, status.Progress)

	// assembled bytes match the source
	resp, err := svc.Chunks().Backend().GetObject(ctx, final.FinalObjectKey)
	require.NoError(t, err)
	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, data, buf.Bytes())

	// a media record fires downstream
	require.Eventually(t, func() bool {
		return len(records.list()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	record := records.list()[0]
	assert.Equal(t, "clip.mp4", record.Filename)
	assert.Equal(t, "video/mp4", record.MimeType)
	assert.Equal(t, int64(105), record.FileSizeBytes)
	assert.Equal(t, "user-1", record.OwnerID)

	// chunk objects are gone once the final object exists
	require.Eventually(t, func() bool {
		objects, err := svc.Chunks().Backend().ListObjects(ctx, ChunkPrefix(session.ID))
		return err == nil && len(objects) == 0
	}, 5*time.Second, 10*time.Millisecond)

	// but the received set survives the gc: a completed session still
	// reports every chunk
	got, err = svc.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, got.ReceivedChunks, got.TotalChunks)
	assert.True(t, got.Complete())

	// finalizing a completed session just reports it
	again, err := svc.Finalize(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, again.Status)
}

func TestServiceFinalizeIncomplete(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, &CreateSessionParams{
		OwnerID:        "user-1",
		Filename:       "clip.mp4",
		FileSizeBytes:  20,
		ChunkSizeBytes: 10,
	})
	require.NoError(t, err)

	_, err = svc.UploadChunk(ctx, session.ID, 0, 10, bytes.NewReader(make([]byte, 10)))
	require.NoError(t, err)

	_, err = svc.Finalize(ctx, session.ID)
	assert.ErrorIs(t, err, ErrIncompleteUpload)
}

func TestServiceExpiry(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, &CreateSessionParams{
		OwnerID:        "user-1",
		Filename:       "clip.mp4",
		FileSizeBytes:  10,
		ChunkSizeBytes: 10,
	})
	require.NoError(t, err)

	old := formatTime(time.Now().Add(-48 * time.Hour))
	_, err = svc.Sessions().db.ExecContext(ctx,
		`UPDATE upload_sessions SET last_activity_at = ? WHERE id = ?`, old, session.ID)
	require.NoError(t, err)

	// lapsed TTL shows as expired even before the sweep runs
	got, err := svc.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)

	_, err = svc.UploadChunk(ctx, session.ID, 0, 10, bytes.NewReader(make([]byte, 10)))
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.ErrorIs(t, svc.Resume(ctx, session.ID), ErrSessionExpired)

	n, err := svc.ExpireStaleSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestServiceCollectOrphanChunks(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, &CreateSessionParams{
		OwnerID:        "user-1",
		Filename:       "clip.mp4",
		FileSizeBytes:  20,
		ChunkSizeBytes: 10,
	})
	require.NoError(t, err)

	_, err = svc.UploadChunk(ctx, session.ID, 0, 10, bytes.NewReader(make([]byte, 10)))
	require.NoError(t, err)

	old := formatTime(time.Now().Add(-48 * time.Hour))
	_, err = svc.Sessions().db.ExecContext(ctx,
		`UPDATE upload_sessions SET last_activity_at = ? WHERE id = ?`, old, session.ID)
	require.NoError(t, err)

	_, err = svc.ExpireStaleSessions(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.CollectOrphanChunks(ctx))

	objects, err := svc.Chunks().Backend().ListObjects(ctx, ChunkPrefix(session.ID))
	require.NoError(t, err)
	assert.Empty(t, objects)
}
