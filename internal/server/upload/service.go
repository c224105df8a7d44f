package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/uplinkhq/uplink/internal/server/blob"
	"github.com/uplinkhq/uplink/internal/utils"
)

const (
	// DefaultChunkSize keeps chunk counts for multi-gigabyte files
	// comfortably under external per-caller rate limits.
	DefaultChunkSize = int64(5 * 1024 * 1024)

	// MaxChunkSize caps what a client may request at session creation.
	MaxChunkSize = int64(64 * 1024 * 1024)

	// DefaultSessionTTL is how long a session stays resumable after
	// its last activity.
	DefaultSessionTTL = 24 * time.Hour
)

var (
	ErrInvalidFileSize = errors.New("file size must be positive")
	ErrInvalidFilename = errors.New("filename required")
)

// MediaRecord is handed to the downstream record creator once a
// session completes.
type MediaRecord struct {
	URL           string `json:"url"`
	Key           string `json:"key"`
	Filename      string `json:"filename"`
	MimeType      string `json:"mimeType"`
	FileSizeBytes int64  `json:"fileSizeBytes"`
	OwnerID       string `json:"ownerId"`
}

// RecordCreator is the downstream collaborator that turns a completed
// upload into a file/video record. Invoked fire-and-forget; its
// durability is not this service's problem.
type RecordCreator interface {
	CreateMediaRecord(ctx context.Context, record *MediaRecord) error
}

// NoopRecordCreator is used when no downstream endpoint is configured.
type NoopRecordCreator struct{}

func (NoopRecordCreator) CreateMediaRecord(_ context.Context, record *MediaRecord) error {
	slog.Debug("media record skipped", "key", record.Key)
	return nil
}

type Config struct {
	SessionTTL time.Duration   `mapstructure:"session_ttl"`
	Assembler  AssemblerConfig `mapstructure:"assembler"`
}

// Service is the server-side upload engine: session lifecycle, chunk
// intake, finalize/assembly and garbage collection.
type Service struct {
	sessions  *SessionStore
	chunks    *ChunkStore
	assembler *Assembler
	records   RecordCreator
	ttl       time.Duration
}

func NewService(db *sqlx.DB, backend blob.Backend, records RecordCreator, cfg *Config) (*Service, error) {
	sessions, err := NewSessionStore(db)
	if err != nil {
		return nil, err
	}

	chunks := NewChunkStore(backend)

	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if records == nil {
		records = NoopRecordCreator{}
	}

	return &Service{
		sessions:  sessions,
		chunks:    chunks,
		assembler: NewAssembler(sessions, chunks, cfg.Assembler),
		records:   records,
		ttl:       ttl,
	}, nil
}

func (s *Service) Sessions() *SessionStore { return s.sessions }
func (s *Service) Chunks() *ChunkStore     { return s.chunks }
func (s *Service) TTL() time.Duration      { return s.ttl }

// CreateSession starts a new upload. A zero chunk size selects the
// default; anything above the cap is clamped.
func (s *Service) CreateSession(ctx context.Context, params *CreateSessionParams) (*Session, error) {
	if params.FileSizeBytes <= 0 {
		return nil, ErrInvalidFileSize
	}
	if params.Filename == "" {
		return nil, ErrInvalidFilename
	}
	if params.ChunkSizeBytes <= 0 {
		params.ChunkSizeBytes = DefaultChunkSize
	}
	if params.ChunkSizeBytes > MaxChunkSize {
		params.ChunkSizeBytes = MaxChunkSize
	}
	if params.MimeType == "" {
		params.MimeType = utils.DetectContentType(params.Filename)
	}

	session, err := s.sessions.Create(ctx, params)
	if err != nil {
		return nil, err
	}

	slog.Info("session created",
		"session", session.ID,
		"owner", session.OwnerID,
		"filename", session.Filename,
		"size", session.FileSizeBytes,
		"chunks", session.TotalChunks,
	)
	return session, nil
}

// GetSession returns the session with its received set, mapping
// TTL-lapsed sessions to expired on read so clients never resume a
// dead session the sweep job hasn't visited yet.
func (s *Service) GetSession(ctx context.Context, id string) (*Session, error) {
	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status != StatusCompleted && time.Now().After(session.ExpiresAt(s.ttl)) {
		session.Status = StatusExpired
	}
	return session, nil
}

func (s *Service) ListSessions(ctx context.Context, ownerID string) ([]*Session, error) {
	return s.sessions.ListByOwner(ctx, ownerID)
}

// UploadChunk stores one chunk and records it in the received set.
// Re-uploading the same index overwrites the stored bytes and leaves
// the set unchanged. Returns the updated received count.
func (s *Service) UploadChunk(ctx context.Context, sessionID string, index int, size int64, body io.Reader) (int, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if session.Status == StatusExpired {
		return 0, ErrSessionExpired
	}
	if !session.AcceptsChunks() {
		return 0, fmt.Errorf("%w: session is %s", ErrInvalidTransition, session.Status)
	}
	if index < 0 || index >= session.TotalChunks {
		return 0, fmt.Errorf("%w: %d not in [0,%d)", ErrChunkOutOfRange, index, session.TotalChunks)
	}

	_, wantSize := ChunkRange(session.FileSizeBytes, session.ChunkSizeBytes, index)
	if size != wantSize {
		return 0, fmt.Errorf("%w: chunk %d expects %d bytes, got %d", ErrChunkOutOfRange, index, wantSize, size)
	}

	storageKey, err := s.chunks.Put(ctx, sessionID, index, size, body)
	if err != nil {
		return 0, err
	}

	if err := s.sessions.RecordChunkReceived(ctx, &Chunk{
		SessionID:  sessionID,
		ChunkIndex: index,
		StorageKey: storageKey,
		SizeBytes:  size,
	}); err != nil {
		return 0, err
	}

	return s.sessions.ReceivedCount(ctx, sessionID)
}

func (s *Service) Pause(ctx context.Context, id string) error {
	return s.sessions.Pause(ctx, id)
}

func (s *Service) Resume(ctx context.Context, id string) error {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if session.Status == StatusExpired {
		return ErrSessionExpired
	}
	return s.sessions.Resume(ctx, id)
}

// Cancel abandons a session. Queued-but-unsent client chunks are the
// client's problem; server side the session stops accepting chunks
// and its stored chunks become GC-eligible.
func (s *Service) Cancel(ctx context.Context, id string) error {
	if err := s.sessions.Cancel(ctx, id); err != nil {
		return err
	}

	// best-effort: the GC sweep catches anything missed here
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := s.chunks.DeleteAll(ctx, id); err != nil {
			slog.Warn("cancel chunk cleanup", "session", id, "error", err)
		}
	}()
	return nil
}

// Finalize begins assembly if every chunk is in. The assembly itself
// runs asynchronously, a multi-gigabyte file can take minutes; callers
// poll FinalizeStatus. A finalize on a session already finalizing is
// not an error, the caller simply observes the in-progress run.
func (s *Service) Finalize(ctx context.Context, id string) (*Session, error) {
	err := s.sessions.BeginFinalize(ctx, id)
	switch {
	case err == nil:
		// detach from the request context: assembly outlives the
		// finalize request
		bgCtx := context.WithoutCancel(ctx)
		go s.runAssembly(bgCtx, id)
	case errors.Is(err, ErrInvalidTransition):
		session, gerr := s.GetSession(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		if session.Status == StatusFinalizing || session.Status == StatusCompleted {
			return session, nil
		}
		return nil, err
	default:
		return nil, err
	}

	return s.GetSession(ctx, id)
}

func (s *Service) runAssembly(ctx context.Context, id string) {
	result, err := s.assembler.Run(ctx, id)
	if err != nil {
		return // Run already moved the session to failed
	}

	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		slog.Error("load session after assembly", "session", id, "error", err)
		return
	}

	// fire-and-forget downstream record
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.records.CreateMediaRecord(ctx, &MediaRecord{
			URL:           result.FinalObjectURL,
			Key:           result.FinalObjectKey,
			Filename:      session.Filename,
			MimeType:      session.MimeType,
			FileSizeBytes: session.FileSizeBytes,
			OwnerID:       session.OwnerID,
		}); err != nil {
			slog.Warn("media record create failed", "session", id, "error", err)
		}
	}()

	// chunk objects are now redundant with the final object. The
	// chunk rows stay: a completed session keeps its full received
	// set, and sizes stay queryable without the bytes.
	if err := s.chunks.DeleteAll(ctx, id); err != nil {
		slog.Warn("post-assembly chunk gc", "session", id, "error", err)
	}
}

// FinalizeStatus is the polling surface for async assembly.
type FinalizeStatus struct {
	Status      SessionStatus `json:"status"`
	Phase       AssemblyPhase `json:"phase"`
	Progress    int           `json:"progress"`
	TotalChunks int           `json:"totalChunks"`
	Reason      string        `json:"reason,omitempty"`
	FinalURL    string        `json:"finalUrl,omitempty"`
}

func (s *Service) GetFinalizeStatus(ctx context.Context, id string) (*FinalizeStatus, error) {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return &FinalizeStatus{
		Status:      session.Status,
		Phase:       session.AssemblyPhase,
		Progress:    session.AssemblyProgress,
		TotalChunks: session.TotalChunks,
		Reason:      session.FailureReason,
		FinalURL:    session.FinalObjectURL,
	}, nil
}

// ExpireStaleSessions runs one expiry sweep. Called periodically by
// the server jobs loop.
func (s *Service) ExpireStaleSessions(ctx context.Context) (int64, error) {
	return s.sessions.ExpireStale(ctx, s.ttl)
}

// CollectOrphanChunks deletes chunk objects left behind by expired and
// cancelled sessions. Best effort.
func (s *Service) CollectOrphanChunks(ctx context.Context) error {
	sessions, err := s.sessions.ExpiredSessions(ctx)
	if err != nil {
		return err
	}

	for _, session := range sessions {
		if err := s.chunks.DeleteAll(ctx, session.ID); err != nil {
			slog.Warn("orphan chunk gc", "session", session.ID, "error", err)
			continue
		}
		if err := s.sessions.DeleteChunkRecords(ctx, session.ID); err != nil {
			slog.Warn("orphan chunk records", "session", session.ID, "error", err)
		}
	}
	return nil
}
