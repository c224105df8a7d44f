package upload

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const sessionSchemaSQL = `
CREATE TABLE IF NOT EXISTS upload_sessions (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	file_size INTEGER NOT NULL,
	chunk_size INTEGER NOT NULL,
	total_chunks INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	assembly_phase TEXT NOT NULL DEFAULT 'not_started',
	assembly_progress INTEGER NOT NULL DEFAULT 0,
	failure_reason TEXT NOT NULL DEFAULT '',
	final_object_key TEXT NOT NULL DEFAULT '',
	final_object_url TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	last_activity_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_upload_sessions_owner ON upload_sessions(owner_id);
CREATE INDEX IF NOT EXISTS idx_upload_sessions_status ON upload_sessions(status, last_activity_at);

CREATE TABLE IF NOT EXISTS upload_chunks (
	session_id TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	storage_key TEXT NOT NULL,
	size INTEGER NOT NULL,
	uploaded_at TEXT NOT NULL,
	PRIMARY KEY (session_id, chunk_index)
);
`

// timeLayout is RFC 3339 with a fixed nine-digit fraction so that
// stored timestamps sort lexicographically in time order. RFC3339Nano
// trims trailing fractional zeros, which breaks the string comparison
// ExpireStale relies on ("...05.5Z" would sort after "...05.49Z").
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	// RFC3339Nano accepts any fraction width, fixed included
	ts, _ := time.Parse(time.RFC3339Nano, s)
	return ts
}

// SessionStore persists upload sessions and their received-chunk sets
// in SQLite. Chunk rows double as the receivedChunks set: re-uploading
// an index is INSERT OR REPLACE on the same primary key, which gives
// set-union semantics under concurrent chunk writes.
type SessionStore struct {
	db *sqlx.DB
}

func NewSessionStore(db *sqlx.DB) (*SessionStore, error) {
	if _, err := db.Exec(sessionSchemaSQL); err != nil {
		return nil, fmt.Errorf("initialize upload schema: %w", err)
	}
	return &SessionStore{db: db}, nil
}

func (st *SessionStore) Close() error {
	return st.db.Close()
}

type CreateSessionParams struct {
	OwnerID        string
	Filename       string
	MimeType       string
	FileSizeBytes  int64
	ChunkSizeBytes int64
}

// Create inserts a new active session with a fresh opaque id.
func (st *SessionStore) Create(ctx context.Context, params *CreateSessionParams) (*Session, error) {
	now := time.Now().UTC()
	session := &Session{
		ID:             uuid.NewString(),
		OwnerID:        params.OwnerID,
		Filename:       params.Filename,
		MimeType:       params.MimeType,
		FileSizeBytes:  params.FileSizeBytes,
		ChunkSizeBytes: params.ChunkSizeBytes,
		TotalChunks:    TotalChunks(params.FileSizeBytes, params.ChunkSizeBytes),
		Status:         StatusActive,
		AssemblyPhase:  PhaseNotStarted,
		CreatedAt:      now,
		LastActivityAt: now,
		ReceivedChunks: []int{},
	}

	_, err := st.db.ExecContext(ctx, `
		INSERT INTO upload_sessions
			(id, owner_id, filename, mime_type, file_size, chunk_size, total_chunks,
			 status, assembly_phase, created_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.OwnerID, session.Filename, session.MimeType,
		session.FileSizeBytes, session.ChunkSizeBytes, session.TotalChunks,
		session.Status, session.AssemblyPhase,
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	return session, nil
}

type sessionRow struct {
	ID               string        `db:"id"`
	OwnerID          string        `db:"owner_id"`
	Filename         string        `db:"filename"`
	MimeType         string        `db:"mime_type"`
	FileSizeBytes    int64         `db:"file_size"`
	ChunkSizeBytes   int64         `db:"chunk_size"`
	TotalChunks      int           `db:"total_chunks"`
	Status           SessionStatus `db:"status"`
	AssemblyPhase    AssemblyPhase `db:"assembly_phase"`
	AssemblyProgress int           `db:"assembly_progress"`
	FailureReason    string        `db:"failure_reason"`
	FinalObjectKey   string        `db:"final_object_key"`
	FinalObjectURL   string        `db:"final_object_url"`
	CreatedAt        string        `db:"created_at"`
	LastActivityAt   string        `db:"last_activity_at"`
}

func (r *sessionRow) toSession() *Session {
	return &Session{
		ID:               r.ID,
		OwnerID:          r.OwnerID,
		Filename:         r.Filename,
		MimeType:         r.MimeType,
		FileSizeBytes:    r.FileSizeBytes,
		ChunkSizeBytes:   r.ChunkSizeBytes,
		TotalChunks:      r.TotalChunks,
		Status:           r.Status,
		AssemblyPhase:    r.AssemblyPhase,
		AssemblyProgress: r.AssemblyProgress,
		FailureReason:    r.FailureReason,
		FinalObjectKey:   r.FinalObjectKey,
		FinalObjectURL:   r.FinalObjectURL,
		CreatedAt:        parseTime(r.CreatedAt),
		LastActivityAt:   parseTime(r.LastActivityAt),
	}
}

// Get loads a session with its received chunk indices.
func (st *SessionStore) Get(ctx context.Context, id string) (*Session, error) {
	var row sessionRow
	err := st.db.GetContext(ctx, &row, `SELECT * FROM upload_sessions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	session := row.toSession()

	indices := []int{}
	err = st.db.SelectContext(ctx, &indices,
		`SELECT chunk_index FROM upload_chunks WHERE session_id = ? ORDER BY chunk_index`, id)
	if err != nil {
		return nil, fmt.Errorf("get received chunks: %w", err)
	}
	session.ReceivedChunks = indices

	return session, nil
}

// ListByOwner returns all sessions for an owner, newest first. The
// received sets are not populated; callers needing them use Get.
func (st *SessionStore) ListByOwner(ctx context.Context, ownerID string) ([]*Session, error) {
	var rows []sessionRow
	err := st.db.SelectContext(ctx, &rows,
		`SELECT * FROM upload_sessions WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sessions := make([]*Session, 0, len(rows))
	for i := range rows {
		sessions = append(sessions, rows[i].toSession())
	}
	return sessions, nil
}

// RecordChunkReceived upserts a chunk record and bumps the session's
// last activity. Safe under concurrent calls for different indices of
// the same session.
func (st *SessionStore) RecordChunkReceived(ctx context.Context, chunk *Chunk) error {
	now := formatTime(time.Now())

	_, err := st.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO upload_chunks (session_id, chunk_index, storage_key, size, uploaded_at)
		VALUES (?, ?, ?, ?, ?)`,
		chunk.SessionID, chunk.ChunkIndex, chunk.StorageKey, chunk.SizeBytes, now,
	)
	if err != nil {
		return fmt.Errorf("record chunk: %w", err)
	}

	_, err = st.db.ExecContext(ctx,
		`UPDATE upload_sessions SET last_activity_at = ? WHERE id = ?`, now, chunk.SessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// ReceivedCount returns the size of the received set.
func (st *SessionStore) ReceivedCount(ctx context.Context, id string) (int, error) {
	var count int
	err := st.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM upload_chunks WHERE session_id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}

// Chunks returns the stored chunk records in index order.
func (st *SessionStore) Chunks(ctx context.Context, id string) ([]*Chunk, error) {
	type chunkRow struct {
		SessionID  string `db:"session_id"`
		ChunkIndex int    `db:"chunk_index"`
		StorageKey string `db:"storage_key"`
		SizeBytes  int64  `db:"size"`
		UploadedAt string `db:"uploaded_at"`
	}

	var rows []chunkRow
	err := st.db.SelectContext(ctx, &rows,
		`SELECT * FROM upload_chunks WHERE session_id = ? ORDER BY chunk_index`, id)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}

	chunks := make([]*Chunk, 0, len(rows))
	for _, r := range rows {
		chunks = append(chunks, &Chunk{
			SessionID:  r.SessionID,
			ChunkIndex: r.ChunkIndex,
			StorageKey: r.StorageKey,
			SizeBytes:  r.SizeBytes,
			UploadedAt: parseTime(r.UploadedAt),
		})
	}
	return chunks, nil
}

// DeleteChunkRecords drops the chunk rows for a session (after GC).
func (st *SessionStore) DeleteChunkRecords(ctx context.Context, id string) error {
	_, err := st.db.ExecContext(ctx, `DELETE FROM upload_chunks WHERE session_id = ?`, id)
	return err
}

// transition moves a session from one of the allowed statuses to the
// target, returning ErrInvalidTransition when the current status is
// not in the allowed set. Extra column updates ride along.
func (st *SessionStore) transition(ctx context.Context, id string, from []SessionStatus, to SessionStatus, extraSet string, extraArgs ...any) error {
	query := `UPDATE upload_sessions SET status = ?, last_activity_at = ?` + extraSet + ` WHERE id = ? AND status IN (?`
	args := []any{to, formatTime(time.Now())}
	args = append(args, extraArgs...)
	args = append(args, id)
	for i, s := range from {
		if i > 0 {
			query += ", ?"
		}
		args = append(args, s)
	}
	query += ")"

	res, err := st.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition session: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition session: %w", err)
	}
	if affected == 0 {
		// distinguish a missing session from a bad transition
		if _, err := st.Get(ctx, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

// Pause is legal only from active.
func (st *SessionStore) Pause(ctx context.Context, id string) error {
	return st.transition(ctx, id, []SessionStatus{StatusActive}, StatusPaused, "")
}

// Resume is legal only from paused.
func (st *SessionStore) Resume(ctx context.Context, id string) error {
	return st.transition(ctx, id, []SessionStatus{StatusPaused}, StatusActive, "")
}

// Cancel is legal from active or paused. Cancelled sessions never
// accept further chunks and cannot be resumed.
func (st *SessionStore) Cancel(ctx context.Context, id string) error {
	return st.transition(ctx, id, []SessionStatus{StatusActive, StatusPaused}, StatusCancelled, "")
}

// BeginFinalize checks the received set is complete, then moves the
// session to finalizing with the assembly phase set to streaming. A
// failed session may begin a fresh finalize, its chunks are untouched.
func (st *SessionStore) BeginFinalize(ctx context.Context, id string) error {
	session, err := st.Get(ctx, id)
	if err != nil {
		return err
	}
	if !session.Complete() {
		return fmt.Errorf("%w: %d of %d chunks", ErrIncompleteUpload, len(session.ReceivedChunks), session.TotalChunks)
	}

	return st.transition(ctx, id,
		[]SessionStatus{StatusActive, StatusPaused, StatusFailed},
		StatusFinalizing,
		`, assembly_phase = ?, assembly_progress = 0, failure_reason = ''`,
		PhaseStreaming,
	)
}

// UpdateAssemblyProgress records how many chunks have been assembled.
func (st *SessionStore) UpdateAssemblyProgress(ctx context.Context, id string, chunksAssembled int) error {
	_, err := st.db.ExecContext(ctx,
		`UPDATE upload_sessions SET assembly_progress = ? WHERE id = ?`, chunksAssembled, id)
	return err
}

// SetAssemblyPhase moves the finalize sub-state, e.g. streaming ->
// writing_final.
func (st *SessionStore) SetAssemblyPhase(ctx context.Context, id string, phase AssemblyPhase) error {
	_, err := st.db.ExecContext(ctx,
		`UPDATE upload_sessions SET assembly_phase = ? WHERE id = ?`, phase, id)
	return err
}

// CompleteFinalize records the final object and marks the session
// completed.
func (st *SessionStore) CompleteFinalize(ctx context.Context, id, finalKey, finalURL string) error {
	return st.transition(ctx, id,
		[]SessionStatus{StatusFinalizing},
		StatusCompleted,
		`, assembly_phase = ?, final_object_key = ?, final_object_url = ?`,
		PhaseComplete, finalKey, finalURL,
	)
}

// FailFinalize marks a finalize attempt failed with a diagnostic
// reason. The session stays around so finalize can be retried.
func (st *SessionStore) FailFinalize(ctx context.Context, id, reason string) error {
	return st.transition(ctx, id,
		[]SessionStatus{StatusFinalizing},
		StatusFailed,
		`, assembly_phase = ?, failure_reason = ?`,
		PhaseFailed, reason,
	)
}

// ExpireStale marks every non-completed session whose last activity is
// older than the TTL as expired. Returns the number of sessions
// expired.
func (st *SessionStore) ExpireStale(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-ttl))
	res, err := st.db.ExecContext(ctx, `
		UPDATE upload_sessions SET status = ?
		WHERE last_activity_at < ? AND status NOT IN (?, ?)`,
		StatusExpired, cutoff, StatusCompleted, StatusExpired,
	)
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}
	return res.RowsAffected()
}

// ExpiredSessions lists sessions currently marked expired or
// cancelled, for orphan chunk GC.
func (st *SessionStore) ExpiredSessions(ctx context.Context) ([]*Session, error) {
	var rows []sessionRow
	err := st.db.SelectContext(ctx, &rows,
		`SELECT * FROM upload_sessions WHERE status IN (?, ?)`, StatusExpired, StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}

	sessions := make([]*Session, 0, len(rows))
	for i := range rows {
		sessions = append(sessions, rows[i].toSession())
	}
	return sessions, nil
}
