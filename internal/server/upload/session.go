package upload

import (
	"errors"
	"time"
)

// SessionStatus tracks the overall lifecycle of an upload session.
// Transitions only move forward: active -> (paused <-> active) ->
// finalizing -> completed|failed, with any non-completed state able to
// lapse into expired, and active/paused able to be cancelled.
type SessionStatus string

const (
	StatusActive     SessionStatus = "active"
	StatusPaused     SessionStatus = "paused"
	StatusFinalizing SessionStatus = "finalizing"
	StatusCompleted  SessionStatus = "completed"
	StatusFailed     SessionStatus = "failed"
	StatusExpired    SessionStatus = "expired"
	StatusCancelled  SessionStatus = "cancelled"
)

// AssemblyPhase is the fine-grained sub-state of finalize. It exists
// separately from the status because assembling a multi-gigabyte file
// takes minutes and must be independently observable.
type AssemblyPhase string

const (
	PhaseNotStarted   AssemblyPhase = "not_started"
	PhaseStreaming    AssemblyPhase = "streaming"
	PhaseWritingFinal AssemblyPhase = "writing_final"
	PhaseComplete     AssemblyPhase = "complete"
	PhaseFailed       AssemblyPhase = "failed"
)

var (
	ErrSessionNotFound   = errors.New("upload session not found")
	ErrSessionExpired    = errors.New("upload session expired")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrIncompleteUpload  = errors.New("not all chunks received")
	ErrChunkOutOfRange   = errors.New("chunk index out of range")
)

// Session is the durable record of one file upload. It is owned
// exclusively by the server; clients only request transitions.
type Session struct {
	ID               string        `json:"id" db:"id"`
	OwnerID          string        `json:"ownerId" db:"owner_id"`
	Filename         string        `json:"filename" db:"filename"`
	MimeType         string        `json:"mimeType" db:"mime_type"`
	FileSizeBytes    int64         `json:"fileSizeBytes" db:"file_size"`
	ChunkSizeBytes   int64         `json:"chunkSizeBytes" db:"chunk_size"`
	TotalChunks      int           `json:"totalChunks" db:"total_chunks"`
	Status           SessionStatus `json:"status" db:"status"`
	AssemblyPhase    AssemblyPhase `json:"assemblyPhase" db:"assembly_phase"`
	AssemblyProgress int           `json:"assemblyProgress" db:"assembly_progress"`
	FailureReason    string        `json:"failureReason,omitempty" db:"failure_reason"`
	FinalObjectKey   string        `json:"finalObjectKey,omitempty" db:"final_object_key"`
	FinalObjectURL   string        `json:"finalObjectUrl,omitempty" db:"final_object_url"`
	CreatedAt        time.Time     `json:"createdAt" db:"created_at"`
	LastActivityAt   time.Time     `json:"lastActivityAt" db:"last_activity_at"`

	// ReceivedChunks is the sorted set of chunk indices stored so far.
	// Populated on load from the chunk records, not a column.
	ReceivedChunks []int `json:"receivedChunks" db:"-"`
}

// Received reports whether a chunk index is in the received set.
func (s *Session) Received(index int) bool {
	for _, i := range s.ReceivedChunks {
		if i == index {
			return true
		}
	}
	return false
}

// Complete reports whether every chunk has been received.
func (s *Session) Complete() bool {
	return len(s.ReceivedChunks) == s.TotalChunks
}

// AcceptsChunks reports whether the session may still receive chunk
// writes. Paused sessions still accept in-flight chunks; the pause is
// a client-side throttle, not a server-side lock.
func (s *Session) AcceptsChunks() bool {
	return s.Status == StatusActive || s.Status == StatusPaused
}

// ExpiresAt is derived, sessions expire TTL after their last activity.
func (s *Session) ExpiresAt(ttl time.Duration) time.Time {
	return s.LastActivityAt.Add(ttl)
}

// Chunk is one stored (session, index) pair.
type Chunk struct {
	SessionID  string    `json:"sessionId" db:"session_id"`
	ChunkIndex int       `json:"chunkIndex" db:"chunk_index"`
	StorageKey string    `json:"storageKey" db:"storage_key"`
	SizeBytes  int64     `json:"sizeBytes" db:"size"`
	UploadedAt time.Time `json:"uploadedAt" db:"uploaded_at"`
}
