package upload

import (
	"time"

	"github.com/uplinkhq/uplink/internal/server/upload"
)

type CreateSessionRequest struct {
	OwnerID        string `json:"ownerId" binding:"required"`
	Filename       string `json:"filename" binding:"required"`
	MimeType       string `json:"mimeType"`
	FileSizeBytes  int64  `json:"fileSizeBytes" binding:"required,min=1"`
	ChunkSizeBytes int64  `json:"chunkSizeBytes"`
}

type SessionResponse struct {
	ID             string `json:"id"`
	OwnerID        string `json:"ownerId"`
	Filename       string `json:"filename"`
	MimeType       string `json:"mimeType"`
	FileSizeBytes  int64  `json:"fileSizeBytes"`
	ChunkSizeBytes int64  `json:"chunkSizeBytes"`
	TotalChunks    int    `json:"totalChunks"`
	Status         string `json:"status"`
	ReceivedChunks []int  `json:"receivedChunks"`
	FinalObjectKey string `json:"finalObjectKey,omitempty"`
	FinalObjectURL string `json:"finalObjectUrl,omitempty"`
	CreatedAt      string `json:"createdAt"`
	LastActivityAt string `json:"lastActivityAt"`
}

func toSessionResponse(s *upload.Session) *SessionResponse {
	received := s.ReceivedChunks
	if received == nil {
		received = []int{}
	}
	return &SessionResponse{
		ID:             s.ID,
		OwnerID:        s.OwnerID,
		Filename:       s.Filename,
		MimeType:       s.MimeType,
		FileSizeBytes:  s.FileSizeBytes,
		ChunkSizeBytes: s.ChunkSizeBytes,
		TotalChunks:    s.TotalChunks,
		Status:         string(s.Status),
		ReceivedChunks: received,
		FinalObjectKey: s.FinalObjectKey,
		FinalObjectURL: s.FinalObjectURL,
		CreatedAt:      s.CreatedAt.Format(time.RFC3339),
		LastActivityAt: s.LastActivityAt.Format(time.RFC3339),
	}
}

type UploadChunkResponse struct {
	SessionID     string `json:"sessionId"`
	ChunkIndex    int    `json:"chunkIndex"`
	ReceivedCount int    `json:"receivedCount"`
	TotalChunks   int    `json:"totalChunks"`
}

type FinalizeStatusResponse struct {
	Status      string `json:"status"`
	Phase       string `json:"phase"`
	Progress    int    `json:"progress"`
	TotalChunks int    `json:"totalChunks"`
	Reason      string `json:"reason,omitempty"`
	FinalURL    string `json:"finalUrl,omitempty"`

	// Code carries E_ASSEMBLY_FAILED when the last finalize attempt
	// failed; the response itself is still 200, polling is not an error.
	Code string `json:"code,omitempty"`
}

type ListSessionsResponse struct {
	Sessions []*SessionResponse `json:"sessions"`
}
