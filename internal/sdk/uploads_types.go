package sdk

type CreateSessionParams struct {
	OwnerID        string `json:"ownerId"`
	Filename       string `json:"filename"`
	MimeType       string `json:"mimeType,omitempty"`
	FileSizeBytes  int64  `json:"fileSizeBytes"`
	ChunkSizeBytes int64  `json:"chunkSizeBytes,omitempty"`
}

type Session struct {
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

// Session status values as the server reports them.
const (
	StatusActive     = "active"
	StatusPaused     = "paused"
	StatusFinalizing = "finalizing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusExpired    = "expired"
	StatusCancelled  = "cancelled"
)

type UploadChunkResponse struct {
	SessionID     string `json:"sessionId"`
	ChunkIndex    int    `json:"chunkIndex"`
	ReceivedCount int    `json:"receivedCount"`
	TotalChunks   int    `json:"totalChunks"`
}

type FinalizeStatus struct {
	Status      string `json:"status"`
	Phase       string `json:"phase"`
	Progress    int    `json:"progress"`
	TotalChunks int    `json:"totalChunks"`
	Reason      string `json:"reason,omitempty"`
	FinalURL    string `json:"finalUrl,omitempty"`
	Code        string `json:"code,omitempty"`
}

type ListSessionsResponse struct {
	Sessions []*Session `json:"sessions"`
}
