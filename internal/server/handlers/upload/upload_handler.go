package upload

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/uplinkhq/uplink/internal/server/handlers/api"
	"github.com/uplinkhq/uplink/internal/server/upload"
)

type UploadHandler struct {
	svc *upload.Service
}

func New(svc *upload.Service) *UploadHandler {
	return &UploadHandler{svc: svc}
}

// abortServiceError maps domain errors onto the API error envelope.
func abortServiceError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, upload.ErrSessionNotFound):
		api.AbortWithError(ctx, http.StatusNotFound, api.CodeSessionNotFound, err)
	case errors.Is(err, upload.ErrSessionExpired):
		api.AbortWithError(ctx, http.StatusGone, api.CodeSessionExpired, err)
	case errors.Is(err, upload.ErrInvalidTransition):
		api.AbortWithError(ctx, http.StatusConflict, api.CodeInvalidTransition, err)
	case errors.Is(err, upload.ErrIncompleteUpload):
		api.AbortWithError(ctx, http.StatusConflict, api.CodeIncompleteUpload, err)
	case errors.Is(err, upload.ErrChunkOutOfRange):
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeChunkOutOfRange, err)
	case errors.Is(err, upload.ErrInvalidFileSize), errors.Is(err, upload.ErrInvalidFilename):
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
	default:
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
	}
}

func (h *UploadHandler) CreateSession(ctx *gin.Context) {
	var req CreateSessionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}

	session, err := h.svc.CreateSession(ctx.Request.Context(), &upload.CreateSessionParams{
		OwnerID:        req.OwnerID,
		Filename:       req.Filename,
		MimeType:       req.MimeType,
		FileSizeBytes:  req.FileSizeBytes,
		ChunkSizeBytes: req.ChunkSizeBytes,
	})
	if err != nil {
		abortServiceError(ctx, err)
		return
	}

	ctx.PureJSON(http.StatusCreated, toSessionResponse(session))
}

func (h *UploadHandler) GetSession(ctx *gin.Context) {
	session, err := h.svc.GetSession(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		abortServiceError(ctx, err)
		return
	}
	ctx.PureJSON(http.StatusOK, toSessionResponse(session))
}

func (h *UploadHandler) ListSessions(ctx *gin.Context) {
	ownerID := ctx.Query("ownerId")
	if ownerID == "" {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest,
			errors.New("ownerId query parameter required"))
		return
	}

	sessions, err := h.svc.ListSessions(ctx.Request.Context(), ownerID)
	if err != nil {
		abortServiceError(ctx, err)
		return
	}

	resp := &ListSessionsResponse{Sessions: make([]*SessionResponse, 0, len(sessions))}
	for _, s := range sessions {
		resp.Sessions = append(resp.Sessions, toSessionResponse(s))
	}
	ctx.PureJSON(http.StatusOK, resp)
}

// UploadChunk receives one raw chunk body. The chunk index rides on the
// path, the size on Content-Length.
func (h *UploadHandler) UploadChunk(ctx *gin.Context) {
	sessionID := ctx.Param("id")
	index, err := strconv.Atoi(ctx.Param("index"))
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest,
			fmt.Errorf("invalid chunk index: %w", err))
		return
	}

	size := ctx.Request.ContentLength
	if size <= 0 {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest,
			errors.New("chunk body required"))
		return
	}

	count, err := h.svc.UploadChunk(ctx.Request.Context(), sessionID, index, size, ctx.Request.Body)
	if err != nil {
		abortServiceError(ctx, err)
		return
	}

	session, err := h.svc.GetSession(ctx.Request.Context(), sessionID)
	if err != nil {
		abortServiceError(ctx, err)
		return
	}

	ctx.PureJSON(http.StatusOK, &UploadChunkResponse{
		SessionID:     sessionID,
		ChunkIndex:    index,
		ReceivedCount: count,
		TotalChunks:   session.TotalChunks,
	})
}

func (h *UploadHandler) PauseSession(ctx *gin.Context) {
	if err := h.svc.Pause(ctx.Request.Context(), ctx.Param("id")); err != nil {
		abortServiceError(ctx, err)
		return
	}
	h.GetSession(ctx)
}

func (h *UploadHandler) ResumeSession(ctx *gin.Context) {
	if err := h.svc.Resume(ctx.Request.Context(), ctx.Param("id")); err != nil {
		abortServiceError(ctx, err)
		return
	}
	h.GetSession(ctx)
}

func (h *UploadHandler) CancelSession(ctx *gin.Context) {
	if err := h.svc.Cancel(ctx.Request.Context(), ctx.Param("id")); err != nil {
		abortServiceError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

// FinalizeSession kicks off assembly; the response reflects the session
// right after the transition, clients poll GetFinalizeStatus for the
// outcome.
func (h *UploadHandler) FinalizeSession(ctx *gin.Context) {
	session, err := h.svc.Finalize(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		abortServiceError(ctx, err)
		return
	}
	ctx.PureJSON(http.StatusAccepted, toSessionResponse(session))
}

func (h *UploadHandler) GetFinalizeStatus(ctx *gin.Context) {
	status, err := h.svc.GetFinalizeStatus(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		abortServiceError(ctx, err)
		return
	}

	resp := &FinalizeStatusResponse{
		Status:      string(status.Status),
		Phase:       string(status.Phase),
		Progress:    status.Progress,
		TotalChunks: status.TotalChunks,
		Reason:      status.Reason,
		FinalURL:    status.FinalURL,
	}
	if status.Status == upload.StatusFailed {
		resp.Code = api.CodeAssemblyFailed
	}

	ctx.PureJSON(http.StatusOK, resp)
}
