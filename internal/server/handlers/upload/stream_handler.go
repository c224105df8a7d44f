package upload

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/uplinkhq/uplink/internal/server/handlers/api"
	"github.com/uplinkhq/uplink/internal/server/upload"
)

const (
	// openRangeWindow caps an open-ended range request so a
	// "bytes=0-" from a video element never streams a whole
	// multi-gigabyte file through the chunk path.
	openRangeWindow = int64(2 * 1024 * 1024)

	// chunkCacheSize is how many recently fetched chunks stay in
	// memory. Seeking playback tends to hit the same chunk repeatedly
	// with different sub-ranges.
	chunkCacheSize = 32
)

// StreamHandler serves session bytes over HTTP ranges before assembly
// completes, and redirects to the final object once it exists.
type StreamHandler struct {
	svc   *upload.Service
	cache *lru.Cache[string, []byte]
}

func NewStreamHandler(svc *upload.Service) (*StreamHandler, error) {
	cache, err := lru.New[string, []byte](chunkCacheSize)
	if err != nil {
		return nil, err
	}
	return &StreamHandler{svc: svc, cache: cache}, nil
}

// Head reports the stream's shape without touching chunk data.
func (h *StreamHandler) Head(ctx *gin.Context) {
	session, err := h.svc.GetSession(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		abortServiceError(ctx, err)
		return
	}

	if session.Status == upload.StatusCompleted {
		h.redirectToFinal(ctx, session)
		return
	}
	if session.Status == upload.StatusExpired {
		api.AbortWithError(ctx, http.StatusGone, api.CodeSessionExpired, upload.ErrSessionExpired)
		return
	}

	ctx.Header("Accept-Ranges", "bytes")
	ctx.Header("Content-Length", strconv.FormatInt(session.FileSizeBytes, 10))
	ctx.Header("Content-Type", session.MimeType)
	ctx.Status(http.StatusOK)
}

// Get serves a byte range assembled on the fly from stored chunks.
// Once the session is completed the assembled object is the source of
// truth, so the request redirects to a fresh presigned URL instead.
func (h *StreamHandler) Get(ctx *gin.Context) {
	session, err := h.svc.GetSession(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		abortServiceError(ctx, err)
		return
	}

	if session.Status == upload.StatusCompleted {
		h.redirectToFinal(ctx, session)
		return
	}
	// an expired session's chunks may already be garbage collected;
	// tell the caller the session is gone rather than a chunk miss
	if session.Status == upload.StatusExpired {
		api.AbortWithError(ctx, http.StatusGone, api.CodeSessionExpired, upload.ErrSessionExpired)
		return
	}

	start, end, err := parseRange(ctx.GetHeader("Range"), session.FileSizeBytes)
	if err != nil {
		ctx.Header("Content-Range", fmt.Sprintf("bytes */%d", session.FileSizeBytes))
		api.AbortWithError(ctx, http.StatusRequestedRangeNotSatisfiable, api.CodeRangeNotSatisfiable, err)
		return
	}

	body, err := h.readRange(ctx, session, start, end)
	if err != nil {
		if errors.Is(err, upload.ErrChunkNotFound) {
			// the covering chunk simply has not arrived yet; the
			// player retries the range later
			ctx.Header("Retry-After", "2")
			api.AbortWithError(ctx, http.StatusServiceUnavailable, api.CodeChunkNotAvailable, err)
			return
		}
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}

	ctx.Header("Accept-Ranges", "bytes")
	ctx.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, session.FileSizeBytes))
	ctx.Data(http.StatusPartialContent, session.MimeType, body)
}

func (h *StreamHandler) redirectToFinal(ctx *gin.Context, session *upload.Session) {
	// presigned URLs expire, so re-sign on every redirect rather than
	// replaying the one stored at completion time
	url, err := h.svc.Chunks().Backend().GetObjectPresigned(ctx.Request.Context(), session.FinalObjectKey)
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}
	ctx.Redirect(http.StatusFound, url)
}

// readRange concatenates the sub-slices of every chunk covering
// [start, end].
func (h *StreamHandler) readRange(ctx *gin.Context, session *upload.Session, start, end int64) ([]byte, error) {
	first, last := upload.CoveringChunks(session.ChunkSizeBytes, start, end)

	body := make([]byte, 0, end-start+1)
	for idx := first; idx <= last; idx++ {
		data, err := h.fetchChunk(ctx, session.ID, idx)
		if err != nil {
			return nil, err
		}

		// slice out the part of this chunk that falls in [start, end],
		// relative to the chunk's global offset
		chunkStart := int64(idx) * session.ChunkSizeBytes
		lo := int64(0)
		if start > chunkStart {
			lo = start - chunkStart
		}
		hi := int64(len(data))
		if end < chunkStart+int64(len(data))-1 {
			hi = end - chunkStart + 1
		}
		if lo >= hi {
			return nil, fmt.Errorf("chunk %d shorter than expected", idx)
		}
		body = append(body, data[lo:hi]...)
	}
	return body, nil
}

func (h *StreamHandler) fetchChunk(ctx *gin.Context, sessionID string, index int) ([]byte, error) {
	key := upload.ChunkKey(sessionID, index)
	if data, ok := h.cache.Get(key); ok {
		return data, nil
	}

	data, err := h.svc.Chunks().Get(ctx.Request.Context(), key)
	if err != nil {
		return nil, err
	}
	h.cache.Add(key, data)
	return data, nil
}

// parseRange interprets a single "bytes=start-end" header against the
// file size. A missing header or omitted end serves an open-ended
// range capped at the fixed window.
func parseRange(header string, fileSize int64) (start, end int64, err error) {
	if fileSize <= 0 {
		return 0, 0, errors.New("empty stream")
	}

	spec := "0-"
	if header != "" {
		if !strings.HasPrefix(header, "bytes=") {
			return 0, 0, fmt.Errorf("unsupported range unit: %q", header)
		}
		spec = strings.TrimPrefix(header, "bytes=")
		if strings.Contains(spec, ",") {
			return 0, 0, errors.New("multipart ranges not supported")
		}
	}

	lo, hi, found := strings.Cut(spec, "-")
	if !found {
		return 0, 0, fmt.Errorf("malformed range: %q", header)
	}

	if lo == "" {
		// suffix range: last N bytes
		n, perr := strconv.ParseInt(hi, 10, 64)
		if perr != nil || n <= 0 {
			return 0, 0, fmt.Errorf("malformed range: %q", header)
		}
		if n > fileSize {
			n = fileSize
		}
		return fileSize - n, fileSize - 1, nil
	}

	start, err = strconv.ParseInt(lo, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, fmt.Errorf("malformed range: %q", header)
	}
	if start >= fileSize {
		return 0, 0, fmt.Errorf("range start %d beyond size %d", start, fileSize)
	}

	if hi == "" {
		// open-ended: cap the window
		end = start + openRangeWindow - 1
	} else {
		end, err = strconv.ParseInt(hi, 10, 64)
		if err != nil || end < start {
			return 0, 0, fmt.Errorf("malformed range: %q", header)
		}
	}
	if end >= fileSize {
		end = fileSize - 1
	}
	return start, end, nil
}
