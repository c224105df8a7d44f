package upload

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doRange(r *gin.Engine, sessionID, rangeHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/uploads/"+sessionID+"/stream", nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStreamHead(t *testing.T) {
	r, _ := newTestRouter(t)
	session := createSessionHTTP(t, r, 105, 10)

	req := httptest.NewRequest(http.MethodHead, "/uploads/"+session.ID+"/stream", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bytes", w.Header().Get("Accept-Ranges"))
	assert.Equal(t, "105", w.Header().Get("Content-Length"))
	assert.Equal(t, "video/mp4", w.Header().Get("Content-Type"))
}

func TestStreamRangeFromChunks(t *testing.T) {
	r, _ := newTestRouter(t)
	session := createSessionHTTP(t, r, 105, 10)

	data := make([]byte, 105)
	_, err := rand.Read(data)
	require.NoError(t, err)
	for idx := 0; idx < session.TotalChunks; idx++ {
		start := int64(idx) * 10
		end := start + 10
		if end > 105 {
			end = 105
		}
		require.Equal(t, http.StatusOK, putChunk(t, r, session.ID, idx, data[start:end]).Code)
	}

	// a range crossing a chunk boundary
	w := doRange(r, session.ID, "bytes=5-24")
	require.Equal(t, http.StatusPartialContent, w.Code, w.Body.String())
	assert.Equal(t, "bytes 5-24/105", w.Header().Get("Content-Range"))
	assert.Equal(t, data[5:25], w.Body.Bytes())

	// range into the short final chunk, end clamped to the file
	w = doRange(r, session.ID, "bytes=100-200")
	require.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "bytes 100-104/105", w.Header().Get("Content-Range"))
	assert.Equal(t, data[100:], w.Body.Bytes())

	// suffix range
	w = doRange(r, session.ID, "bytes=-5")
	require.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, data[100:], w.Body.Bytes())

	// open-ended range serves from start, capped by file size here
	w = doRange(r, session.ID, "bytes=50-")
	require.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, data[50:], w.Body.Bytes())

	// no Range header behaves like bytes=0-
	w = doRange(r, session.ID, "")
	require.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, data, w.Body.Bytes())
}

func TestStreamMissingChunk(t *testing.T) {
	r, _ := newTestRouter(t)
	session := createSessionHTTP(t, r, 30, 10)

	// only chunk 0 is present
	require.Equal(t, http.StatusOK, putChunk(t, r, session.ID, 0, make([]byte, 10)).Code)

	w := doRange(r, session.ID, "bytes=15-25")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "E_CHUNK_NOT_AVAILABLE", errorCode(t, w))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// the available chunk still serves
	w = doRange(r, session.ID, "bytes=0-9")
	assert.Equal(t, http.StatusPartialContent, w.Code)
}

func TestStreamExpiredSession(t *testing.T) {
	r, svc := newTestRouter(t)
	session := createSessionHTTP(t, r, 30, 10)

	// chunk 0 arrives, then the session lapses past its TTL; its
	// chunks may be gc'd at any point, so the stream reports the
	// session gone instead of a retryable chunk miss
	require.Equal(t, http.StatusOK, putChunk(t, r, session.ID, 0, make([]byte, 10)).Code)

	n, err := svc.Sessions().ExpireStale(context.Background(), -time.Second)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	w := doRange(r, session.ID, "bytes=0-9")
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Equal(t, "E_SESSION_EXPIRED", errorCode(t, w))

	req := httptest.NewRequest(http.MethodHead, "/uploads/"+session.ID+"/stream", nil)
	head := httptest.NewRecorder()
	r.ServeHTTP(head, req)
	assert.Equal(t, http.StatusGone, head.Code)
}

func TestStreamRangeNotSatisfiable(t *testing.T) {
	r, _ := newTestRouter(t)
	session := createSessionHTTP(t, r, 30, 10)

	w := doRange(r, session.ID, "bytes=100-200")
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, w.Code)
	assert.Equal(t, "E_RANGE_NOT_SATISFIABLE", errorCode(t, w))
	assert.Equal(t, "bytes */30", w.Header().Get("Content-Range"))

	w = doRange(r, session.ID, "items=0-5")
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, w.Code)
}

func TestStreamRedirectsOnceCompleted(t *testing.T) {
	r, _ := newTestRouter(t)
	session := createSessionHTTP(t, r, 20, 10)

	data := bytes.Repeat([]byte("xy"), 10)
	require.Equal(t, http.StatusOK, putChunk(t, r, session.ID, 0, data[:10]).Code)
	require.Equal(t, http.StatusOK, putChunk(t, r, session.ID, 1, data[10:]).Code)

	w := doJSON(t, r, http.MethodPost, "/api/v1/uploads/"+session.ID+"/finalize", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w = doRange(r, session.ID, "bytes=0-9")
		if w.Code == http.StatusFound {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, http.StatusFound, w.Code)
	location := w.Header().Get("Location")
	assert.True(t, strings.Contains(location, fmt.Sprintf("media/%s/", session.ID)), location)
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		header    string
		fileSize  int64
		wantStart int64
		wantEnd   int64
		wantErr   bool
	}{
		{"bytes=0-99", 1000, 0, 99, false},
		{"bytes=500-", 1000, 500, 999, false},
		{"bytes=-100", 1000, 900, 999, false},
		{"", 1000, 0, 999, false},
		{"bytes=0-", 10 * 1024 * 1024, 0, openRangeWindow - 1, false},
		{"bytes=0-5000000", 1000, 0, 999, false},
		{"bytes=1000-", 1000, 0, 0, true},
		{"bytes=5-2", 1000, 0, 0, true},
		{"items=0-5", 1000, 0, 0, true},
		{"bytes=0-5,10-15", 1000, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			start, end, err := parseRange(tt.header, tt.fileSize)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}
