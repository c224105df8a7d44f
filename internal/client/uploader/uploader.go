package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"

	"github.com/uplinkhq/uplink/internal/queue"
	"github.com/uplinkhq/uplink/internal/sdk"
)

const (
	DefaultConcurrency = 3
	MaxConcurrency     = 5

	// DefaultPersistEvery is how many chunk acks pass between local
	// record writes. On crash at most this many chunks are re-sent,
	// which is safe since chunk uploads are idempotent.
	DefaultPersistEvery = 5

	DefaultAutoResumeAfter = 30 * time.Second
	DefaultPollInterval    = 2 * time.Second
	DefaultRecordTTL       = 24 * time.Hour
)

var (
	ErrCancelled    = errors.New("upload cancelled")
	ErrUploadFailed = errors.New("upload failed")
)

type Config struct {
	// Concurrency is K, the bounded number of chunk sends in flight.
	Concurrency int

	// PersistEvery is the record-save interval in chunks.
	PersistEvery int

	// MaxAttempts is the per-chunk retry budget.
	MaxAttempts int

	// AutoResumeAfter is the cooldown before an auto-paused session
	// retries on its own.
	AutoResumeAfter time.Duration

	// PollInterval paces finalize status polling.
	PollInterval time.Duration

	// RecordDir holds resume records; empty uses a temp dir.
	RecordDir string

	// ChunkSizeBytes is requested at session creation; zero lets the
	// server pick.
	ChunkSizeBytes int64
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Concurrency > MaxConcurrency {
		c.Concurrency = MaxConcurrency
	}
	if c.PersistEvery <= 0 {
		c.PersistEvery = DefaultPersistEvery
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.AutoResumeAfter <= 0 {
		c.AutoResumeAfter = DefaultAutoResumeAfter
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Result is what a completed upload hands back to the caller.
type Result struct {
	SessionID      string
	FinalObjectKey string
	FinalObjectURL string
	TotalChunks    int
	Resumed        bool
}

// ProgressFunc receives (chunksUploaded, totalChunks) after every ack.
type ProgressFunc func(uploaded, total int)

type UploadRequest struct {
	FilePath string
	OwnerID  string
	MimeType string
	Progress ProgressFunc
}

// Uploader drives resilient chunked uploads: bounded-concurrency chunk
// sends with exponential backoff, auto-pause on exhausted retries,
// local resume records, and a single upload slot so two files never
// compete for a constrained uplink.
type Uploader struct {
	api     *sdk.Client
	cfg     Config
	records *RecordStore

	// slot serializes whole-file uploads
	slot chan struct{}

	// pending holds chunk sends that have been scheduled but not yet
	// picked up by a worker; lower indices go first
	pending *queue.PriorityQueue[chunkJob]

	mu        sync.Mutex
	cancelled mapset.Set[string]
	resumeChs map[string]chan struct{}
}

type chunkJob struct {
	SessionID string
	Index     int
}

func New(api *sdk.Client, cfg Config) (*Uploader, error) {
	cfg = cfg.withDefaults()

	records, err := NewRecordStore(cfg.RecordDir, DefaultRecordTTL)
	if err != nil {
		return nil, err
	}
	if err := records.PurgeExpired(); err != nil {
		slog.Warn("purge upload records", "error", err)
	}

	return &Uploader{
		api:       api,
		cfg:       cfg,
		records:   records,
		slot:      make(chan struct{}, 1),
		pending:   queue.NewPriorityQueue[chunkJob](),
		cancelled: mapset.NewSet[string](),
		resumeChs: make(map[string]chan struct{}),
	}, nil
}

// uploadRun is the per-file state of one Upload call.
type uploadRun struct {
	session  *sdk.Session
	file     *os.File
	filePath string
	uploaded mapset.Set[int]
	progress ProgressFunc
	resumed  bool

	persistMu sync.Mutex
	sincePut  int
}

// Upload sends one file end to end: session setup (or resume), all
// chunks, finalize, and assembly polling. Files queue strictly behind
// one another; the call blocks until this file's turn completes.
func (u *Uploader) Upload(ctx context.Context, req *UploadRequest) (*Result, error) {
	select {
	case u.slot <- struct{}{}:
		defer func() { <-u.slot }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	run, err := u.prepareRun(ctx, req)
	if err != nil {
		return nil, err
	}
	defer run.file.Close()
	defer u.clearResumeCh(run.session.ID)

	if err := u.uploadChunks(ctx, run); err != nil {
		return nil, err
	}

	if err := u.persistRecord(run); err != nil {
		slog.Warn("persist upload record", "error", err)
	}

	result, err := u.finalize(ctx, run)
	if err != nil {
		return nil, err
	}

	if err := u.records.Delete(run.filePath); err != nil {
		slog.Warn("delete upload record", "error", err)
	}
	return result, nil
}

// prepareRun resolves the session: resume from a local record when the
// server still knows the session, otherwise create fresh. The server's
// received set wins over the local record.
func (u *Uploader) prepareRun(ctx context.Context, req *UploadRequest) (*uploadRun, error) {
	info, err := os.Stat(req.FilePath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}

	file, err := os.Open(req.FilePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	run := &uploadRun{
		file:     file,
		filePath: req.FilePath,
		uploaded: mapset.NewSet[int](),
		progress: req.Progress,
	}

	record, err := u.records.Load(req.FilePath, info.Size())
	if err != nil {
		slog.Warn("load upload record", "error", err)
	}
	if record != nil {
		session, err := u.api.Uploads.GetSession(ctx, record.SessionID)
		switch {
		case err == nil && (session.Status == sdk.StatusActive || session.Status == sdk.StatusPaused):
			for _, idx := range session.ReceivedChunks {
				run.uploaded.Add(idx)
			}
			run.session = session
			run.resumed = true
			slog.Info("resuming upload",
				"session", session.ID,
				"received", len(session.ReceivedChunks),
				"total", session.TotalChunks,
			)
		case err != nil && !sdk.IsPermanent(err):
			file.Close()
			return nil, err
		default:
			// session gone or no longer resumable, start over
			_ = u.records.Delete(req.FilePath)
		}
	}

	if run.session == nil {
		session, err := u.api.Uploads.CreateSession(ctx, &sdk.CreateSessionParams{
			OwnerID:        req.OwnerID,
			Filename:       filepath.Base(req.FilePath),
			MimeType:       req.MimeType,
			FileSizeBytes:  info.Size(),
			ChunkSizeBytes: u.cfg.ChunkSizeBytes,
		})
		if err != nil {
			file.Close()
			return nil, err
		}
		run.session = session
	}

	return run, nil
}

// uploadChunks drives the send pipeline until every chunk is acked.
// Exhausted retry budgets pause the session and wait out the cooldown
// (or a manual resume) instead of failing the whole upload.
func (u *Uploader) uploadChunks(ctx context.Context, run *uploadRun) error {
	for {
		if u.isCancelled(run.session.ID) {
			return ErrCancelled
		}

		missing := u.missingChunks(run)
		if len(missing) == 0 {
			return nil
		}

		err := u.sendChunks(ctx, run, missing)
		if err == nil {
			continue
		}

		var exhausted *retryExhaustedError
		if errors.As(err, &exhausted) {
			if perr := u.autoPause(ctx, run.session.ID, exhausted); perr != nil {
				return perr
			}
			continue
		}
		return err
	}
}

func (u *Uploader) missingChunks(run *uploadRun) []int {
	missing := make([]int, 0, run.session.TotalChunks)
	for idx := 0; idx < run.session.TotalChunks; idx++ {
		if !run.uploaded.Contains(idx) {
			missing = append(missing, idx)
		}
	}
	return missing
}

// sendChunks schedules the given indices on the pending queue and
// drains it with a pool of K workers. The first failure cancels the
// group; chunks acked before that stay in the uploaded set, and
// anything still queued for this session is dropped on the way out.
func (u *Uploader) sendChunks(ctx context.Context, run *uploadRun, indices []int) error {
	sessionID := run.session.ID
	for _, idx := range indices {
		u.pending.Enqueue(chunkJob{SessionID: sessionID, Index: idx}, idx)
	}
	defer u.dropQueued(sessionID)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < u.cfg.Concurrency; w++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}

				job, ok := u.pending.Dequeue()
				if !ok {
					return nil
				}
				if u.isCancelled(job.SessionID) {
					return ErrCancelled
				}
				if err := u.sendChunk(gctx, run, job.Index); err != nil {
					return err
				}
			}
		})
	}

	return g.Wait()
}

// dropQueued removes one session's scheduled-but-unsent chunks,
// leaving other sessions' work in the queue alone.
func (u *Uploader) dropQueued(sessionID string) int {
	return u.pending.RemoveFunc(func(j chunkJob) bool {
		return j.SessionID == sessionID
	})
}

type retryExhaustedError struct {
	chunkIndex int
	attempts   int
	lastErr    error
}

func (e *retryExhaustedError) Error() string {
	return fmt.Sprintf("chunk %d failed after %d attempts: %v", e.chunkIndex, e.attempts, e.lastErr)
}

func (e *retryExhaustedError) Unwrap() error { return e.lastErr }

// sendChunk reads and sends one chunk with exponential backoff.
// Permanent errors abort immediately without burning the budget.
func (u *Uploader) sendChunk(ctx context.Context, run *uploadRun, index int) error {
	data, err := u.readChunk(run, index)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= u.cfg.MaxAttempts; attempt++ {
		if u.isCancelled(run.session.ID) {
			return ErrCancelled
		}

		_, err := u.api.Uploads.UploadChunk(ctx, run.session.ID, index, data)
		if err == nil {
			u.chunkAcked(run, index)
			return nil
		}
		if sdk.IsPermanent(err) {
			return err
		}
		lastErr = err

		if attempt == u.cfg.MaxAttempts {
			break
		}
		delay := retryDelay(attempt)
		slog.Warn("chunk send retry",
			"session", run.session.ID,
			"chunk", index,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return &retryExhaustedError{chunkIndex: index, attempts: u.cfg.MaxAttempts, lastErr: lastErr}
}

func (u *Uploader) readChunk(run *uploadRun, index int) ([]byte, error) {
	offset := int64(index) * run.session.ChunkSizeBytes
	length := run.session.ChunkSizeBytes
	if remaining := run.session.FileSizeBytes - offset; remaining < length {
		length = remaining
	}

	data := make([]byte, length)
	if _, err := run.file.ReadAt(data, offset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read chunk %d: %w", index, err)
	}
	return data, nil
}

// chunkAcked records a successful send and persists the local record
// on the configured interval.
func (u *Uploader) chunkAcked(run *uploadRun, index int) {
	run.uploaded.Add(index)

	if run.progress != nil {
		run.progress(run.uploaded.Cardinality(), run.session.TotalChunks)
	}

	run.persistMu.Lock()
	run.sincePut++
	persist := run.sincePut >= u.cfg.PersistEvery
	if persist {
		run.sincePut = 0
	}
	run.persistMu.Unlock()

	if persist {
		if err := u.persistRecord(run); err != nil {
			slog.Warn("persist upload record", "error", err)
		}
	}
}

func (u *Uploader) persistRecord(run *uploadRun) error {
	indices := run.uploaded.ToSlice()
	sort.Ints(indices)
	return u.records.Save(&UploadRecord{
		SessionID:            run.session.ID,
		Filename:             run.session.Filename,
		FilePath:             run.filePath,
		FileSizeBytes:        run.session.FileSizeBytes,
		UploadedChunkIndices: indices,
		CreatedAt:            time.Now().UTC(),
	})
}

// autoPause parks the session after a chunk ran out of retries, then
// resumes after the cooldown or an earlier manual resume.
func (u *Uploader) autoPause(ctx context.Context, sessionID string, cause *retryExhaustedError) error {
	slog.Warn("upload auto-paused", "session", sessionID, "reason", cause.Error())

	if _, err := u.api.Uploads.Pause(ctx, sessionID); err != nil && sdk.IsPermanent(err) {
		// an already-paused session is fine, anything else permanent
		// means the session is gone
		var apiErr *sdk.APIError
		if errors.As(err, &apiErr) && apiErr.Code != sdk.CodeInvalidTransition {
			return err
		}
	}

	resumeCh := u.resumeCh(sessionID)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(u.cfg.AutoResumeAfter):
		slog.Info("upload auto-resuming", "session", sessionID)
	case <-resumeCh:
		slog.Info("upload manually resumed", "session", sessionID)
	}

	if u.isCancelled(sessionID) {
		return ErrCancelled
	}

	if _, err := u.api.Uploads.Resume(ctx, sessionID); err != nil {
		var apiErr *sdk.APIError
		if errors.As(err, &apiErr) && apiErr.Code == sdk.CodeInvalidTransition {
			return nil // already active
		}
		if sdk.IsPermanent(err) {
			return err
		}
	}
	return nil
}

// finalize kicks off assembly and polls until it settles.
func (u *Uploader) finalize(ctx context.Context, run *uploadRun) (*Result, error) {
	if _, err := u.api.Uploads.Finalize(ctx, run.session.ID); err != nil {
		return nil, err
	}

	ticker := time.NewTicker(u.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		status, err := u.api.Uploads.GetFinalizeStatus(ctx, run.session.ID)
		if err != nil {
			if sdk.IsPermanent(err) {
				return nil, err
			}
			continue // transient poll error, keep polling
		}

		switch status.Status {
		case sdk.StatusCompleted:
			session, err := u.api.Uploads.GetSession(ctx, run.session.ID)
			if err != nil {
				return nil, err
			}
			return &Result{
				SessionID:      session.ID,
				FinalObjectKey: session.FinalObjectKey,
				FinalObjectURL: session.FinalObjectURL,
				TotalChunks:    session.TotalChunks,
				Resumed:        run.resumed,
			}, nil
		case sdk.StatusFailed:
			return nil, fmt.Errorf("%w: %s", ErrUploadFailed, status.Reason)
		}
	}
}

// Cancel abandons a session: queued chunk sends stop before starting,
// in-flight sends are left to finish or fail on their own, and the
// server is told best-effort. Other sessions are unaffected.
func (u *Uploader) Cancel(ctx context.Context, sessionID string) error {
	u.cancelled.Add(sessionID)
	if dropped := u.dropQueued(sessionID); dropped > 0 {
		slog.Debug("dropped queued chunks", "session", sessionID, "count", dropped)
	}
	u.signalResume(sessionID) // unblock a paused run so it can observe the cancel

	if err := u.api.Uploads.Cancel(ctx, sessionID); err != nil && !sdk.IsPermanent(err) {
		return err
	}
	return nil
}

// Resume manually resumes an auto-paused session ahead of its
// cooldown.
func (u *Uploader) Resume(sessionID string) {
	u.signalResume(sessionID)
}

func (u *Uploader) isCancelled(sessionID string) bool {
	return u.cancelled.Contains(sessionID)
}

func (u *Uploader) resumeCh(sessionID string) chan struct{} {
	u.mu.Lock()
	defer u.mu.Unlock()
	ch, ok := u.resumeChs[sessionID]
	if !ok {
		ch = make(chan struct{}, 1)
		u.resumeChs[sessionID] = ch
	}
	return ch
}

func (u *Uploader) signalResume(sessionID string) {
	select {
	case u.resumeCh(sessionID) <- struct{}{}:
	default:
	}
}

func (u *Uploader) clearResumeCh(sessionID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.resumeChs, sessionID)
}
