package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/uplinkhq/uplink/internal/server/blob"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultBatchSize bounds assembly memory to roughly
	// batchSize * chunkSize regardless of total file size.
	DefaultBatchSize = 10

	// DefaultSmallFileThreshold is the size below which assembly reads
	// every chunk in one pass instead of batching.
	DefaultSmallFileThreshold = int64(50 * 1024 * 1024)

	defaultFetchAttempts  = 3
	defaultFetchBaseDelay = time.Second
)

type AssemblerConfig struct {
	BatchSize          int           `mapstructure:"batch_size"`
	SmallFileThreshold int64         `mapstructure:"small_file_threshold"`
	FetchAttempts      int           `mapstructure:"fetch_attempts"`
	FetchBaseDelay     time.Duration `mapstructure:"fetch_base_delay"`
}

func (c *AssemblerConfig) withDefaults() AssemblerConfig {
	out := *c
	if out.BatchSize <= 0 {
		out.BatchSize = DefaultBatchSize
	}
	if out.SmallFileThreshold <= 0 {
		out.SmallFileThreshold = DefaultSmallFileThreshold
	}
	if out.FetchAttempts <= 0 {
		out.FetchAttempts = defaultFetchAttempts
	}
	if out.FetchBaseDelay <= 0 {
		out.FetchBaseDelay = defaultFetchBaseDelay
	}
	return out
}

// AssemblyResult is what a successful finalize produces.
type AssemblyResult struct {
	FinalObjectKey string
	FinalObjectURL string
}

// Assembler streams the chunks of a finalized session, in strict index
// order, into one final object. A singleflight group keyed by session
// id guarantees at most one assembly per session; concurrent finalize
// requests share the in-progress run.
type Assembler struct {
	sessions *SessionStore
	chunks   *ChunkStore
	cfg      AssemblerConfig
	group    singleflight.Group
}

func NewAssembler(sessions *SessionStore, chunks *ChunkStore, cfg AssemblerConfig) *Assembler {
	return &Assembler{
		sessions: sessions,
		chunks:   chunks,
		cfg:      cfg.withDefaults(),
	}
}

// ChunkBatches splits [0, totalChunks) into consecutive index ranges
// of at most batchSize. Each range is [start, end).
func ChunkBatches(totalChunks, batchSize int) [][2]int {
	if totalChunks <= 0 || batchSize <= 0 {
		return nil
	}
	batches := make([][2]int, 0, (totalChunks+batchSize-1)/batchSize)
	for start := 0; start < totalChunks; start += batchSize {
		end := start + batchSize
		if end > totalChunks {
			end = totalChunks
		}
		batches = append(batches, [2]int{start, end})
	}
	return batches
}

// Run performs the whole finalize pipeline for a session already in
// the finalizing state: stream chunks, write the final object, and
// move the session to completed or failed. It is idempotent across
// retries, chunks are untouched and a rerun rewrites the final object
// from scratch.
func (a *Assembler) Run(ctx context.Context, sessionID string) (*AssemblyResult, error) {
	v, err, _ := a.group.Do(sessionID, func() (any, error) {
		return a.run(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*AssemblyResult), nil
}

func (a *Assembler) run(ctx context.Context, sessionID string) (*AssemblyResult, error) {
	session, err := a.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != StatusFinalizing {
		return nil, fmt.Errorf("%w: assembly requires finalizing, got %s", ErrInvalidTransition, session.Status)
	}

	tstart := time.Now()
	result, err := a.assemble(ctx, session)
	if err != nil {
		slog.Error("assembly failed", "session", sessionID, "error", err)
		if ferr := a.sessions.FailFinalize(ctx, sessionID, err.Error()); ferr != nil {
			slog.Error("mark finalize failed", "session", sessionID, "error", ferr)
		}
		return nil, err
	}

	if err := a.sessions.CompleteFinalize(ctx, sessionID, result.FinalObjectKey, result.FinalObjectURL); err != nil {
		return nil, fmt.Errorf("complete finalize: %w", err)
	}

	slog.Info("assembly complete",
		"session", sessionID,
		"size", humanize.IBytes(uint64(session.FileSizeBytes)),
		"chunks", session.TotalChunks,
		"took", time.Since(tstart),
	)
	return result, nil
}

func (a *Assembler) assemble(ctx context.Context, session *Session) (*AssemblyResult, error) {
	records, err := a.sessions.Chunks(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if len(records) != session.TotalChunks {
		return nil, fmt.Errorf("%w: %d of %d chunks on record", ErrIncompleteUpload, len(records), session.TotalChunks)
	}
	for i, rec := range records {
		if rec.ChunkIndex != i {
			return nil, fmt.Errorf("chunk record gap at index %d", i)
		}
	}

	finalKey := FinalObjectKey(session.ID, session.Filename)

	if session.FileSizeBytes <= a.cfg.SmallFileThreshold {
		return a.assembleInMemory(ctx, session, records, finalKey)
	}
	return a.assembleBatched(ctx, session, records, finalKey)
}

// assembleInMemory concatenates every chunk in one pass. Only used
// below the small-file threshold.
func (a *Assembler) assembleInMemory(ctx context.Context, session *Session, records []*Chunk, finalKey string) (*AssemblyResult, error) {
	buf := bytes.NewBuffer(make([]byte, 0, session.FileSizeBytes))
	for _, rec := range records {
		data, err := a.fetchChunk(ctx, rec.StorageKey)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
	}

	if err := a.sessions.UpdateAssemblyProgress(ctx, session.ID, session.TotalChunks); err != nil {
		slog.Warn("update assembly progress", "session", session.ID, "error", err)
	}
	a.setPhase(ctx, session.ID, PhaseWritingFinal)

	return a.writeFinal(ctx, session, finalKey, int64(buf.Len()), buf)
}

// assembleBatched streams batches of chunks through a pipe into a
// single final object write. Peak memory stays near
// batchSize * chunkSize no matter how large the file is.
func (a *Assembler) assembleBatched(ctx context.Context, session *Session, records []*Chunk, finalKey string) (*AssemblyResult, error) {
	batches := ChunkBatches(session.TotalChunks, a.cfg.BatchSize)

	pr, pw := io.Pipe()
	go func() {
		assembled := 0
		for _, batch := range batches {
			// chunks are written strictly in index order; out-of-order
			// concatenation silently corrupts the file
			for idx := batch[0]; idx < batch[1]; idx++ {
				data, err := a.fetchChunk(ctx, records[idx].StorageKey)
				if err != nil {
					pw.CloseWithError(fmt.Errorf("batch %d: %w", idx/a.cfg.BatchSize, err))
					return
				}
				if _, err := pw.Write(data); err != nil {
					return
				}
			}

			assembled = batch[1]
			if err := a.sessions.UpdateAssemblyProgress(ctx, session.ID, assembled); err != nil {
				slog.Warn("update assembly progress", "session", session.ID, "error", err)
			}
		}
		a.setPhase(ctx, session.ID, PhaseWritingFinal)
		pw.Close()
	}()

	result, err := a.writeFinal(ctx, session, finalKey, session.FileSizeBytes, pr)
	if err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	return result, nil
}

func (a *Assembler) setPhase(ctx context.Context, sessionID string, phase AssemblyPhase) {
	if err := a.sessions.SetAssemblyPhase(ctx, sessionID, phase); err != nil {
		slog.Warn("set assembly phase", "session", sessionID, "error", err)
	}
}

func (a *Assembler) writeFinal(ctx context.Context, session *Session, finalKey string, size int64, body io.Reader) (*AssemblyResult, error) {
	backend := a.chunks.Backend()
	put, err := backend.PutObject(ctx, &blob.PutObjectParams{
		Key:         finalKey,
		Size:        size,
		Body:        body,
		ContentType: session.MimeType,
	})
	if err != nil {
		return nil, fmt.Errorf("write final object: %w", err)
	}

	url, err := backend.GetObjectPresigned(ctx, put.Key)
	if err != nil {
		return nil, fmt.Errorf("presign final object: %w", err)
	}

	return &AssemblyResult{FinalObjectKey: put.Key, FinalObjectURL: url}, nil
}

// fetchChunk reads one chunk with capped linear backoff: attempt n
// waits n * baseDelay, so the defaults wait 1s/2s before the final
// try. Transient storage errors are common enough mid-assembly that a
// single failed read should never scrap a multi-gigabyte pass.
func (a *Assembler) fetchChunk(ctx context.Context, storageKey string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= a.cfg.FetchAttempts; attempt++ {
		data, err := a.chunks.Get(ctx, storageKey)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if attempt == a.cfg.FetchAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * a.cfg.FetchBaseDelay):
		}
	}
	return nil, fmt.Errorf("fetch chunk after %d attempts: %w", a.cfg.FetchAttempts, lastErr)
}
