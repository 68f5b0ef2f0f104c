package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/akorhonen/dropbox-go/internal/dropbox"
	"github.com/akorhonen/dropbox-go/pkg/contenthash"
)

// Sentinel errors. Use errors.Is to check.
var (
	// ErrCancelled means the caller's context ended the transfer. Chunked
	// state (upload sessions, partial downloads) is preserved for resume.
	ErrCancelled = errors.New("transfer: cancelled")

	// ErrIntegrity means the transferred content's hash does not match the
	// expected hash. The local artifact has been discarded.
	ErrIntegrity = errors.New("transfer: content hash mismatch")
)

// Defaults. The threshold keeps single-request transfers well under the
// API's 150 MB simple-upload ceiling; the chunk size matches the content
// hash block size so windows hash cleanly.
const (
	DefaultThreshold       = 150 * 1024 * 1024
	DefaultChunkSize       = 4 * 1024 * 1024
	DefaultMaxChunkRetries = 3

	windowBackoffBase = 500 * time.Millisecond
	windowBackoffMax  = 8 * time.Second
)

// partialSuffix marks in-progress download files.
const partialSuffix = ".partial"

// API is the remote surface the engine needs. *dropbox.Client satisfies it;
// tests substitute fakes.
type API interface {
	Upload(ctx context.Context, remotePath string, data []byte) (*dropbox.Metadata, error)
	UploadSessionStart(ctx context.Context, data []byte) (string, error)
	UploadSessionAppend(ctx context.Context, sessionID string, offset int64, data []byte) error
	UploadSessionFinish(ctx context.Context, sessionID string, offset int64, remotePath string, data []byte) (*dropbox.Metadata, error)
	Download(ctx context.Context, remotePath string) (io.ReadCloser, *dropbox.Metadata, error)
	DownloadRange(ctx context.Context, remotePath string, offset, length int64) ([]byte, error)
	GetMetadata(ctx context.Context, remotePath string) (*dropbox.Metadata, error)
	ListAll(ctx context.Context, remotePath string, filter dropbox.Filter) ([]dropbox.Metadata, error)
	CreateFolder(ctx context.Context, remotePath string) (*dropbox.Metadata, error)
}

// Options tunes the engine. Zero fields take defaults.
type Options struct {
	// Threshold is the size at or below which a transfer uses a single
	// request instead of windows.
	Threshold int64

	// ChunkSize is the window size for chunked transfers.
	ChunkSize int64

	// MaxChunkRetries bounds additional attempts per window on transient
	// failures.
	MaxChunkRetries int

	// Workers bounds concurrent transfers in directory operations.
	Workers int
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}

	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}

	if o.MaxChunkRetries <= 0 {
		o.MaxChunkRetries = DefaultMaxChunkRetries
	}

	if o.Workers <= 0 {
		o.Workers = defaultWorkers
	}

	return o
}

// Engine moves files between the local filesystem and Dropbox.
type Engine struct {
	api      API
	opts     Options
	sessions *SessionStore // nil = no crash-resume for chunked uploads
	notify   notifier
	logger   *slog.Logger

	// sleepFunc waits between window retries. Tests override it.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an Engine. sessions may be nil to disable upload
// session persistence; obs may be nil to disable notifications.
func NewEngine(api API, opts Options, sessions *SessionStore, obs Observer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		api:      api,
		opts:     opts.withDefaults(),
		sessions: sessions,
		notify:   notifier{obs: obs, logger: logger},
		logger:   logger,
		sleepFunc: func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
	}
}

// Upload transfers a local file to remotePath. The returned Descriptor is
// terminal; its state, byte count, and error mirror the returned error.
func (e *Engine) Upload(ctx context.Context, localPath, remotePath string) (*Descriptor, error) {
	d := newDescriptor(DirectionUpload, localPath, remotePath)

	info, err := os.Stat(localPath)
	if err != nil {
		return d, e.fail(d, fmt.Errorf("transfer: stat %s: %w", localPath, err))
	}

	if info.IsDir() {
		return d, e.fail(d, fmt.Errorf("transfer: %s is a directory, use UploadDir", localPath))
	}

	d.TotalBytes = info.Size()

	e.logger.Info("upload starting",
		slog.String("local", localPath),
		slog.String("remote", remotePath),
		slog.Int64("size", d.TotalBytes),
	)

	if d.TotalBytes <= e.opts.Threshold {
		return d, e.simpleUpload(ctx, d)
	}

	return d, e.sessionUpload(ctx, d)
}

// simpleUpload sends the whole file in one request.
func (e *Engine) simpleUpload(ctx context.Context, d *Descriptor) error {
	d.setMode(ModeSimple)

	if err := e.step(d, StateSimple); err != nil {
		return e.fail(d, err)
	}

	data, err := os.ReadFile(d.LocalPath)
	if err != nil {
		return e.fail(d, fmt.Errorf("transfer: reading %s: %w", d.LocalPath, err))
	}

	localHash := contenthash.Sum256(data)

	var m *dropbox.Metadata

	err = e.withRetry(ctx, "upload", func() error {
		var opErr error
		m, opErr = e.api.Upload(ctx, d.RemotePath, data)

		return opErr
	})
	if err != nil {
		return e.fail(d, err)
	}

	d.addBytes(int64(len(data)))
	e.notify.progress(d, d.BytesTransferred(), d.TotalBytes)

	if err := e.step(d, StateCommitting); err != nil {
		return e.fail(d, err)
	}

	if err := verifyHash(localHash, m.ContentHash); err != nil {
		return e.fail(d, err)
	}

	if err := e.step(d, StateCompleted); err != nil {
		return e.fail(d, err)
	}

	e.logger.Info("upload complete",
		slog.String("remote", d.RemotePath),
		slog.Int64("size", d.TotalBytes),
	)

	return nil
}

// sessionUpload moves the file in windows through an upload session,
// persisting progress so an interrupted transfer resumes where it stopped.
func (e *Engine) sessionUpload(ctx context.Context, d *Descriptor) error {
	d.setMode(ModeChunked)

	localHash, err := contenthash.File(d.LocalPath)
	if err != nil {
		return e.fail(d, fmt.Errorf("transfer: hashing %s: %w", d.LocalPath, err))
	}

	f, err := os.Open(d.LocalPath)
	if err != nil {
		return e.fail(d, fmt.Errorf("transfer: opening %s: %w", d.LocalPath, err))
	}
	defer f.Close()

	if err := e.step(d, StateSessionOpen); err != nil {
		return e.fail(d, err)
	}

	sessionID, offset, err := e.openSession(ctx, d, f, localHash)
	if err != nil {
		return e.fail(d, err)
	}

	if offset > 0 {
		d.addBytes(offset)
		e.notify.progress(d, d.BytesTransferred(), d.TotalBytes)
	}

	if err := e.step(d, StateTransferring); err != nil {
		return e.fail(d, err)
	}

	chunk := make([]byte, e.opts.ChunkSize)

	for d.TotalBytes-offset > e.opts.ChunkSize {
		// Cancellation is honored between windows, never mid-window.
		if ctx.Err() != nil {
			e.saveSession(d, sessionID, localHash, offset)
			return e.fail(d, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err()))
		}

		if _, err := io.ReadFull(io.NewSectionReader(f, offset, e.opts.ChunkSize), chunk); err != nil {
			e.saveSession(d, sessionID, localHash, offset)
			return e.fail(d, fmt.Errorf("transfer: reading window at %d: %w", offset, err))
		}

		err := e.withRetry(ctx, "append", func() error {
			return e.api.UploadSessionAppend(ctx, sessionID, offset, chunk)
		})
		if err != nil {
			e.saveSession(d, sessionID, localHash, offset)
			return e.fail(d, err)
		}

		offset += e.opts.ChunkSize
		d.addBytes(e.opts.ChunkSize)
		e.notify.progress(d, d.BytesTransferred(), d.TotalBytes)
	}

	if ctx.Err() != nil {
		e.saveSession(d, sessionID, localHash, offset)
		return e.fail(d, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err()))
	}

	if err := e.step(d, StateCommitting); err != nil {
		return e.fail(d, err)
	}

	remaining := d.TotalBytes - offset

	tail := make([]byte, remaining)
	if _, err := io.ReadFull(io.NewSectionReader(f, offset, remaining), tail); err != nil {
		e.saveSession(d, sessionID, localHash, offset)
		return e.fail(d, fmt.Errorf("transfer: reading final window: %w", err))
	}

	var m *dropbox.Metadata

	err = e.withRetry(ctx, "finish", func() error {
		var opErr error
		m, opErr = e.api.UploadSessionFinish(ctx, sessionID, offset, d.RemotePath, tail)

		return opErr
	})
	if err != nil {
		e.saveSession(d, sessionID, localHash, offset)
		return e.fail(d, err)
	}

	d.addBytes(remaining)
	e.notify.progress(d, d.BytesTransferred(), d.TotalBytes)

	e.deleteSession(d)

	if err := verifyHash(localHash, m.ContentHash); err != nil {
		return e.fail(d, err)
	}

	if err := e.step(d, StateCompleted); err != nil {
		return e.fail(d, err)
	}

	e.logger.Info("chunked upload complete",
		slog.String("remote", d.RemotePath),
		slog.Int64("size", d.TotalBytes),
	)

	return nil
}

// openSession resumes a persisted session when the file is unchanged,
// otherwise starts a fresh one with the first window.
func (e *Engine) openSession(ctx context.Context, d *Descriptor, f *os.File, localHash string) (string, int64, error) {
	if e.sessions != nil {
		rec, loadErr := e.sessions.Load(d.LocalPath, d.RemotePath)
		if loadErr != nil {
			e.logger.Warn("failed to load upload session",
				slog.String("local", d.LocalPath),
				slog.String("error", loadErr.Error()),
			)
		}

		if rec != nil {
			if e.resumable(rec, d, localHash) {
				e.logger.Info("resuming chunked upload",
					slog.String("local", d.LocalPath),
					slog.Int64("offset", rec.Offset),
				)

				return rec.SessionID, rec.Offset, nil
			}

			// Stale or mismatched record forces a fresh session.
			e.deleteSession(d)
		}
	}

	first := make([]byte, min(e.opts.ChunkSize, d.TotalBytes))
	if _, err := io.ReadFull(io.NewSectionReader(f, 0, int64(len(first))), first); err != nil {
		return "", 0, fmt.Errorf("transfer: reading first window: %w", err)
	}

	var sessionID string

	err := e.withRetry(ctx, "session start", func() error {
		var opErr error
		sessionID, opErr = e.api.UploadSessionStart(ctx, first)

		return opErr
	})
	if err != nil {
		return "", 0, err
	}

	offset := int64(len(first))
	e.saveSession(d, sessionID, localHash, offset)

	return sessionID, offset, nil
}

// resumable reports whether a persisted session still matches the file.
func (e *Engine) resumable(rec *SessionRecord, d *Descriptor, localHash string) bool {
	return rec.FileHash == localHash &&
		rec.FileSize == d.TotalBytes &&
		rec.ChunkSize == e.opts.ChunkSize &&
		rec.Offset > 0 &&
		rec.Offset <= d.TotalBytes &&
		time.Since(rec.CreatedAt) < StaleSessionAge
}

// Download transfers a remote file to localPath, writing through a
// .partial file that is renamed into place only after verification.
func (e *Engine) Download(ctx context.Context, remotePath, localPath string) (*Descriptor, error) {
	d := newDescriptor(DirectionDownload, localPath, remotePath)

	m, err := e.api.GetMetadata(ctx, remotePath)
	if err != nil {
		return d, e.fail(d, err)
	}

	if m.IsFolder() {
		return d, e.fail(d, fmt.Errorf("transfer: %s is a folder, use DownloadDir", remotePath))
	}

	d.TotalBytes = m.Size

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil { //nolint:mnd // normal dir perms
		return d, e.fail(d, fmt.Errorf("transfer: creating parent dir: %w", err))
	}

	e.logger.Info("download starting",
		slog.String("remote", remotePath),
		slog.String("local", localPath),
		slog.Int64("size", d.TotalBytes),
	)

	if d.TotalBytes <= e.opts.Threshold {
		return d, e.simpleDownload(ctx, d, m)
	}

	return d, e.chunkedDownload(ctx, d, m)
}

// simpleDownload streams the whole file in one request.
func (e *Engine) simpleDownload(ctx context.Context, d *Descriptor, m *dropbox.Metadata) error {
	d.setMode(ModeSimple)

	if err := e.step(d, StateSimple); err != nil {
		return e.fail(d, err)
	}

	partial := d.LocalPath + partialSuffix

	var localHash string

	err := e.withRetry(ctx, "download", func() error {
		var opErr error
		localHash, opErr = e.streamToPartial(ctx, d.RemotePath, partial)

		return opErr
	})
	if err != nil {
		os.Remove(partial)
		return e.fail(d, err)
	}

	d.addBytes(d.TotalBytes)
	e.notify.progress(d, d.BytesTransferred(), d.TotalBytes)

	return e.commitDownload(d, partial, localHash, m.ContentHash)
}

// streamToPartial downloads the full content to the partial path, hashing
// as it writes. Each attempt starts from scratch.
func (e *Engine) streamToPartial(ctx context.Context, remotePath, partial string) (string, error) {
	f, err := os.OpenFile(partial, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644) //nolint:mnd // normal file perms
	if err != nil {
		return "", fmt.Errorf("transfer: creating %s: %w", partial, err)
	}

	body, _, err := e.api.Download(ctx, remotePath)
	if err != nil {
		f.Close()
		return "", err
	}
	defer body.Close()

	h := contenthash.New()

	if _, err := io.Copy(io.MultiWriter(f, h), body); err != nil {
		f.Close()
		return "", fmt.Errorf("transfer: writing %s: %w", partial, err)
	}

	if err := f.Close(); err != nil {
		return "", fmt.Errorf("transfer: closing %s: %w", partial, err)
	}

	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// chunkedDownload fetches the file in ranged windows, resuming an existing
// partial file when one is present.
func (e *Engine) chunkedDownload(ctx context.Context, d *Descriptor, m *dropbox.Metadata) error {
	d.setMode(ModeChunked)

	partial := d.LocalPath + partialSuffix
	offset := partialOffset(partial, d.TotalBytes)

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if offset == 0 {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}

	f, err := os.OpenFile(partial, flags, 0o644) //nolint:mnd // normal file perms
	if err != nil {
		return e.fail(d, fmt.Errorf("transfer: opening %s: %w", partial, err))
	}
	defer f.Close()

	if offset > 0 {
		e.logger.Info("resuming download from partial file",
			slog.String("local", d.LocalPath),
			slog.Int64("offset", offset),
		)

		d.addBytes(offset)
		e.notify.progress(d, d.BytesTransferred(), d.TotalBytes)
	}

	if err := e.step(d, StateTransferring); err != nil {
		return e.fail(d, err)
	}

	for offset < d.TotalBytes {
		// Cancellation is honored between windows. The partial file stays
		// behind so the next run resumes from this offset.
		if ctx.Err() != nil {
			return e.fail(d, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err()))
		}

		length := min(e.opts.ChunkSize, d.TotalBytes-offset)

		var window []byte

		err := e.withRetry(ctx, "range", func() error {
			var opErr error
			window, opErr = e.api.DownloadRange(ctx, d.RemotePath, offset, length)

			return opErr
		})
		if err != nil {
			return e.fail(d, err)
		}

		if _, err := f.Write(window); err != nil {
			return e.fail(d, fmt.Errorf("transfer: writing %s: %w", partial, err))
		}

		offset += length
		d.addBytes(length)
		e.notify.progress(d, d.BytesTransferred(), d.TotalBytes)
	}

	if err := f.Close(); err != nil {
		return e.fail(d, fmt.Errorf("transfer: closing %s: %w", partial, err))
	}

	localHash, err := contenthash.File(partial)
	if err != nil {
		return e.fail(d, fmt.Errorf("transfer: hashing %s: %w", partial, err))
	}

	return e.commitDownload(d, partial, localHash, m.ContentHash)
}

// commitDownload verifies the hash and renames the partial into place.
// On mismatch the partial is discarded so a bad artifact never survives.
func (e *Engine) commitDownload(d *Descriptor, partial, localHash, remoteHash string) error {
	if err := e.step(d, StateCommitting); err != nil {
		return e.fail(d, err)
	}

	if err := verifyHash(localHash, remoteHash); err != nil {
		os.Remove(partial)
		return e.fail(d, err)
	}

	if err := os.Rename(partial, d.LocalPath); err != nil {
		return e.fail(d, fmt.Errorf("transfer: renaming %s: %w", partial, err))
	}

	if err := e.step(d, StateCompleted); err != nil {
		return e.fail(d, err)
	}

	e.logger.Info("download complete",
		slog.String("local", d.LocalPath),
		slog.Int64("size", d.TotalBytes),
	)

	return nil
}

// partialOffset returns the resume offset for an existing partial file,
// or 0 when the file is absent or not usable.
func partialOffset(partial string, total int64) int64 {
	info, err := os.Stat(partial)
	if err != nil || info.IsDir() {
		return 0
	}

	if info.Size() >= total {
		return 0
	}

	return info.Size()
}

// withRetry runs one window operation with bounded retry on transient
// failures. Cancellation cuts retries short.
func (e *Engine) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error

	for attempt := range e.opts.MaxChunkRetries + 1 {
		if attempt > 0 {
			backoff := windowBackoff(attempt)
			e.logger.Warn("retrying window operation",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
				slog.String("error", lastErr.Error()),
			)

			if sleepErr := e.sleepFunc(ctx, backoff); sleepErr != nil {
				return fmt.Errorf("%w: %w", ErrCancelled, sleepErr)
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}

		if !isTransient(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("transfer: %s failed after %d attempts: %w", op, e.opts.MaxChunkRetries+1, lastErr)
}

// isTransient reports whether a window failure is worth retrying. API
// errors other than throttling and server faults are definitive; anything
// unclassified is assumed to be a network fault.
func isTransient(err error) bool {
	if errors.Is(err, dropbox.ErrThrottled) || errors.Is(err, dropbox.ErrServerError) {
		return true
	}

	var apiErr *dropbox.APIError
	if errors.As(err, &apiErr) {
		return false
	}

	if errors.Is(err, dropbox.ErrAuthFailed) || errors.Is(err, dropbox.ErrNotLoggedIn) {
		return false
	}

	return true
}

// windowBackoff doubles per attempt from the base, capped. The HTTP client
// already jitters its own retries; window retries stay deterministic.
func windowBackoff(attempt int) time.Duration {
	backoff := windowBackoffBase << (attempt - 1)
	if backoff > windowBackoffMax {
		return windowBackoffMax
	}

	return backoff
}

// verifyHash compares content hashes, tolerating a missing remote hash.
func verifyHash(local, remote string) error {
	if remote == "" || local == remote {
		return nil
	}

	return fmt.Errorf("%w: local %s, remote %s", ErrIntegrity, local, remote)
}

// step advances the descriptor and notifies the observer.
func (e *Engine) step(d *Descriptor, to State) error {
	from, err := d.transition(to)
	if err != nil {
		return err
	}

	e.notify.stateChanged(d, from, to)

	return nil
}

// fail drives the descriptor to its terminal failure state, classifying
// cancellation separately, and returns the error it recorded.
func (e *Engine) fail(d *Descriptor, err error) error {
	to := StateFailed

	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		to = StateCancelled

		if !errors.Is(err, ErrCancelled) {
			err = fmt.Errorf("%w: %w", ErrCancelled, err)
		}
	}

	from := d.fail(to, err)
	if from != to {
		e.notify.stateChanged(d, from, to)
	}

	return err
}

// saveSession persists upload progress, logging instead of failing:
// losing resume capability must not fail the transfer itself.
func (e *Engine) saveSession(d *Descriptor, sessionID, localHash string, offset int64) {
	if e.sessions == nil {
		return
	}

	err := e.sessions.Save(&SessionRecord{
		SessionID:  sessionID,
		LocalPath:  d.LocalPath,
		RemotePath: d.RemotePath,
		FileHash:   localHash,
		FileSize:   d.TotalBytes,
		ChunkSize:  e.opts.ChunkSize,
		Offset:     offset,
	})
	if err != nil {
		e.logger.Warn("failed to save upload session",
			slog.String("local", d.LocalPath),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) deleteSession(d *Descriptor) {
	if e.sessions == nil {
		return
	}

	if err := e.sessions.Delete(d.LocalPath, d.RemotePath); err != nil {
		e.logger.Warn("failed to delete session file",
			slog.String("local", d.LocalPath),
			slog.String("error", err.Error()),
		)
	}
}
