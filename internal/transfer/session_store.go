package transfer

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrCorruptSession is returned when a session file cannot be parsed as
// JSON. The corrupt file is deleted automatically.
var ErrCorruptSession = errors.New("transfer: corrupt session file")

// sessionSubdir is the subdirectory within the data dir for upload session files.
const sessionSubdir = "upload-sessions"

const (
	sessionFilePerms = 0o600
	sessionDirPerms  = 0o700
)

// StaleSessionAge is the TTL for persisted session records. Dropbox upload
// sessions live for about 48 hours, so anything older cannot be resumed.
const StaleSessionAge = 48 * time.Hour

// cleanThrottle prevents excessive directory scans. CleanStale runs at most
// once per interval when triggered lazily by Save.
const cleanThrottle = 1 * time.Hour

// SessionRecord is the on-disk JSON format for an interrupted chunked
// upload. Offset is the count of bytes the server has confirmed; resume
// restarts the window loop there.
type SessionRecord struct {
	SessionID  string    `json:"session_id"`
	LocalPath  string    `json:"local_path"`
	RemotePath string    `json:"remote_path"`
	FileHash   string    `json:"file_hash"`
	FileSize   int64     `json:"file_size"`
	ChunkSize  int64     `json:"chunk_size"`
	Offset     int64     `json:"offset"`
	CreatedAt  time.Time `json:"created_at"`
}

// SessionStore persists chunked upload sessions as JSON files keyed by a
// hash of the (local, remote) path pair. Thread-safe for concurrent
// Save/Load/Delete.
type SessionStore struct {
	dir    string
	logger *slog.Logger

	cleanMu   sync.Mutex
	lastClean time.Time
}

// NewSessionStore creates a SessionStore rooted at dataDir/upload-sessions.
func NewSessionStore(dataDir string, logger *slog.Logger) *SessionStore {
	return &SessionStore{
		dir:    filepath.Join(dataDir, sessionSubdir),
		logger: logger,
	}
}

// Load reads the session record for a transfer. Returns nil, nil if no
// record exists.
func (s *SessionStore) Load(localPath, remotePath string) (*SessionRecord, error) {
	path := s.filePath(localPath, remotePath)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("transfer: reading session file: %w", err)
	}

	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("corrupt session file, deleting",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			s.logger.Warn("failed to remove corrupt session file",
				slog.String("path", path),
				slog.String("error", rmErr.Error()),
			)
		}

		return nil, fmt.Errorf("%w: %w", ErrCorruptSession, err)
	}

	return &rec, nil
}

// Save persists a session record, creating the directory if needed.
// Triggers lazy stale-session cleanup, throttled to once per hour.
func (s *SessionStore) Save(rec *SessionRecord) error {
	if err := os.MkdirAll(s.dir, sessionDirPerms); err != nil {
		return fmt.Errorf("transfer: creating session dir: %w", err)
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("transfer: marshaling session record: %w", err)
	}

	path := s.filePath(rec.LocalPath, rec.RemotePath)
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, data, sessionFilePerms); err != nil {
		return fmt.Errorf("transfer: writing session temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // best-effort cleanup
		return fmt.Errorf("transfer: renaming session temp file: %w", err)
	}

	s.cleanMu.Lock()
	due := time.Since(s.lastClean) >= cleanThrottle
	s.cleanMu.Unlock()

	if due {
		go s.cleanIfDue()
	}

	return nil
}

// Delete removes the session record for a transfer. No error if absent.
func (s *SessionStore) Delete(localPath, remotePath string) error {
	path := s.filePath(localPath, remotePath)

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("transfer: deleting session file: %w", err)
	}

	return nil
}

// CleanStale removes session files older than maxAge. Returns the number
// of files deleted. Safe to call concurrently.
func (s *SessionStore) CleanStale(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, fmt.Errorf("transfer: reading session dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	deleted := 0

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			path := filepath.Join(s.dir, e.Name())
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("failed to clean stale session",
					slog.String("file", e.Name()),
					slog.String("error", err.Error()),
				)

				continue
			}

			deleted++
		}
	}

	return deleted, nil
}

// cleanIfDue runs CleanStale if at least cleanThrottle has elapsed since
// the last run. Runs in a goroutine, so panics are recovered here.
func (s *SessionStore) cleanIfDue() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in session cleanup", slog.Any("panic", r))
		}
	}()

	s.cleanMu.Lock()
	if time.Since(s.lastClean) < cleanThrottle {
		s.cleanMu.Unlock()
		return
	}

	s.lastClean = time.Now()
	s.cleanMu.Unlock()

	n, err := s.CleanStale(StaleSessionAge)
	if err != nil {
		s.logger.Warn("stale session cleanup failed", slog.String("error", err.Error()))
		return
	}

	if n > 0 {
		s.logger.Info("cleaned stale upload sessions", slog.Int("count", n))
	}
}

// sessionKey produces a deterministic filename for a path pair. The local
// path is length-prefixed so delimiter characters inside paths cannot
// produce colliding keys.
func sessionKey(localPath, remotePath string) string {
	h := sha256.Sum256(fmt.Appendf(nil, "%d:%s:%s", len(localPath), localPath, remotePath))
	return fmt.Sprintf("%x.json", h)
}

func (s *SessionStore) filePath(localPath, remotePath string) string {
	return filepath.Join(s.dir, sessionKey(localPath, remotePath))
}
