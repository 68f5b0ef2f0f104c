// Package credstore persists OAuth2 credentials through a layered backend
// strategy: the native system keyring when a startup probe shows it works,
// else a symmetric-encrypted file with a separately stored key. Callers see
// one uniform get/save/clear contract regardless of backend.
package credstore

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Sentinel errors. Use errors.Is to check.
var (
	// ErrNotFound means no credential record has ever been saved (or it
	// was cleared). Callers should start interactive authentication.
	ErrNotFound = errors.New("credstore: no credentials stored")

	// ErrCorrupted means a stored payload exists but cannot be recovered
	// (missing or wrong encryption key, undecodable entry). Distinct from
	// ErrNotFound so callers can distinguish re-authentication from a
	// fatal storage problem.
	ErrCorrupted = errors.New("credstore: stored credentials are corrupted")

	// ErrUnavailable means every backend failed to accept a write.
	ErrUnavailable = errors.New("credstore: no credential backend available")
)

// defaultService is the keyring service name.
const defaultService = "dropbox-go"

// Backend is one concrete credential storage strategy.
type Backend interface {
	Save(*Record) error
	Get() (*Record, error)
	Clear() error
	Name() string
}

// Options configures Open. The backend probe result is computed once per
// Store and cached for its lifetime, so constructing the Store at startup
// gives the process-wide backend selection the design calls for.
type Options struct {
	// ServiceName is the keyring service entry name. Empty means "dropbox-go".
	ServiceName string

	// Dir is where the encrypted fallback payload and key file live. Required.
	Dir string

	// DisableKeyring skips the keyring probe and forces the file backend.
	DisableKeyring bool

	// Keyring overrides the system keyring, for tests. Nil means the real one.
	Keyring keyringAPI
}

// Store is the uniform credential store. Save and Clear are serialized;
// Get may run concurrently with other Gets.
type Store struct {
	mu      sync.RWMutex
	backend Backend
	file    *fileBackend
	logger  *slog.Logger
}

// Open selects a backend and returns the Store. The keyring is probed with
// a write/read/delete round-trip exactly once; on any probe failure the
// encrypted-file fallback is used for the remainder of the process.
func Open(opts Options, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.Dir == "" {
		return nil, fmt.Errorf("credstore: fallback directory must not be empty")
	}

	service := opts.ServiceName
	if service == "" {
		service = defaultService
	}

	s := &Store{
		file:   newFileBackend(opts.Dir),
		logger: logger,
	}
	s.backend = s.file

	if opts.DisableKeyring {
		logger.Info("credential storage: keyring disabled, using encrypted file",
			slog.String("dir", opts.Dir),
		)

		return s, nil
	}

	kb := newKeyringBackend(service, opts.Keyring)
	if err := kb.probe(); err != nil {
		logger.Warn("system keyring unavailable, falling back to encrypted file",
			slog.String("error", err.Error()),
			slog.String("dir", opts.Dir),
		)

		return s, nil
	}

	s.backend = kb
	logger.Debug("credential storage: using system keyring",
		slog.String("service", service),
	)

	return s, nil
}

// BackendName reports which backend is currently active.
func (s *Store) BackendName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.backend.Name()
}

// Save persists the record atomically. A keyring failure mid-save switches
// to the file fallback for the rest of the process without losing the
// caller's record. Returns ErrUnavailable only when both backends fail.
func (s *Store) Save(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.backend.Save(rec)
	if err == nil {
		return nil
	}

	if !s.usingFile() {
		s.logger.Warn("keyring save failed, switching to encrypted file backend",
			slog.String("error", err.Error()),
		)

		s.backend = s.file

		fileErr := s.file.Save(rec)
		if fileErr == nil {
			return nil
		}

		err = fileErr
	}

	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// Get returns the stored record, ErrNotFound if never authenticated, or
// ErrCorrupted if the record exists but cannot be recovered. When the
// keyring is active but holds nothing, the file fallback is consulted so
// records written during an earlier fallback run remain reachable.
func (s *Store) Get() (*Record, error) {
	s.mu.RLock()
	backend := s.backend
	s.mu.RUnlock()

	rec, err := backend.Get()
	if err == nil {
		return rec, nil
	}

	if errors.Is(err, ErrNotFound) {
		if _, fromFile := backend.(*fileBackend); !fromFile {
			return s.file.Get()
		}
	}

	return nil, err
}

// usingFile reports whether the file fallback is the active backend.
// Callers must hold mu.
func (s *Store) usingFile() bool {
	_, ok := s.backend.(*fileBackend)
	return ok
}

// Clear removes the record from every backend that might hold it.
// Clearing an empty store is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error

	if !s.usingFile() {
		if err := s.backend.Clear(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := s.file.Clear(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("credstore: clearing: %w", errors.Join(errs...))
	}

	return nil
}
