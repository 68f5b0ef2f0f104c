package credstore

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/secretbox"
)

// On-disk layout of the encrypted-file fallback. The symmetric key lives in
// a separate file beside the payload so losing one without the other is
// detectable as corruption rather than silent data loss.
const (
	payloadFileName = "credentials.enc"
	keyFileName     = "credentials.key"

	// FilePerms restricts credential files to owner-only read/write.
	FilePerms = 0o600

	// DirPerms is used when creating the credential directory.
	DirPerms = 0o700
)

const (
	keySize   = 32
	nonceSize = 24
)

// fileBackend stores the credential record as a NaCl secretbox-sealed JSON
// blob. The key is generated once and reused; it is never silently
// regenerated, because regeneration would invalidate the stored payload.
type fileBackend struct {
	dir string
}

func newFileBackend(dir string) *fileBackend {
	return &fileBackend{dir: dir}
}

func (b *fileBackend) Name() string { return "encrypted-file" }

func (b *fileBackend) payloadPath() string { return filepath.Join(b.dir, payloadFileName) }

func (b *fileBackend) keyPath() string { return filepath.Join(b.dir, keyFileName) }

func (b *fileBackend) Save(rec *Record) error {
	key, err := b.loadOrCreateKey()
	if err != nil {
		return err
	}

	plaintext, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("credstore: encoding record: %w", err)
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("credstore: generating nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, key)

	if err := atomicWrite(b.payloadPath(), sealed); err != nil {
		return fmt.Errorf("credstore: writing payload: %w", err)
	}

	return nil
}

func (b *fileBackend) Get() (*Record, error) {
	sealed, err := os.ReadFile(b.payloadPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("credstore: reading payload: %w", err)
	}

	// Payload exists, so a missing or unreadable key means the record is
	// unrecoverable, which is distinct from "never authenticated".
	key, err := b.loadKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupted, err)
	}

	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("%w: payload truncated (%d bytes)", ErrCorrupted, len(sealed))
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, key)
	if !ok {
		return nil, fmt.Errorf("%w: payload does not decrypt with stored key", ErrCorrupted)
	}

	var rec Record
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return nil, fmt.Errorf("%w: decrypted payload is not a credential record: %w", ErrCorrupted, err)
	}

	return &rec, nil
}

// Clear removes the payload. The key file is kept so subsequent saves reuse
// the established key. Idempotent.
func (b *fileBackend) Clear() error {
	err := os.Remove(b.payloadPath())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("credstore: removing payload: %w", err)
	}

	return nil
}

// loadKey reads the symmetric key, failing if it does not exist.
func (b *fileBackend) loadKey() (*[keySize]byte, error) {
	raw, err := os.ReadFile(b.keyPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("encryption key file %s is missing", b.keyPath())
	}

	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	return decodeKey(raw)
}

// loadOrCreateKey returns the existing key, generating and persisting a new
// one only when no key file exists yet.
func (b *fileBackend) loadOrCreateKey() (*[keySize]byte, error) {
	raw, err := os.ReadFile(b.keyPath())
	if err == nil {
		key, decErr := decodeKey(raw)
		if decErr != nil {
			// A mangled key file cannot be repaired by regenerating: that
			// would silently orphan the existing payload.
			return nil, fmt.Errorf("%w: %w", ErrCorrupted, decErr)
		}

		return key, nil
	}

	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("credstore: reading key file: %w", err)
	}

	var key [keySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("credstore: generating key: %w", err)
	}

	encoded := []byte(hex.EncodeToString(key[:]))
	if err := atomicWrite(b.keyPath(), encoded); err != nil {
		return nil, fmt.Errorf("credstore: writing key file: %w", err)
	}

	return &key, nil
}

// decodeKey parses a hex-encoded 32-byte key.
func decodeKey(raw []byte) (*[keySize]byte, error) {
	decoded, err := hex.DecodeString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("key file is not valid hex: %w", err)
	}

	if len(decoded) != keySize {
		return nil, fmt.Errorf("key file holds %d bytes, want %d", len(decoded), keySize)
	}

	var key [keySize]byte
	copy(key[:], decoded)

	return &key, nil
}

// atomicWrite writes data with 0600 permissions via write-to-temp + rename,
// syncing before the rename so a crash cannot leave a partial file at the
// final path.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".cred-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming: %w", err)
	}

	success = true

	return nil
}
