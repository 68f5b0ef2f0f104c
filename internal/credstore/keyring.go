package credstore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// Keys within the keyring service entry.
const (
	recordKey = "credentials"
	probeKey  = "probe"
)

// probeValue is written and read back during the keyring availability probe.
const probeValue = "dropbox-go-probe"

// keyringAPI abstracts the system keyring so tests can inject an in-memory
// fake or a failing implementation.
type keyringAPI interface {
	Set(service, key, value string) error
	Get(service, key string) (string, error)
	Delete(service, key string) error
}

// systemKeyring is the production keyringAPI backed by the OS keystore
// (Secret Service on Linux, Keychain on macOS, Credential Manager on Windows).
type systemKeyring struct{}

func (systemKeyring) Set(service, key, value string) error { return keyring.Set(service, key, value) }

func (systemKeyring) Get(service, key string) (string, error) { return keyring.Get(service, key) }

func (systemKeyring) Delete(service, key string) error { return keyring.Delete(service, key) }

// keyringBackend stores the credential record as a single JSON entry in the
// native keystore.
type keyringBackend struct {
	service string
	api     keyringAPI
}

func newKeyringBackend(service string, api keyringAPI) *keyringBackend {
	if api == nil {
		api = systemKeyring{}
	}

	return &keyringBackend{service: service, api: api}
}

func (b *keyringBackend) Name() string { return "keyring" }

// probe performs a trivial write/read/delete round-trip. Any failure, not
// just absence of a keyring daemon, marks the backend unavailable: a keystore
// that accepts writes but cannot read them back is worse than no keystore.
func (b *keyringBackend) probe() error {
	if err := b.api.Set(b.service, probeKey, probeValue); err != nil {
		return fmt.Errorf("probe write: %w", err)
	}

	got, err := b.api.Get(b.service, probeKey)
	if err != nil {
		return fmt.Errorf("probe read: %w", err)
	}

	if delErr := b.api.Delete(b.service, probeKey); delErr != nil {
		return fmt.Errorf("probe delete: %w", delErr)
	}

	if got != probeValue {
		return fmt.Errorf("probe read back %q, want %q", got, probeValue)
	}

	return nil
}

func (b *keyringBackend) Save(rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("credstore: encoding record: %w", err)
	}

	if err := b.api.Set(b.service, recordKey, string(data)); err != nil {
		return fmt.Errorf("credstore: keyring write: %w", err)
	}

	return nil
}

func (b *keyringBackend) Get() (*Record, error) {
	raw, err := b.api.Get(b.service, recordKey)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("credstore: keyring read: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("%w: keyring entry is not a credential record: %w", ErrCorrupted, err)
	}

	return &rec, nil
}

func (b *keyringBackend) Clear() error {
	err := b.api.Delete(b.service, recordKey)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("credstore: keyring delete: %w", err)
	}

	return nil
}
