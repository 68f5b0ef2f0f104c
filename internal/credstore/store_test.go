package credstore

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

// fakeKeyring is an in-memory keyringAPI. Individual operations can be
// forced to fail to simulate broken keystores.
type fakeKeyring struct {
	mu      sync.Mutex
	entries map[string]string

	failSet bool
	failGet bool

	setCalls int
}

func newFakeKeyring() *fakeKeyring {
	return &fakeKeyring{entries: make(map[string]string)}
}

func (f *fakeKeyring) Set(service, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.setCalls++

	if f.failSet {
		return errors.New("keyring daemon not running")
	}

	f.entries[service+"/"+key] = value

	return nil
}

func (f *fakeKeyring) Get(service, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failGet {
		return "", errors.New("keyring read denied")
	}

	v, ok := f.entries[service+"/"+key]
	if !ok {
		return "", keyring.ErrNotFound
	}

	return v, nil
}

func (f *fakeKeyring) Delete(service, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.entries[service+"/"+key]; !ok {
		return keyring.ErrNotFound
	}

	delete(f.entries, service+"/"+key)

	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testRecord() *Record {
	return &Record{
		AppKey:       "app-key",
		AppSecret:    "app-secret",
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		Expiry:       time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func openKeyringStore(t *testing.T, fk *fakeKeyring) *Store {
	t.Helper()

	s, err := Open(Options{Dir: t.TempDir(), Keyring: fk}, testLogger())
	require.NoError(t, err)

	return s
}

func openFileStore(t *testing.T, dir string) *Store {
	t.Helper()

	s, err := Open(Options{Dir: dir, DisableKeyring: true}, testLogger())
	require.NoError(t, err)

	return s
}

func TestOpen_RequiresDir(t *testing.T) {
	_, err := Open(Options{}, testLogger())
	assert.Error(t, err)
}

func TestOpen_ProbeSelectsKeyring(t *testing.T) {
	s := openKeyringStore(t, newFakeKeyring())
	assert.Equal(t, "keyring", s.BackendName())
}

func TestOpen_ProbeFailureSelectsFile(t *testing.T) {
	fk := newFakeKeyring()
	fk.failSet = true

	s := openKeyringStore(t, fk)
	assert.Equal(t, "encrypted-file", s.BackendName())
}

func TestOpen_ProbeReadFailureSelectsFile(t *testing.T) {
	fk := newFakeKeyring()
	fk.failGet = true

	s := openKeyringStore(t, fk)
	assert.Equal(t, "encrypted-file", s.BackendName())
}

func TestOpen_ProbeRunsOnce(t *testing.T) {
	fk := newFakeKeyring()
	fk.failSet = true

	s := openKeyringStore(t, fk)
	callsAfterProbe := fk.setCalls

	// Saves and gets must never touch the keyring again this process.
	require.NoError(t, s.Save(testRecord()))

	_, err := s.Get()
	require.NoError(t, err)

	assert.Equal(t, callsAfterProbe, fk.setCalls)
}

func TestKeyringRoundTrip(t *testing.T) {
	s := openKeyringStore(t, newFakeKeyring())

	rec := testRecord()
	require.NoError(t, s.Save(rec))

	got, err := s.Get()
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := openFileStore(t, dir)

	rec := testRecord()
	require.NoError(t, s.Save(rec))

	got, err := s.Get()
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	// The payload on disk must not contain the plaintext tokens.
	raw, err := os.ReadFile(filepath.Join(dir, payloadFileName))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "access-token")
	assert.NotContains(t, string(raw), "app-secret")
}

func TestFileRoundTrip_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	rec := testRecord()

	require.NoError(t, openFileStore(t, dir).Save(rec))

	// A fresh Store (new process) must reuse the persisted key, not
	// regenerate it.
	got, err := openFileStore(t, dir).Get()
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestGet_NeverAuthenticated(t *testing.T) {
	s := openFileStore(t, t.TempDir())

	_, err := s.Get()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet_KeyringEmpty(t *testing.T) {
	s := openKeyringStore(t, newFakeKeyring())

	_, err := s.Get()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet_MissingKeyIsCorrupted(t *testing.T) {
	dir := t.TempDir()
	s := openFileStore(t, dir)
	require.NoError(t, s.Save(testRecord()))

	require.NoError(t, os.Remove(filepath.Join(dir, keyFileName)))

	_, err := s.Get()
	assert.ErrorIs(t, err, ErrCorrupted)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestGet_WrongKeyIsCorrupted(t *testing.T) {
	dir := t.TempDir()
	s := openFileStore(t, dir)
	require.NoError(t, s.Save(testRecord()))

	// Replace the key with a different (valid-format) one.
	other := t.TempDir()
	require.NoError(t, openFileStore(t, other).Save(testRecord()))
	otherKey, err := os.ReadFile(filepath.Join(other, keyFileName))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, keyFileName), otherKey, 0o600))

	_, err = s.Get()
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestGet_TruncatedPayloadIsCorrupted(t *testing.T) {
	dir := t.TempDir()
	s := openFileStore(t, dir)
	require.NoError(t, s.Save(testRecord()))

	require.NoError(t, os.WriteFile(filepath.Join(dir, payloadFileName), []byte{1, 2, 3}, 0o600))

	_, err := s.Get()
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestGet_MangledKeyFileIsCorruptedOnSave(t *testing.T) {
	dir := t.TempDir()
	s := openFileStore(t, dir)
	require.NoError(t, s.Save(testRecord()))

	require.NoError(t, os.WriteFile(filepath.Join(dir, keyFileName), []byte("zz-not-hex"), 0o600))

	err := s.Save(testRecord())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSave_KeyringFailureFallsBackTransparently(t *testing.T) {
	fk := newFakeKeyring()
	s := openKeyringStore(t, fk)
	require.Equal(t, "keyring", s.BackendName())

	// The keystore breaks after the probe succeeded.
	fk.failSet = true

	rec := testRecord()
	require.NoError(t, s.Save(rec))
	assert.Equal(t, "encrypted-file", s.BackendName())

	got, err := s.Get()
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestGet_FallsThroughToFileRecord(t *testing.T) {
	dir := t.TempDir()
	rec := testRecord()

	// Record written during an earlier fallback run.
	require.NoError(t, openFileStore(t, dir).Save(rec))

	// A later run where the keyring works but is empty must still find it.
	s, err := Open(Options{Dir: dir, Keyring: newFakeKeyring()}, testLogger())
	require.NoError(t, err)
	require.Equal(t, "keyring", s.BackendName())

	got, err := s.Get()
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestClear_Idempotent(t *testing.T) {
	s := openFileStore(t, t.TempDir())
	require.NoError(t, s.Save(testRecord()))

	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear())

	_, err := s.Get()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClear_RemovesFromKeyring(t *testing.T) {
	s := openKeyringStore(t, newFakeKeyring())
	require.NoError(t, s.Save(testRecord()))

	require.NoError(t, s.Clear())

	_, err := s.Get()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClear_PreservesKeyFile(t *testing.T) {
	dir := t.TempDir()
	s := openFileStore(t, dir)
	require.NoError(t, s.Save(testRecord()))
	require.NoError(t, s.Clear())

	// Key survives so the next save reuses it.
	_, err := os.Stat(filepath.Join(dir, keyFileName))
	assert.NoError(t, err)
}

func TestSave_FilePermissions(t *testing.T) {
	dir := t.TempDir()
	s := openFileStore(t, dir)
	require.NoError(t, s.Save(testRecord()))

	for _, name := range []string{payloadFileName, keyFileName} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm(), name)
	}
}

func TestSave_ConcurrentWritesDoNotCorrupt(t *testing.T) {
	s := openFileStore(t, t.TempDir())

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			rec := testRecord()
			rec.AccessToken = string(rune('a' + i))
			assert.NoError(t, s.Save(rec))
		}()
	}

	wg.Wait()

	got, err := s.Get()
	require.NoError(t, err)
	assert.NotEmpty(t, got.AccessToken)
}

func TestRecord_Valid(t *testing.T) {
	now := time.Now()

	assert.False(t, (*Record)(nil).Valid(now))
	assert.False(t, (&Record{}).Valid(now))
	assert.True(t, (&Record{AccessToken: "t"}).Valid(now), "zero expiry never expires")
	assert.True(t, (&Record{AccessToken: "t", Expiry: now.Add(time.Hour)}).Valid(now))
	assert.False(t, (&Record{AccessToken: "t", Expiry: now.Add(-time.Hour)}).Valid(now))
	assert.False(t, (&Record{AccessToken: "t", Expiry: now.Add(5 * time.Second)}).Valid(now), "inside skew window")
}

func TestRecord_Token(t *testing.T) {
	rec := testRecord()
	tok := rec.Token()

	assert.Equal(t, rec.AccessToken, tok.AccessToken)
	assert.Equal(t, rec.RefreshToken, tok.RefreshToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, tok.Expiry.Equal(rec.Expiry))
}
