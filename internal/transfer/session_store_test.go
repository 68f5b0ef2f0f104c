package transfer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionStore(t *testing.T) (*SessionStore, string) {
	t.Helper()

	dir := t.TempDir()

	return NewSessionStore(dir, testLogger()), dir
}

func TestSessionStore_RoundTrip(t *testing.T) {
	store, _ := newTestSessionStore(t)

	rec := &SessionRecord{
		SessionID:  "sess-1",
		LocalPath:  "/home/user/big.bin",
		RemotePath: "/big.bin",
		FileHash:   "abc123",
		FileSize:   200000,
		ChunkSize:  4096,
		Offset:     8192,
	}

	require.NoError(t, store.Save(rec))
	assert.False(t, rec.CreatedAt.IsZero(), "Save must stamp CreatedAt")

	got, err := store.Load("/home/user/big.bin", "/big.bin")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, int64(8192), got.Offset)
	assert.Equal(t, int64(4096), got.ChunkSize)
}

func TestSessionStore_LoadMissing(t *testing.T) {
	store, _ := newTestSessionStore(t)

	rec, err := store.Load("/no/such", "/file")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSessionStore_OverwriteUpdatesOffset(t *testing.T) {
	store, _ := newTestSessionStore(t)

	rec := &SessionRecord{SessionID: "s", LocalPath: "/a", RemotePath: "/b", Offset: 100}
	require.NoError(t, store.Save(rec))

	rec.Offset = 500
	require.NoError(t, store.Save(rec))

	got, err := store.Load("/a", "/b")
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.Offset)
}

func TestSessionStore_Delete(t *testing.T) {
	store, _ := newTestSessionStore(t)

	require.NoError(t, store.Save(&SessionRecord{SessionID: "s", LocalPath: "/a", RemotePath: "/b"}))
	require.NoError(t, store.Delete("/a", "/b"))

	rec, err := store.Load("/a", "/b")
	require.NoError(t, err)
	assert.Nil(t, rec)

	// Deleting again is fine.
	assert.NoError(t, store.Delete("/a", "/b"))
}

func TestSessionStore_CorruptFileDeleted(t *testing.T) {
	store, dir := newTestSessionStore(t)

	require.NoError(t, store.Save(&SessionRecord{SessionID: "s", LocalPath: "/a", RemotePath: "/b"}))

	path := filepath.Join(dir, sessionSubdir, sessionKey("/a", "/b"))
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	_, err := store.Load("/a", "/b")
	assert.ErrorIs(t, err, ErrCorruptSession)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "corrupt file must be removed")
}

func TestSessionStore_CleanStale(t *testing.T) {
	store, dir := newTestSessionStore(t)

	require.NoError(t, store.Save(&SessionRecord{SessionID: "old", LocalPath: "/old", RemotePath: "/old"}))
	require.NoError(t, store.Save(&SessionRecord{SessionID: "new", LocalPath: "/new", RemotePath: "/new"}))

	// Age the first file past the TTL.
	oldPath := filepath.Join(dir, sessionSubdir, sessionKey("/old", "/old"))
	past := time.Now().Add(-3 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, past, past))

	n, err := store.CleanStale(StaleSessionAge)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := store.Load("/old", "/old")
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = store.Load("/new", "/new")
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestSessionStore_KeyDistinguishesPairs(t *testing.T) {
	// Delimiter characters in paths must not collapse distinct pairs.
	assert.NotEqual(t, sessionKey("a:", "b"), sessionKey("a", ":b"))
	assert.NotEqual(t, sessionKey("/a", "/b"), sessionKey("/b", "/a"))
}
