package credential

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	credTestRoot = "/data/credentials"
	credTestID   = "tenant-1"
)

func newTestStore() *Store {
	return NewStoreWithFs(afero.NewMemMapFs(), credTestRoot)
}

func TestStore_LoadCreatesDirectory(t *testing.T) {
	store := newTestStore()

	h, err := store.Load(credTestID)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, credTestID, h.SessionID)

	ok, err := afero.DirExists(store.fs, h.Dir())
	require.NoError(t, err)
	assert.True(t, ok, "Load should create the credential dir")
}

func TestStore_HasExisting(t *testing.T) {
	store := newTestStore()

	assert.False(t, store.HasExisting(credTestID), "missing dir has no material")

	h, err := store.Load(credTestID)
	require.NoError(t, err)
	assert.False(t, store.HasExisting(credTestID), "empty dir has no material")

	require.NoError(t, h.Put("creds.json", []byte(`{"noise":"key"}`)))
	assert.True(t, store.HasExisting(credTestID))
}

func TestStore_DeleteIdempotent(t *testing.T) {
	store := newTestStore()

	h, err := store.Load(credTestID)
	require.NoError(t, err)
	require.NoError(t, h.Put("creds.json", []byte("material")))

	require.NoError(t, store.Delete(credTestID))
	assert.False(t, store.HasExisting(credTestID))

	// Second delete of an absent directory must not error.
	require.NoError(t, store.Delete(credTestID))
}

func TestHandle_PutGetRoundTrip(t *testing.T) {
	store := newTestStore()

	h, err := store.Load(credTestID)
	require.NoError(t, err)

	require.False(t, h.Has("creds.json"))
	require.NoError(t, h.Put("creds.json", []byte("v1")))
	require.True(t, h.Has("creds.json"))

	got, err := h.Get("creds.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	// Put replaces previous content (store-on-update for rotated keys).
	require.NoError(t, h.Put("creds.json", []byte("v2")))
	got, err = h.Get("creds.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestStore_RejectsUnsafeIDs(t *testing.T) {
	store := newTestStore()

	for _, id := range []string{"", ".", "..", "../escape", "a/b", `a\b`} {
		_, err := store.Load(id)
		assert.ErrorIs(t, err, ErrInvalidID, "Load %q", id)
		assert.ErrorIs(t, store.Delete(id), ErrInvalidID, "Delete %q", id)
		assert.False(t, store.HasExisting(id), "HasExisting %q", id)
	}
}

func TestHandle_GetMissing(t *testing.T) {
	store := newTestStore()

	h, err := store.Load(credTestID)
	require.NoError(t, err)

	_, err = h.Get("absent.json")
	assert.Error(t, err)
}
