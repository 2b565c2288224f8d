package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bnema/hiddenprofile/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRejectsInvalidKeys(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	testCases := []struct {
		name    string
		key     string
		wantErr string
	}{
		{name: "empty", key: "", wantErr: "secret key is empty"},
		{name: "whitespace", key: "   ", wantErr: "secret key is empty"},
		{name: "absolute", key: "/absolute/path", wantErr: "invalid secret key"},
		{name: "traversal", key: "../escape", wantErr: "invalid secret key"},
		{name: "deep traversal", key: "../../secret", wantErr: "invalid secret key"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := store.Put(context.Background(), tc.key, "value")
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestStorePutGetRoundTripAndPermissions(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := NewStore(root)
	key := "api/instructor_token"

	require.NoError(t, store.Put(context.Background(), key, "first"))
	require.NoError(t, store.Put(context.Background(), key, "top-secret"))

	got, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "top-secret", got)

	info, err := os.Stat(filepath.Join(root, key))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(secretFileMod), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Join(root, "api"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestStoreGetMissingSecret(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())

	_, err := store.Get(context.Background(), "api/instructor_token")
	assert.ErrorIs(t, err, ports.ErrSecretNotFound)
}

func TestStoreGetTrimsTrailingNewline(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "token"), []byte("hand-edited\n"), 0o600))

	got, err := NewStore(root).Get(context.Background(), "token")
	require.NoError(t, err)
	assert.Equal(t, "hand-edited", got)
}

func TestStoreGetOrCreate(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	calls := 0
	generate := func() (string, error) {
		calls++
		return "generated", nil
	}

	value, created, err := store.GetOrCreate(context.Background(), "api/instructor_token", generate)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "generated", value)

	value, created, err = store.GetOrCreate(context.Background(), "api/instructor_token", generate)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "generated", value)
	assert.Equal(t, 1, calls)

	boom := errors.New("entropy exhausted")
	_, _, err = store.GetOrCreate(context.Background(), "api/other", func() (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)
	_, err = store.Get(context.Background(), "api/other")
	assert.ErrorIs(t, err, ports.ErrSecretNotFound)
}

func TestStoreDeleteIsIdempotentWhenSecretMissing(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	key := "api/instructor_token"

	err := store.Delete(context.Background(), key)
	require.NoError(t, err)

	err = store.Delete(context.Background(), key)
	require.NoError(t, err)
}
