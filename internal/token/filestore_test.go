package token

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/model"
)

func testKey() string {
	return hex.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), testKey())
	require.NoError(t, err)
	ctx := context.Background()

	cred := model.Credential{
		AccessToken:   "at-1",
		RefreshToken:  "rt-1",
		RealmID:       "9341452",
		Expiry:        time.Now().Add(time.Hour).Truncate(time.Second),
		RefreshIssued: time.Now().Truncate(time.Second),
	}

	require.NoError(t, store.Put(ctx, "pilot_001", cred))

	got, err := store.Get(ctx, "pilot_001")
	require.NoError(t, err)
	assert.Equal(t, cred.AccessToken, got.AccessToken)
	assert.Equal(t, cred.RefreshToken, got.RefreshToken)
	assert.Equal(t, cred.RealmID, got.RealmID)
	assert.True(t, cred.Expiry.Equal(got.Expiry))
}

func TestFileStoreEncryptsAtRest(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, testKey())
	require.NoError(t, err)

	require.NoError(t, store.Put(context.Background(), "pilot_001", model.Credential{
		AccessToken:  "super-secret-access-token",
		RefreshToken: "super-secret-refresh-token",
	}))

	blob, err := os.ReadFile(filepath.Join(dir, "pilot_001.tok"))
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "super-secret-access-token")
	assert.NotContains(t, string(blob), "super-secret-refresh-token")
}

func TestFileStoreNotFound(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), testKey())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewFileStoreRejectsBadKey(t *testing.T) {
	_, err := NewFileStore(t.TempDir(), "deadbeef")
	assert.Error(t, err)

	_, err = NewFileStore(t.TempDir(), "not-hex")
	assert.Error(t, err)
}
