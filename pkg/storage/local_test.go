package storage

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T) *LocalStorage {
	t.Helper()
	store, err := NewLocalStorage(t.TempDir(), "http://localhost:8080/api/v1/media/videos", NewSignedURLSigner("secret", time.Hour))
	require.NoError(t, err)
	return store
}

func TestLocalStoragePutOpenDelete(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()
	body := []byte("fake-mp4-bytes")

	location, err := store.Put(ctx, "lessons/l-1/a.mp4", bytes.NewReader(body), int64(len(body)), "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, "local:///lessons/l-1/a.mp4", location)

	file, err := store.Open("lessons/l-1/a.mp4")
	require.NoError(t, err)
	got, err := io.ReadAll(file)
	require.NoError(t, err)
	require.NoError(t, file.Close())
	assert.Equal(t, body, got)

	require.NoError(t, store.Delete(ctx, "lessons/l-1/a.mp4"))
	require.NoError(t, store.Delete(ctx, "lessons/l-1/a.mp4"))

	_, err = store.Open("lessons/l-1/a.mp4")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestLocalStorageRejectsShortWrite(t *testing.T) {
	store := newLocal(t)
	_, err := store.Put(context.Background(), "lessons/l-1/a.mp4", strings.NewReader("abc"), 10, "video/mp4")
	assert.Error(t, err)

	_, err = store.Open("lessons/l-1/a.mp4")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestLocalStorageRejectsTraversal(t *testing.T) {
	store := newLocal(t)
	_, err := store.Put(context.Background(), "../escape.mp4", strings.NewReader("x"), 1, "video/mp4")
	assert.Error(t, err)

	_, err = store.Open("lessons/../../etc/passwd")
	assert.Error(t, err)
}

func TestLocalStorageSignedURLRoundTrip(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()
	_, err := store.Put(ctx, "lessons/l-1/a.mp4", strings.NewReader("video"), 5, "video/mp4")
	require.NoError(t, err)

	signed, expiresAt, err := store.SignedURL(ctx, "lessons/l-1/a.mp4", time.Minute)
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))
	require.True(t, strings.HasPrefix(signed, "http://localhost:8080/api/v1/media/videos?token="))

	parsed, err := url.Parse(signed)
	require.NoError(t, err)
	file, err := store.Redeem(parsed.Query().Get("token"))
	require.NoError(t, err)
	defer file.Close() //nolint:errcheck
	got, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, "video", string(got))
}

func TestVideoKey(t *testing.T) {
	key := VideoKey("lesson-1", "video/webm")
	assert.True(t, strings.HasPrefix(key, "lessons/lesson-1/"))
	assert.True(t, strings.HasSuffix(key, ".webm"))

	cleaned, err := CleanKey(key)
	require.NoError(t, err)
	assert.Equal(t, key, cleaned)
}
