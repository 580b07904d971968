package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academix-api/pkg/config"
)

type recordedRequest struct {
	Method string
	Path   string
}

func newS3(t *testing.T) (*S3Storage, *[]recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	requests := []recordedRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests = append(requests, recordedRequest{Method: r.Method, Path: r.URL.Path})
		mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			w.Header().Set("ETag", `"etag"`)
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	t.Cleanup(server.Close)

	store, err := NewS3Storage(config.S3Config{
		Endpoint:   server.URL,
		Region:     "us-east-1",
		Bucket:     "videos",
		AccessKey:  "key",
		SecretKey:  "secret",
		PublicBase: "https://cdn.academix.io/",
	})
	require.NoError(t, err)
	return store, &requests
}

func TestS3StoragePutAndDelete(t *testing.T) {
	store, requests := newS3(t)
	ctx := context.Background()

	location, err := store.Put(ctx, "lessons/l-1/a.mp4", strings.NewReader("video"), 5, "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.academix.io/lessons/l-1/a.mp4", location)

	require.NoError(t, store.Delete(ctx, "lessons/l-1/a.mp4"))

	require.Len(t, *requests, 2)
	assert.Equal(t, recordedRequest{Method: http.MethodPut, Path: "/videos/lessons/l-1/a.mp4"}, (*requests)[0])
	assert.Equal(t, recordedRequest{Method: http.MethodDelete, Path: "/videos/lessons/l-1/a.mp4"}, (*requests)[1])
}

func TestS3StorageSignedURL(t *testing.T) {
	store, requests := newS3(t)

	signed, expiresAt, err := store.SignedURL(context.Background(), "lessons/l-1/a.mp4", 15*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, signed, "/videos/lessons/l-1/a.mp4")
	assert.Contains(t, signed, "X-Amz-Signature=")
	assert.Contains(t, signed, "X-Amz-Expires=900")
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, 5*time.Second)
	assert.Empty(t, *requests)
}

func TestNewS3StorageRequiresBucket(t *testing.T) {
	_, err := NewS3Storage(config.S3Config{})
	assert.Error(t, err)
}
