package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrObjectNotFound is returned when a key does not resolve to a stored object.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore persists lesson videos and hands out time-limited read URLs.
type ObjectStore interface {
	// Put stores the object under key and returns its durable location.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	// Delete removes the object. Missing objects are not an error.
	Delete(ctx context.Context, key string) error
	// SignedURL returns a URL valid until the returned expiry.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error)
}

var videoExtensions = map[string]string{
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"video/quicktime": ".mov",
}

// VideoKey builds a unique object key for a lesson upload.
func VideoKey(lessonID, contentType string) string {
	ext, ok := videoExtensions[strings.ToLower(contentType)]
	if !ok {
		ext = ".bin"
	}
	return path.Join("lessons", lessonID, uuid.NewString()+ext)
}

// CleanKey normalises an object key and rejects keys escaping the store root.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("object key required")
	}
	cleaned := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	if cleaned != key {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return cleaned, nil
}
