package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// LocalStorage persists objects on disk under a base directory and serves
// them through HMAC-signed media URLs.
type LocalStorage struct {
	baseDir  string
	mediaURL string
	signer   *SignedURLSigner
}

// NewLocalStorage ensures the base directory exists and returns a handle.
// mediaURL is the absolute URL of the endpoint that redeems signed tokens.
func NewLocalStorage(baseDir, mediaURL string, signer *SignedURLSigner) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./storage"
	}
	if signer == nil {
		return nil, fmt.Errorf("signed url signer required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &LocalStorage{baseDir: baseDir, mediaURL: mediaURL, signer: signer}, nil
}

// Put streams r into the target file, replacing any previous object.
func (s *LocalStorage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	target, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("prepare object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create object file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	written, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: r})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("write object stream: %w", err)
	}
	if size > 0 && written != size {
		return "", fmt.Errorf("short object write: %d of %d bytes", written, size)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("commit object file: %w", err)
	}
	return "local:///" + filepath.ToSlash(key), nil
}

// Open returns a read-only handle for the stored object.
func (s *LocalStorage) Open(key string) (*os.File, error) {
	target, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("open object file: %w", err)
	}
	return file, nil
}

// Delete removes a stored object if present.
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	target, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object file: %w", err)
	}
	return nil
}

// SignedURL returns a media URL carrying a signed token for key.
func (s *LocalStorage) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	if _, err := s.resolve(key); err != nil {
		return "", time.Time{}, err
	}
	token, expiresAt, err := s.signer.Generate(key, ttl)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.mediaURL + "?token=" + url.QueryEscape(token), expiresAt, nil
}

// Redeem validates a media token and opens the object it points at.
func (s *LocalStorage) Redeem(token string) (*os.File, error) {
	key, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, err
	}
	return s.Open(key)
}

func (s *LocalStorage) resolve(key string) (string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(cleaned)), nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
