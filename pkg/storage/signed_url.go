package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidToken covers malformed or tampered media tokens.
	ErrInvalidToken = errors.New("invalid media token")
	// ErrTokenExpired is returned once a media token is past its expiry.
	ErrTokenExpired = errors.New("media token expired")
)

// SignedURLSigner creates and validates signed media tokens.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and default TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SignedURLSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Generate returns a token granting read access to key until the expiry.
// A non-positive ttl falls back to the signer default.
func (s *SignedURLSigner) Generate(key string, ttl time.Duration) (string, time.Time, error) {
	if key == "" {
		return "", time.Time{}, fmt.Errorf("object key required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	expiresAt := s.now().Add(ttl).Truncate(time.Second)
	encodedKey := base64.RawURLEncoding.EncodeToString([]byte(key))
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	token := strings.Join([]string{ts, encodedKey, s.sign(ts, encodedKey)}, ".")
	return token, expiresAt, nil
}

// Parse validates a token and returns the object key it grants.
func (s *SignedURLSigner) Parse(token string) (string, time.Time, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", time.Time{}, ErrInvalidToken
	}
	ts, encodedKey, signature := parts[0], parts[1], parts[2]

	if !hmac.Equal([]byte(s.sign(ts, encodedKey)), []byte(signature)) {
		return "", time.Time{}, ErrInvalidToken
	}
	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", time.Time{}, ErrInvalidToken
	}
	rawKey, err := base64.RawURLEncoding.DecodeString(encodedKey)
	if err != nil {
		return "", time.Time{}, ErrInvalidToken
	}
	expiresAt := time.Unix(expUnix, 0)
	if s.now().After(expiresAt) {
		return "", time.Time{}, ErrTokenExpired
	}
	return string(rawKey), expiresAt, nil
}

func (s *SignedURLSigner) sign(ts, encodedKey string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(ts + "|" + encodedKey))
	return hex.EncodeToString(mac.Sum(nil))
}
