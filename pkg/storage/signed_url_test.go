package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerGenerateAndParse(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Generate("lessons/l-1/video.mp4", 0)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.False(t, expiresAt.IsZero())

	key, parsedExpiry, err := signer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "lessons/l-1/video.mp4", key)
	assert.WithinDuration(t, expiresAt, parsedExpiry, time.Second)
}

func TestSignedURLSignerExpired(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	base := time.Now()
	signer.now = func() time.Time { return base }

	token, _, err := signer.Generate("lessons/l-1/video.mp4", time.Minute)
	require.NoError(t, err)

	signer.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, _, err = signer.Parse(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestSignedURLSignerRejectsTampering(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Generate("lessons/l-1/video.mp4", 0)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	parts[0] = "9999999999"
	_, _, err = signer.Parse(strings.Join(parts, "."))
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewSignedURLSigner("other", time.Hour)
	_, _, err = other.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, _, err = signer.Parse("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSignedURLSignerRequiresSecret(t *testing.T) {
	_, _, err := NewSignedURLSigner("", time.Hour).Generate("lessons/a.mp4", 0)
	assert.Error(t, err)
}
