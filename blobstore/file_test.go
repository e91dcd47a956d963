package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medicrypt/record-access-backend/interfaces"
)

func TestFileBackendRoundtrip(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	ctx := context.Background()

	ciphertext := []byte("opaque encrypted bytes")
	address, err := backend.Upload(ctx, ciphertext)
	require.NoError(t, err)

	expected := sha256.Sum256(ciphertext)
	assert.Equal(t, hex.EncodeToString(expected[:]), address)

	got, err := backend.Download(ctx, address)
	require.NoError(t, err)
	assert.Equal(t, ciphertext, got)

	assert.True(t, backend.Available(ctx))
}

func TestFileBackendNotFound(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	ctx := context.Background()

	missing := sha256.Sum256([]byte("never uploaded"))
	_, err = backend.Download(ctx, hex.EncodeToString(missing[:]))
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
}

func TestFileBackendRejectsNonDigestAddresses(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	ctx := context.Background()

	for _, address := range []string{
		"../../etc/passwd",
		"short",
		"zz" + hex.EncodeToString(make([]byte, 31)),
	} {
		_, err := backend.Download(ctx, address)
		assert.ErrorIs(t, err, interfaces.ErrContentNotFound, "address %q", address)
	}
}
