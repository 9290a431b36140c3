package server

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leasehold/apiserver/config"
	"github.com/leasehold/apiserver/internal/storage"
)

func TestOpenObjectStorage(t *testing.T) {
	ctx := context.Background()

	backend, err := openObjectStorage(ctx, config.StorageConfig{Backend: "bucket", BucketURL: "mem://"})
	require.NoError(t, err)
	require.IsType(t, &storage.BucketClient{}, backend)
	require.NoError(t, backend.EnsureBucket(ctx))
	require.NoError(t, backend.(io.Closer).Close())

	_, err = openObjectStorage(ctx, config.StorageConfig{Backend: "floppy"})
	assert.ErrorContains(t, err, "floppy")

	_, err = openObjectStorage(ctx, config.StorageConfig{Backend: "minio"})
	assert.Error(t, err)
}

func TestNew_RequiresSigningSecret(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := New(context.Background(), config.Config{}, logger)
	assert.ErrorContains(t, err, "JWT_SECRET")
}
