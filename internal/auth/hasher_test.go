package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestHasher(t *testing.T, workers int) *Hasher {
	t.Helper()
	h, err := NewHasher(bcrypt.MinCost, workers)
	require.NoError(t, err)
	return h
}

func TestHasher_HashAndVerify(t *testing.T) {
	h := newTestHasher(t, 2)
	ctx := context.Background()

	hash, err := h.Hash(ctx, "Secret1!")
	require.NoError(t, err)
	assert.NotEqual(t, "Secret1!", hash)
	assert.True(t, strings.HasPrefix(hash, "$2a$"))

	ok, err := h.Verify(ctx, "Secret1!", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify(ctx, "Secret1?", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasher_SaltsEveryHash(t *testing.T) {
	h := newTestHasher(t, 1)
	ctx := context.Background()

	first, err := h.Hash(ctx, "same")
	require.NoError(t, err)
	second, err := h.Hash(ctx, "same")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestHasher_MalformedHashIsMismatch(t *testing.T) {
	h := newTestHasher(t, 1)

	for _, hash := range []string{"", "plain", "$2a$04$short", "$argon2id$v=19$m=1,t=1,p=1$AA$AA"} {
		ok, err := h.Verify(context.Background(), "whatever", hash)
		require.NoError(t, err)
		assert.False(t, ok, "hash %q", hash)
	}
}

func TestHasher_EmptyPassword(t *testing.T) {
	h := newTestHasher(t, 1)

	_, err := h.Hash(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyPassword)
}

func TestHasher_PasswordLengthIsCountedInBytes(t *testing.T) {
	h := newTestHasher(t, 1)
	ctx := context.Background()

	_, err := h.Hash(ctx, strings.Repeat("é", 72))
	assert.ErrorIs(t, err, ErrPasswordTooLong)

	_, err = h.Hash(ctx, strings.Repeat("é", 36))
	assert.NoError(t, err)
}

func TestHasher_DummyMatchesNothing(t *testing.T) {
	h := newTestHasher(t, 1)

	_, err := bcrypt.Cost([]byte(h.Dummy()))
	require.NoError(t, err)
	ok, err := h.Verify(context.Background(), "", h.Dummy())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasher_WaitsForSlotUntilDeadline(t *testing.T) {
	h := newTestHasher(t, 1)
	require.True(t, h.slots.TryAcquire(1))
	defer h.slots.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.Hash(ctx, "Secret1!")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = h.Verify(ctx, "Secret1!", h.Dummy())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewHasher_RejectsBadCost(t *testing.T) {
	_, err := NewHasher(bcrypt.MaxCost+1, 1)
	assert.Error(t, err)
}
