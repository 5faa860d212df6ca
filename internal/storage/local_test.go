package storage_test

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sproutly/sproutly/server/internal/storage"
)

func newLocal(t *testing.T) *storage.LocalStore {
	t.Helper()
	s, err := storage.NewLocalStore(t.TempDir(), "http://localhost:8080/photos", "test-secret")
	require.NoError(t, err)
	return s
}

func TestPutOpenRoundTrip(t *testing.T) {
	s := newLocal(t)
	key := "u1/temp-abc/identification-1.jpg"
	require.NoError(t, s.Put(context.Background(), key, []byte("jpeg bytes"), "image/jpeg"))

	data, err := s.Open(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg bytes"), data)
}

func TestSignedURLVerifies(t *testing.T) {
	s := newLocal(t)
	key := "u1/temp-abc/photo.jpg"

	signed, err := s.SignedURL(key, time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(signed, "http://localhost:8080/photos/"+key+"?"))

	u, err := url.Parse(signed)
	require.NoError(t, err)
	exp, err := strconv.ParseInt(u.Query().Get("exp"), 10, 64)
	require.NoError(t, err)
	sig := u.Query().Get("sig")

	assert.True(t, s.Verify(key, exp, sig))
	// A different key fails with the same signature.
	assert.False(t, s.Verify("u2/other.jpg", exp, sig))
	// Tampering with the expiry fails.
	assert.False(t, s.Verify(key, exp+60, sig))
}

func TestVerifyRejectsExpired(t *testing.T) {
	s := newLocal(t)
	exp := time.Now().Add(-time.Minute).Unix()
	// Even a correctly signed but expired link is rejected; compute the
	// signature by signing through the public path with a negative TTL
	// clamped away, so just assert on a stale exp directly.
	assert.False(t, s.Verify("u1/photo.jpg", exp, "deadbeef"))
}

func TestKeyTraversalRejected(t *testing.T) {
	s := newLocal(t)
	err := s.Put(context.Background(), "../../etc/passwd", []byte("nope"), "")
	// The cleaned path stays under the base dir or the key is rejected;
	// either way nothing outside basePath is reachable.
	if err == nil {
		_, openErr := s.Open("../../etc/passwd")
		assert.Error(t, openErr)
	}
}

func TestListFiltersByPrefix(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "u1/temp-a/one.jpg", []byte("1"), ""))
	require.NoError(t, s.Put(ctx, "u1/temp-a/two.jpg", []byte("22"), ""))
	require.NoError(t, s.Put(ctx, "u2/temp-b/three.jpg", []byte("333"), ""))

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	u1, err := s.List(ctx, "u1/")
	require.NoError(t, err)
	require.Len(t, u1, 2)
	for _, obj := range u1 {
		assert.True(t, strings.HasPrefix(obj.Key, "u1/"))
		assert.NotZero(t, obj.Size)
		assert.False(t, obj.Modified.IsZero())
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()
	key := "u1/temp-a/photo.jpg"
	require.NoError(t, s.Put(ctx, key, []byte("x"), ""))

	require.NoError(t, s.Delete(ctx, key))
	_, err := s.Open(key)
	assert.Error(t, err)
	// Deleting a missing object is not an error.
	require.NoError(t, s.Delete(ctx, key))
}

func TestSignedURLDefaultExpiry(t *testing.T) {
	s := newLocal(t)
	signed, err := s.SignedURL("u1/photo.jpg", 0)
	require.NoError(t, err)

	u, err := url.Parse(signed)
	require.NoError(t, err)
	exp, err := strconv.ParseInt(u.Query().Get("exp"), 10, 64)
	require.NoError(t, err)
	// Falls back to an hour.
	assert.Greater(t, exp, time.Now().Add(50*time.Minute).Unix())
	assert.Less(t, exp, time.Now().Add(70*time.Minute).Unix())
}
