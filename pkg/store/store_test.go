package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naviserver-project/nsdbilite/pkg/lite"
)

func openStore(t *testing.T, key string) *Store {
	s, err := Open(lite.New(lite.Config{}), []byte(key))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func TestStore_SetGet(t *testing.T) {
	s := openStore(t, "test-key")

	require.NoError(t, s.Set("db/password", "s3cret"))
	v, err := s.Get("db/password")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", v)

	t.Run("replace", func(t *testing.T) {
		require.NoError(t, s.Set("db/password", "changed"))
		v, err := s.Get("db/password")
		require.NoError(t, err)
		assert.Equal(t, "changed", v)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := s.Get("nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_Delete(t *testing.T) {
	s := openStore(t, "test-key")

	require.NoError(t, s.Set("k1", "v1"))
	require.NoError(t, s.Delete("k1"))
	_, err := s.Get("k1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Delete("k1"), ErrNotFound, "second delete fails")
}

func TestStore_List(t *testing.T) {
	s := openStore(t, "test-key")

	require.NoError(t, s.Set("db/password", "a"))
	require.NoError(t, s.Set("db/user", "b"))
	require.NoError(t, s.Set("api/token", "c"))

	keys, err := s.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"api/token", "db/password", "db/user"}, keys)

	keys, err = s.List("*")
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	keys, err = s.List("db/")
	require.NoError(t, err)
	assert.Equal(t, []string{"db/password", "db/user"}, keys)

	keys, err = s.List("zzz")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStore_EncryptDecrypt(t *testing.T) {
	s := &Store{key: []byte("good-key")}

	sealed, err := s.encrypt("payload")
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "payload")

	v, err := s.decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "payload", v)

	t.Run("fresh salt and nonce per seal", func(t *testing.T) {
		again, err := s.encrypt("payload")
		require.NoError(t, err)
		assert.NotEqual(t, sealed, again)
	})

	t.Run("wrong key", func(t *testing.T) {
		bad := &Store{key: []byte("bad-key")}
		_, err := bad.decrypt(sealed)
		assert.EqualError(t, err, "failed to decrypt")
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := s.decrypt(sealed[:20])
		assert.EqualError(t, err, "sealed value too short")
	})
}
