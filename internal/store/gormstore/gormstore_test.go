package gormstore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/go-authgate/lease-cli/internal/store"
	"github.com/go-authgate/lease-cli/internal/store/gormstore"
)

var _ store.Store = (*gormstore.Store)(nil)

func newStore(t *testing.T) *gormstore.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "kv.db")), &gorm.Config{})
	require.NoError(t, err)
	s, err := gormstore.New(db)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSetGet(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.Set(store.KeyAuthToken, []byte("access")))
	data, found, err := s.Get(store.KeyAuthToken)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "access", string(data))
}

func TestEmptyGet(t *testing.T) {
	s := newStore(t)

	_, found, err := s.Get(store.KeyAuthToken)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestOverwrite(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.Set(store.KeyRefreshToken, []byte("old")))
	require.NoError(t, s.Set(store.KeyRefreshToken, []byte("new")))

	data, _, err := s.Get(store.KeyRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestDelete(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.Set(store.KeyAuthToken, []byte("a")))
	require.NoError(t, s.Set(store.KeyRefreshToken, []byte("r")))
	require.NoError(t, s.Set(store.KeyUserProfile, []byte("{}")))

	require.NoError(t, s.Delete(store.KeyAuthToken, store.KeyRefreshToken))
	require.NoError(t, s.Delete())

	_, found, _ := s.Get(store.KeyAuthToken)
	assert.False(t, found)
	_, found, _ = s.Get(store.KeyRefreshToken)
	assert.False(t, found)
	_, found, _ = s.Get(store.KeyUserProfile)
	assert.True(t, found)
}

func TestOpenSQLite_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")

	s, err := gormstore.OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(store.KeyAuthToken, []byte("on-disk")))
	require.NoError(t, s.Close())

	s, err = gormstore.OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	data, found, err := s.Get(store.KeyAuthToken)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "on-disk", string(data))
}
