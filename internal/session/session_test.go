package session

import (
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/go-authgate/lease-cli/internal/store"
)

func TestManager_SetPersistsAndAuthorizes(t *testing.T) {
	s := store.NewMemStore()
	m := New(s)

	require.NoError(t, m.Set(&oauth2.Token{AccessToken: "access-123", RefreshToken: "refresh-123"}))

	v, found, _ := s.Get(store.KeyAuthToken)
	assert.True(t, found)
	assert.Equal(t, "access-123", string(v))
	v, found, _ = s.Get(store.KeyRefreshToken)
	assert.True(t, found)
	assert.Equal(t, "refresh-123", string(v))

	req, _ := http.NewRequest(http.MethodGet, "http://example.test/companies", nil)
	m.Authorize(req)
	assert.Equal(t, "Bearer access-123", req.Header.Get("Authorization"))
}

func TestManager_AuthorizeWithoutToken(t *testing.T) {
	m := New(store.NewMemStore())

	req, _ := http.NewRequest(http.MethodGet, "http://example.test/companies", nil)
	req.Header.Set("Authorization", "Bearer stale")
	m.Authorize(req)

	_, present := req.Header["Authorization"]
	assert.False(t, present)
}

func TestManager_SetKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	m := New(store.NewMemStore())

	require.NoError(t, m.Set(&oauth2.Token{AccessToken: "a1", RefreshToken: "r1"}))
	require.NoError(t, m.Set(&oauth2.Token{AccessToken: "a2"}))

	assert.Equal(t, "a2", m.AccessToken())
	assert.Equal(t, "r1", m.RefreshToken())
}

func TestManager_SetRejectsEmpty(t *testing.T) {
	m := New(store.NewMemStore())
	assert.Error(t, m.Set(nil))
	assert.Error(t, m.Set(&oauth2.Token{}))
	assert.Nil(t, m.Token())
}

func TestManager_ClearRemovesEverything(t *testing.T) {
	s := store.NewMemStore()
	m := New(s)
	require.NoError(t, m.Set(&oauth2.Token{AccessToken: "a", RefreshToken: "r"}))
	require.NoError(t, m.SetProfile(&Profile{ID: "7", Name: "Amina"}))
	require.NoError(t, s.Set("unrelated", []byte("kept")))

	require.NoError(t, m.Clear())

	assert.Nil(t, m.Token())
	assert.Nil(t, m.Profile())
	assert.Equal(t, "", m.AccessToken())
	for _, k := range []string{store.KeyAuthToken, store.KeyRefreshToken, store.KeyUserProfile} {
		_, found, _ := s.Get(k)
		assert.False(t, found, k)
	}
	_, found, _ := s.Get("unrelated")
	assert.True(t, found)
}

func TestManager_LoadRestoresFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	first := New(store.NewFileStore(path))
	require.NoError(t, first.Set(&oauth2.Token{AccessToken: "persisted", RefreshToken: "persisted-r"}))
	require.NoError(t, first.SetProfile(&Profile{ID: "3", Email: "ops@example.test", Role: "admin"}))

	second := New(store.NewFileStore(path))
	require.NoError(t, second.Load())

	tok := second.Token()
	require.NotNil(t, tok)
	assert.Equal(t, "persisted", tok.AccessToken)
	assert.Equal(t, "persisted-r", tok.RefreshToken)
	assert.Equal(t, "Bearer", tok.TokenType)

	p := second.Profile()
	require.NotNil(t, p)
	assert.Equal(t, "ops@example.test", p.Email)
	assert.Equal(t, "admin", p.Role)
}

func TestManager_LoadEmptyStore(t *testing.T) {
	m := New(store.NewMemStore())
	require.NoError(t, m.Load())
	assert.Nil(t, m.Token())
	assert.Nil(t, m.Profile())
}

func TestManager_TokenIsACopy(t *testing.T) {
	m := New(store.NewMemStore())
	require.NoError(t, m.Set(&oauth2.Token{AccessToken: "orig"}))

	tok := m.Token()
	tok.AccessToken = "mutated"
	assert.Equal(t, "orig", m.AccessToken())
}

func TestManager_ClearWinsOverInFlightRefresh(t *testing.T) {
	s := store.NewMemStore()
	m := New(s)
	require.NoError(t, m.Set(&oauth2.Token{AccessToken: "a1", RefreshToken: "r1"}))

	gen := m.Generation()
	require.NoError(t, m.Clear())

	err := m.SetIfCurrent(gen, &oauth2.Token{AccessToken: "a2", RefreshToken: "r2"})
	assert.ErrorIs(t, err, ErrCleared)
	assert.Nil(t, m.Token())
	assert.Equal(t, 0, s.Len())

	require.NoError(t, m.SetIfCurrent(m.Generation(), &oauth2.Token{AccessToken: "a3"}))
	assert.Equal(t, "a3", m.AccessToken())
}
