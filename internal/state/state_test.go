package state

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-authgate/lease-cli/internal/store"
)

func TestDispatch_LoginLogout(t *testing.T) {
	s := New(store.NewMemStore(), "")

	require.NoError(t, s.Dispatch(LoginSucceeded{UserID: "7", UserName: "Amina", Role: "admin"}))
	require.NoError(t, s.Dispatch(ResourceLoaded{Name: "companies", Count: 12}))

	snap := s.Snapshot()
	assert.True(t, snap.Auth.LoggedIn)
	assert.Equal(t, "Amina", snap.Auth.UserName)
	assert.Equal(t, 12, snap.Resources["companies"])

	require.NoError(t, s.Dispatch(LoggedOut{}))
	snap = s.Snapshot()
	assert.Equal(t, Auth{}, snap.Auth)
	assert.Empty(t, snap.Resources)
}

func TestDispatch_PersistsOnlyWhitelist(t *testing.T) {
	kv := store.NewMemStore()
	s := New(kv, "")

	require.NoError(t, s.Dispatch(LayoutChanged{Layout: Layout{Theme: "dark", PageSize: 50}}))
	require.NoError(t, s.Dispatch(ResourceLoaded{Name: "products", Count: 3}))

	raw, found, err := kv.Get(DefaultKey)
	require.NoError(t, err)
	require.True(t, found)

	var blob map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &blob))
	assert.Contains(t, blob, "auth")
	assert.Contains(t, blob, "layout")
	assert.Len(t, blob, 2)
}

func TestRehydrate(t *testing.T) {
	kv := store.NewMemStore()
	first := New(kv, "persist:test")
	require.NoError(t, first.Dispatch(LoginSucceeded{UserID: "1", UserName: "Jon"}))
	require.NoError(t, first.Dispatch(LayoutChanged{Layout: Layout{Compact: true}}))

	second := New(kv, "persist:test")
	require.NoError(t, second.Rehydrate())
	snap := second.Snapshot()
	assert.True(t, snap.Auth.LoggedIn)
	assert.Equal(t, "Jon", snap.Auth.UserName)
	assert.True(t, snap.Layout.Compact)
}

func TestPurge(t *testing.T) {
	kv := store.NewMemStore()
	s := New(kv, "")
	require.NoError(t, s.Dispatch(LoginSucceeded{UserID: "1"}))

	require.NoError(t, s.Purge())
	_, found, _ := kv.Get(DefaultKey)
	assert.False(t, found)
}

func TestSubscribe(t *testing.T) {
	s := New(nil, "")
	var seen []bool
	s.Subscribe(func(st State) { seen = append(seen, st.Auth.LoggedIn) })

	require.NoError(t, s.Dispatch(LoginSucceeded{}))
	require.NoError(t, s.Dispatch(LoggedOut{}))
	assert.Equal(t, []bool{true, false}, seen)
	require.NoError(t, s.Rehydrate())
}

func TestPurge_NotUndoneBySubscriberDispatch(t *testing.T) {
	kv := store.NewMemStore()
	s := New(kv, "")
	require.NoError(t, s.Dispatch(LoginSucceeded{UserID: "1", UserName: "a"}))

	once := sync.Once{}
	s.Subscribe(func(State) {
		once.Do(func() {
			require.NoError(t, s.Dispatch(LoggedOut{}))
			require.NoError(t, s.Purge())
		})
	})
	require.NoError(t, s.Dispatch(ResourceLoaded{Name: "companies", Count: 1}))

	assert.False(t, s.Snapshot().Auth.LoggedIn)
	_, found, err := kv.Get(DefaultKey)
	require.NoError(t, err)
	assert.False(t, found, "purged blob must stay purged")
}

func TestPurge_ConcurrentDispatchNeverRestoresLogin(t *testing.T) {
	for i := 0; i < 20; i++ {
		kv := store.NewMemStore()
		s := New(kv, "")
		require.NoError(t, s.Dispatch(LoginSucceeded{UserID: "1", UserName: "a"}))

		var wg sync.WaitGroup
		for g := 0; g < 5; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				for n := 0; n < 20; n++ {
					_ = s.Dispatch(ResourceLoaded{Name: fmt.Sprintf("r%d", g), Count: n})
				}
			}(g)
		}
		require.NoError(t, s.Dispatch(LoggedOut{}))
		require.NoError(t, s.Purge())
		wg.Wait()

		raw, found, err := kv.Get(DefaultKey)
		require.NoError(t, err)
		if found {
			var saved State
			require.NoError(t, json.Unmarshal(raw, &saved))
			assert.False(t, saved.Auth.LoggedIn, "stale login persisted: %s", raw)
		}
	}
}
