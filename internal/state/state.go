// Package state is the in-process application state: a single reducer over
// a few partitions, with the auth and layout partitions persisted as one
// JSON blob so they survive restarts.
package state

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-authgate/lease-cli/internal/store"
)

// DefaultKey is the store key of the persisted blob.
const DefaultKey = "persist:root"

// Auth is the session partition.
type Auth struct {
	LoggedIn bool   `json:"logged_in"`
	UserID   string `json:"user_id,omitempty"`
	UserName string `json:"user_name,omitempty"`
	Role     string `json:"role,omitempty"`
}

// Layout is the presentation partition.
type Layout struct {
	Theme    string `json:"theme,omitempty"`
	PageSize int    `json:"page_size,omitempty"`
	Compact  bool   `json:"compact,omitempty"`
}

// State is the whole application state. Only Auth and Layout are
// persisted; Resources is rebuilt from the server on demand.
type State struct {
	Auth      Auth           `json:"auth"`
	Layout    Layout         `json:"layout"`
	Resources map[string]int `json:"-"`
}

// Action is anything the reducer understands.
type Action interface{ action() }

// LoginSucceeded records the signed-in user.
type LoginSucceeded struct {
	UserID   string
	UserName string
	Role     string
}

// LoggedOut resets the auth partition.
type LoggedOut struct{}

// LayoutChanged replaces the layout partition.
type LayoutChanged struct{ Layout Layout }

// ResourceLoaded records how many rows a list call returned.
type ResourceLoaded struct {
	Name  string
	Count int
}

func (LoginSucceeded) action() {}
func (LoggedOut) action()      {}
func (LayoutChanged) action()  {}
func (ResourceLoaded) action() {}

func reduce(s State, a Action) State {
	switch a := a.(type) {
	case LoginSucceeded:
		s.Auth = Auth{LoggedIn: true, UserID: a.UserID, UserName: a.UserName, Role: a.Role}
	case LoggedOut:
		s.Auth = Auth{}
		s.Resources = nil
	case LayoutChanged:
		s.Layout = a.Layout
	case ResourceLoaded:
		next := make(map[string]int, len(s.Resources)+1)
		for k, v := range s.Resources {
			next[k] = v
		}
		next[a.Name] = a.Count
		s.Resources = next
	}
	return s
}

// Store holds the current State. Dispatch is safe for concurrent use;
// subscribers run synchronously on the dispatching goroutine, after the
// new state is persisted.
type Store struct {
	// persistMu orders reduce+save against Purge, so a purged blob is never
	// overwritten by a snapshot reduced before the purge.
	persistMu sync.Mutex

	mu          sync.Mutex
	state       State
	persist     store.Store
	key         string
	subscribers []func(State)
}

// New returns a Store persisting into kv under key (DefaultKey when empty).
// kv may be nil to disable persistence.
func New(kv store.Store, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{persist: kv, key: key}
}

// Key returns the persisted blob key.
func (s *Store) Key() string { return s.key }

// Rehydrate loads the persisted partitions.
func (s *Store) Rehydrate() error {
	if s.persist == nil {
		return nil
	}
	raw, found, err := s.persist.Get(s.key)
	if err != nil {
		return fmt.Errorf("failed to load persisted state: %w", err)
	}
	if !found {
		return nil
	}

	var saved State
	if err := json.Unmarshal(raw, &saved); err != nil {
		return fmt.Errorf("failed to parse persisted state: %w", err)
	}

	s.mu.Lock()
	s.state.Auth = saved.Auth
	s.state.Layout = saved.Layout
	s.mu.Unlock()
	return nil
}

// Dispatch applies a and persists the whitelisted partitions.
func (s *Store) Dispatch(a Action) error {
	s.persistMu.Lock()
	s.mu.Lock()
	s.state = reduce(s.state, a)
	snap := s.state
	subs := append([]func(State){}, s.subscribers...)
	s.mu.Unlock()
	err := s.save(snap)
	s.persistMu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
	return err
}

// Snapshot returns the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn for every dispatch.
func (s *Store) Subscribe(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Purge deletes the persisted blob. In-memory state is untouched.
func (s *Store) Purge() error {
	if s.persist == nil {
		return nil
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	return s.persist.Delete(s.key)
}

func (s *Store) save(st State) error {
	if s.persist == nil {
		return nil
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := s.persist.Set(s.key, raw); err != nil {
		return fmt.Errorf("failed to persist state: %w", err)
	}
	return nil
}
