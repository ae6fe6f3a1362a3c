// Package session owns the client-held credentials and the cached user
// profile, mirroring both into a persistent store.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"

	"github.com/go-authgate/lease-cli/internal/store"
)

// Profile is the signed-in user as returned by the login endpoint.
type Profile struct {
	ID        json.Number `json:"id,omitempty"`
	Name      string      `json:"name,omitempty"`
	Email     string      `json:"email,omitempty"`
	Role      string      `json:"role,omitempty"`
	CompanyID json.Number `json:"company_id,omitempty"`
}

// Manager holds the current credentials. The access token is the only value
// used to authorize requests; with no access token no Authorization header
// is sent.
type Manager struct {
	mu      sync.RWMutex
	store   store.Store
	token   *oauth2.Token
	profile *Profile
	gen     uint64 // bumped by Clear
}

// ErrCleared is returned by SetIfCurrent when the session was cleared after
// the generation was read.
var ErrCleared = errors.New("session was cleared")

// New returns an empty Manager persisting into s. Call Load to restore a
// previous session.
func New(s store.Store) *Manager {
	return &Manager{store: s}
}

// Load restores credentials and profile from the store. A missing session
// is not an error.
func (m *Manager) Load() error {
	access, ok, err := m.store.Get(store.KeyAuthToken)
	if err != nil {
		return fmt.Errorf("failed to load access token: %w", err)
	}
	refresh, _, err := m.store.Get(store.KeyRefreshToken)
	if err != nil {
		return fmt.Errorf("failed to load refresh token: %w", err)
	}

	var profile *Profile
	if raw, found, err := m.store.Get(store.KeyUserProfile); err != nil {
		return fmt.Errorf("failed to load user profile: %w", err)
	} else if found {
		profile = &Profile{}
		if err := json.Unmarshal(raw, profile); err != nil {
			profile = nil
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ok && len(access) > 0 {
		m.token = &oauth2.Token{
			AccessToken:  string(access),
			RefreshToken: string(refresh),
			TokenType:    "Bearer",
		}
	}
	m.profile = profile
	return nil
}

// Token returns a copy of the current credentials, or nil.
func (m *Manager) Token() *oauth2.Token {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == nil {
		return nil
	}
	t := *m.token
	return &t
}

// AccessToken returns the current access token, or "".
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == nil {
		return ""
	}
	return m.token.AccessToken
}

// RefreshToken returns the current refresh token, or "".
func (m *Manager) RefreshToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == nil {
		return ""
	}
	return m.token.RefreshToken
}

// Set replaces the credentials in memory and in the store. An empty
// RefreshToken keeps the previous one (servers that do not rotate refresh
// tokens omit it).
func (m *Manager) Set(tok *oauth2.Token) error {
	if tok == nil || tok.AccessToken == "" {
		return errors.New("access token is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setLocked(tok)
}

// Generation identifies the current session. It changes on every Clear.
func (m *Manager) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gen
}

// SetIfCurrent is Set, unless Clear ran since gen was read. A clear always
// wins over a refresh that was in flight when it happened.
func (m *Manager) SetIfCurrent(gen uint64, tok *oauth2.Token) error {
	if tok == nil || tok.AccessToken == "" {
		return errors.New("access token is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return ErrCleared
	}
	return m.setLocked(tok)
}

func (m *Manager) setLocked(tok *oauth2.Token) error {
	next := *tok
	if next.TokenType == "" {
		next.TokenType = "Bearer"
	}
	if next.RefreshToken == "" && m.token != nil {
		next.RefreshToken = m.token.RefreshToken
	}

	if err := m.store.Set(store.KeyAuthToken, []byte(next.AccessToken)); err != nil {
		return fmt.Errorf("failed to persist access token: %w", err)
	}
	if next.RefreshToken != "" {
		if err := m.store.Set(store.KeyRefreshToken, []byte(next.RefreshToken)); err != nil {
			return fmt.Errorf("failed to persist refresh token: %w", err)
		}
	}
	m.token = &next
	return nil
}

// Clear drops credentials and profile from memory and from the store. The
// in-memory state is cleared even when the store fails.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.token = nil
	m.profile = nil
	m.gen++
	if err := m.store.Delete(store.KeyAuthToken, store.KeyRefreshToken, store.KeyUserProfile); err != nil {
		return fmt.Errorf("failed to clear stored session: %w", err)
	}
	return nil
}

// SetProfile caches the signed-in user.
func (m *Manager) SetProfile(p *Profile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Set(store.KeyUserProfile, raw); err != nil {
		return fmt.Errorf("failed to persist user profile: %w", err)
	}
	cp := *p
	m.profile = &cp
	return nil
}

// Profile returns the cached user, or nil.
func (m *Manager) Profile() *Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.profile == nil {
		return nil
	}
	p := *m.profile
	return &p
}

// Authorize attaches "Authorization: Bearer <token>" when an access token is
// present and strips any Authorization header otherwise.
func (m *Manager) Authorize(req *http.Request) {
	tok := m.Token()
	if tok == nil || tok.AccessToken == "" {
		req.Header.Del("Authorization")
		return
	}
	tok.SetAuthHeader(req)
}
