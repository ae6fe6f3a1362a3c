package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/go-authgate/lease-cli/internal/apierr"
	"github.com/go-authgate/lease-cli/internal/session"
	"github.com/go-authgate/lease-cli/internal/state"
)

var (
	// ErrNoRefreshToken means a 401 arrived with no refresh token to use.
	ErrNoRefreshToken = errors.New("no refresh token available")
	// ErrRefreshRejected means the refresh endpoint refused the refresh token.
	ErrRefreshRejected = errors.New("refresh token expired or invalid")
)

// tokenResponse is the body of the login and refresh endpoints.
type tokenResponse struct {
	Token        string           `json:"token"`
	RefreshToken string           `json:"refresh_token"`
	User         *session.Profile `json:"user"`
}

func (t *tokenResponse) oauth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.Token,
		RefreshToken: t.RefreshToken,
		TokenType:    "Bearer",
	}
}

// refresh exchanges the stored refresh token for a new pair. Concurrent 401s
// holding the same refresh token share one exchange.
func (c *Client) refresh(ctx context.Context) error {
	rt := c.session.RefreshToken()
	if rt == "" {
		c.cfg.Metrics.Refresh(false)
		c.notifyRefresh(ErrNoRefreshToken)
		return ErrNoRefreshToken
	}

	gen := c.session.Generation()
	_, err, _ := c.refreshGroup.Do(rt, func() (any, error) {
		tok, err := c.exchangeRefreshToken(ctx, rt)
		if err != nil {
			return nil, err
		}
		if err := c.session.SetIfCurrent(gen, tok); err != nil {
			return nil, fmt.Errorf("failed to save refreshed token: %w", err)
		}
		return nil, nil
	})

	c.cfg.Metrics.Refresh(err == nil)
	c.notifyRefresh(err)
	return err
}

func (c *Client) notifyRefresh(err error) {
	if c.cfg.Hooks.OnRefresh != nil {
		c.cfg.Hooks.OnRefresh(err)
	}
}

func (c *Client) exchangeRefreshToken(ctx context.Context, rt string) (*oauth2.Token, error) {
	var out tokenResponse
	status, body, err := c.postToken(ctx, c.cfg.RefreshPath, map[string]string{
		"refresh_token": rt,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	if status != http.StatusOK {
		if status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusBadRequest {
			return nil, ErrRefreshRejected
		}
		return nil, fmt.Errorf("refresh failed with status %d: %s", status, string(body))
	}
	if out.Token == "" {
		return nil, errors.New("invalid token response: token is empty")
	}
	return out.oauth2Token(), nil
}

// postToken sends a JSON POST through the token client and decodes a 200
// body into out. It never takes part in the refresh-and-replay cycle.
func (c *Client) postToken(ctx context.Context, path string, payload, out any) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to encode request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.resolve(path), bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.session.Authorize(req)

	resp, err := c.tokens.DoWithContext(reqCtx, req)
	if err != nil {
		return 0, nil, apierr.FromTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	c.logf("[HTTP] POST %s -> %d", path, resp.StatusCode)

	if resp.StatusCode == http.StatusOK && out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, body, fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return resp.StatusCode, body, nil
}

// Login signs in with email and password, stores the returned credentials
// and profile, and records the login in the app state.
func (c *Client) Login(ctx context.Context, email, password string) (*session.Profile, error) {
	var out tokenResponse
	status, body, err := c.postToken(ctx, c.cfg.LoginPath, map[string]string{
		"email":    email,
		"password": password,
	}, &out)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, apierr.FromResponse(&http.Response{StatusCode: status}, body)
	}
	if out.Token == "" {
		return nil, errors.New("invalid login response: token is empty")
	}

	if err := c.session.Clear(); err != nil {
		return nil, err
	}
	if err := c.session.Set(out.oauth2Token()); err != nil {
		return nil, err
	}
	profile := out.User
	if profile == nil {
		profile = &session.Profile{Email: email}
	}
	if err := c.session.SetProfile(profile); err != nil {
		return nil, err
	}

	if c.cfg.State != nil {
		if err := c.cfg.State.Dispatch(state.LoginSucceeded{
			UserID:   profile.ID.String(),
			UserName: profile.Name,
			Role:     profile.Role,
		}); err != nil {
			return nil, err
		}
	}
	return profile, nil
}

// Logout tells the backend the session is over, then clears local
// credentials. The backend call is best-effort; local state is cleared even
// when it fails, and that failure is returned.
func (c *Client) Logout(ctx context.Context) error {
	var remoteErr error
	if c.session.AccessToken() != "" {
		status, body, err := c.postToken(ctx, c.cfg.LogoutPath, struct{}{}, nil)
		switch {
		case err != nil:
			remoteErr = err
		case status >= 300:
			remoteErr = apierr.FromResponse(&http.Response{StatusCode: status}, body)
		}
	}

	errs := []error{remoteErr, c.session.Clear()}
	if c.cfg.State != nil {
		errs = append(errs, c.cfg.State.Dispatch(state.LoggedOut{}))
	}
	return errors.Join(errs...)
}
