// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/morganforge/geminichat/internal/api"
	"github.com/morganforge/geminichat/internal/model"
	"github.com/morganforge/geminichat/internal/store"
)

// Persisted credential keys. Teardown removes every one of them.
const (
	keyToken        = "token"
	keyUser         = "user"
	keyRefreshToken = "refreshToken"
	keyRememberMe   = "rememberMe"
)

// =============================================================================
// MANAGER
// =============================================================================

// Manager owns authentication state. All exported methods are safe for
// concurrent use. Network calls run outside the lock so the API client
// can read the token mid-flight; results are committed only if the
// session has not been torn down in the meantime.
type Manager struct {
	client *api.Client
	store  *store.Store

	mu           sync.Mutex
	user         *model.User
	token        string
	refreshToken string

	// epoch increments on every login and teardown. Operations that ran
	// without the lock compare epochs before committing their results.
	epoch uint64

	// onExpired fires once per session when the backend invalidates the
	// token out from under us.
	onExpired func()
}

// NewManager creates a session manager over the given client and store.
func NewManager(client *api.Client, kv *store.Store) *Manager {
	return &Manager{client: client, store: kv}
}

// SetOnSessionExpired registers the callback invoked when an
// authenticated session is torn down by a backend 401.
func (m *Manager) SetOnSessionExpired(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpired = fn
}

// Token returns the current bearer token, or "" when signed out. Wired
// into the API client as its token source.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// IsAuthenticated reports whether a user is signed in. True exactly when
// both a user and a token are present.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user != nil && m.token != ""
}

// User returns a copy of the signed-in user, or nil.
func (m *Manager) User() *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

// Epoch returns the current session epoch. Managers holding results from
// long-running work compare this against the epoch they started under.
func (m *Manager) Epoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// =============================================================================
// WIRE SHAPES
// =============================================================================

type credentialsEnvelope struct {
	Token        string      `json:"token"`
	RefreshToken string      `json:"refreshToken"`
	User         *model.User `json:"user"`
}

type userEnvelope struct {
	User *model.User `json:"user"`
}

type verifyEnvelope struct {
	Valid bool `json:"valid"`
}

// =============================================================================
// AUTH OPERATIONS
// =============================================================================

// Login authenticates with the backend and establishes the session. On
// success the credentials are persisted so the session survives restart.
func (m *Manager) Login(ctx context.Context, email, password string, remember bool) (*model.User, error) {
	var resp credentialsEnvelope
	err := m.client.Post(ctx, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Token == "" || resp.User == nil {
		return nil, &api.Error{Kind: api.KindServer, Message: "malformed response from server"}
	}

	m.establish(&resp, remember)
	log.Printf("Session: signed in as %s", resp.User.Username)
	return m.User(), nil
}

// Register creates an account and establishes the session, mirroring a
// successful login.
func (m *Manager) Register(ctx context.Context, username, email, password string) (*model.User, error) {
	var resp credentialsEnvelope
	err := m.client.Post(ctx, "/auth/register", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Token == "" || resp.User == nil {
		return nil, &api.Error{Kind: api.KindServer, Message: "malformed response from server"}
	}

	m.establish(&resp, true)
	log.Printf("Session: registered as %s", resp.User.Username)
	return m.User(), nil
}

// Logout notifies the backend, then clears the session. The local
// teardown happens regardless of whether the backend call succeeds; a
// dead server must never trap the user in a signed-in state.
func (m *Manager) Logout(ctx context.Context) {
	if m.IsAuthenticated() {
		if err := m.client.Post(ctx, "/auth/logout", nil, nil); err != nil {
			log.Printf("Session: logout request failed: %v", err)
		}
	}
	m.teardown()
}

// VerifyToken asks the backend whether the current token is still valid.
// An invalid verdict or an auth failure tears the session down. Network
// failures leave the session untouched so a flaky connection does not
// sign the user out.
func (m *Manager) VerifyToken(ctx context.Context) bool {
	if !m.IsAuthenticated() {
		return false
	}

	var resp verifyEnvelope
	err := m.client.Get(ctx, "/auth/verify-token", &resp)
	if err != nil {
		if errors.Is(err, api.ErrAuth) {
			// The 401 path has already torn down via HandleUnauthorized;
			// a 403 verdict tears down here.
			m.teardown()
			return false
		}
		log.Printf("Session: verify unreachable, keeping session: %v", err)
		return m.IsAuthenticated()
	}

	if !resp.Valid {
		m.teardown()
		return false
	}
	return true
}

// Restore loads persisted credentials into memory without touching the
// network. Returns true when a session was restored.
func (m *Manager) Restore() bool {
	var token string
	var user model.User
	if !m.store.Get(keyToken, &token) || token == "" {
		return false
	}
	if !m.store.Get(keyUser, &user) {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.user = &user
	var refresh string
	if m.store.Get(keyRefreshToken, &refresh) {
		m.refreshToken = refresh
	}
	log.Printf("Session: restored for %s", user.Username)
	return true
}

// Boot restores any persisted session and verifies it against the
// backend in the background. The restored session is usable immediately;
// a stale token is torn down as soon as the backend says so.
func (m *Manager) Boot(ctx context.Context) {
	if !m.Restore() {
		return
	}
	go m.VerifyToken(ctx)
}

// HandleUnauthorized is wired into the API client and runs on every 401
// response. The first 401 of a session tears it down and fires the
// expiry callback; concurrent and subsequent 401s are no-ops.
func (m *Manager) HandleUnauthorized() {
	m.mu.Lock()
	if m.user == nil && m.token == "" {
		m.mu.Unlock()
		return
	}
	fn := m.onExpired
	m.teardownLocked()
	m.mu.Unlock()

	log.Printf("Session: expired, signed out")
	if fn != nil {
		fn()
	}
}

// =============================================================================
// ACCOUNT OPERATIONS
// =============================================================================

// GetProfile fetches the account profile and refreshes the cached user.
func (m *Manager) GetProfile(ctx context.Context) (*model.User, error) {
	epoch := m.Epoch()

	var resp userEnvelope
	if err := m.client.Get(ctx, "/auth/profile", &resp); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, &api.Error{Kind: api.KindServer, Message: "malformed response from server"}
	}

	m.commitUser(epoch, resp.User)
	return resp.User, nil
}

// UpdateProfile changes the account's username and/or email. Empty
// fields are left unchanged by the backend.
func (m *Manager) UpdateProfile(ctx context.Context, username, email string) (*model.User, error) {
	epoch := m.Epoch()

	body := map[string]string{}
	if username != "" {
		body["username"] = username
	}
	if email != "" {
		body["email"] = email
	}

	var resp userEnvelope
	if err := m.client.Put(ctx, "/auth/profile", body, &resp); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, &api.Error{Kind: api.KindServer, Message: "malformed response from server"}
	}

	m.commitUser(epoch, resp.User)
	return resp.User, nil
}

// ChangePassword replaces the account password. The active token stays
// valid; the session is not touched.
func (m *Manager) ChangePassword(ctx context.Context, current, next string) error {
	return m.client.Put(ctx, "/auth/change-password", map[string]string{
		"currentPassword": current,
		"newPassword":     next,
	}, nil)
}

// ForgotPassword requests a password reset email.
func (m *Manager) ForgotPassword(ctx context.Context, email string) error {
	return m.client.Post(ctx, "/auth/forgot-password", map[string]string{
		"email": email,
	}, nil)
}

// ResetPassword completes a reset started by ForgotPassword.
func (m *Manager) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	return m.client.Post(ctx, "/auth/reset-password", map[string]string{
		"token":       resetToken,
		"newPassword": newPassword,
	}, nil)
}

// VerifyEmail confirms the account email with an emailed token. When a
// session is active the cached profile is refreshed so the verified flag
// is visible immediately.
func (m *Manager) VerifyEmail(ctx context.Context, verifyToken string) error {
	err := m.client.Post(ctx, "/auth/verify-email", map[string]string{
		"token": verifyToken,
	}, nil)
	if err != nil {
		return err
	}
	if m.IsAuthenticated() {
		if _, err := m.GetProfile(ctx); err != nil {
			log.Printf("Session: profile refresh after email verify failed: %v", err)
		}
	}
	return nil
}

// =============================================================================
// STATE TRANSITIONS
// =============================================================================

// establish commits freshly issued credentials and persists them.
func (m *Manager) establish(creds *credentialsEnvelope, remember bool) {
	m.mu.Lock()
	m.user = creds.User
	m.token = creds.Token
	m.refreshToken = creds.RefreshToken
	m.epoch++
	m.mu.Unlock()

	m.store.Set(keyToken, creds.Token)
	m.store.Set(keyUser, creds.User)
	m.store.Set(keyRememberMe, remember)
	if creds.RefreshToken != "" {
		m.store.Set(keyRefreshToken, creds.RefreshToken)
	}
}

// commitUser updates the cached user unless the session changed while
// the request was in flight.
func (m *Manager) commitUser(epoch uint64, user *model.User) {
	m.mu.Lock()
	stale := m.epoch != epoch || m.user == nil
	if !stale {
		m.user = user
	}
	m.mu.Unlock()

	if !stale {
		m.store.Set(keyUser, user)
	}
}

// teardown clears the session under the lock.
func (m *Manager) teardown() {
	m.mu.Lock()
	m.teardownLocked()
	m.mu.Unlock()
}

// teardownLocked clears in-memory state and every persisted credential
// key. Caller must hold m.mu.
func (m *Manager) teardownLocked() {
	m.user = nil
	m.token = ""
	m.refreshToken = ""
	m.epoch++

	m.store.Remove(keyToken)
	m.store.Remove(keyUser)
	m.store.Remove(keyRefreshToken)
	m.store.Remove(keyRememberMe)
}
