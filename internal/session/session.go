// Elife - Daelim e-Life Smart Home Cloud Bridge
// Copyright 2026 Hyun K. (hyun-k)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hyun-k/elife

// Package session owns the cloud credential lifecycle: the CSRF nonce, the
// opaque session token with its embedded expiry claim, the derived bearer
// token for page fetches, and the cached home page the catalog and push keys
// are extracted from. All entry points re-validate the token first, so
// callers never handle auth state themselves.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/hyun-k/elife/internal/catalog"
	"github.com/hyun-k/elife/internal/cipher"
	"github.com/hyun-k/elife/internal/config"
	"github.com/hyun-k/elife/internal/logging"
	"github.com/hyun-k/elife/internal/metrics"
	"github.com/hyun-k/elife/internal/transport"
)

// ErrAuth marks authentication failures: a rejected login, a token without
// an expiry claim, or a login response missing the token. Fatal during
// setup; in steady state the next call simply retries the login.
var ErrAuth = errors.New("session: authentication failed")

// kst is the fixed offset the bearer timestamp is rendered in. The service
// validates the timestamp against Korean wall-clock time regardless of
// where the client runs.
var kst = time.FixedZone("KST", 9*60*60)

// bearerTimeLayout renders the KST timestamp embedded in the bearer token.
const bearerTimeLayout = "20060102150405"

// loginMetadata is the fixed device identity the vendor app sends with every
// login. The service rejects logins without it.
var loginMetadata = map[string]string{
	"input_memb_uid":      "",
	"input_hm_cd":         "",
	"input_acc_os_info":   "ios",
	"input_dv_osver_info": "15.4.1",
	"input_auto_login":    "off",
	"input_dv_make_info":  "Apple",
	"input_version":       "1.1.4",
	"input_push_token":    "",
	"input_flag":          "login",
	"input_dv_model_info": "iPhone12,8",
}

// Manager is the authenticated gateway to the cloud API.
// Safe for concurrent use; two callers that both observe an expired token
// may each trigger a login, the second one harmlessly replacing the first.
type Manager struct {
	transport *transport.Client
	email     string
	password  string
	deviceID  string

	mu        sync.Mutex
	csrf      string
	token     string
	expiresAt time.Time

	homeMu   sync.Mutex
	homeHTML string
	keys     *catalog.SessionKeys
}

// NewManager creates a session manager for the given account. No network
// traffic happens until the first call that needs a session.
func NewManager(t *transport.Client, account config.AccountConfig) *Manager {
	return &Manager{
		transport: t,
		email:     account.Email,
		password:  account.Password,
		deviceID:  account.DeviceID,
	}
}

// EnsureLoggedIn validates the session token and logs in when it is missing
// or past its expiry claim.
func (m *Manager) EnsureLoggedIn(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureLoggedInLocked(ctx)
}

func (m *Manager) ensureLoggedInLocked(ctx context.Context) error {
	if m.token != "" && time.Now().Before(m.expiresAt) {
		return nil
	}
	if err := m.refreshCSRF(ctx); err != nil {
		return err
	}
	return m.login(ctx)
}

// refreshCSRF fetches a fresh CSRF nonce. Caller holds m.mu.
func (m *Manager) refreshCSRF(ctx context.Context) error {
	raw, err := m.transport.RequestJSON(ctx, "/common/nativeToken.ajax", nil, nil)
	if err != nil {
		return fmt.Errorf("session: fetch csrf nonce: %w", err)
	}
	var resp struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("session: parse csrf response: %w", err)
	}
	if resp.Value == "" {
		return fmt.Errorf("%w: csrf response carried no nonce", ErrAuth)
	}
	m.csrf = resp.Value
	return nil
}

// login exchanges the encrypted credentials for a session token.
// Caller holds m.mu.
func (m *Manager) login(ctx context.Context) error {
	body := make(map[string]string, len(loginMetadata)+3)
	for k, v := range loginMetadata {
		body[k] = v
	}
	body["input_dv_uuid"] = m.deviceID
	body["input_username"] = cipher.EncryptString(m.email)
	body["input_password"] = cipher.EncryptString(m.password)

	raw, err := m.transport.RequestJSON(ctx, "/login.ajax", map[string]string{"_csrf": m.csrf}, body)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("session: login request: %w", err)
	}
	var resp struct {
		Token string `json:"daelim_elife"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		metrics.LoginsTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("session: parse login response: %w", err)
	}
	if resp.Token == "" {
		metrics.LoginsTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: login response carried no session token", ErrAuth)
	}

	expiresAt, err := tokenExpiry(resp.Token)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("failure").Inc()
		return err
	}

	m.token = resp.Token
	m.expiresAt = expiresAt
	metrics.LoginsTotal.WithLabelValues("success").Inc()
	metrics.SessionTokenExpiry.Set(float64(expiresAt.Unix()))
	logging.Info().
		Time("expires_at", expiresAt).
		Msg("logged in to cloud")
	return nil
}

// tokenExpiry reads the expiry claim out of the session token. The token is
// decoded, not verified; the client has no signing key and only needs the
// claim for proactive refresh.
func tokenExpiry(token string) (time.Time, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: malformed session token: %v", ErrAuth, err)
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("%w: session token carries no expiry claim", ErrAuth)
	}
	return exp.Time, nil
}

// AuthHeaders returns the header pair ajax calls authenticate with,
// refreshing the session first when needed.
func (m *Manager) AuthHeaders(ctx context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLoggedInLocked(ctx); err != nil {
		return nil, err
	}
	return map[string]string{
		"_csrf":        m.csrf,
		"daelim_elife": m.token,
	}, nil
}

// BearerToken derives the page-fetch bearer: the session token joined with
// the current KST wall-clock time, run through the protocol cipher. Valid
// only briefly, so it is derived per call and never cached.
func (m *Manager) BearerToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLoggedInLocked(ctx); err != nil {
		return "", err
	}
	stamp := time.Now().In(kst).Format(bearerTimeLayout)
	return cipher.EncryptString(m.token + "::" + stamp), nil
}

// Execute runs an authenticated ajax call and returns the raw JSON response.
// This is the command path device adapters go through.
func (m *Manager) Execute(ctx context.Context, path string, body any) (json.RawMessage, error) {
	headers, err := m.AuthHeaders(ctx)
	if err != nil {
		return nil, err
	}
	return m.transport.RequestJSON(ctx, path, headers, body)
}

// FetchHome returns the home page HTML, from cache unless forceRefresh is
// set or nothing is cached yet. The page is the source of both the device
// catalog and the push-channel session keys, so one fetch serves both.
func (m *Manager) FetchHome(ctx context.Context, forceRefresh bool) (string, error) {
	m.homeMu.Lock()
	defer m.homeMu.Unlock()

	if m.homeHTML != "" && !forceRefresh {
		return m.homeHTML, nil
	}

	bearer, err := m.BearerToken(ctx)
	if err != nil {
		return "", err
	}
	html, err := m.transport.FetchHTML(ctx, "/main/home.do", map[string]string{
		"Authorization": "Bearer " + bearer,
	})
	if err != nil {
		return "", fmt.Errorf("session: fetch home page: %w", err)
	}

	m.homeHTML = html
	m.keys = nil // keys belong to the previous page
	return html, nil
}

// SessionKeys returns the push-channel key triple, extracting it from the
// (possibly cached) home page. forceRefresh drops both caches first; the
// push engine uses it after the channel reports an expired token.
func (m *Manager) SessionKeys(ctx context.Context, forceRefresh bool) (catalog.SessionKeys, error) {
	if forceRefresh {
		m.mu.Lock()
		m.token = ""
		m.mu.Unlock()
	}

	m.homeMu.Lock()
	if m.keys != nil && !forceRefresh {
		keys := *m.keys
		m.homeMu.Unlock()
		return keys, nil
	}
	m.homeMu.Unlock()

	html, err := m.FetchHome(ctx, forceRefresh)
	if err != nil {
		return catalog.SessionKeys{}, err
	}
	keys, err := catalog.ExtractSessionKeys(html)
	if err != nil {
		return catalog.SessionKeys{}, err
	}

	m.homeMu.Lock()
	m.keys = &keys
	m.homeMu.Unlock()
	return keys, nil
}
