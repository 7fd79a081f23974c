// Package auth keeps an authenticated session with the vendor's identity
// provider alive and hands out bearer tokens.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"hubspace-go-home/internal/retry"
)

const (
	// DefaultTokenURL is the vendor's OpenID Connect token endpoint.
	DefaultTokenURL = "https://accounts.hubspaceconnect.com/auth/realms/thd/protocol/openid-connect/token"
	// DefaultClientID is the public client the vendor's mobile app uses.
	DefaultClientID = "hubspace_android"
	// DefaultMargin is how long a token must remain valid to be handed out.
	DefaultMargin = 5 * time.Minute

	renewTimeout = time.Minute
)

// ErrAuthenticationFailed is returned when both refresh and full login fail.
// It usually means the credentials are wrong; callers should not retry it in a loop.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Manager owns the session and serializes renewals.
type Manager struct {
	tokenURL   string
	creds      Credentials
	httpClient *http.Client
	policy     retry.Policy
	margin     time.Duration
	now        func() time.Time
	logger     *slog.Logger

	mu      sync.RWMutex
	session Session
	state   State

	group singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(m *Manager) { m.httpClient = hc }
}

// WithPolicy sets the retry policy applied to each of refresh and login.
func WithPolicy(p retry.Policy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithMargin sets the minimum remaining lifetime of a returned token.
func WithMargin(d time.Duration) Option {
	return func(m *Manager) { m.margin = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithSession seeds the manager with an existing session.
func WithSession(s Session) Option {
	return func(m *Manager) {
		m.session = s
		if s.AccessToken != "" {
			m.state = Authenticated
		}
	}
}

// NewManager creates a token manager for the given endpoint and credentials.
func NewManager(tokenURL string, creds Credentials, opts ...Option) *Manager {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	if creds.ClientID == "" {
		creds.ClientID = DefaultClientID
	}
	m := &Manager{
		tokenURL:   tokenURL,
		creds:      creds,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		policy:     retry.DefaultPolicy(),
		margin:     DefaultMargin,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "auth")
	return m
}

// Token returns an access token valid for at least the safety margin. When
// the held token is too close to expiry, concurrent callers share a single
// renewal.
func (m *Manager) Token(ctx context.Context) (string, error) {
	if tok, ok := m.current(); ok {
		return tok, nil
	}

	renewCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan("renew", func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(renewCtx, renewTimeout)
		defer cancel()
		return m.renew(ctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Invalidate marks token as expired if it is still the current one, so the
// next Token call renews the session.
func (m *Manager) Invalidate(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token != "" && m.session.AccessToken == token {
		m.session.AccessExpiry = time.Time{}
		m.logger.Debug("access token invalidated")
	}
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Expiry returns the access token expiry, or the zero time without a session.
func (m *Manager) Expiry() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.AccessExpiry
}

func (m *Manager) current() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session.accessValid(m.now(), m.margin) {
		return m.session.AccessToken, true
	}
	return "", false
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) renew(ctx context.Context) (string, error) {
	if tok, ok := m.current(); ok {
		return tok, nil
	}

	m.mu.RLock()
	prev := m.session
	m.mu.RUnlock()

	if prev.refreshValid(m.now(), m.margin) {
		m.setState(Refreshing)
		next, err := m.attempt(ctx, url.Values{
			"grant_type":    {"refresh_token"},
			"client_id":     {m.creds.ClientID},
			"refresh_token": {prev.RefreshToken},
		})
		if err == nil {
			if next.RefreshToken == "" {
				next.RefreshToken = prev.RefreshToken
				next.RefreshExpiry = prev.RefreshExpiry
			}
			m.store(next, "refresh")
			return next.AccessToken, nil
		}
		m.logger.Warn("token refresh failed, logging in again", "err", err)
	}

	m.setState(Authenticating)
	next, err := m.attempt(ctx, url.Values{
		"grant_type": {"password"},
		"client_id":  {m.creds.ClientID},
		"username":   {m.creds.Username},
		"password":   {m.creds.Password},
	})
	if err != nil {
		m.mu.Lock()
		m.session = Session{}
		m.state = Unauthenticated
		m.mu.Unlock()
		m.logger.Error("authentication failed", "err", err)
		return "", fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}
	m.store(next, "password")
	return next.AccessToken, nil
}

func (m *Manager) store(s Session, grant string) {
	m.mu.Lock()
	m.session = s
	m.state = Authenticated
	m.mu.Unlock()
	m.logger.Info("session established", "grant", grant, "expires_at", s.AccessExpiry.Format(time.RFC3339))
}

func (m *Manager) attempt(ctx context.Context, form url.Values) (Session, error) {
	var s Session
	err := retry.Do(ctx, m.policy, func(ctx context.Context, n int) error {
		var err error
		s, err = m.requestToken(ctx, form)
		if err != nil {
			m.logger.Debug("token request failed", "grant", form.Get("grant_type"), "attempt", n, "err", err)
		}
		return err
	})
	return s, err
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (m *Manager) requestToken(ctx context.Context, form url.Values) (Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Session{}, fmt.Errorf("reading token response: %w", err)
	}

	var tr tokenResponse
	jsonErr := json.Unmarshal(data, &tr)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		desc := tr.ErrorDescription
		if desc == "" {
			desc = tr.Error
		}
		return Session{}, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, desc)
	}
	if jsonErr != nil {
		return Session{}, fmt.Errorf("parsing token response: %w", jsonErr)
	}
	if tr.AccessToken == "" {
		return Session{}, errors.New("token response has no access_token")
	}

	now := m.now()
	s := Session{AccessToken: tr.AccessToken, RefreshToken: tr.RefreshToken}
	switch {
	case tr.ExpiresIn > 0:
		s.AccessExpiry = now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	default:
		exp, err := tokenExpiry(tr.AccessToken)
		if err != nil {
			return Session{}, fmt.Errorf("token response has no expiry: %w", err)
		}
		s.AccessExpiry = exp
	}
	if tr.RefreshExpiresIn > 0 {
		s.RefreshExpiry = now.Add(time.Duration(tr.RefreshExpiresIn) * time.Second)
	}
	return s, nil
}

// tokenExpiry reads the exp claim of a JWT access token. The signature is not
// checked; the token is only ever presented back to the issuer.
func tokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, errors.New("no exp claim")
	}
	return exp.Time, nil
}
