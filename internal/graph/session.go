// Package graph reads a Microsoft 365 mailbox through Microsoft Graph.
package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Auth modes
const (
	ModeClientCredentials = "client_credentials"
	ModeDeviceCode        = "device_code"
)

// refreshMargin how long before expiry a cached token is replaced
const refreshMargin = time.Minute

// ErrReauthRequired is returned until the owner completes a new login
var ErrReauthRequired = errors.New("microsoft login required")

// SessionConfig credentials for the Microsoft identity platform
type SessionConfig struct {
	ClientID     string
	ClientSecret string
	TenantID     string
	AuthorityURL string // e.g. https://login.microsoftonline.com
	Mode         string
}

// Session owns the OAuth token for Graph calls
type Session struct {
	mode   string
	cc     *clientcredentials.Config
	oauth  *oauth2.Config
	mu     sync.Mutex
	token  *oauth2.Token
	reauth bool
	now    func() time.Time
}

// NewSession creates a session. Device-code sessions start logged out.
func NewSession(cfg SessionConfig) (*Session, error) {
	base := strings.TrimSuffix(cfg.AuthorityURL, "/") + "/" + cfg.TenantID + "/oauth2/v2.0"
	endpoint := oauth2.Endpoint{
		AuthURL:       base + "/authorize",
		TokenURL:      base + "/token",
		DeviceAuthURL: base + "/devicecode",
	}

	s := &Session{mode: cfg.Mode, now: time.Now}
	switch cfg.Mode {
	case ModeClientCredentials:
		s.cc = &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     endpoint.TokenURL,
			Scopes:       []string{"https://graph.microsoft.com/.default"},
		}
	case ModeDeviceCode:
		s.oauth = &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       []string{"https://graph.microsoft.com/Mail.Read", "offline_access"},
		}
		s.reauth = true
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
	return s, nil
}

// Mode returns the auth mode
func (s *Session) Mode() string { return s.mode }

// NeedsLogin reports whether Token will fail until Login completes
func (s *Session) NeedsLogin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reauth
}

// Token returns a valid access token, refreshing it when less than a minute remains
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reauth {
		return "", ErrReauthRequired
	}
	if s.token != nil && s.token.AccessToken != "" && s.now().Add(refreshMargin).Before(s.token.Expiry) {
		return s.token.AccessToken, nil
	}

	var (
		tok *oauth2.Token
		err error
	)
	switch s.mode {
	case ModeClientCredentials:
		tok, err = s.cc.Token(ctx)
	case ModeDeviceCode:
		if s.token == nil || s.token.RefreshToken == "" {
			s.reauth = true
			return "", ErrReauthRequired
		}
		// an empty access token forces the source to use the refresh grant
		tok, err = s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: s.token.RefreshToken}).Token()
		if err != nil {
			var rErr *oauth2.RetrieveError
			if errors.As(err, &rErr) {
				s.reauth = true
				return "", fmt.Errorf("%w: refresh rejected: %v", ErrReauthRequired, err)
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("failed to get token: %w", err)
	}

	if tok.RefreshToken == "" && s.token != nil {
		tok.RefreshToken = s.token.RefreshToken
	}
	s.token = tok
	return tok.AccessToken, nil
}

// Invalidate drops the cached token after Graph rejected it; calls fail
// with ErrReauthRequired until the next login
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = nil
	s.reauth = true
}

// StartDeviceLogin requests a device code for the user to enter
func (s *Session) StartDeviceLogin(ctx context.Context) (*oauth2.DeviceAuthResponse, error) {
	if s.mode != ModeDeviceCode {
		return nil, fmt.Errorf("device login not available in %s mode", s.mode)
	}
	resp, err := s.oauth.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to request device code: %w", err)
	}
	return resp, nil
}

// CompleteDeviceLogin blocks until the user finishes the browser step or the code expires
func (s *Session) CompleteDeviceLogin(ctx context.Context, resp *oauth2.DeviceAuthResponse) error {
	tok, err := s.oauth.DeviceAccessToken(ctx, resp)
	if err != nil {
		return fmt.Errorf("device login failed: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = tok
	s.reauth = false
	return nil
}

// Login re-acquires an app-only token; used after a 401 in client-credentials mode
func (s *Session) Login(ctx context.Context) error {
	if s.mode != ModeClientCredentials {
		return fmt.Errorf("use the device login in %s mode", s.mode)
	}
	tok, err := s.cc.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get token: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = tok
	s.reauth = false
	return nil
}
