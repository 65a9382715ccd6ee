package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenServer(t *testing.T, hits *int32, expiresIn int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		n := atomic.AddInt32(hits, 1)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/tenant/oauth2/v2.0/devicecode":
			json.NewEncoder(w).Encode(map[string]any{
				"device_code":      "dev-code",
				"user_code":        "ABCD-EFGH",
				"verification_uri": "https://microsoft.com/devicelogin",
				"expires_in":       900,
				"interval":         1,
			})
		case "/tenant/oauth2/v2.0/token":
			resp := map[string]any{
				"access_token": "access-" + string(rune('0'+n)),
				"token_type":   "Bearer",
				"expires_in":   expiresIn,
			}
			if r.Form.Get("grant_type") != "client_credentials" {
				resp["refresh_token"] = "refresh-token"
			}
			json.NewEncoder(w).Encode(resp)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSession_ClientCredentialsCachesAndRefreshesEarly(t *testing.T) {
	var hits int32
	srv := tokenServer(t, &hits, 3600)

	s, err := NewSession(SessionConfig{ClientID: "id", ClientSecret: "secret", TenantID: "tenant", AuthorityURL: srv.URL, Mode: ModeClientCredentials})
	require.NoError(t, err)
	assert.False(t, s.NeedsLogin())

	ctx := context.Background()
	first, err := s.Token(ctx)
	require.NoError(t, err)
	second, err := s.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	// 59m30s later less than a minute remains
	s.now = func() time.Time { return time.Now().Add(59*time.Minute + 30*time.Second) }
	third, err := s.Token(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestSession_InvalidateRequiresLogin(t *testing.T) {
	var hits int32
	srv := tokenServer(t, &hits, 3600)

	s, err := NewSession(SessionConfig{ClientID: "id", ClientSecret: "secret", TenantID: "tenant", AuthorityURL: srv.URL, Mode: ModeClientCredentials})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = s.Token(ctx)
	require.NoError(t, err)

	s.Invalidate()
	_, err = s.Token(ctx)
	assert.ErrorIs(t, err, ErrReauthRequired)

	require.NoError(t, s.Login(ctx))
	_, err = s.Token(ctx)
	assert.NoError(t, err)
}

func TestSession_DeviceCodeFlow(t *testing.T) {
	var hits int32
	srv := tokenServer(t, &hits, 30)

	s, err := NewSession(SessionConfig{ClientID: "id", TenantID: "tenant", AuthorityURL: srv.URL, Mode: ModeDeviceCode})
	require.NoError(t, err)
	assert.True(t, s.NeedsLogin())

	ctx := context.Background()
	_, err = s.Token(ctx)
	assert.ErrorIs(t, err, ErrReauthRequired)

	resp, err := s.StartDeviceLogin(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ABCD-EFGH", resp.UserCode)
	assert.Equal(t, "https://microsoft.com/devicelogin", resp.VerificationURI)

	require.NoError(t, s.CompleteDeviceLogin(ctx, resp))
	assert.False(t, s.NeedsLogin())

	// 30s tokens are inside the refresh margin, so every call uses the refresh grant
	before := atomic.LoadInt32(&hits)
	tok, err := s.Token(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, tok)
	assert.Equal(t, before+1, atomic.LoadInt32(&hits))
}

func TestSession_UnknownMode(t *testing.T) {
	_, err := NewSession(SessionConfig{Mode: "password"})
	assert.Error(t, err)
}

type staticTokens struct {
	invalidated bool
}

func (s *staticTokens) Token(context.Context) (string, error) { return "tok", nil }
func (s *staticTokens) Invalidate()                           { s.invalidated = true }

func TestClient_FetchUnread(t *testing.T) {
	var gotQuery, gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("$filter")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"value":[{
			"id":"m1","subject":"Sign in","bodyPreview":"Your code",
			"receivedDateTime":"2026-02-01T10:00:00Z",
			"body":{"contentType":"html","content":"<p>Your code 123456</p>"},
			"from":{"emailAddress":{"name":"Service","address":"no-reply@service.com"}}
		}]}`))
	}))
	defer srv.Close()

	tokens := &staticTokens{}
	c := NewClient(Config{BaseURL: srv.URL, Mailbox: "box@corp.com"}, tokens)

	since := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	msgs, err := c.FetchUnread(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	assert.Equal(t, "/users/box@corp.com/mailFolders/inbox/messages", gotPath)
	assert.Equal(t, "isRead eq false and receivedDateTime ge 2026-02-01T09:00:00Z", gotQuery)
	assert.Equal(t, "Bearer tok", gotAuth)

	m := msgs[0]
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, "no-reply@service.com", m.From)
	assert.Equal(t, "<p>Your code 123456</p>", m.HTML)
	assert.Empty(t, m.Text)
}

func TestClient_UnauthorizedInvalidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := &staticTokens{}
	c := NewClient(Config{BaseURL: srv.URL}, tokens)

	_, err := c.FetchUnread(context.Background(), time.Time{})
	assert.ErrorIs(t, err, ErrReauthRequired)
	assert.True(t, tokens.invalidated)
}
