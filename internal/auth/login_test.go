package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/graphfiles/internal/graph/graphtest"
	"github.com/tonimelisma/graphfiles/internal/tokencache"
)

// noRedirect is an HTTP client that surfaces redirects instead of following them.
var noRedirect = &http.Client{
	CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
}

// authorize drives the fake provider's authorize endpoint and returns the
// code and state it redirected back with.
func authorize(t *testing.T, authURL string) (code, state string) {
	t.Helper()

	resp, err := noRedirect.Get(authURL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)

	return loc.Query().Get("code"), loc.Query().Get("state")
}

func TestAuthCodeURL_CarriesPKCEAndState(t *testing.T) {
	p := newTestProvider(t, "http://idp.invalid", tokencache.NewMemory())

	u, err := url.Parse(p.AuthCodeURL("state-123", GenerateVerifier()))
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "/oauth2/v2.0/authorize", u.Path)
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.Equal(t, testClientID, q.Get("client_id"))
	assert.Contains(t, q.Get("scope"), "offline_access")
	assert.Equal(t, "http://localhost/auth/callback", q.Get("redirect_uri"))
}

func TestCompleteLogin(t *testing.T) {
	idp, authority := newTestIdP(t, nil)
	cache := tokencache.NewMemory()
	p := newTestProvider(t, authority, cache)

	verifier := GenerateVerifier()
	code, state := authorize(t, p.AuthCodeURL("s1", verifier))
	assert.Equal(t, "s1", state)

	user, err := p.CompleteLogin(context.Background(), code, verifier)
	require.NoError(t, err)
	assert.Equal(t, tokencache.UserIdentity(graphtest.DefaultUser), user)

	cred, found, err := cache.Get(context.Background(), user)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, idp.ValidAccessToken(cred.AccessToken))
	assert.True(t, cred.HasRefreshToken())
	assert.True(t, cred.ExpiresAt.After(time.Now()))

	// The stored credential is served without another round trip.
	tok, err := p.AccessToken(context.Background(), user, "/")
	require.NoError(t, err)
	assert.Equal(t, cred.AccessToken, tok)
}

func TestCompleteLogin_WrongVerifier(t *testing.T) {
	_, authority := newTestIdP(t, nil)
	cache := tokencache.NewMemory()
	p := newTestProvider(t, authority, cache)

	code, _ := authorize(t, p.AuthCodeURL("s1", GenerateVerifier()))

	_, err := p.CompleteLogin(context.Background(), code, GenerateVerifier())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token exchange failed")
}

func TestCompleteLogin_CodeIsSingleUse(t *testing.T) {
	_, authority := newTestIdP(t, nil)
	p := newTestProvider(t, authority, tokencache.NewMemory())

	verifier := GenerateVerifier()
	code, _ := authorize(t, p.AuthCodeURL("s1", verifier))

	_, err := p.CompleteLogin(context.Background(), code, verifier)
	require.NoError(t, err)

	_, err = p.CompleteLogin(context.Background(), code, verifier)
	assert.Error(t, err)
}

func TestCompleteLogin_StorageFailure(t *testing.T) {
	_, authority := newTestIdP(t, nil)
	p := newTestProvider(t, authority, brokenCache{Cache: tokencache.NewMemory(), failSet: true})

	verifier := GenerateVerifier()
	code, _ := authorize(t, p.AuthCodeURL("s1", verifier))

	_, err := p.CompleteLogin(context.Background(), code, verifier)
	assert.ErrorIs(t, err, tokencache.ErrStorageUnavailable)
}

func TestLoginWithBrowser(t *testing.T) {
	_, authority := newTestIdP(t, nil)
	cache := tokencache.NewMemory()
	p := newTestProvider(t, authority, cache)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// The "browser" follows the provider's redirect to the loopback server.
	openURL := func(u string) error {
		go func() {
			resp, err := http.Get(u) //nolint:gosec,noctx // test-controlled URL
			if err == nil {
				resp.Body.Close()
			}
		}()

		return nil
	}

	user, err := p.LoginWithBrowser(ctx, openURL)
	require.NoError(t, err)
	assert.Equal(t, tokencache.UserIdentity(graphtest.DefaultUser), user)

	_, found, err := cache.Get(ctx, user)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestLoginWithBrowser_Canceled(t *testing.T) {
	p := newTestProvider(t, "http://idp.invalid", tokencache.NewMemory())

	ctx, cancel := context.WithCancel(context.Background())

	_, err := p.LoginWithBrowser(ctx, func(string) error {
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHandleLoopbackCallback(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantErr string
	}{
		{"state mismatch", "state=other&code=c", "state mismatch"},
		{"provider error", "state=s&error=access_denied&error_description=no", "access_denied"},
		{"missing code", "state=s", "missing authorization code"},
		{"success", "state=s&code=c", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := make(chan callbackResult, 1)
			req, err := http.NewRequest(http.MethodGet, "/?"+tt.query, nil)
			require.NoError(t, err)

			rec := httptest.NewRecorder()
			handleLoopbackCallback(rec, req, "s", ch)

			result := <-ch
			if tt.wantErr == "" {
				require.NoError(t, result.err)
				assert.Equal(t, "c", result.code)

				return
			}

			require.Error(t, result.err)
			assert.Contains(t, result.err.Error(), tt.wantErr)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGenerateState(t *testing.T) {
	a, err := GenerateState()
	require.NoError(t, err)

	b, err := GenerateState()
	require.NoError(t, err)

	assert.Len(t, a, 2*stateTokenBytes)
	assert.NotEqual(t, a, b)
}
