package graphtest

import (
	"crypto/sha256"
	"encoding/base64"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// DefaultUser is the identity the fake provider signs in when the
// authorize request carries no login_hint.
const DefaultUser = "dev-user"

// Paths served by IdentityProvider, relative to its base URL.
const (
	AuthorizePath = "/oauth2/v2.0/authorize"
	TokenPath     = "/oauth2/v2.0/token" //nolint:gosec // G101: endpoint path, not a credential
)

type authCode struct {
	user        string
	challenge   string
	redirectURI string
}

type issuedToken struct {
	user    string
	expires time.Time
}

// IdentityProvider is a fake OAuth2 authorization server supporting the
// authorization code grant with PKCE and the refresh token grant. Sign-in
// is automatic: /authorize redirects straight back with a code.
type IdentityProvider struct {
	mu      sync.Mutex
	router  *mux.Router
	logger  *slog.Logger
	nowFunc func() time.Time

	// ClientID and ClientSecret, when set, must match the token request.
	ClientID     string
	ClientSecret string

	// TokenLifetime is the access token lifetime. Defaults to one hour.
	TokenLifetime time.Duration

	codes         map[string]authCode
	accessTokens  map[string]issuedToken
	refreshTokens map[string]string // refresh token -> user
	refreshCount  int
	failNext      []int
	signingKey    []byte
}

// NewIdentityProvider returns a provider with no issued tokens.
func NewIdentityProvider(logger *slog.Logger) *IdentityProvider {
	if logger == nil {
		logger = slog.Default()
	}

	p := &IdentityProvider{
		logger:        logger,
		nowFunc:       time.Now,
		TokenLifetime: time.Hour,
		codes:         make(map[string]authCode),
		accessTokens:  make(map[string]issuedToken),
		refreshTokens: make(map[string]string),
		signingKey:    []byte(uuid.NewString()),
	}

	r := mux.NewRouter()
	r.HandleFunc(AuthorizePath, p.handleAuthorize).Methods(http.MethodGet)
	r.HandleFunc(TokenPath, p.handleToken).Methods(http.MethodPost)
	p.router = r

	return p
}

func (p *IdentityProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.router.ServeHTTP(w, r)
}

// SetNow replaces the provider's clock.
func (p *IdentityProvider) SetNow(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nowFunc = now
}

// ValidAccessToken reports whether token was issued here and is unexpired.
// Wire it to Drive.Authorize so the fake drive enforces token expiry.
func (p *IdentityProvider) ValidAccessToken(token string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.accessTokens[token]

	return ok && p.nowFunc().Before(t.expires)
}

// RefreshCount returns how many refresh token grants succeeded.
func (p *IdentityProvider) RefreshCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.refreshCount
}

// RevokeRefreshTokens invalidates every refresh token issued to user.
func (p *IdentityProvider) RevokeRefreshTokens(user string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for rt, u := range p.refreshTokens {
		if u == user {
			delete(p.refreshTokens, rt)
		}
	}
}

// IssueRefreshToken registers a refresh token for user without a sign-in,
// for seeding caches in tests.
func (p *IdentityProvider) IssueRefreshToken(user string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	rt := uuid.NewString()
	p.refreshTokens[rt] = user

	return rt
}

// FailNextToken makes the next token requests fail with the given statuses.
// 400 responses carry the invalid_grant error code.
func (p *IdentityProvider) FailNextToken(statuses ...int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failNext = append(p.failNext, statuses...)
}

func (p *IdentityProvider) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	redirectURI := q.Get("redirect_uri")

	target, err := url.Parse(redirectURI)
	if err != nil || redirectURI == "" {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	if q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" {
		http.Error(w, "PKCE S256 challenge required", http.StatusBadRequest)
		return
	}

	user := q.Get("login_hint")
	if user == "" {
		user = DefaultUser
	}

	code := uuid.NewString()

	p.mu.Lock()
	p.codes[code] = authCode{user: user, challenge: q.Get("code_challenge"), redirectURI: redirectURI}
	p.mu.Unlock()

	params := target.Query()
	params.Set("code", code)
	params.Set("state", q.Get("state"))
	target.RawQuery = params.Encode()

	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (p *IdentityProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.failNext) > 0 {
		status := p.failNext[0]
		p.failNext = p.failNext[1:]

		code := "temporarily_unavailable"
		if status == http.StatusBadRequest {
			code = "invalid_grant"
		}

		writeOAuthError(w, status, code)

		return
	}

	if !p.clientAuthenticatedLocked(r) {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		p.exchangeCodeLocked(w, r)
	case "refresh_token":
		p.refreshLocked(w, r)
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type")
	}
}

// clientAuthenticatedLocked accepts client credentials via basic auth or
// form parameters, the two styles golang.org/x/oauth2 may use.
func (p *IdentityProvider) clientAuthenticatedLocked(r *http.Request) bool {
	if p.ClientID == "" && p.ClientSecret == "" {
		return true
	}

	id, secret, ok := r.BasicAuth()
	if ok {
		id, _ = url.QueryUnescape(id)
		secret, _ = url.QueryUnescape(secret)
	} else {
		id = r.PostForm.Get("client_id")
		secret = r.PostForm.Get("client_secret")
	}

	return id == p.ClientID && secret == p.ClientSecret
}

func (p *IdentityProvider) exchangeCodeLocked(w http.ResponseWriter, r *http.Request) {
	code := r.PostForm.Get("code")

	ac, ok := p.codes[code]
	if !ok {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant")
		return
	}

	// Codes are single use.
	delete(p.codes, code)

	sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
	if base64.RawURLEncoding.EncodeToString(sum[:]) != ac.challenge {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant")
		return
	}

	if r.PostForm.Get("redirect_uri") != ac.redirectURI {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant")
		return
	}

	p.issueLocked(w, ac.user)
}

func (p *IdentityProvider) refreshLocked(w http.ResponseWriter, r *http.Request) {
	rt := r.PostForm.Get("refresh_token")

	user, ok := p.refreshTokens[rt]
	if !ok {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant")
		return
	}

	// Rotate: the old refresh token is spent.
	delete(p.refreshTokens, rt)
	p.refreshCount++

	p.issueLocked(w, user)
}

func (p *IdentityProvider) issueLocked(w http.ResponseWriter, user string) {
	now := p.nowFunc()
	access := uuid.NewString()
	refresh := uuid.NewString()

	p.accessTokens[access] = issuedToken{user: user, expires: now.Add(p.TokenLifetime)}
	p.refreshTokens[refresh] = user

	idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"oid":                user,
		"sub":                "sub-" + user,
		"preferred_username": user + "@example.com",
		"name":               user,
		"aud":                p.ClientID,
		"iat":                now.Unix(),
		"exp":                now.Add(p.TokenLifetime).Unix(),
	}).SignedString(p.signingKey)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error")
		return
	}

	p.logger.Debug("fake identity provider issued token", slog.String("user_id", user))

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"token_type":    "Bearer",
		"refresh_token": refresh,
		"expires_in":    int(p.TokenLifetime.Seconds()),
		"id_token":      idToken,
	})
}

func writeOAuthError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": code,
	})
}
