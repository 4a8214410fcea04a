// Package auth obtains delegated access tokens for signed-in users. Tokens
// come from a tokencache.Cache and are refreshed through the identity
// provider's token endpoint when they expire. The package also drives the
// authorization code + PKCE sign-in that populates the cache.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/graphfiles/internal/tokencache"
)

// ErrReauthenticationRequired means no usable credential exists and only an
// interactive sign-in can produce one. Returned errors are *ReauthError.
var ErrReauthenticationRequired = errors.New("auth: reauthentication required")

// ErrTokenRefreshFailed means the refresh could not complete for a reason a
// later retry may fix: network failure, 5xx, malformed response.
var ErrTokenRefreshFailed = errors.New("auth: token refresh failed")

// ErrNoIdentityClaim is returned when the id_token carries neither an oid
// nor a sub claim.
var ErrNoIdentityClaim = errors.New("auth: id_token has no oid or sub claim")

// DefaultTenant is the multi-tenant authority accepting work, school and
// personal accounts.
const DefaultTenant = "common"

// DefaultScopes are requested when Options.Scopes is empty.
var DefaultScopes = []string{
	"openid",
	"offline_access",
	"User.Read",
	"Files.ReadWrite",
}

// expiryMargin makes tokens count as expired slightly early, so a token is
// never sent that expires while the request is in flight.
const expiryMargin = time.Minute

// refreshTimeout bounds a shared refresh, which no caller can cancel.
const refreshTimeout = 30 * time.Second

// defaultTokenLifetime is assumed when the token response has no expires_in.
const defaultTokenLifetime = time.Hour

// ReauthError reports that the user must sign in again. ReturnURL is where
// the caller should send the user once sign-in completes.
type ReauthError struct {
	ReturnURL string
	Err       error // cause, may be nil
}

func (e *ReauthError) Error() string {
	if e.Err == nil {
		return ErrReauthenticationRequired.Error()
	}

	return ErrReauthenticationRequired.Error() + ": " + e.Err.Error()
}

func (e *ReauthError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrReauthenticationRequired}
	}

	return []error{ErrReauthenticationRequired, e.Err}
}

// Options configures a Provider.
type Options struct {
	ClientID     string
	ClientSecret string

	// Tenant selects the Azure AD authority. Ignored when AuthorityURL is set.
	Tenant string

	// AuthorityURL overrides the authority base, e.g. a fake identity
	// provider. The authorize and token endpoints are
	// {AuthorityURL}/oauth2/v2.0/{authorize,token}.
	AuthorityURL string

	RedirectURL string
	Scopes      []string

	// HTTPClient is used for token endpoint calls. nil uses http.DefaultClient.
	HTTPClient *http.Client
}

// Provider hands out access tokens per user. It is safe for concurrent use.
type Provider struct {
	oauth      oauth2.Config
	cache      tokencache.Cache
	httpClient *http.Client
	logger     *slog.Logger
	nowFunc    func() time.Time
	flights    singleflight.Group

	refreshTimeout time.Duration
}

// NewProvider creates a Provider storing credentials in cache.
func NewProvider(opts Options, cache tokencache.Cache, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}

	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	return &Provider{
		oauth: oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint:     endpoint(opts.Tenant, opts.AuthorityURL),
			RedirectURL:  opts.RedirectURL,
			Scopes:       scopes,
		},
		cache:      cache,
		httpClient: opts.HTTPClient,
		logger:     logger,
		nowFunc:    time.Now,

		refreshTimeout: refreshTimeout,
	}
}

func endpoint(tenant, authorityURL string) oauth2.Endpoint {
	var ep oauth2.Endpoint

	if authorityURL != "" {
		base := strings.TrimSuffix(authorityURL, "/")
		ep = oauth2.Endpoint{
			AuthURL:  base + "/oauth2/v2.0/authorize",
			TokenURL: base + "/oauth2/v2.0/token",
		}
	} else {
		if tenant == "" {
			tenant = DefaultTenant
		}

		ep = microsoft.AzureADEndpoint(tenant)
	}

	// Azure AD accepts the client secret in the request body. Fixing the
	// style skips x/oauth2's header-then-params auto-detection.
	ep.AuthStyle = oauth2.AuthStyleInParams

	return ep
}

// clientContext carries the configured HTTP client into x/oauth2 calls.
func (p *Provider) clientContext(ctx context.Context) context.Context {
	if p.httpClient == nil {
		return ctx
	}

	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// AccessToken returns a usable access token for user. A cached,
// unexpired token is returned without any network call. Otherwise the
// cached refresh token is redeemed; concurrent callers for the same user
// share one refresh. Errors are *ReauthError (sign-in needed, carrying
// returnURL) or wrap ErrTokenRefreshFailed.
func (p *Provider) AccessToken(ctx context.Context, user tokencache.UserIdentity, returnURL string) (string, error) {
	if user.IsZero() {
		return "", &ReauthError{ReturnURL: returnURL, Err: tokencache.ErrEmptyIdentity}
	}

	if cred, found := p.lookup(ctx, user); found && !p.expired(cred) {
		return cred.AccessToken, nil
	}

	ch := p.flights.DoChan(user.String(), func() (any, error) {
		// The refresh outlives any one caller: others may be waiting on it.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.refreshTimeout)
		defer cancel()

		return p.refresh(rctx, user)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", withReturnURL(res.Err, returnURL)
		}

		tok, _ := res.Val.(string)

		return tok, nil
	case <-ctx.Done():
		return "", fmt.Errorf("auth: waiting for token refresh: %w", ctx.Err())
	}
}

// withReturnURL gives each waiter its own ReauthError; the shared flight
// error must not be mutated.
func withReturnURL(err error, returnURL string) error {
	var reauth *ReauthError
	if errors.As(err, &reauth) {
		return &ReauthError{ReturnURL: returnURL, Err: reauth.Err}
	}

	return err
}

func (p *Provider) expired(cred tokencache.CachedCredential) bool {
	return cred.Expired(p.nowFunc().Add(expiryMargin))
}

// lookup reads the cache, treating a storage failure as a miss.
func (p *Provider) lookup(ctx context.Context, user tokencache.UserIdentity) (tokencache.CachedCredential, bool) {
	cred, found, err := p.cache.Get(ctx, user)
	if err != nil {
		p.logger.Warn("token cache read failed, treating as absent",
			slog.String("user_id", user.String()),
			slog.String("error", err.Error()),
		)

		return tokencache.CachedCredential{}, false
	}

	return cred, found
}

func (p *Provider) refresh(ctx context.Context, user tokencache.UserIdentity) (string, error) {
	// A flight that just finished may already have stored a fresh token.
	cred, found := p.lookup(ctx, user)
	if found && !p.expired(cred) {
		return cred.AccessToken, nil
	}

	if !found || !cred.HasRefreshToken() {
		p.logger.Info("no refreshable credential cached",
			slog.String("user_id", user.String()),
			slog.Bool("found", found),
		)

		return "", &ReauthError{}
	}

	p.logger.Info("refreshing access token",
		slog.String("user_id", user.String()),
		slog.Time("expired_at", cred.ExpiresAt),
	)

	src := p.oauth.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: cred.RefreshToken})

	tok, err := src.Token()
	if err != nil {
		return "", p.refreshError(ctx, user, err)
	}

	next := p.credentialFromToken(tok, cred.RefreshToken)

	if setErr := p.cache.Set(ctx, user, next); setErr != nil {
		p.logger.Warn("storing refreshed token failed",
			slog.String("user_id", user.String()),
			slog.String("error", setErr.Error()),
		)
	}

	p.logger.Info("access token refreshed",
		slog.String("user_id", user.String()),
		slog.Time("expires_at", next.ExpiresAt),
	)

	return next.AccessToken, nil
}

// reauthErrorCodes are OAuth2 error codes meaning the refresh token can no
// longer be redeemed without user interaction.
var reauthErrorCodes = map[string]bool{
	"invalid_grant":        true,
	"interaction_required": true,
	"login_required":       true,
	"consent_required":     true,
	"invalid_client":       true,
	"unauthorized_client":  true,
}

// refreshError classifies a failed refresh. Rejections of the grant clear
// the stale cache entry and require a new sign-in.
func (p *Provider) refreshError(ctx context.Context, user tokencache.UserIdentity, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}

		if reauthErrorCodes[re.ErrorCode] || status == http.StatusBadRequest || status == http.StatusUnauthorized {
			p.logger.Warn("refresh token rejected, sign-in required",
				slog.String("user_id", user.String()),
				slog.String("error_code", re.ErrorCode),
				slog.Int("status", status),
			)

			if clearErr := p.cache.Clear(ctx, user); clearErr != nil {
				p.logger.Warn("clearing rejected credential failed",
					slog.String("user_id", user.String()),
					slog.String("error", clearErr.Error()),
				)
			}

			return &ReauthError{Err: err}
		}
	}

	p.logger.Error("token refresh failed",
		slog.String("user_id", user.String()),
		slog.String("error", err.Error()),
	)

	return fmt.Errorf("%w: %w", ErrTokenRefreshFailed, err)
}

// credentialFromToken converts a token response. Identity providers may
// omit the refresh token on refresh; the previous one stays valid then.
func (p *Provider) credentialFromToken(tok *oauth2.Token, previousRefresh string) tokencache.CachedCredential {
	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = p.nowFunc().Add(defaultTokenLifetime)
	}

	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = previousRefresh
	}

	return tokencache.CachedCredential{
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
	}
}

// SignOut forgets user's cached credential.
func (p *Provider) SignOut(ctx context.Context, user tokencache.UserIdentity) error {
	if err := p.cache.Clear(ctx, user); err != nil {
		return fmt.Errorf("auth: signing out: %w", err)
	}

	p.logger.Info("signed out", slog.String("user_id", user.String()))

	return nil
}

// UserTokenSource binds a Provider to one user for the duration of a
// request. It satisfies graph.TokenSource.
type UserTokenSource struct {
	provider  *Provider
	user      tokencache.UserIdentity
	returnURL string
}

// TokenSource returns a token source for user. returnURL is carried into
// any *ReauthError.
func (p *Provider) TokenSource(user tokencache.UserIdentity, returnURL string) *UserTokenSource {
	return &UserTokenSource{provider: p, user: user, returnURL: returnURL}
}

// Token returns a valid access token for the bound user.
func (s *UserTokenSource) Token(ctx context.Context) (string, error) {
	return s.provider.AccessToken(ctx, s.user, s.returnURL)
}
