package web

import (
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
)

// SessionCookieName names the session cookie.
const SessionCookieName = "graphfiles_session"

// NewSessionManager returns an in-memory session manager. The cookie is
// SameSite=Lax so it survives the top-level redirect back from the identity
// provider.
func NewSessionManager(lifetime time.Duration, secure bool) *scs.SessionManager {
	sm := scs.New()
	sm.Lifetime = lifetime
	sm.Cookie.Name = SessionCookieName
	sm.Cookie.HttpOnly = true
	sm.Cookie.SameSite = http.SameSiteLaxMode
	sm.Cookie.Secure = secure

	return sm
}
