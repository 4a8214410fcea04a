package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tonimelisma/graphfiles/internal/auth"
	"github.com/tonimelisma/graphfiles/internal/graph"
	"github.com/tonimelisma/graphfiles/internal/tokencache"
)

// Error codes returned in errorResponse.Code.
const (
	codeReauth       = "reauthentication_required"
	codeUnavailable  = "service_unavailable"
	codeUnauthorized = "unauthorized"
	codeForbidden    = "forbidden"
	codeConflict     = "conflict"
	codeNotFound     = "not_found"
	codeInvalid      = "invalid_request"
	codeUpstream     = "upstream_error"
	codeSignIn       = "signin_failed"
	codeRateLimited  = "rate_limited"
)

const signInPath = "/auth/signin"

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	LoginURL  string `json:"login_url,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// wantsJSON reports whether the client asked for JSON rather than a page.
// Browsers always list text/html; API clients send application/json.
func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")

	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}

// signInURL returns the sign-in route that comes back to returnURL.
func signInURL(returnURL string) string {
	return signInPath + "?returnUrl=" + url.QueryEscape(returnURL)
}

// safeReturnURL keeps only same-site paths, so the sign-in flow cannot be
// used as an open redirect.
func safeReturnURL(raw string) string {
	const fallback = "/files"

	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, `/\`) {
		return fallback
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}

	return raw
}

// requireSignIn sends the client to sign in: a redirect for browsers, a
// 401 carrying the login URL for API clients.
func requireSignIn(w http.ResponseWriter, r *http.Request, returnURL string) {
	loginURL := signInURL(safeReturnURL(returnURL))

	if wantsJSON(r) {
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Code:     codeReauth,
			Message:  "sign-in required",
			LoginURL: loginURL,
		})

		return
	}

	http.Redirect(w, r, loginURL, http.StatusFound)
}

// writeStoreError maps a failed drive operation to its response. Every
// failure class gets a distinct status.
func (s *Server) writeStoreError(
	w http.ResponseWriter, r *http.Request, user tokencache.UserIdentity, returnURL string, err error,
) {
	logger := s.logger.With(slog.String("user_id", user.String()))

	var reauth *auth.ReauthError

	switch {
	case errors.As(err, &reauth):
		logger.Info("reauthentication required", slog.String("error", err.Error()))

		if reauth.ReturnURL != "" {
			returnURL = reauth.ReturnURL
		}

		requireSignIn(w, r, returnURL)
	case errors.Is(err, auth.ErrReauthenticationRequired):
		requireSignIn(w, r, returnURL)
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		logger.Debug("client went away", slog.String("error", err.Error()))
	case errors.Is(err, auth.ErrTokenRefreshFailed),
		errors.Is(err, graph.ErrTransient),
		errors.Is(err, context.DeadlineExceeded):
		logger.Warn("drive temporarily unavailable", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Code:      codeUnavailable,
			Message:   "the drive is temporarily unavailable, try again",
			Retryable: true,
		})
	case errors.Is(err, graph.ErrUnauthorized):
		// The drive rejected a token the cache considered valid; drop it so
		// the next request starts a new token cycle.
		if clearErr := s.auth.SignOut(r.Context(), user); clearErr != nil {
			logger.Warn("clearing rejected credential", slog.String("error", clearErr.Error()))
		}

		writeError(w, http.StatusUnauthorized, codeUnauthorized, "the drive rejected the access token")
	case errors.Is(err, graph.ErrForbidden):
		// The token is fine; the user lacks access to this item.
		writeError(w, http.StatusForbidden, codeForbidden, "access to the item was denied")
	case errors.Is(err, graph.ErrConflict):
		writeError(w, http.StatusConflict, codeConflict, "the item changed since it was listed")
	case errors.Is(err, graph.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "item not found")
	case errors.Is(err, graph.ErrBadRequest),
		errors.Is(err, graph.ErrInvalidPageSize),
		errors.Is(err, graph.ErrMissingETag),
		errors.Is(err, graph.ErrMissingItemID),
		errors.Is(err, graph.ErrInvalidName):
		writeError(w, http.StatusBadRequest, codeInvalid, err.Error())
	default:
		logger.Error("drive operation failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, codeUpstream, "the drive returned an unexpected response")
	}
}
