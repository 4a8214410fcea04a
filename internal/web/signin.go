package web

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/tonimelisma/graphfiles/internal/auth"
	"github.com/tonimelisma/graphfiles/internal/tokencache"
)

// Session keys.
const (
	sessionUser      = "user_id"
	sessionState     = "signin_state"
	sessionVerifier  = "signin_verifier"
	sessionReturnURL = "signin_return_url"
)

func (s *Server) currentUser(r *http.Request) tokencache.UserIdentity {
	return tokencache.UserIdentity(s.sessions.GetString(r.Context(), sessionUser))
}

type indexResponse struct {
	SignedIn bool   `json:"signed_in"`
	User     string `json:"user,omitempty"`
	LoginURL string `json:"login_url,omitempty"`
	FilesURL string `json:"files_url,omitempty"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	if user.IsZero() {
		writeJSON(w, http.StatusOK, indexResponse{LoginURL: signInURL("/files")})
		return
	}

	writeJSON(w, http.StatusOK, indexResponse{SignedIn: true, User: user.String(), FilesURL: "/files"})
}

// handleSignIn starts the authorization code flow. The state, PKCE verifier
// and return URL live in the session until the callback.
func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	state, err := auth.GenerateState()
	if err != nil {
		s.logger.Error("generating sign-in state", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, codeSignIn, "could not start sign-in")

		return
	}

	verifier := auth.GenerateVerifier()
	returnURL := safeReturnURL(r.URL.Query().Get("returnUrl"))

	ctx := r.Context()
	s.sessions.Put(ctx, sessionState, state)
	s.sessions.Put(ctx, sessionVerifier, verifier)
	s.sessions.Put(ctx, sessionReturnURL, returnURL)

	s.logger.Debug("redirecting to identity provider", slog.String("return_url", returnURL))

	http.Redirect(w, r, s.auth.AuthCodeURL(state, verifier), http.StatusFound)
}

// handleCallback completes sign-in and sends the user where they were
// going.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	state := s.sessions.PopString(ctx, sessionState)
	verifier := s.sessions.PopString(ctx, sessionVerifier)
	returnURL := safeReturnURL(s.sessions.PopString(ctx, sessionReturnURL))

	if errCode := q.Get("error"); errCode != "" {
		s.logger.Warn("identity provider returned an error",
			slog.String("error", errCode),
			slog.String("description", q.Get("error_description")),
		)
		writeError(w, http.StatusUnauthorized, codeSignIn, "sign-in was not completed: "+errCode)

		return
	}

	if state == "" || q.Get("state") != state {
		writeError(w, http.StatusBadRequest, codeInvalid, "sign-in state mismatch, start again")
		return
	}

	code := q.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, codeInvalid, "callback is missing the authorization code")
		return
	}

	// Rotate the session token before it carries an identity.
	if err := s.sessions.RenewToken(ctx); err != nil {
		s.logger.Error("renewing session token", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, codeSignIn, "could not start session")

		return
	}

	user, err := s.auth.CompleteLogin(ctx, code, verifier)
	if err != nil {
		s.logger.Warn("sign-in failed", slog.String("error", err.Error()))

		if errors.Is(err, tokencache.ErrStorageUnavailable) {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{
				Code:      codeUnavailable,
				Message:   "could not store credentials, try again",
				Retryable: true,
			})

			return
		}

		writeError(w, http.StatusUnauthorized, codeSignIn, "sign-in failed")

		return
	}

	s.sessions.Put(ctx, sessionUser, user.String())

	s.logger.Info("user signed in", slog.String("user_id", user.String()))

	http.Redirect(w, r, returnURL, http.StatusFound)
}

// handleSignOut forgets the user's credential and ends the session.
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if user := s.currentUser(r); !user.IsZero() {
		if err := s.auth.SignOut(ctx, user); err != nil {
			s.logger.Warn("clearing credential on sign-out", slog.String("error", err.Error()))
		}
	}

	if err := s.sessions.Destroy(ctx); err != nil {
		s.logger.Error("destroying session", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, codeUpstream, "could not end session")

		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}
