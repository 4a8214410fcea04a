// Package web is the HTTP boundary of the application. Each request is
// resolved to the signed-in identity held in its session, a drive client
// acting as that identity, and exactly one drive operation whose outcome is
// mapped to a distinct HTTP response.
package web

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/tonimelisma/graphfiles/internal/graph"
	"github.com/tonimelisma/graphfiles/internal/tokencache"
)

// Store is the remote drive as seen by the handlers. *graph.Client
// satisfies it.
type Store interface {
	ListChildren(ctx context.Context, parentID string, page graph.PageRequest) ([]graph.Item, error)
	DeleteItem(ctx context.Context, itemID, etag string) error
	UploadItem(ctx context.Context, parentID, name string, r io.Reader) (*graph.Item, error)
}

// StoreFunc returns a Store acting as user for one request. returnURL is
// where the user should land after signing in again if the token layer
// demands it.
type StoreFunc func(user tokencache.UserIdentity, returnURL string) Store

// Authenticator drives interactive sign-in. *auth.Provider satisfies it.
type Authenticator interface {
	AuthCodeURL(state, verifier string) string
	CompleteLogin(ctx context.Context, code, verifier string) (tokencache.UserIdentity, error)
	SignOut(ctx context.Context, user tokencache.UserIdentity) error
}

// Options configures a Server. Sessions, Auth and Stores are required.
type Options struct {
	Sessions *scs.SessionManager
	Auth     Authenticator
	Stores   StoreFunc

	// PageSize returns the listing size used when a request names none.
	// It is consulted per request so a config reload takes effect. nil
	// means graph.DefaultPageSize.
	PageSize func() int

	// RateLimit and RateBurst bound requests per client IP. A zero
	// RateLimit disables limiting.
	RateLimit rate.Limit
	RateBurst int
}

// Server serves the sign-in flow and the file routes.
type Server struct {
	sessions *scs.SessionManager
	auth     Authenticator
	stores   StoreFunc
	pageSize func() int
	events   *Hub
	limiter  *RateLimiter
	logger   *slog.Logger
	handler  http.Handler
}

// NewServer builds the router and middleware chain.
func NewServer(opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	pageSize := opts.PageSize
	if pageSize == nil {
		pageSize = func() int { return graph.DefaultPageSize }
	}

	s := &Server{
		sessions: opts.Sessions,
		auth:     opts.Auth,
		stores:   opts.Stores,
		pageSize: pageSize,
		events:   NewHub(logger),
		logger:   logger,
	}

	r := mux.NewRouter()

	// The event stream only reads the session and hijacks the connection,
	// so it is mounted outside LoadAndSave.
	r.HandleFunc("/files/events", s.handleEvents).Methods(http.MethodGet)

	app := r.NewRoute().Subrouter()
	app.Use(s.sessions.LoadAndSave)
	app.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	app.HandleFunc("/auth/signin", s.handleSignIn).Methods(http.MethodGet)
	app.HandleFunc("/auth/callback", s.handleCallback).Methods(http.MethodGet)
	app.HandleFunc("/auth/signout", s.handleSignOut).Methods(http.MethodPost)
	app.HandleFunc("/files", s.handleList).Methods(http.MethodGet)
	app.HandleFunc("/files/delete", s.handleDelete).Methods(http.MethodPost)
	app.HandleFunc("/files/upload", s.handleUpload).Methods(http.MethodPost)

	var h http.Handler = r

	if opts.RateLimit > 0 {
		s.limiter = NewRateLimiter(opts.RateLimit, opts.RateBurst, logger)
		h = s.limiter.Limit(h)
	}

	s.handler = logRequests(logger, h)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Events returns the hub that fans mutation notices out to websocket
// subscribers.
func (s *Server) Events() *Hub {
	return s.events
}
