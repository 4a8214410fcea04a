package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/tonimelisma/graphfiles/internal/tokencache"
)

// Event delivery tuning.
const (
	subscriberBuffer  = 16
	eventWriteTimeout = 5 * time.Second
)

// Hub fans change events out to the websocket connections of one user.
// A subscriber that falls behind loses events rather than blocking the
// publisher.
type Hub struct {
	mu     sync.Mutex
	subs   map[tokencache.UserIdentity]map[chan ChangeEvent]struct{}
	logger *slog.Logger
}

// NewHub returns a hub with no subscribers.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		subs:   make(map[tokencache.UserIdentity]map[chan ChangeEvent]struct{}),
		logger: logger,
	}
}

// Subscribe registers a receiver for user's events. Call the returned
// function to unsubscribe.
func (h *Hub) Subscribe(user tokencache.UserIdentity) (<-chan ChangeEvent, func()) {
	ch := make(chan ChangeEvent, subscriberBuffer)

	h.mu.Lock()
	if h.subs[user] == nil {
		h.subs[user] = make(map[chan ChangeEvent]struct{})
	}

	h.subs[user][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()

			delete(h.subs[user], ch)

			if len(h.subs[user]) == 0 {
				delete(h.subs, user)
			}
		})
	}
}

// Publish delivers ev to every current subscriber of user without blocking.
func (h *Hub) Publish(user tokencache.UserIdentity, ev ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[user] {
		select {
		case ch <- ev:
		default:
			h.logger.Debug("dropping event for slow subscriber", slog.String("user_id", user.String()))
		}
	}
}

// Subscribers returns how many connections user has open.
func (h *Hub) Subscribers(user tokencache.UserIdentity) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subs[user])
}

// sessionUserReadOnly loads the session from its cookie without arranging
// for it to be saved.
func (s *Server) sessionUserReadOnly(r *http.Request) (tokencache.UserIdentity, error) {
	cookie, err := r.Cookie(s.sessions.Cookie.Name)
	if err != nil {
		return "", nil //nolint:nilerr // no cookie means no session
	}

	ctx, err := s.sessions.Load(r.Context(), cookie.Value)
	if err != nil {
		return "", err
	}

	return tokencache.UserIdentity(s.sessions.GetString(ctx, sessionUser)), nil
}

// handleEvents upgrades to a websocket and streams the user's change
// events until either side goes away. Messages from the client are ignored.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	user, err := s.sessionUserReadOnly(r)
	if err != nil {
		s.logger.Error("loading session", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, codeUpstream, "could not load session")

		return
	}

	if user.IsZero() {
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Code:     codeReauth,
			Message:  "sign-in required",
			LoginURL: signInURL("/files"),
		})

		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	events, unsubscribe := s.events.Subscribe(user)
	defer unsubscribe()

	s.logger.Debug("event subscriber connected", slog.String("user_id", user.String()))

	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if err := s.writeEvent(ctx, conn, ev); err != nil {
				if !errors.Is(err, context.Canceled) {
					s.logger.Debug("event write failed", slog.String("error", err.Error()))
				}

				return
			}
		}
	}
}

func (s *Server) writeEvent(ctx context.Context, conn *websocket.Conn, ev ChangeEvent) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()

	return wsjson.Write(ctx, conn, ev)
}
