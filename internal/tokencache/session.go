package tokencache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alexedwards/scs/v2"
)

// sessionKeyPrefix namespaces credential entries inside the session.
const sessionKeyPrefix = "tokencache:"

// errNoSession is reported when ctx carries no loaded scs session, e.g. a
// call made outside the session middleware.
var errNoSession = errors.New("no session loaded in context")

// SessionStore keeps credentials inside the caller's HTTP session, so the
// cache lives exactly as long as the sign-in session. ctx must be a request
// context that passed through the session manager's LoadAndSave middleware.
type SessionStore struct {
	sm *scs.SessionManager
}

// NewSessionStore returns a Cache backed by sm.
func NewSessionStore(sm *scs.SessionManager) *SessionStore {
	return &SessionStore{sm: sm}
}

func sessionKey(user UserIdentity) string {
	return sessionKeyPrefix + user.String()
}

func (s *SessionStore) Get(ctx context.Context, user UserIdentity) (cred CachedCredential, found bool, err error) {
	if user.IsZero() {
		return CachedCredential{}, false, ErrEmptyIdentity
	}

	defer recoverNoSession("get", &err)

	data := s.sm.GetBytes(ctx, sessionKey(user))
	if len(data) == 0 {
		return CachedCredential{}, false, nil
	}

	if jsonErr := json.Unmarshal(data, &cred); jsonErr != nil {
		return CachedCredential{}, false, storageError("get", fmt.Errorf("decoding session entry: %w", jsonErr))
	}

	return cred, true, nil
}

func (s *SessionStore) Set(ctx context.Context, user UserIdentity, cred CachedCredential) (err error) {
	if user.IsZero() {
		return ErrEmptyIdentity
	}

	data, err := json.Marshal(cred)
	if err != nil {
		return storageError("set", fmt.Errorf("encoding session entry: %w", err))
	}

	defer recoverNoSession("set", &err)

	s.sm.Put(ctx, sessionKey(user), data)

	return nil
}

func (s *SessionStore) Clear(ctx context.Context, user UserIdentity) (err error) {
	if user.IsZero() {
		return ErrEmptyIdentity
	}

	defer recoverNoSession("clear", &err)

	s.sm.Remove(ctx, sessionKey(user))

	return nil
}

// recoverNoSession converts the scs "no session data in context" panic into
// a storage error.
func recoverNoSession(op string, errp *error) {
	if r := recover(); r != nil {
		*errp = storageError(op, fmt.Errorf("%w: %v", errNoSession, r))
	}
}
