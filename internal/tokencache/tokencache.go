// Package tokencache persists delegated OAuth2 credentials per signed-in user.
// Every backend is keyed strictly by UserIdentity and replaces entries
// wholesale, so concurrent writers for one user resolve as last-writer-wins.
package tokencache

import (
	"context"
	"errors"
	"time"
)

// ErrStorageUnavailable wraps any failure of the underlying persistence
// layer. Callers treat it as "no cached credential" and fall back to an
// interactive sign-in.
var ErrStorageUnavailable = errors.New("tokencache: storage unavailable")

// ErrEmptyIdentity is returned when an operation is attempted without a
// user identity. An empty key would collapse every user onto one entry.
var ErrEmptyIdentity = errors.New("tokencache: empty user identity")

// UserIdentity is the stable object/subject id of the signed-in principal.
type UserIdentity string

func (u UserIdentity) String() string {
	return string(u)
}

// IsZero reports whether the identity is unset.
func (u UserIdentity) IsZero() bool {
	return u == ""
}

// CachedCredential is the credential set stored for one user.
type CachedCredential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token must not be used at now.
// A token is expired at its expiry instant, not after it.
func (c CachedCredential) Expired(now time.Time) bool {
	return c.AccessToken == "" || !now.Before(c.ExpiresAt)
}

// HasRefreshToken reports whether the credential can be refreshed silently.
func (c CachedCredential) HasRefreshToken() bool {
	return c.RefreshToken != ""
}

// Cache stores one CachedCredential per UserIdentity.
// Get returns found=false (and a nil error) when no entry exists.
type Cache interface {
	Get(ctx context.Context, user UserIdentity) (CachedCredential, bool, error)
	Set(ctx context.Context, user UserIdentity, cred CachedCredential) error
	Clear(ctx context.Context, user UserIdentity) error
}

// storageError wraps err so that errors.Is(err, ErrStorageUnavailable) holds
// while the original cause stays inspectable.
func storageError(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// StorageError records which cache operation failed and why.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "tokencache: " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorageUnavailable, e.Err}
}
