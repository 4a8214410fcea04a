package tokencache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"time"

	"github.com/tonimelisma/graphfiles/internal/tokenfile"
)

// FileStore keeps one credential file per user under a directory.
// File names are hashes of the identity so identities never appear in paths.
type FileStore struct {
	dir     string
	nowFunc func() time.Time
}

// NewFileStore returns a FileStore rooted at dir. The directory is created
// lazily on the first Set.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir, nowFunc: time.Now}
}

// path returns the credential file path for user.
func (s *FileStore) path(user UserIdentity) string {
	sum := sha256.Sum256([]byte(user))

	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+".json")
}

func (s *FileStore) Get(_ context.Context, user UserIdentity) (CachedCredential, bool, error) {
	if user.IsZero() {
		return CachedCredential{}, false, ErrEmptyIdentity
	}

	tf, err := tokenfile.Load(s.path(user))
	if err != nil {
		return CachedCredential{}, false, storageError("get", err)
	}

	// A hash collision or a hand-copied file must not hand out another
	// user's credential.
	if tf == nil || tf.UserID != user.String() {
		return CachedCredential{}, false, nil
	}

	return CachedCredential{
		AccessToken:  tf.AccessToken,
		RefreshToken: tf.RefreshToken,
		ExpiresAt:    tf.ExpiresAt,
	}, true, nil
}

func (s *FileStore) Set(_ context.Context, user UserIdentity, cred CachedCredential) error {
	if user.IsZero() {
		return ErrEmptyIdentity
	}

	err := tokenfile.Save(s.path(user), &tokenfile.File{
		UserID:       user.String(),
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		ExpiresAt:    cred.ExpiresAt,
		UpdatedAt:    s.nowFunc().UTC(),
	})
	if err != nil {
		return storageError("set", err)
	}

	return nil
}

func (s *FileStore) Clear(_ context.Context, user UserIdentity) error {
	if user.IsZero() {
		return ErrEmptyIdentity
	}

	if err := tokenfile.Remove(s.path(user)); err != nil {
		return storageError("clear", err)
	}

	return nil
}
