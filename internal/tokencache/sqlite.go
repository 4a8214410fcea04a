package tokencache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	sqlGetCredential = `SELECT access_token, refresh_token, expires_at
		FROM credentials WHERE user_id = ?`

	sqlUpsertCredential = `INSERT INTO credentials
		(user_id, access_token, refresh_token, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
		 access_token = excluded.access_token,
		 refresh_token = excluded.refresh_token,
		 expires_at = excluded.expires_at,
		 updated_at = excluded.updated_at`

	sqlDeleteCredential = `DELETE FROM credentials WHERE user_id = ?`
)

// SQLiteStore is a durable Cache backed by a single SQLite database file.
type SQLiteStore struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// OpenSQLite opens (creating if needed) the database at dbPath and applies
// pending migrations. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storageError("open", fmt.Errorf("opening database %s: %w", dbPath, err))
	}

	// One connection keeps writes serialized and lets ":memory:" work.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, storageError("open", err)
	}

	logger.Info("sqlite token cache ready", slog.String("db_path", dbPath))

	return &SQLiteStore{db: db, logger: logger, nowFunc: time.Now}, nil
}

// runMigrations applies all pending schema migrations using the goose
// Provider API (no global state).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, user UserIdentity) (CachedCredential, bool, error) {
	if user.IsZero() {
		return CachedCredential{}, false, ErrEmptyIdentity
	}

	var (
		cred      CachedCredential
		expiresAt int64
	)

	err := s.db.QueryRowContext(ctx, sqlGetCredential, user.String()).
		Scan(&cred.AccessToken, &cred.RefreshToken, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CachedCredential{}, false, nil
	}

	if err != nil {
		return CachedCredential{}, false, storageError("get", err)
	}

	cred.ExpiresAt = time.Unix(0, expiresAt).UTC()

	return cred, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, user UserIdentity, cred CachedCredential) error {
	if user.IsZero() {
		return ErrEmptyIdentity
	}

	_, err := s.db.ExecContext(ctx, sqlUpsertCredential,
		user.String(),
		cred.AccessToken,
		cred.RefreshToken,
		cred.ExpiresAt.UnixNano(),
		s.nowFunc().UnixNano(),
	)
	if err != nil {
		return storageError("set", err)
	}

	s.logger.Debug("stored credential", slog.String("user_id", user.String()))

	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context, user UserIdentity) error {
	if user.IsZero() {
		return ErrEmptyIdentity
	}

	if _, err := s.db.ExecContext(ctx, sqlDeleteCredential, user.String()); err != nil {
		return storageError("clear", err)
	}

	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
