package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warden-auth/warden/core"
	_ "modernc.org/sqlite"
)

// SQLiteStore backs the user, credential and token stores with a single
// SQLite file for durable single-node deployments. Expired token rows are
// removed by DeleteExpired, which the composition root runs periodically.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS credentials (
	key        TEXT PRIMARY KEY,
	id         BLOB NOT NULL,
	user_id    TEXT NOT NULL,
	algorithm  INTEGER NOT NULL,
	public_key BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_credentials_user ON credentials(user_id);

CREATE TABLE IF NOT EXISTS tokens (
	hash       TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	pair_id    TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tokens_user ON tokens(user_id);
CREATE INDEX IF NOT EXISTS idx_tokens_pair ON tokens(user_id, pair_id);
CREATE INDEX IF NOT EXISTS idx_tokens_expiry ON tokens(expires_at);
`

// OpenSQLiteStore opens (creating if needed) the store at path and applies
// the schema.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer connection keeps concurrent consumes serialized instead
	// of surfacing SQLITE_BUSY to callers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// PutUser stores or replaces a user record.
func (s *SQLiteStore) PutUser(ctx context.Context, user core.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		user.ID, user.Name, toMillis(user.CreatedAt))
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by id.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (core.User, error) {
	var user core.User
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM users WHERE id = ?`, id).
		Scan(&user.ID, &user.Name, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.User{}, core.ErrUserNotFound
		}
		return core.User{}, fmt.Errorf("get user: %w", err)
	}
	user.CreatedAt = fromMillis(createdAt)
	return user, nil
}

// PutCredential stores a new credential, rejecting duplicate ids.
func (s *SQLiteStore) PutCredential(ctx context.Context, cred core.Credential) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (key, id, user_id, algorithm, public_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		cred.Key(), cred.ID, cred.UserID, cred.Algorithm, cred.PublicKey, toMillis(cred.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrCredentialExists
		}
		return fmt.Errorf("put credential: %w", err)
	}
	return nil
}

// GetCredential retrieves a credential by its encoded id.
func (s *SQLiteStore) GetCredential(ctx context.Context, key string) (core.Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, algorithm, public_key, created_at FROM credentials WHERE key = ?`, key)
	cred, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Credential{}, core.ErrCredentialNotFound
		}
		return core.Credential{}, fmt.Errorf("get credential: %w", err)
	}
	return cred, nil
}

// ListCredentials returns all credentials owned by the user.
func (s *SQLiteStore) ListCredentials(ctx context.Context, userID string) ([]core.Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, algorithm, public_key, created_at
		 FROM credentials WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []core.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return creds, nil
}

// DeleteCredential removes one credential.
func (s *SQLiteStore) DeleteCredential(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if n == 0 {
		return core.ErrCredentialNotFound
	}
	return nil
}

// PutToken stores a hashed token record.
func (s *SQLiteStore) PutToken(ctx context.Context, rec core.TokenRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tokens (hash, kind, user_id, pair_id, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.Hash, string(rec.Kind), rec.UserID, rec.PairID, toMillis(rec.ExpiresAt))
	if err != nil {
		return fmt.Errorf("put token: %w", err)
	}
	return nil
}

// GetToken retrieves a token record by hash.
func (s *SQLiteStore) GetToken(ctx context.Context, hash string) (core.TokenRecord, error) {
	var rec core.TokenRecord
	var kind string
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT hash, kind, user_id, pair_id, expires_at FROM tokens WHERE hash = ?`, hash).
		Scan(&rec.Hash, &kind, &rec.UserID, &rec.PairID, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.TokenRecord{}, core.ErrTokenNotFound
		}
		return core.TokenRecord{}, fmt.Errorf("get token: %w", err)
	}
	rec.Kind = core.TokenKind(kind)
	rec.ExpiresAt = fromMillis(expiresAt)
	return rec, nil
}

// ConsumeToken removes and returns a record in a single statement, so only
// one of two racing rotations can observe the row.
func (s *SQLiteStore) ConsumeToken(ctx context.Context, hash string) (core.TokenRecord, error) {
	var rec core.TokenRecord
	var kind string
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM tokens WHERE hash = ? RETURNING hash, kind, user_id, pair_id, expires_at`, hash).
		Scan(&rec.Hash, &kind, &rec.UserID, &rec.PairID, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.TokenRecord{}, core.ErrTokenNotFound
		}
		return core.TokenRecord{}, fmt.Errorf("consume token: %w", err)
	}
	rec.Kind = core.TokenKind(kind)
	rec.ExpiresAt = fromMillis(expiresAt)
	return rec, nil
}

// DeletePair removes both halves of a session pair.
func (s *SQLiteStore) DeletePair(ctx context.Context, userID, pairID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM tokens WHERE user_id = ? AND pair_id = ?`, userID, pairID)
	if err != nil {
		return fmt.Errorf("delete pair: %w", err)
	}
	return nil
}

// DeleteByUser removes every token record belonging to the user.
func (s *SQLiteStore) DeleteByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete user tokens: %w", err)
	}
	return nil
}

// DeleteExpired sweeps token rows whose expiry precedes now.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE expires_at < ?`, toMillis(now))
	if err != nil {
		return fmt.Errorf("delete expired tokens: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (core.Credential, error) {
	var cred core.Credential
	var createdAt int64
	if err := row.Scan(&cred.ID, &cred.UserID, &cred.Algorithm, &cred.PublicKey, &createdAt); err != nil {
		return core.Credential{}, err
	}
	cred.CreatedAt = fromMillis(createdAt)
	return cred, nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces constraint failures in the message only.
	// Only uniqueness maps to ErrCredentialExists; other constraint
	// violations stay infrastructure errors.
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}
