package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/warden-auth/warden/core"
	"github.com/warden-auth/warden/ports"
)

// Default token lifetimes.
const (
	DefaultAccessTTL  = 10 * time.Minute
	DefaultRefreshTTL = 8 * time.Hour
)

const tokenSecretSize = 32

// SessionManager mints, resolves, rotates and revokes access/refresh token
// pairs. Tokens are opaque random secrets; the store only ever sees their
// SHA-256 digests.
type SessionManager struct {
	tokens ports.TokenStore
	users  ports.UserStore
	events ports.EventPublisher
	logger *slog.Logger

	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewSessionManager creates a session manager. Zero TTLs fall back to the
// package defaults.
func NewSessionManager(
	tokens ports.TokenStore,
	users ports.UserStore,
	events ports.EventPublisher,
	accessTTL, refreshTTL time.Duration,
	logger *slog.Logger,
) *SessionManager {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}
	return &SessionManager{
		tokens:     tokens,
		users:      users,
		events:     events,
		logger:     logger,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// CreateSession mints a fresh token pair for the user and persists the
// hashed records. The two halves share a pair id, so revoking either one
// kills both.
func (m *SessionManager) CreateSession(ctx context.Context, userID string) (core.TokenPair, error) {
	now := m.now()
	pairID := uuid.New().String()

	accessSecret, err := newTokenSecret()
	if err != nil {
		return core.TokenPair{}, err
	}
	refreshSecret, err := newTokenSecret()
	if err != nil {
		return core.TokenPair{}, err
	}

	pair := core.TokenPair{
		AccessToken:   accessSecret,
		RefreshToken:  refreshSecret,
		AccessExpiry:  now.Add(m.accessTTL),
		RefreshExpiry: now.Add(m.refreshTTL),
	}

	access := core.TokenRecord{
		Hash:      HashToken(accessSecret),
		Kind:      core.TokenKindAccess,
		UserID:    userID,
		PairID:    pairID,
		ExpiresAt: pair.AccessExpiry,
	}
	refresh := core.TokenRecord{
		Hash:      HashToken(refreshSecret),
		Kind:      core.TokenKindRefresh,
		UserID:    userID,
		PairID:    pairID,
		ExpiresAt: pair.RefreshExpiry,
	}

	if err := m.tokens.PutToken(ctx, access); err != nil {
		return core.TokenPair{}, fmt.Errorf("store access token: %w", err)
	}
	if err := m.tokens.PutToken(ctx, refresh); err != nil {
		return core.TokenPair{}, fmt.Errorf("store refresh token: %w", err)
	}

	if m.events != nil {
		if err := m.events.PublishSessionCreated(ctx, userID, pairID); err != nil {
			m.logger.Warn("publish session created event", "error", err)
		}
	}

	return pair, nil
}

// ResolveIdentity maps an access token to its user. An absent, expired or
// non-access token resolves to nil without error; the caller decides
// whether to attempt a refresh.
func (m *SessionManager) ResolveIdentity(ctx context.Context, accessToken string) (*core.User, error) {
	if accessToken == "" {
		return nil, nil
	}

	rec, err := m.tokens.GetToken(ctx, HashToken(accessToken))
	if err != nil {
		if errors.Is(err, core.ErrTokenNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("look up access token: %w", err)
	}
	if rec.Kind != core.TokenKindAccess || rec.Expired(m.now()) {
		return nil, nil
	}

	user, err := m.users.GetUser(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, core.ErrUserNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolve token owner: %w", err)
	}
	return &user, nil
}

// Refresh rotates a refresh token: the presented token is consumed
// atomically, its paired access token is deleted, and a new pair is issued.
// A missing, expired or already-rotated token yields nil; the caller must
// treat that as fully signed out.
func (m *SessionManager) Refresh(ctx context.Context, refreshToken string) (*core.TokenPair, error) {
	if refreshToken == "" {
		return nil, nil
	}

	rec, err := m.tokens.ConsumeToken(ctx, HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, core.ErrTokenNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("consume refresh token: %w", err)
	}

	// The paired access token dies with the consumed refresh token, even
	// when the presented token turns out to be unusable.
	if err := m.tokens.DeletePair(ctx, rec.UserID, rec.PairID); err != nil {
		return nil, fmt.Errorf("delete rotated pair: %w", err)
	}
	if rec.Kind != core.TokenKindRefresh || rec.Expired(m.now()) {
		return nil, nil
	}

	pair, err := m.CreateSession(ctx, rec.UserID)
	if err != nil {
		return nil, err
	}
	return &pair, nil
}

// Revoke deletes the session pair the presented token belongs to. Unknown
// tokens are a no-op, not an error.
func (m *SessionManager) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	rec, err := m.tokens.GetToken(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, core.ErrTokenNotFound) {
			return nil
		}
		return fmt.Errorf("look up token: %w", err)
	}

	if err := m.tokens.DeletePair(ctx, rec.UserID, rec.PairID); err != nil {
		return fmt.Errorf("delete pair: %w", err)
	}

	if m.events != nil {
		if err := m.events.PublishSessionRevoked(ctx, rec.UserID, rec.PairID); err != nil {
			m.logger.Warn("publish session revoked event", "error", err)
		}
	}
	return nil
}

// RevokeAll deletes every token pair belonging to the user ("sign out
// everywhere").
func (m *SessionManager) RevokeAll(ctx context.Context, userID string) error {
	if err := m.tokens.DeleteByUser(ctx, userID); err != nil {
		return fmt.Errorf("delete user tokens: %w", err)
	}

	if m.events != nil {
		if err := m.events.PublishSessionRevoked(ctx, userID, ""); err != nil {
			m.logger.Warn("publish session revoked event", "error", err)
		}
	}
	return nil
}

// HashToken returns the hex SHA-256 digest under which a raw token secret
// is stored.
func HashToken(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func newTokenSecret() (string, error) {
	buf := make([]byte, tokenSecretSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
