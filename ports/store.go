package ports

import (
	"context"
	"time"

	"github.com/warden-auth/warden/core"
)

// UserStore persists user identities.
type UserStore interface {
	PutUser(ctx context.Context, user core.User) error

	// GetUser returns core.ErrUserNotFound for unknown ids.
	GetUser(ctx context.Context, id string) (core.User, error)
}

// CredentialStore persists registered passkeys, keyed by the base64url
// encoding of the credential id.
type CredentialStore interface {
	// PutCredential stores a new credential. A duplicate credential id is
	// core.ErrCredentialExists.
	PutCredential(ctx context.Context, cred core.Credential) error

	// GetCredential returns core.ErrCredentialNotFound for unknown ids.
	GetCredential(ctx context.Context, key string) (core.Credential, error)

	// ListCredentials returns every credential owned by the user, possibly
	// none.
	ListCredentials(ctx context.Context, userID string) ([]core.Credential, error)

	// DeleteCredential removes one credential. Deleting an absent
	// credential is core.ErrCredentialNotFound.
	DeleteCredential(ctx context.Context, key string) error
}

// TokenStore persists hashed session token records. Implementations must
// provide per-key atomicity: ConsumeToken is an indivisible check-and-remove
// so two concurrent rotations of the same refresh token cannot both succeed.
type TokenStore interface {
	PutToken(ctx context.Context, rec core.TokenRecord) error

	// GetToken returns core.ErrTokenNotFound for unknown hashes.
	GetToken(ctx context.Context, hash string) (core.TokenRecord, error)

	// ConsumeToken atomically fetches and removes one record, returning
	// core.ErrTokenNotFound if it was absent or already consumed.
	ConsumeToken(ctx context.Context, hash string) (core.TokenRecord, error)

	// DeletePair removes both halves of one session pair.
	DeletePair(ctx context.Context, userID, pairID string) error

	// DeleteByUser removes every token record belonging to the user.
	DeleteByUser(ctx context.Context, userID string) error

	// DeleteExpired removes records whose expiry precedes now. Stores with
	// native TTL support may make this a no-op.
	DeleteExpired(ctx context.Context, now time.Time) error
}
