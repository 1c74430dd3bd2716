package core

import (
	"encoding/base64"
	"time"
)

// User is an identity that passkeys and sessions attach to.
type User struct {
	ID        string    // Unique user identifier
	Name      string    // Display name chosen at sign-up
	CreatedAt time.Time // When the user record was created
}

// Credential is one registered passkey, bound to exactly one user.
//
// PublicKey holds the raw encoded key bytes: SEC1 uncompressed point for
// EC2 keys, PKCS#1 DER for RSA keys.
type Credential struct {
	ID        []byte    // Credential ID from the authenticator, globally unique
	UserID    string    // Owning user
	Algorithm int64     // COSE algorithm identifier (ES256 or RS256)
	PublicKey []byte    // Raw encoded public key
	CreatedAt time.Time // When the registration ceremony completed
}

// Key returns the credential ID in the encoding used as a store key.
func (c Credential) Key() string {
	return base64.RawURLEncoding.EncodeToString(c.ID)
}

// TokenKind distinguishes the two halves of a session pair.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// TokenRecord is the stored, hashed form of one session token. The raw
// secret never touches the store; only its SHA-256 digest does.
type TokenRecord struct {
	Hash      string    // Hex SHA-256 of the raw secret, the store key
	Kind      TokenKind // Access or refresh half
	UserID    string    // Owning user
	PairID    string    // Links the access and refresh halves of one session
	ExpiresAt time.Time // Hard expiry; records past this are dead
}

// Expired reports whether the record is past its expiry at the given time.
func (r TokenRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// TokenPair holds the raw secrets handed to the client after a successful
// ceremony, together with their expiry times for cookie placement.
type TokenPair struct {
	AccessToken   string
	RefreshToken  string
	AccessExpiry  time.Time
	RefreshExpiry time.Time
}
