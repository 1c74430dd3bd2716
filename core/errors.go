package core

import "errors"

// Ceremony validation errors. The transport layer collapses these into a
// generic client-facing failure; the distinctions exist for logs and tests.
var (
	ErrMalformedAttestation       = errors.New("malformed attestation object")
	ErrMalformedClientData        = errors.New("malformed client data")
	ErrMalformedAuthenticatorData = errors.New("malformed authenticator data")
	ErrInvalidAttestationFormat   = errors.New("unsupported attestation statement format")
	ErrRelyingPartyMismatch       = errors.New("relying party id mismatch")
	ErrUserNotVerified            = errors.New("user presence or verification flag missing")
	ErrMissingCredential          = errors.New("authenticator data carries no credential")
	ErrWrongCeremonyType          = errors.New("wrong ceremony type")
	ErrChallengeInvalid           = errors.New("challenge unknown, expired or already consumed")
	ErrOriginNotAllowed           = errors.New("origin not allowed")
	ErrCrossOriginRejected        = errors.New("cross-origin request rejected")
	ErrUnsupportedAlgorithm       = errors.New("unsupported cose algorithm")
	ErrUnsupportedCurve           = errors.New("unsupported elliptic curve")
	ErrCredentialNotFound         = errors.New("credential not found")
	ErrInvalidSignature           = errors.New("invalid signature")
)

// Identity and storage errors.
var (
	ErrUserNotFound         = errors.New("user not found")
	ErrCredentialExists     = errors.New("credential id already registered")
	ErrTokenNotFound        = errors.New("token not found")
	ErrStoreOperationFailed = errors.New("store operation failed")
)
