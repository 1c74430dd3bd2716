package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/warden-auth/warden/challenge"
	"github.com/warden-auth/warden/core"
	"github.com/warden-auth/warden/ports"
	"github.com/warden-auth/warden/webauthn"
)

// AuthenticationService runs the passkey sign-in ceremony: it verifies the
// assertion signature against the stored credential and resolves the owning
// user.
type AuthenticationService struct {
	challenges *challenge.Store
	creds      ports.CredentialStore
	users      ports.UserStore
	policy     *OriginPolicy
	logger     *slog.Logger
}

// NewAuthenticationService creates an authentication flow.
func NewAuthenticationService(
	challenges *challenge.Store,
	creds ports.CredentialStore,
	users ports.UserStore,
	policy *OriginPolicy,
	logger *slog.Logger,
) *AuthenticationService {
	return &AuthenticationService{
		challenges: challenges,
		creds:      creds,
		users:      users,
		policy:     policy,
		logger:     logger,
	}
}

// AssertionInput carries the decoded assertion payload.
type AssertionInput struct {
	CredentialID      []byte
	Signature         []byte
	AuthenticatorData []byte
	ClientDataJSON    []byte
}

// Authenticate validates a credential get ceremony and returns the owning
// user. The challenge is consumed before the signature is checked, so one
// verification attempt, pass or fail, always spends the challenge.
func (s *AuthenticationService) Authenticate(ctx context.Context, in AssertionInput) (core.User, error) {
	authData, err := webauthn.ParseAuthenticatorData(in.AuthenticatorData)
	if err != nil {
		return core.User{}, err
	}
	if !s.policy.MatchesRPID(authData.RPIDHash) {
		return core.User{}, core.ErrRelyingPartyMismatch
	}
	if !authData.Flags.UserPresent() || !authData.Flags.UserVerified() {
		return core.User{}, core.ErrUserNotVerified
	}

	clientData, err := webauthn.ParseClientData(in.ClientDataJSON)
	if err != nil {
		return core.User{}, err
	}
	if clientData.Type != webauthn.CeremonyGet {
		return core.User{}, core.ErrWrongCeremonyType
	}

	challengeBytes, err := clientData.ChallengeBytes()
	if err != nil {
		return core.User{}, core.ErrChallengeInvalid
	}
	if !s.challenges.VerifyAndConsume(challengeBytes) {
		return core.User{}, core.ErrChallengeInvalid
	}

	if !s.policy.AllowsOrigin(clientData.Origin) {
		return core.User{}, core.ErrOriginNotAllowed
	}
	if clientData.CrossOrigin {
		return core.User{}, core.ErrCrossOriginRejected
	}

	credKey := base64.RawURLEncoding.EncodeToString(in.CredentialID)
	cred, err := s.creds.GetCredential(ctx, credKey)
	if err != nil {
		if errors.Is(err, core.ErrCredentialNotFound) {
			return core.User{}, core.ErrCredentialNotFound
		}
		return core.User{}, fmt.Errorf("look up credential: %w", err)
	}

	pubKey, err := webauthn.DecodePublicKey(cred.Algorithm, cred.PublicKey)
	if err != nil {
		return core.User{}, fmt.Errorf("decode stored public key: %w", err)
	}

	message := webauthn.AssertionMessage(authData.Raw, in.ClientDataJSON)
	if !pubKey.Verify(message, in.Signature) {
		return core.User{}, core.ErrInvalidSignature
	}

	user, err := s.users.GetUser(ctx, cred.UserID)
	if err != nil {
		return core.User{}, fmt.Errorf("resolve credential owner: %w", err)
	}

	s.logger.Info("passkey authenticated", "user_id", user.ID, "credential", credKey)

	return user, nil
}
