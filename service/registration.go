package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/warden-auth/warden/challenge"
	"github.com/warden-auth/warden/core"
	"github.com/warden-auth/warden/ports"
	"github.com/warden-auth/warden/webauthn"
)

// RegistrationService runs the passkey sign-up ceremony: it validates the
// attestation, derives a credential record and binds it to a user identity.
type RegistrationService struct {
	challenges *challenge.Store
	users      ports.UserStore
	creds      ports.CredentialStore
	events     ports.EventPublisher
	policy     *OriginPolicy
	logger     *slog.Logger
}

// NewRegistrationService creates a registration flow.
func NewRegistrationService(
	challenges *challenge.Store,
	users ports.UserStore,
	creds ports.CredentialStore,
	events ports.EventPublisher,
	policy *OriginPolicy,
	logger *slog.Logger,
) *RegistrationService {
	return &RegistrationService{
		challenges: challenges,
		users:      users,
		creds:      creds,
		events:     events,
		policy:     policy,
		logger:     logger,
	}
}

// RegistrationInput carries the decoded ceremony payload.
type RegistrationInput struct {
	UserID            string
	Name              string
	AttestationObject []byte
	ClientDataJSON    []byte
}

// Register validates a credential creation ceremony and persists the
// resulting credential. All checks run before any write; the challenge is
// consumed whether or not the remaining checks pass.
func (s *RegistrationService) Register(ctx context.Context, in RegistrationInput) (core.Credential, error) {
	attObj, err := webauthn.ParseAttestationObject(in.AttestationObject)
	if err != nil {
		return core.Credential{}, err
	}
	if attObj.Format != webauthn.FormatNone {
		return core.Credential{}, core.ErrInvalidAttestationFormat
	}

	authData := attObj.AuthData
	if !s.policy.MatchesRPID(authData.RPIDHash) {
		return core.Credential{}, core.ErrRelyingPartyMismatch
	}
	if !authData.Flags.UserPresent() || !authData.Flags.UserVerified() {
		return core.Credential{}, core.ErrUserNotVerified
	}
	if !authData.Flags.AttestedCredential() || len(authData.CredentialID) == 0 || len(authData.CredentialPublicKey) == 0 {
		return core.Credential{}, core.ErrMissingCredential
	}

	clientData, err := webauthn.ParseClientData(in.ClientDataJSON)
	if err != nil {
		return core.Credential{}, err
	}
	if clientData.Type != webauthn.CeremonyCreate {
		return core.Credential{}, core.ErrWrongCeremonyType
	}

	challengeBytes, err := clientData.ChallengeBytes()
	if err != nil {
		return core.Credential{}, core.ErrChallengeInvalid
	}
	if !s.challenges.VerifyAndConsume(challengeBytes) {
		return core.Credential{}, core.ErrChallengeInvalid
	}

	if !s.policy.AllowsOrigin(clientData.Origin) {
		return core.Credential{}, core.ErrOriginNotAllowed
	}
	if clientData.CrossOrigin {
		return core.Credential{}, core.ErrCrossOriginRejected
	}

	pubKey, err := webauthn.ParseCOSEPublicKey(authData.CredentialPublicKey)
	if err != nil {
		return core.Credential{}, err
	}

	cred := core.Credential{
		ID:        authData.CredentialID,
		UserID:    in.UserID,
		Algorithm: int64(pubKey.Algorithm),
		PublicKey: pubKey.Encode(),
		CreatedAt: time.Now().UTC(),
	}

	// A taken credential id must fail before the user write, so a rejected
	// ceremony leaves no record behind.
	if _, err := s.creds.GetCredential(ctx, cred.Key()); err == nil {
		return core.Credential{}, core.ErrCredentialExists
	} else if !errors.Is(err, core.ErrCredentialNotFound) {
		return core.Credential{}, fmt.Errorf("look up credential: %w", err)
	}

	if err := s.ensureUser(ctx, in.UserID, in.Name); err != nil {
		return core.Credential{}, err
	}
	if err := s.creds.PutCredential(ctx, cred); err != nil {
		return core.Credential{}, fmt.Errorf("store credential: %w", err)
	}

	if s.events != nil {
		if err := s.events.PublishCredentialRegistered(ctx, in.UserID, cred.Key()); err != nil {
			s.logger.Warn("publish credential registered event", "error", err)
		}
	}

	s.logger.Info("passkey registered", "user_id", in.UserID, "credential", cred.Key())

	return cred, nil
}

func (s *RegistrationService) ensureUser(ctx context.Context, userID, name string) error {
	_, err := s.users.GetUser(ctx, userID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, core.ErrUserNotFound) {
		return fmt.Errorf("look up user: %w", err)
	}

	user := core.User{
		ID:        userID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.users.PutUser(ctx, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}
