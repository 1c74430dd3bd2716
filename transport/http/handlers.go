package http

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/warden-auth/warden/challenge"
	"github.com/warden-auth/warden/core"
	"github.com/warden-auth/warden/ports"
	"github.com/warden-auth/warden/service"
)

// AuthHandlers contains the HTTP handlers for the passkey and session
// endpoints.
type AuthHandlers struct {
	challenges     *challenge.Store
	registration   *service.RegistrationService
	authentication *service.AuthenticationService
	sessions       *service.SessionManager
	creds          ports.CredentialStore
	logger         *slog.Logger
	secureCookies  bool
}

// NewAuthHandlers creates the handler set.
func NewAuthHandlers(
	challenges *challenge.Store,
	registration *service.RegistrationService,
	authentication *service.AuthenticationService,
	sessions *service.SessionManager,
	creds ports.CredentialStore,
	logger *slog.Logger,
	secureCookies bool,
) *AuthHandlers {
	return &AuthHandlers{
		challenges:     challenges,
		registration:   registration,
		authentication: authentication,
		sessions:       sessions,
		creds:          creds,
		logger:         logger,
		secureCookies:  secureCookies,
	}
}

// Challenge issues a one-time ceremony challenge.
func (h *AuthHandlers) Challenge(c *gin.Context) {
	raw, err := h.challenges.Create()
	if err != nil {
		h.logger.Error("create challenge", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create challenge"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"challenge": base64.RawURLEncoding.EncodeToString(raw)})
}

// SignUp handles the passkey registration ceremony and signs the new user
// in on success.
func (h *AuthHandlers) SignUp(c *gin.Context) {
	var req struct {
		UserID            string `json:"user_id" binding:"required"`
		Name              string `json:"name"`
		AttestationObject string `json:"attestation_object" binding:"required"`
		ClientDataJSON    string `json:"client_data_json" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "invalid request")
		return
	}

	attestation, err := decodeBase64(req.AttestationObject)
	if err != nil {
		c.String(http.StatusBadRequest, "invalid attestation encoding")
		return
	}
	clientData, err := decodeBase64(req.ClientDataJSON)
	if err != nil {
		c.String(http.StatusBadRequest, "invalid client data encoding")
		return
	}

	_, err = h.registration.Register(c.Request.Context(), service.RegistrationInput{
		UserID:            req.UserID,
		Name:              req.Name,
		AttestationObject: attestation,
		ClientDataJSON:    clientData,
	})
	if err != nil {
		if isCeremonyError(err) {
			h.logger.Info("registration rejected", "user_id", req.UserID, "reason", err)
			c.String(http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("registration failed", "user_id", req.UserID, "error", err)
		c.String(http.StatusInternalServerError, "registration failed")
		return
	}

	pair, err := h.sessions.CreateSession(c.Request.Context(), req.UserID)
	if err != nil {
		h.logger.Error("create session", "user_id", req.UserID, "error", err)
		c.String(http.StatusInternalServerError, "failed to create session")
		return
	}

	setSessionCookies(c.Writer, pair, h.secureCookies)
	c.Status(http.StatusNoContent)
}

// SignIn handles the passkey authentication ceremony. Ceremony failures are
// deliberately indistinguishable in the response body; which sub-check
// failed is only logged.
func (h *AuthHandlers) SignIn(c *gin.Context) {
	var req struct {
		CredentialID      string `json:"credential_id" binding:"required"`
		Signature         string `json:"signature" binding:"required"`
		AuthenticatorData string `json:"authenticator_data" binding:"required"`
		ClientDataJSON    string `json:"client_data_json" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "invalid request")
		return
	}

	credentialID, err := decodeBase64(req.CredentialID)
	if err != nil {
		c.String(http.StatusBadRequest, "authentication failed")
		return
	}
	signature, err := decodeBase64(req.Signature)
	if err != nil {
		c.String(http.StatusBadRequest, "authentication failed")
		return
	}
	authenticatorData, err := decodeBase64(req.AuthenticatorData)
	if err != nil {
		c.String(http.StatusBadRequest, "authentication failed")
		return
	}
	clientData, err := decodeBase64(req.ClientDataJSON)
	if err != nil {
		c.String(http.StatusBadRequest, "authentication failed")
		return
	}

	user, err := h.authentication.Authenticate(c.Request.Context(), service.AssertionInput{
		CredentialID:      credentialID,
		Signature:         signature,
		AuthenticatorData: authenticatorData,
		ClientDataJSON:    clientData,
	})
	if err != nil {
		if isCeremonyError(err) && !errors.Is(err, core.ErrUnsupportedAlgorithm) && !errors.Is(err, core.ErrUnsupportedCurve) {
			h.logger.Info("authentication rejected", "reason", err)
			c.String(http.StatusBadRequest, "authentication failed")
			return
		}
		h.logger.Error("authentication failed", "error", err)
		c.String(http.StatusInternalServerError, "authentication failed")
		return
	}

	pair, err := h.sessions.CreateSession(c.Request.Context(), user.ID)
	if err != nil {
		h.logger.Error("create session", "user_id", user.ID, "error", err)
		c.String(http.StatusInternalServerError, "failed to create session")
		return
	}

	setSessionCookies(c.Writer, pair, h.secureCookies)
	c.Status(http.StatusNoContent)
}

// Refresh explicitly rotates a refresh token for clients that do not rely
// on the transparent middleware rotation.
func (h *AuthHandlers) Refresh(c *gin.Context) {
	refresh, _ := c.Cookie(CookieRefreshToken)
	if refresh == "" {
		var req struct {
			RefreshToken string `json:"refresh_token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		refresh = req.RefreshToken
	}

	pair, err := h.sessions.Refresh(c.Request.Context(), refresh)
	if err != nil {
		h.logger.Error("refresh failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to refresh session"})
		return
	}
	if pair == nil {
		clearSessionCookies(c.Writer, h.secureCookies)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
		return
	}

	setSessionCookies(c.Writer, *pair, h.secureCookies)
	c.JSON(http.StatusOK, gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"expires_in":    int(time.Until(pair.AccessExpiry).Seconds()),
	})
}

// SignOut revokes the current session pair and clears both cookies.
func (h *AuthHandlers) SignOut(c *gin.Context) {
	token, _ := c.Cookie(CookieAccessToken)
	if token == "" {
		token, _ = c.Cookie(CookieRefreshToken)
	}

	if err := h.sessions.Revoke(c.Request.Context(), token); err != nil {
		h.logger.Error("sign out failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign out"})
		return
	}

	clearSessionCookies(c.Writer, h.secureCookies)
	c.JSON(http.StatusOK, gin.H{"message": "signed out"})
}

// SignOutAll revokes every session pair of the authenticated user.
func (h *AuthHandlers) SignOutAll(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	if err := h.sessions.RevokeAll(c.Request.Context(), user.ID); err != nil {
		h.logger.Error("sign out everywhere failed", "user_id", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign out"})
		return
	}

	clearSessionCookies(c.Writer, h.secureCookies)
	c.JSON(http.StatusOK, gin.H{"message": "signed out everywhere"})
}

// Me returns the authenticated user.
func (h *AuthHandlers) Me(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": user.ID, "name": user.Name})
}

// ListCredentials returns the authenticated user's registered passkeys.
func (h *AuthHandlers) ListCredentials(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	creds, err := h.creds.ListCredentials(c.Request.Context(), user.ID)
	if err != nil {
		h.logger.Error("list credentials", "user_id", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list credentials"})
		return
	}

	type credentialView struct {
		ID        string    `json:"id"`
		Algorithm int64     `json:"algorithm"`
		CreatedAt time.Time `json:"created_at"`
	}
	views := make([]credentialView, 0, len(creds))
	for _, cred := range creds {
		views = append(views, credentialView{
			ID:        cred.Key(),
			Algorithm: cred.Algorithm,
			CreatedAt: cred.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"credentials": views})
}

// DeleteCredential removes one of the authenticated user's passkeys. A
// credential owned by someone else looks identical to a missing one.
func (h *AuthHandlers) DeleteCredential(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	key := c.Param("id")
	cred, err := h.creds.GetCredential(c.Request.Context(), key)
	if err != nil && !errors.Is(err, core.ErrCredentialNotFound) {
		h.logger.Error("look up credential", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete credential"})
		return
	}
	if err != nil || cred.UserID != user.ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "credential not found"})
		return
	}

	if err := h.creds.DeleteCredential(c.Request.Context(), key); err != nil {
		h.logger.Error("delete credential", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete credential"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "credential deleted"})
}

// Healthz is the liveness probe.
func (h *AuthHandlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

var ceremonyErrors = []error{
	core.ErrMalformedAttestation,
	core.ErrMalformedClientData,
	core.ErrMalformedAuthenticatorData,
	core.ErrInvalidAttestationFormat,
	core.ErrRelyingPartyMismatch,
	core.ErrUserNotVerified,
	core.ErrMissingCredential,
	core.ErrWrongCeremonyType,
	core.ErrChallengeInvalid,
	core.ErrOriginNotAllowed,
	core.ErrCrossOriginRejected,
	core.ErrUnsupportedAlgorithm,
	core.ErrUnsupportedCurve,
	core.ErrCredentialNotFound,
	core.ErrInvalidSignature,
	core.ErrCredentialExists,
}

func isCeremonyError(err error) bool {
	for _, target := range ceremonyErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// decodeBase64 accepts standard and url-safe alphabets, padded or not, as
// browsers and client libraries disagree on which to emit.
func decodeBase64(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.StdEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, base64.CorruptInputError(0)
}
