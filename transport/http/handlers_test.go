package http

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warden-auth/warden/adapters/store"
	"github.com/warden-auth/warden/challenge"
	"github.com/warden-auth/warden/core"
	"github.com/warden-auth/warden/ratelimit"
	"github.com/warden-auth/warden/service"
	"github.com/warden-auth/warden/webauthn"
)

const testOrigin = "http://localhost:9000"

type testServer struct {
	router     *gin.Engine
	store      *store.MemoryStore
	challenges *challenge.Store
	sessions   *service.SessionManager
	limiter    *ratelimit.Limiter
}

func newTestServer(t *testing.T, rateCapacity int) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := store.NewMemoryStore()
	challenges := challenge.NewStore(0)

	policy, err := service.NewOriginPolicy([]string{testOrigin})
	require.NoError(t, err)

	registration := service.NewRegistrationService(challenges, mem, mem, nil, policy, logger)
	authentication := service.NewAuthenticationService(challenges, mem, mem, policy, logger)
	sessions := service.NewSessionManager(mem, mem, nil, 0, 0, logger)

	limiter := ratelimit.New(ratelimit.Config{Capacity: rateCapacity, RefillInterval: time.Hour})
	t.Cleanup(limiter.Stop)

	handlers := NewAuthHandlers(challenges, registration, authentication, sessions, mem, logger, false)
	router := SetupRouter(handlers, limiter, sessions, false)

	return &testServer{router: router, store: mem, challenges: challenges, sessions: sessions, limiter: limiter}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func responseCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// browserAuthenticator fabricates ceremony payloads the way a browser and
// platform authenticator would for the localhost relying party.
type browserAuthenticator struct {
	priv   *ecdsa.PrivateKey
	credID []byte
	rpHash []byte
}

func newBrowserAuthenticator(t *testing.T) *browserAuthenticator {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	hash := sha256.Sum256([]byte("localhost"))
	return &browserAuthenticator{priv: priv, credID: []byte("http-test-credential"), rpHash: hash[:]}
}

func (a *browserAuthenticator) coseKey(t *testing.T) []byte {
	t.Helper()
	raw, err := cbor.Marshal(map[int64]any{
		1:  2,
		3:  -7,
		-1: 1,
		-2: a.priv.X.FillBytes(make([]byte, 32)),
		-3: a.priv.Y.FillBytes(make([]byte, 32)),
	})
	require.NoError(t, err)
	return raw
}

func (a *browserAuthenticator) authData(t *testing.T, attested bool) []byte {
	t.Helper()
	flags := byte(0x05)
	if attested {
		flags |= 0x40
	}
	buf := append([]byte{}, a.rpHash...)
	buf = append(buf, flags)
	buf = binary.BigEndian.AppendUint32(buf, 1)
	if attested {
		buf = append(buf, make([]byte, 16)...)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(a.credID)))
		buf = append(buf, a.credID...)
		buf = append(buf, a.coseKey(t)...)
	}
	return buf
}

func (a *browserAuthenticator) attestationObject(t *testing.T) []byte {
	t.Helper()
	raw, err := cbor.Marshal(map[string]any{
		"fmt":      "none",
		"attStmt":  map[string]any{},
		"authData": a.authData(t, true),
	})
	require.NoError(t, err)
	return raw
}

func (a *browserAuthenticator) clientData(t *testing.T, ceremony string, chal []byte) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"type":        ceremony,
		"challenge":   base64.RawURLEncoding.EncodeToString(chal),
		"origin":      testOrigin,
		"crossOrigin": false,
	})
	require.NoError(t, err)
	return raw
}

func (a *browserAuthenticator) sign(t *testing.T, authData, clientDataJSON []byte) []byte {
	t.Helper()
	clientDataHash := sha256.Sum256(clientDataJSON)
	msg := append(append([]byte{}, authData...), clientDataHash[:]...)
	digest := sha256.Sum256(msg)
	sig, err := ecdsa.SignASN1(rand.Reader, a.priv, digest[:])
	require.NoError(t, err)
	return sig
}

func (ts *testServer) fetchChallenge(t *testing.T) []byte {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/auth/passkey/challenge", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Challenge string `json:"challenge"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	chal, err := base64.RawURLEncoding.DecodeString(body.Challenge)
	require.NoError(t, err)
	require.Len(t, chal, challenge.Size)
	return chal
}

func (ts *testServer) signUp(t *testing.T, a *browserAuthenticator, userID string) *httptest.ResponseRecorder {
	t.Helper()
	chal := ts.fetchChallenge(t)
	return ts.do(t, http.MethodPost, "/auth/passkey/sign-up", gin.H{
		"user_id":            userID,
		"name":               userID,
		"attestation_object": base64.RawURLEncoding.EncodeToString(a.attestationObject(t)),
		"client_data_json":   base64.RawURLEncoding.EncodeToString(a.clientData(t, "webauthn.create", chal)),
	})
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, 100)
	rec := ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChallengeEndpoint(t *testing.T) {
	ts := newTestServer(t, 100)
	a := ts.fetchChallenge(t)
	b := ts.fetchChallenge(t)
	assert.NotEqual(t, a, b)
}

func TestSignUpFlow(t *testing.T) {
	ts := newTestServer(t, 100)
	auth := newBrowserAuthenticator(t)

	rec := ts.signUp(t, auth, "alice")
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	access := responseCookie(t, rec, CookieAccessToken)
	refresh := responseCookie(t, rec, CookieRefreshToken)
	require.NotNil(t, access)
	require.NotNil(t, refresh)
	assert.True(t, access.HttpOnly)
	assert.True(t, refresh.HttpOnly)

	// The issued access cookie authenticates API calls.
	me := ts.do(t, http.MethodGet, "/api/me", nil, access)
	require.Equal(t, http.StatusOK, me.Code)
	assert.Contains(t, me.Body.String(), "alice")
}

func TestSignUp_BadCeremony(t *testing.T) {
	ts := newTestServer(t, 100)
	auth := newBrowserAuthenticator(t)
	chal := ts.fetchChallenge(t)

	// Origin the service does not allow.
	clientData, err := json.Marshal(gin.H{
		"type":      "webauthn.create",
		"challenge": base64.RawURLEncoding.EncodeToString(chal),
		"origin":    "https://evil.example",
	})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodPost, "/auth/passkey/sign-up", gin.H{
		"user_id":            "alice",
		"attestation_object": base64.RawURLEncoding.EncodeToString(auth.attestationObject(t)),
		"client_data_json":   base64.RawURLEncoding.EncodeToString(clientData),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignInFlow(t *testing.T) {
	ts := newTestServer(t, 100)
	auth := newBrowserAuthenticator(t)

	rec := ts.signUp(t, auth, "alice")
	require.Equal(t, http.StatusNoContent, rec.Code)

	chal := ts.fetchChallenge(t)
	authData := auth.authData(t, false)
	clientData := auth.clientData(t, "webauthn.get", chal)

	signIn := ts.do(t, http.MethodPost, "/auth/passkey/sign-in", gin.H{
		"credential_id":      base64.RawURLEncoding.EncodeToString(auth.credID),
		"signature":          base64.RawURLEncoding.EncodeToString(auth.sign(t, authData, clientData)),
		"authenticator_data": base64.RawURLEncoding.EncodeToString(authData),
		"client_data_json":   base64.RawURLEncoding.EncodeToString(clientData),
	})
	require.Equal(t, http.StatusNoContent, signIn.Code, signIn.Body.String())
	assert.NotNil(t, responseCookie(t, signIn, CookieAccessToken))
}

func TestSignIn_GenericFailureBody(t *testing.T) {
	ts := newTestServer(t, 100)
	auth := newBrowserAuthenticator(t)

	rec := ts.signUp(t, auth, "alice")
	require.Equal(t, http.StatusNoContent, rec.Code)

	chal := ts.fetchChallenge(t)
	authData := auth.authData(t, false)
	clientData := auth.clientData(t, "webauthn.get", chal)
	sig := auth.sign(t, authData, clientData)
	sig[len(sig)-1] ^= 0xff

	signIn := ts.do(t, http.MethodPost, "/auth/passkey/sign-in", gin.H{
		"credential_id":      base64.RawURLEncoding.EncodeToString(auth.credID),
		"signature":          base64.RawURLEncoding.EncodeToString(sig),
		"authenticator_data": base64.RawURLEncoding.EncodeToString(authData),
		"client_data_json":   base64.RawURLEncoding.EncodeToString(clientData),
	})
	assert.Equal(t, http.StatusBadRequest, signIn.Code)
	assert.Equal(t, "authentication failed", signIn.Body.String())
}

func TestAPIRequiresSession(t *testing.T) {
	ts := newTestServer(t, 100)

	for _, path := range []string{"/api/me", "/api/credentials"} {
		rec := ts.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}

	rec := ts.do(t, http.MethodPost, "/auth/sign-out-all", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimit(t *testing.T) {
	// Capacity 3 covers exactly one write (cost 3).
	ts := newTestServer(t, 3)

	first := ts.do(t, http.MethodPost, "/auth/passkey/challenge", nil)
	assert.Equal(t, http.StatusOK, first.Code)

	second := ts.do(t, http.MethodPost, "/auth/passkey/challenge", nil)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestRefreshEndpoint(t *testing.T) {
	ts := newTestServer(t, 100)
	ctx := context.Background()

	require.NoError(t, ts.store.PutUser(ctx, core.User{ID: "alice", Name: "Alice", CreatedAt: time.Now()}))
	pair, err := ts.sessions.CreateSession(ctx, "alice")
	require.NoError(t, err)

	rec := ts.do(t, http.MethodPost, "/auth/refresh", nil,
		&http.Cookie{Name: CookieRefreshToken, Value: pair.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEqual(t, pair.RefreshToken, body.RefreshToken)

	// Replaying the consumed token signs the caller out.
	replay := ts.do(t, http.MethodPost, "/auth/refresh", nil,
		&http.Cookie{Name: CookieRefreshToken, Value: pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, replay.Code)
	cleared := responseCookie(t, replay, CookieRefreshToken)
	require.NotNil(t, cleared)
	assert.Less(t, cleared.MaxAge, 0)
}

func TestTransparentRefreshMiddleware(t *testing.T) {
	ts := newTestServer(t, 100)
	ctx := context.Background()

	require.NoError(t, ts.store.PutUser(ctx, core.User{ID: "alice", Name: "Alice", CreatedAt: time.Now()}))
	pair, err := ts.sessions.CreateSession(ctx, "alice")
	require.NoError(t, err)

	// Only the refresh cookie is presented, as after access expiry.
	rec := ts.do(t, http.MethodGet, "/api/me", nil,
		&http.Cookie{Name: CookieRefreshToken, Value: pair.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)

	access := responseCookie(t, rec, CookieAccessToken)
	require.NotNil(t, access, "the rotated access token is set on the response")
	assert.NotEqual(t, pair.AccessToken, access.Value)
}

func TestSignOut(t *testing.T) {
	ts := newTestServer(t, 100)
	ctx := context.Background()

	require.NoError(t, ts.store.PutUser(ctx, core.User{ID: "alice", Name: "Alice", CreatedAt: time.Now()}))
	pair, err := ts.sessions.CreateSession(ctx, "alice")
	require.NoError(t, err)

	rec := ts.do(t, http.MethodPost, "/auth/sign-out", nil,
		&http.Cookie{Name: CookieAccessToken, Value: pair.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)

	cleared := responseCookie(t, rec, CookieAccessToken)
	require.NotNil(t, cleared)
	assert.Less(t, cleared.MaxAge, 0)

	// The whole pair is dead.
	me := ts.do(t, http.MethodGet, "/api/me", nil,
		&http.Cookie{Name: CookieAccessToken, Value: pair.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, me.Code)
	refresh := ts.do(t, http.MethodPost, "/auth/refresh", nil,
		&http.Cookie{Name: CookieRefreshToken, Value: pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, refresh.Code)
}

func TestSignOutAll(t *testing.T) {
	ts := newTestServer(t, 100)
	ctx := context.Background()

	require.NoError(t, ts.store.PutUser(ctx, core.User{ID: "alice", Name: "Alice", CreatedAt: time.Now()}))
	a, err := ts.sessions.CreateSession(ctx, "alice")
	require.NoError(t, err)
	b, err := ts.sessions.CreateSession(ctx, "alice")
	require.NoError(t, err)

	rec := ts.do(t, http.MethodPost, "/auth/sign-out-all", nil,
		&http.Cookie{Name: CookieAccessToken, Value: a.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)

	for _, token := range []string{a.AccessToken, b.AccessToken} {
		me := ts.do(t, http.MethodGet, "/api/me", nil,
			&http.Cookie{Name: CookieAccessToken, Value: token})
		assert.Equal(t, http.StatusUnauthorized, me.Code)
	}
}

func TestCredentialManagement(t *testing.T) {
	ts := newTestServer(t, 100)
	ctx := context.Background()
	auth := newBrowserAuthenticator(t)

	rec := ts.signUp(t, auth, "alice")
	require.Equal(t, http.StatusNoContent, rec.Code)
	access := responseCookie(t, rec, CookieAccessToken)
	require.NotNil(t, access)

	list := ts.do(t, http.MethodGet, "/api/credentials", nil, access)
	require.Equal(t, http.StatusOK, list.Code)

	var body struct {
		Credentials []struct {
			ID        string `json:"id"`
			Algorithm int64  `json:"algorithm"`
		} `json:"credentials"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &body))
	require.Len(t, body.Credentials, 1)
	assert.Equal(t, int64(webauthn.AlgES256), body.Credentials[0].Algorithm)

	// A foreign credential looks like a missing one.
	foreign := core.Credential{ID: []byte("someone-elses"), UserID: "bob", Algorithm: -7, PublicKey: []byte{0x04}, CreatedAt: time.Now()}
	require.NoError(t, ts.store.PutCredential(ctx, foreign))
	del := ts.do(t, http.MethodDelete, "/api/credentials/"+foreign.Key(), nil, access)
	assert.Equal(t, http.StatusNotFound, del.Code)

	del = ts.do(t, http.MethodDelete, "/api/credentials/"+body.Credentials[0].ID, nil, access)
	require.Equal(t, http.StatusOK, del.Code)

	list = ts.do(t, http.MethodGet, "/api/credentials", nil, access)
	require.Equal(t, http.StatusOK, list.Code)
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &body))
	assert.Empty(t, body.Credentials)
}
