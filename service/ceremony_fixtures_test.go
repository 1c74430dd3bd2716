package service

import (
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
	"sync"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

const testOrigin = "http://localhost:9000"

// flag bytes used by the fixtures: UP+UV, optionally AT.
const (
	flagsUPUV   = 0x05
	flagsUPUVAT = 0x45
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testAuthenticator fabricates the byte payloads a real authenticator would
// produce for the localhost relying party, signed with a fresh ES256 key.
type testAuthenticator struct {
	priv   *ecdsa.PrivateKey
	credID []byte
	rpHash []byte
}

func newTestAuthenticator(t *testing.T) *testAuthenticator {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	hash := sha256.Sum256([]byte("localhost"))
	return &testAuthenticator{
		priv:   priv,
		credID: []byte("test-credential-0001"),
		rpHash: hash[:],
	}
}

func (a *testAuthenticator) coseKey(t *testing.T) []byte {
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

func (a *testAuthenticator) authData(t *testing.T, flags byte, signCount uint32) []byte {
	t.Helper()
	buf := make([]byte, 0, 64)
	buf = append(buf, a.rpHash...)
	buf = append(buf, flags)
	buf = binary.BigEndian.AppendUint32(buf, signCount)
	if flags&0x40 != 0 {
		buf = append(buf, make([]byte, 16)...)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(a.credID)))
		buf = append(buf, a.credID...)
		buf = append(buf, a.coseKey(t)...)
	}
	return buf
}

func (a *testAuthenticator) attestationObject(t *testing.T, flags byte) []byte {
	t.Helper()
	raw, err := cbor.Marshal(map[string]any{
		"fmt":      "none",
		"attStmt":  map[string]any{},
		"authData": a.authData(t, flags, 0),
	})
	require.NoError(t, err)
	return raw
}

func (a *testAuthenticator) sign(t *testing.T, authData, clientDataJSON []byte) []byte {
	t.Helper()
	clientDataHash := sha256.Sum256(clientDataJSON)
	msg := append(append([]byte{}, authData...), clientDataHash[:]...)
	digest := sha256.Sum256(msg)
	sig, err := ecdsa.SignASN1(rand.Reader, a.priv, digest[:])
	require.NoError(t, err)
	return sig
}

func clientDataJSON(t *testing.T, ceremony string, challenge []byte, origin string, crossOrigin bool) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"type":        ceremony,
		"challenge":   base64.RawURLEncoding.EncodeToString(challenge),
		"origin":      origin,
		"crossOrigin": crossOrigin,
	})
	require.NoError(t, err)
	return raw
}

func mustHash(host string) []byte {
	sum := sha256.Sum256([]byte(host))
	return sum[:]
}

func mustOriginPolicy(t *testing.T) *OriginPolicy {
	t.Helper()
	policy, err := NewOriginPolicy([]string{testOrigin})
	require.NoError(t, err)
	return policy
}

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	mu          sync.Mutex
	credentials []string
	created     []string
	revoked     []string
}

func (p *recordingPublisher) PublishCredentialRegistered(_ context.Context, userID, credentialKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.credentials = append(p.credentials, userID+"/"+credentialKey)
	return nil
}

func (p *recordingPublisher) PublishSessionCreated(_ context.Context, userID, pairID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, userID+"/"+pairID)
	return nil
}

func (p *recordingPublisher) PublishSessionRevoked(_ context.Context, userID, pairID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked = append(p.revoked, userID+"/"+pairID)
	return nil
}
