package webauthn

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
)

// AssertionMessage reconstructs the byte string an authenticator signs for
// an assertion: the raw authenticator data concatenated with the SHA-256
// digest of the client data JSON.
//
// https://www.w3.org/TR/webauthn-3/#sctn-op-get-assertion
func AssertionMessage(authData, clientDataJSON []byte) []byte {
	clientDataHash := sha256.Sum256(clientDataJSON)
	msg := make([]byte, 0, len(authData)+len(clientDataHash))
	msg = append(msg, authData...)
	msg = append(msg, clientDataHash[:]...)
	return msg
}

// Verify checks sig over message with the key's algorithm. ES256 signatures
// are expected in ASN.1 DER form as authenticators emit them; RS256 uses
// RSASSA-PKCS1-v1_5 with SHA-256.
func (pk PublicKey) Verify(message, sig []byte) bool {
	digest := sha256.Sum256(message)
	switch key := pk.key.(type) {
	case *ecdsa.PublicKey:
		return ecdsa.VerifyASN1(key, digest[:], sig)
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], sig) == nil
	default:
		return false
	}
}
