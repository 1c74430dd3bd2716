package webauthn

import (
	"bytes"
	"encoding/binary"

	"github.com/fxamacker/cbor/v2"
	"github.com/warden-auth/warden/core"
)

// Flags is the flags byte of authenticator data.
//
// https://www.w3.org/TR/webauthn-3/#authdata-flags
type Flags byte

// UserPresent reports whether the authenticator performed a user presence test.
func (f Flags) UserPresent() bool { return f&0x01 != 0 }

// UserVerified reports whether the authenticator verified the user, for
// example with a PIN or biometric check.
func (f Flags) UserVerified() bool { return f&0x04 != 0 }

// AttestedCredential reports whether attested credential data follows the
// fixed header.
func (f Flags) AttestedCredential() bool { return f&0x40 != 0 }

// HasExtensions reports whether extension data follows the credential data.
func (f Flags) HasExtensions() bool { return f&0x80 != 0 }

// AuthenticatorData is the parsed binary authenticator data structure found
// inside attestation objects and assertion responses.
//
// https://www.w3.org/TR/webauthn-3/#sctn-authenticator-data
type AuthenticatorData struct {
	RPIDHash  []byte // SHA-256 of the relying party id, 32 bytes
	Flags     Flags
	SignCount uint32

	// Attested credential data, present only when Flags.AttestedCredential.
	AAGUID              []byte
	CredentialID        []byte
	CredentialPublicKey []byte // raw CBOR COSE key

	Raw []byte // the exact input bytes, needed for signature reconstruction
}

const authDataMinLen = 32 + 1 + 4

// ParseAuthenticatorData decodes the fixed header and, when the AT flag is
// set, the attested credential data that follows it. Structural problems
// fail with core.ErrMalformedAuthenticatorData.
func ParseAuthenticatorData(raw []byte) (AuthenticatorData, error) {
	if len(raw) < authDataMinLen {
		return AuthenticatorData{}, core.ErrMalformedAuthenticatorData
	}

	data := AuthenticatorData{
		RPIDHash:  raw[:32],
		Flags:     Flags(raw[32]),
		SignCount: binary.BigEndian.Uint32(raw[33:37]),
		Raw:       raw,
	}

	rest := raw[authDataMinLen:]
	if data.Flags.AttestedCredential() {
		// aaguid (16) + credential id length (2)
		if len(rest) < 18 {
			return AuthenticatorData{}, core.ErrMalformedAuthenticatorData
		}
		data.AAGUID = rest[:16]
		idLen := int(binary.BigEndian.Uint16(rest[16:18]))
		rest = rest[18:]
		if idLen == 0 || len(rest) < idLen {
			return AuthenticatorData{}, core.ErrMalformedAuthenticatorData
		}
		data.CredentialID = rest[:idLen]
		rest = rest[idLen:]

		// The COSE public key is a single CBOR item; extensions may follow.
		dec := cbor.NewDecoder(bytes.NewReader(rest))
		var key cbor.RawMessage
		if err := dec.Decode(&key); err != nil {
			return AuthenticatorData{}, core.ErrMalformedAuthenticatorData
		}
		data.CredentialPublicKey = []byte(key)
		rest = rest[dec.NumBytesRead():]
	}

	if len(rest) > 0 && !data.Flags.HasExtensions() {
		return AuthenticatorData{}, core.ErrMalformedAuthenticatorData
	}

	return data, nil
}
