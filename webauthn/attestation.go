package webauthn

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/warden-auth/warden/core"
)

// FormatNone is the attestation statement format for self-attested
// credentials, the only format this service accepts.
const FormatNone = "none"

// AttestationObject is the decoded registration payload: the statement
// format, the opaque statement itself, and the parsed authenticator data.
//
// https://www.w3.org/TR/webauthn-3/#attestation-object
type AttestationObject struct {
	Format    string
	Statement cbor.RawMessage
	AuthData  AuthenticatorData
}

type rawAttestationObject struct {
	Format    string          `cbor:"fmt"`
	Statement cbor.RawMessage `cbor:"attStmt"`
	AuthData  []byte          `cbor:"authData"`
}

// ParseAttestationObject decodes the CBOR attestation object returned by a
// registration ceremony. Any structural failure, including inside the
// embedded authenticator data, is core.ErrMalformedAttestation.
func ParseAttestationObject(raw []byte) (AttestationObject, error) {
	var obj rawAttestationObject
	if err := cbor.Unmarshal(raw, &obj); err != nil {
		return AttestationObject{}, core.ErrMalformedAttestation
	}
	if obj.Format == "" || len(obj.AuthData) == 0 {
		return AttestationObject{}, core.ErrMalformedAttestation
	}

	authData, err := ParseAuthenticatorData(obj.AuthData)
	if err != nil {
		return AttestationObject{}, core.ErrMalformedAttestation
	}

	return AttestationObject{
		Format:    obj.Format,
		Statement: obj.Statement,
		AuthData:  authData,
	}, nil
}
