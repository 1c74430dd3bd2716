package webauthn

import (
	"encoding/base64"
	"encoding/json"

	"github.com/warden-auth/warden/core"
)

// Ceremony types carried in the client data "type" field.
const (
	CeremonyCreate = "webauthn.create"
	CeremonyGet    = "webauthn.get"
)

// ClientData is the parsed collected client data JSON assembled by the
// browser for a ceremony.
//
// https://www.w3.org/TR/webauthn-3/#dictdef-collectedclientdata
type ClientData struct {
	Type        string `json:"type"`
	Challenge   string `json:"challenge"` // base64url, unpadded
	Origin      string `json:"origin"`
	CrossOrigin bool   `json:"crossOrigin"`
}

// ParseClientData decodes client data JSON. Invalid JSON or a missing
// required field is core.ErrMalformedClientData.
func ParseClientData(raw []byte) (ClientData, error) {
	var cd ClientData
	if err := json.Unmarshal(raw, &cd); err != nil {
		return ClientData{}, core.ErrMalformedClientData
	}
	if cd.Type == "" || cd.Challenge == "" || cd.Origin == "" {
		return ClientData{}, core.ErrMalformedClientData
	}
	return cd, nil
}

// ChallengeBytes decodes the embedded challenge back to raw bytes.
func (cd ClientData) ChallengeBytes() ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(cd.Challenge)
	if err != nil {
		return nil, core.ErrMalformedClientData
	}
	return b, nil
}
