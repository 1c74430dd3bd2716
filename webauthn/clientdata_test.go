package webauthn

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warden-auth/warden/core"
)

func TestParseClientData(t *testing.T) {
	raw := []byte(`{"type":"webauthn.create","challenge":"Y2hhbGxlbmdl","origin":"http://localhost:9000","crossOrigin":false}`)

	cd, err := ParseClientData(raw)
	require.NoError(t, err)

	assert.Equal(t, CeremonyCreate, cd.Type)
	assert.Equal(t, "http://localhost:9000", cd.Origin)
	assert.False(t, cd.CrossOrigin)

	challenge, err := cd.ChallengeBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("challenge"), challenge)
}

func TestParseClientData_NotJSON(t *testing.T) {
	_, err := ParseClientData([]byte("{"))
	assert.ErrorIs(t, err, core.ErrMalformedClientData)
}

func TestParseClientData_MissingFields(t *testing.T) {
	cases := map[string]string{
		"no type":      `{"challenge":"abc","origin":"http://x"}`,
		"no challenge": `{"type":"webauthn.get","origin":"http://x"}`,
		"no origin":    `{"type":"webauthn.get","challenge":"abc"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseClientData([]byte(raw))
			assert.ErrorIs(t, err, core.ErrMalformedClientData)
		})
	}
}

func TestClientData_ChallengeBytes_BadEncoding(t *testing.T) {
	cd := ClientData{Challenge: "not/valid+base64url=="}
	_, err := cd.ChallengeBytes()
	assert.ErrorIs(t, err, core.ErrMalformedClientData)
}

func TestClientData_ChallengeRoundTrip(t *testing.T) {
	raw := []byte{0x00, 0x01, 0xfe, 0xff}
	cd := ClientData{Challenge: base64.RawURLEncoding.EncodeToString(raw)}

	decoded, err := cd.ChallengeBytes()
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
}
