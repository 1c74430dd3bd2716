package webauthn

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
	"github.com/warden-auth/warden/core"
)

// Algorithm is a COSE algorithm identifier.
//
// https://www.iana.org/assignments/cose/cose.xhtml#algorithms
type Algorithm int64

const (
	// AlgES256 is ECDSA over P-256 with SHA-256.
	AlgES256 Algorithm = -7
	// AlgRS256 is RSASSA-PKCS1-v1_5 with SHA-256.
	AlgRS256 Algorithm = -257
)

// COSE key type identifiers.
const (
	coseKeyTypeEC2 = 2
	coseKeyTypeRSA = 3
)

// coseCurveP256 is the COSE registry id for the NIST P-256 curve.
const coseCurveP256 = 1

// PublicKey is a decoded credential public key together with its algorithm.
type PublicKey struct {
	Algorithm Algorithm
	key       crypto.PublicKey
}

// coseKeyHeader covers the labels shared by every COSE key map.
type coseKeyHeader struct {
	Kty int64 `cbor:"1,keyasint"`
	Alg int64 `cbor:"3,keyasint"`
}

type coseEC2Key struct {
	Crv int64  `cbor:"-1,keyasint"`
	X   []byte `cbor:"-2,keyasint"`
	Y   []byte `cbor:"-3,keyasint"`
}

type coseRSAKey struct {
	N []byte `cbor:"-1,keyasint"`
	E []byte `cbor:"-2,keyasint"`
}

// ParseCOSEPublicKey decodes a CBOR-encoded COSE public key as produced by
// an authenticator during registration. Exactly two algorithms are accepted:
// ES256 (EC2 keys, P-256 only) and RS256. Anything else fails with
// core.ErrUnsupportedAlgorithm, and an ES256 key on a foreign curve fails
// with core.ErrUnsupportedCurve.
func ParseCOSEPublicKey(raw []byte) (PublicKey, error) {
	var hdr coseKeyHeader
	if err := cbor.Unmarshal(raw, &hdr); err != nil {
		return PublicKey{}, core.ErrMalformedAttestation
	}

	switch Algorithm(hdr.Alg) {
	case AlgES256:
		if hdr.Kty != coseKeyTypeEC2 {
			return PublicKey{}, core.ErrUnsupportedAlgorithm
		}
		var ec coseEC2Key
		if err := cbor.Unmarshal(raw, &ec); err != nil {
			return PublicKey{}, core.ErrMalformedAttestation
		}
		if ec.Crv != coseCurveP256 {
			return PublicKey{}, core.ErrUnsupportedCurve
		}
		x := new(big.Int).SetBytes(ec.X)
		y := new(big.Int).SetBytes(ec.Y)
		if !elliptic.P256().IsOnCurve(x, y) {
			return PublicKey{}, core.ErrMalformedAttestation
		}
		key := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
		return PublicKey{Algorithm: AlgES256, key: key}, nil

	case AlgRS256:
		if hdr.Kty != coseKeyTypeRSA {
			return PublicKey{}, core.ErrUnsupportedAlgorithm
		}
		var rk coseRSAKey
		if err := cbor.Unmarshal(raw, &rk); err != nil {
			return PublicKey{}, core.ErrMalformedAttestation
		}
		if len(rk.N) == 0 || len(rk.E) == 0 {
			return PublicKey{}, core.ErrMalformedAttestation
		}
		e := new(big.Int).SetBytes(rk.E)
		if !e.IsInt64() || e.Int64() <= 1 {
			return PublicKey{}, core.ErrMalformedAttestation
		}
		key := &rsa.PublicKey{N: new(big.Int).SetBytes(rk.N), E: int(e.Int64())}
		return PublicKey{Algorithm: AlgRS256, key: key}, nil

	default:
		return PublicKey{}, core.ErrUnsupportedAlgorithm
	}
}

// Encode returns the storable raw form of the key: a SEC1 uncompressed
// point for EC2 keys, PKCS#1 DER for RSA keys.
func (pk PublicKey) Encode() []byte {
	switch key := pk.key.(type) {
	case *ecdsa.PublicKey:
		return elliptic.Marshal(key.Curve, key.X, key.Y)
	case *rsa.PublicKey:
		return x509.MarshalPKCS1PublicKey(key)
	default:
		return nil
	}
}

// DecodePublicKey rebuilds a PublicKey from the raw bytes produced by
// Encode and the algorithm recorded alongside them.
func DecodePublicKey(alg int64, raw []byte) (PublicKey, error) {
	switch Algorithm(alg) {
	case AlgES256:
		x, y := elliptic.Unmarshal(elliptic.P256(), raw)
		if x == nil {
			return PublicKey{}, fmt.Errorf("invalid stored ec2 key")
		}
		key := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
		return PublicKey{Algorithm: AlgES256, key: key}, nil
	case AlgRS256:
		key, err := x509.ParsePKCS1PublicKey(raw)
		if err != nil {
			return PublicKey{}, fmt.Errorf("invalid stored rsa key: %w", err)
		}
		return PublicKey{Algorithm: AlgRS256, key: key}, nil
	default:
		return PublicKey{}, core.ErrUnsupportedAlgorithm
	}
}
