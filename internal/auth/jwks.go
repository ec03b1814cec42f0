package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/golang-jwt/jwt/v5"
)

// jwkSet and jwk model the minimal subset of RFC 7517 this gateway needs.
// golang-jwt/jwt/v5 ships no JWKS client or JWK→key conversion, and no pack
// example carries one either, so this glue is hand-rolled (see DESIGN.md).
type jwkSet struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"` // RSA modulus, base64url
	E   string `json:"e"` // RSA exponent, base64url
	K   string `json:"k"` // HMAC secret, base64url (kty=oct)
}

func (s *jwkSet) find(kid string) *jwk {
	for i := range s.Keys {
		if s.Keys[i].Kid == kid {
			return &s.Keys[i]
		}
	}
	return nil
}

// key returns the verification key material appropriate for method: an
// *rsa.PublicKey for RS*, or the raw HMAC secret bytes for HS*.
func (k *jwk) key(method jwt.SigningMethod) (any, error) {
	switch method.(type) {
	case *jwt.SigningMethodHMAC:
		if k.Kty != "oct" {
			return nil, fmt.Errorf("jwk kty %q incompatible with HMAC algorithm", k.Kty)
		}
		return base64.RawURLEncoding.DecodeString(k.K)
	default:
		if k.Kty != "RSA" {
			return nil, fmt.Errorf("jwk kty %q incompatible with RSA algorithm", k.Kty)
		}
		return k.rsaPublicKey()
	}
}

func (k *jwk) rsaPublicKey() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode jwk modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode jwk exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)

	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}
