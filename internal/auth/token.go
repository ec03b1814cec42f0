// Package auth verifies bearer credentials admitting sessions and replay
// API calls, grounded on original_source/rust_gateway/src/services/auth.rs
// and implemented with github.com/golang-jwt/jwt/v5 (the JWT library the
// "go-server" variant of the teacher pack already depends on).
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrorKind enumerates the admission failures spec.md §4.1 names.
type ErrorKind int

const (
	// ErrMissingToken means the caller supplied no credential at all.
	ErrMissingToken ErrorKind = iota
	// ErrInvalidToken means the credential failed verification.
	ErrInvalidToken
	// ErrConfigMissing means no key source was configured.
	ErrConfigMissing
)

func (k ErrorKind) String() string {
	switch k {
	case ErrMissingToken:
		return "missing_token"
	case ErrInvalidToken:
		return "invalid_token"
	case ErrConfigMissing:
		return "config_missing"
	default:
		return "unknown"
	}
}

// VerifyError wraps an ErrorKind so callers can both log a reason string
// and, via errors.As, inspect the kind.
type VerifyError struct {
	Kind ErrorKind
	err  error
}

func (e *VerifyError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.err)
	}
	return e.Kind.String()
}

func (e *VerifyError) Unwrap() error { return e.err }

func missingToken() error    { return &VerifyError{Kind: ErrMissingToken} }
func configMissing() error   { return &VerifyError{Kind: ErrConfigMissing} }
func invalidToken(err error) error { return &VerifyError{Kind: ErrInvalidToken, err: err} }

// Config selects the algorithm, validation extras, and exactly one key
// source (JWKS XOR static key material), per spec.md §4.1.
type Config struct {
	Algorithm string // HS256/384/512, RS256/384/512
	Issuer    string
	Audience  string
	Leeway    time.Duration
	JWKSURL   string
	PublicKey string // HMAC secret (HS*) or PEM (RS*)
}

// Claims is the decoded token payload, exposed as a generic map so callers
// can pull whatever claim the upstream issuer put there (subject, scopes,
// etc.) without this package needing to know the shape in advance.
type Claims map[string]any

// Verifier validates bearer tokens against a Config.
type Verifier struct {
	cfg        Config
	httpClient *http.Client
}

// New builds a Verifier. A nil httpClient defaults to a new http.Client
// with a 5-second timeout, matching the "single round-trip, no cache"
// behavior spec.md requires of JWKS fetches.
func New(cfg Config, httpClient *http.Client) *Verifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Verifier{cfg: cfg, httpClient: httpClient}
}

// Verify validates token and returns its claims, or one of the ErrorKinds
// wrapped in a *VerifyError.
func (v *Verifier) Verify(token string) (Claims, error) {
	if token == "" {
		return nil, missingToken()
	}

	method, err := signingMethod(v.cfg.Algorithm)
	if err != nil {
		return nil, invalidToken(err)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{v.cfg.Algorithm})}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}
	if v.cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(v.cfg.Leeway))
	}

	switch {
	case v.cfg.JWKSURL != "":
		return v.verifyWithJWKS(token, method, opts)
	case v.cfg.PublicKey != "":
		key, err := decodingKey(method, v.cfg.PublicKey)
		if err != nil {
			return nil, invalidToken(err)
		}
		return v.parse(token, key, opts)
	default:
		return nil, configMissing()
	}
}

func (v *Verifier) verifyWithJWKS(token string, method jwt.SigningMethod, opts []jwt.ParserOption) (Claims, error) {
	parser := jwt.NewParser()
	unverified, _, err := parser.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, invalidToken(err)
	}
	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, invalidToken(errors.New("token header missing kid"))
	}

	set, err := v.fetchJWKS(v.cfg.JWKSURL)
	if err != nil {
		return nil, invalidToken(err)
	}
	jwk := set.find(kid)
	if jwk == nil {
		return nil, invalidToken(fmt.Errorf("no jwk for kid %q", kid))
	}

	key, err := jwk.key(method)
	if err != nil {
		return nil, invalidToken(err)
	}
	return v.parse(token, key, opts)
}

func (v *Verifier) parse(token string, key any, opts []jwt.ParserOption) (Claims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}, opts...)
	if err != nil {
		return nil, invalidToken(err)
	}
	return Claims(claims), nil
}

func signingMethod(alg string) (jwt.SigningMethod, error) {
	switch alg {
	case "HS256":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	case "RS256":
		return jwt.SigningMethodRS256, nil
	case "RS384":
		return jwt.SigningMethodRS384, nil
	case "RS512":
		return jwt.SigningMethodRS512, nil
	default:
		return nil, fmt.Errorf("unsupported jwt algorithm %q", alg)
	}
}

func decodingKey(method jwt.SigningMethod, material string) (any, error) {
	switch method.(type) {
	case *jwt.SigningMethodHMAC:
		return []byte(material), nil
	default:
		return jwt.ParseRSAPublicKeyFromPEM([]byte(material))
	}
}

func (v *Verifier) fetchJWKS(url string) (*jwkSet, error) {
	resp, err := v.httpClient.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks fetch: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var set jwkSet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, err
	}
	return &set, nil
}
