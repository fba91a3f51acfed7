// Package auth verifies the bearer tokens that guard the state-changing routes
// (install, remove) when the store client is exposed beyond localhost.
// Tokens are EdDSA (Ed25519) JWTs whose keys are published as a JWKS.
package auth

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verification errors.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// JWKS represents a JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key
type JWK struct {
	Kty string `json:"kty"` // Key type
	Kid string `json:"kid"` // Key ID
	Use string `json:"use"` // Public key use
	Alg string `json:"alg"` // Algorithm
	Crv string `json:"crv"` // Curve
	X   string `json:"x"`   // Public key
}

// keySource resolves a key id to a public key.
type keySource func(ctx context.Context, kid string) (ed25519.PublicKey, error)

// Verifier validates JWTs against an expected issuer and audience.
type Verifier struct {
	issuer   string
	audience string
	keys     keySource
}

// Claims is the verified claim set of a token.
type Claims = jwt.MapClaims

// NewVerifier creates a verifier that loads keys from jwksURL, caching them for five minutes.
func NewVerifier(jwksURL, issuer, audience string) *Verifier {
	c := &jwksCache{
		url: jwksURL,
		hc:  &http.Client{Timeout: 10 * time.Second},
	}
	return &Verifier{issuer: issuer, audience: audience, keys: c.key}
}

// NewStaticVerifier creates a verifier for tokens signed with a single known key.
func NewStaticVerifier(kid string, pub ed25519.PublicKey, issuer, audience string) *Verifier {
	return &Verifier{
		issuer:   issuer,
		audience: audience,
		keys: func(_ context.Context, k string) (ed25519.PublicKey, error) {
			if k != kid {
				return nil, fmt.Errorf("key with kid %s not found", k)
			}
			return pub, nil
		},
	}
}

// Verify parses and verifies a token and returns its claims.
// Expired tokens are reported as ErrTokenExpired, everything else as ErrInvalidToken.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (Claims, error) {
	keyFunc := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("missing or invalid kid in JWT header")
		}
		return v.keys(ctx, kid)
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, keyFunc,
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{"EdDSA"}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// jwksCache stores the fetched key set with an expiry.
type jwksCache struct {
	url       string
	hc        *http.Client
	mutex     sync.RWMutex
	jwks      *JWKS
	expiresAt time.Time
}

func (c *jwksCache) get(ctx context.Context) (*JWKS, error) {
	c.mutex.RLock()
	if c.jwks != nil && time.Now().Before(c.expiresAt) {
		jwks := c.jwks
		c.mutex.RUnlock()
		return jwks, nil
	}
	c.mutex.RUnlock()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	// Double-check after acquiring write lock
	if c.jwks != nil && time.Now().Before(c.expiresAt) {
		return c.jwks, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS fetch failed with status %d", resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}

	c.jwks = &jwks
	c.expiresAt = time.Now().Add(5 * time.Minute)
	return c.jwks, nil
}

func (c *jwksCache) key(ctx context.Context, kid string) (ed25519.PublicKey, error) {
	jwks, err := c.get(ctx)
	if err != nil {
		return nil, err
	}
	for _, k := range jwks.Keys {
		if k.Kid != kid {
			continue
		}
		if k.Kty != "OKP" || k.Crv != "Ed25519" || (k.Alg != "" && k.Alg != "EdDSA") {
			return nil, fmt.Errorf("unsupported key type or algorithm")
		}
		x, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil || len(x) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("failed to decode public key")
		}
		return ed25519.PublicKey(x), nil
	}
	return nil, fmt.Errorf("key with kid %s not found", kid)
}
