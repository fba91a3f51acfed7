package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, priv ed25519.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = kid
	s, err := token.SignedString(priv)
	require.NoError(t, err)
	return s
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "desktop-user",
		"iss": "https://issuer.test",
		"aud": "snap-store",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
}

func TestStaticVerifier(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	v := NewStaticVerifier("k1", pub, "https://issuer.test", "snap-store")

	claims, err := v.Verify(context.Background(), sign(t, priv, "k1", validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "desktop-user", claims["sub"])

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Minute).Unix()
	_, err = v.Verify(context.Background(), sign(t, priv, "k1", expired))
	assert.ErrorIs(t, err, ErrTokenExpired)

	wrongAud := validClaims()
	wrongAud["aud"] = "someone-else"
	_, err = v.Verify(context.Background(), sign(t, priv, "k1", wrongAud))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify(context.Background(), sign(t, priv, "other", validClaims()))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWKSVerifier(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	fetches := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		_ = json.NewEncoder(w).Encode(JWKS{Keys: []JWK{{
			Kty: "OKP", Kid: "k1", Use: "sig", Alg: "EdDSA", Crv: "Ed25519",
			X: base64.RawURLEncoding.EncodeToString(pub),
		}}})
	}))
	defer srv.Close()

	v := NewVerifier(srv.URL, "https://issuer.test", "snap-store")
	for i := 0; i < 2; i++ {
		_, err := v.Verify(context.Background(), sign(t, priv, "k1", validClaims()))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, fetches)
}
