package provider

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sessionguard/internal/platform/apperr"
	userdomain "sessionguard/internal/user/domain"
)

// idTokenClaims are the claims read from an identity-provider ID token.
type idTokenClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified,omitempty"`
}

// IDTokenVerifier accepts signed ID tokens from an external identity provider.
type IDTokenVerifier struct {
	key      any
	methods  []string
	issuer   string
	audience string
	now      func() time.Time
}

var _ IdentityProvider = (*IDTokenVerifier)(nil)

// NewHMACVerifier verifies HS256 tokens with secret.
func NewHMACVerifier(secret []byte, issuer, audience string) (*IDTokenVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("identity provider: HMAC secret is empty")
	}
	return &IDTokenVerifier{key: secret, methods: []string{jwt.SigningMethodHS256.Alg()}, issuer: issuer, audience: audience, now: time.Now}, nil
}

// NewPublicKeyVerifier verifies RS256 (RSA) or ES256 (ECDSA) tokens with pub.
func NewPublicKeyVerifier(pub crypto.PublicKey, issuer, audience string) (*IDTokenVerifier, error) {
	var methods []string
	switch pub.(type) {
	case *rsa.PublicKey:
		methods = []string{jwt.SigningMethodRS256.Alg()}
	case *ecdsa.PublicKey:
		methods = []string{jwt.SigningMethodES256.Alg()}
	default:
		return nil, errors.New("identity provider: unsupported public key type")
	}
	return &IDTokenVerifier{key: pub, methods: methods, issuer: issuer, audience: audience, now: time.Now}, nil
}

// WithClock overrides the clock used for exp/nbf checks. Intended for tests.
func (v *IDTokenVerifier) WithClock(now func() time.Time) *IDTokenVerifier {
	v.now = now
	return v
}

// VerifyProofAndGetEmail implements IdentityProvider. The proof is the raw ID token.
func (v *IDTokenVerifier) VerifyProofAndGetEmail(_ context.Context, proof string) (string, error) {
	proof = strings.TrimSpace(proof)
	if proof == "" {
		return "", apperr.Unauthorized("empty identity proof")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.methods),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	claims := &idTokenClaims{}
	_, err := jwt.ParseWithClaims(proof, claims, func(*jwt.Token) (any, error) { return v.key, nil }, opts...)
	if err != nil {
		return "", apperr.Unauthorized("id token: " + err.Error())
	}
	if claims.EmailVerified != nil && !*claims.EmailVerified {
		return "", apperr.Unauthorized("id token email not verified")
	}
	email := userdomain.NormalizeEmail(claims.Email)
	if email == "" {
		return "", apperr.Unauthorized("id token has no email")
	}
	return email, nil
}
