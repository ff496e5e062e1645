package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, expired, has the wrong issuer,
	// audience or type, or fails signature verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned when a correctly signed token fails only on exp. It wraps ErrInvalidToken.
	ErrTokenExpired = fmt.Errorf("%w: token expired", ErrInvalidToken)
)

// Token types carried in the "type" claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// AccessClaims holds JWT claims for the access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	Type       string   `json:"type"`
	Email      string   `json:"email"`
	Roles      []string `json:"roles"`
	ActiveRole string   `json:"active_role"`
	SessionID  string   `json:"session_id"`
}

// RefreshClaims holds JWT claims for the refresh token. The jti is random per issuance,
// so two tokens issued in the same second still differ.
type RefreshClaims struct {
	jwt.RegisteredClaims
	Type     string `json:"type"`
	DeviceID string `json:"device_id"`
}

// AccessSubject is the identity an access token is issued for.
type AccessSubject struct {
	UserID     string
	Email      string
	Roles      []string
	ActiveRole string
	SessionID  string
}

// IssuedToken is a signed token with its jti and expiry.
type IssuedToken struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// TokenProvider issues and validates JWT access and refresh tokens using RS256 or ES256 (private/public key).
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	method     jwt.SigningMethod
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenProvider returns a TokenProvider that signs with the given private key.
// The algorithm follows the key type: RS256 for RSA, ES256 for ECDSA P-256.
// issuer and audience are set on claims and validated on every parse.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL, refreshTTL time.Duration) (*TokenProvider, error) {
	var method jwt.SigningMethod
	switch privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return nil, ErrInvalidKey
	}
	if KeyAlg(publicKey) != method.Alg() {
		return nil, fmt.Errorf("%w: public key does not match private key type", ErrInvalidKey)
	}
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		method:     method,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock overrides the time source for issuing and validating. Intended for tests.
func (p *TokenProvider) WithClock(now func() time.Time) *TokenProvider {
	p.now = now
	return p
}

// AccessTTL returns the access token lifetime.
func (p *TokenProvider) AccessTTL() time.Duration { return p.accessTTL }

// IssueAccess issues a short-lived access JWT bound to the subject's session.
func (p *TokenProvider) IssueAccess(sub AccessSubject) (IssuedToken, error) {
	jti, err := generateJTI()
	if err != nil {
		return IssuedToken{}, err
	}
	now := p.now()
	expiresAt := now.Add(p.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: p.registered(jti, sub.UserID, now, expiresAt),
		Type:             TokenTypeAccess,
		Email:            sub.Email,
		Roles:            sub.Roles,
		ActiveRole:       sub.ActiveRole,
		SessionID:        sub.SessionID,
	}
	token, err := p.sign(claims)
	if err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{Token: token, JTI: jti, ExpiresAt: expiresAt}, nil
}

// IssueRefresh issues a long-lived refresh JWT bound to the device. Callers store only its hash.
func (p *TokenProvider) IssueRefresh(userID, deviceID string) (IssuedToken, error) {
	jti, err := generateJTI()
	if err != nil {
		return IssuedToken{}, err
	}
	now := p.now()
	expiresAt := now.Add(p.refreshTTL)
	claims := RefreshClaims{
		RegisteredClaims: p.registered(jti, userID, now, expiresAt),
		Type:             TokenTypeRefresh,
		DeviceID:         deviceID,
	}
	token, err := p.sign(claims)
	if err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{Token: token, JTI: jti, ExpiresAt: expiresAt}, nil
}

func (p *TokenProvider) registered(jti, subject string, now, expiresAt time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        jti,
		Subject:   subject,
		Issuer:    p.issuer,
		Audience:  jwt.ClaimStrings{p.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(p.method, claims).SignedString(p.privateKey)
}

// ValidateRefresh parses and validates the refresh token (signature, exp, iss, aud, type).
// When the token is correctly signed and only past its exp, the claims are returned together with
// ErrTokenExpired so the caller can retire the session it belongs to.
func (p *TokenProvider) ValidateRefresh(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	err := p.parse(tokenString, claims)
	if err != nil && !errors.Is(err, ErrTokenExpired) {
		return nil, err
	}
	if claims.Type != TokenTypeRefresh || claims.Subject == "" || claims.DeviceID == "" {
		return nil, ErrInvalidToken
	}
	return claims, err
}

// ValidateAccess parses and validates the access token (signature, exp, iss, aud, type).
func (p *TokenProvider) ValidateAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := p.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeAccess || claims.Subject == "" || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// parse verifies the signature, then the registered claims at p.now. A token whose claims
// all hold one second before its exp fails with ErrTokenExpired.
func (p *TokenProvider) parse(tokenString string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return p.publicKey, nil },
		jwt.WithValidMethods([]string{p.method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	err = p.claimsValidator(p.now).Validate(claims)
	if err == nil {
		return nil
	}
	if errors.Is(err, jwt.ErrTokenExpired) {
		exp, _ := claims.GetExpirationTime()
		before := func() time.Time { return exp.Add(-time.Second) }
		if exp != nil && p.claimsValidator(before).Validate(claims) == nil {
			return ErrTokenExpired
		}
	}
	return fmt.Errorf("%w: %v", ErrInvalidToken, err)
}

func (p *TokenProvider) claimsValidator(now func() time.Time) *jwt.Validator {
	return jwt.NewValidator(
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	)
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
