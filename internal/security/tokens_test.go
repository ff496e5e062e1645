package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func mustProvider(t *testing.T) *TokenProvider {
	t.Helper()
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	return p
}

func TestTokenProvider_AccessRoundTrip(t *testing.T) {
	p := mustProvider(t)
	sub := AccessSubject{UserID: "u1", Email: "a@example.com", Roles: []string{"student", "admin"}, ActiveRole: "admin", SessionID: "s1"}
	issued, err := p.IssueAccess(sub)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if issued.Token == "" || issued.JTI == "" {
		t.Fatal("access token or jti empty")
	}
	claims, err := p.ValidateAccess(issued.Token)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if claims.Subject != "u1" || claims.SessionID != "s1" || claims.ActiveRole != "admin" || claims.Email != "a@example.com" {
		t.Errorf("claims = %+v", claims)
	}
	if len(claims.Roles) != 2 {
		t.Errorf("roles = %v", claims.Roles)
	}
	if _, err := p.ValidateRefresh(issued.Token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("access token accepted as refresh: %v", err)
	}
}

func TestTokenProvider_RefreshRoundTrip(t *testing.T) {
	p := mustProvider(t)
	issued, err := p.IssueRefresh("u1", "device-1")
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	claims, err := p.ValidateRefresh(issued.Token)
	if err != nil {
		t.Fatalf("ValidateRefresh: %v", err)
	}
	if claims.Subject != "u1" || claims.DeviceID != "device-1" || claims.ID != issued.JTI {
		t.Errorf("claims = %+v", claims)
	}
	if _, err := p.ValidateAccess(issued.Token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("refresh token accepted as access: %v", err)
	}
}

func TestTokenProvider_RefreshTokensDistinctAtSameInstant(t *testing.T) {
	p := mustProvider(t)
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	p.WithClock(func() time.Time { return fixed })
	a, err := p.IssueRefresh("u1", "d1")
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.IssueRefresh("u1", "d1")
	if err != nil {
		t.Fatal(err)
	}
	if a.Token == b.Token || a.JTI == b.JTI {
		t.Error("refresh tokens issued at the same instant must differ")
	}
	if HashRefreshToken(a.Token) == HashRefreshToken(b.Token) {
		t.Error("refresh token hashes must differ")
	}
}

func TestTokenProvider_Expired(t *testing.T) {
	p := mustProvider(t)
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	p.WithClock(func() time.Time { return start })
	issued, err := p.IssueRefresh("u1", "d1")
	if err != nil {
		t.Fatal(err)
	}
	p.WithClock(func() time.Time { return start.Add(25 * time.Hour) })
	claims, err := p.ValidateRefresh(issued.Token)
	if !errors.Is(err, ErrTokenExpired) || !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired refresh token err = %v, want ErrTokenExpired", err)
	}
	if claims == nil || claims.Subject != "u1" || claims.DeviceID != "d1" {
		t.Errorf("expired refresh token claims = %+v, want subject u1 device d1", claims)
	}
}

func TestTokenProvider_ExpiredWithOtherFailureIsInvalid(t *testing.T) {
	p := mustProvider(t)
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	p.WithClock(func() time.Time { return start })
	issued, err := p.IssueRefresh("u1", "d1")
	if err != nil {
		t.Fatal(err)
	}
	other, err := NewTokenProvider(p.privateKey, p.publicKey, "other-issuer", p.audience, time.Minute, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	other.WithClock(func() time.Time { return start.Add(25 * time.Hour) })
	claims, err := other.ValidateRefresh(issued.Token)
	if !errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrTokenExpired) {
		t.Errorf("err = %v, want ErrInvalidToken without ErrTokenExpired", err)
	}
	if claims != nil {
		t.Errorf("claims = %+v, want nil", claims)
	}
}

func TestTokenProvider_WrongIssuerAudienceOrKey(t *testing.T) {
	p := mustProvider(t)
	issued, err := p.IssueRefresh("u1", "d1")
	if err != nil {
		t.Fatal(err)
	}

	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	otherKey, err := NewTokenProvider(key, &key.PublicKey, TestIssuer, TestAudience, time.Minute, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := otherKey.ValidateRefresh(issued.Token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("foreign signature accepted: %v", err)
	}

	otherIss, _ := NewTokenProvider(p.privateKey, p.publicKey, "other-issuer", TestAudience, time.Minute, time.Hour)
	if _, err := otherIss.ValidateRefresh(issued.Token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong issuer accepted: %v", err)
	}
	otherAud, _ := NewTokenProvider(p.privateKey, p.publicKey, TestIssuer, "other-aud", time.Minute, time.Hour)
	if _, err := otherAud.ValidateRefresh(issued.Token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong audience accepted: %v", err)
	}
}

func TestTokenProvider_RejectsNoneAndHMAC(t *testing.T) {
	p := mustProvider(t)
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "u1", Issuer: TestIssuer, Audience: jwt.ClaimStrings{TestAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Type: TokenTypeRefresh, DeviceID: "d1",
	}
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := p.ValidateRefresh(none); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("alg=none accepted: %v", err)
	}
	hs, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if _, err := p.ValidateRefresh(hs); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("HS256 accepted: %v", err)
	}
	if _, err := p.ValidateRefresh("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage accepted: %v", err)
	}
}

func TestNewTokenProvider_MismatchedKeys(t *testing.T) {
	p := mustProvider(t)
	other, _ := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if _, err := NewTokenProvider(p.privateKey, &other.PublicKey, "i", "a", time.Minute, time.Hour); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("mismatched public key err = %v, want ErrInvalidKey", err)
	}
}
