package provider

import (
	"context"
	"encoding/base64"
	"strings"

	identitydomain "sessionguard/internal/identity/domain"
	identityrepo "sessionguard/internal/identity/repository"
	"sessionguard/internal/platform/apperr"
	"sessionguard/internal/security"
	userdomain "sessionguard/internal/user/domain"
	userrepo "sessionguard/internal/user/repository"
)

// Local verifies email/password proofs against local identities.
// The proof is base64("email:password").
type Local struct {
	users      userrepo.Repository
	identities identityrepo.Repository
	hasher     *security.Hasher
}

var _ IdentityProvider = (*Local)(nil)

// NewLocal returns a Local provider.
func NewLocal(users userrepo.Repository, identities identityrepo.Repository, hasher *security.Hasher) *Local {
	return &Local{users: users, identities: identities, hasher: hasher}
}

// EncodePasswordProof builds the proof Local expects.
func EncodePasswordProof(email, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(email + ":" + password))
}

// VerifyProofAndGetEmail implements IdentityProvider. Unknown accounts spend the same bcrypt work
// as a wrong password.
func (l *Local) VerifyProofAndGetEmail(ctx context.Context, proof string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(proof))
	if err != nil {
		return "", apperr.Unauthorized("malformed password proof")
	}
	email, password, ok := strings.Cut(string(raw), ":")
	email = userdomain.NormalizeEmail(email)
	if !ok || email == "" || password == "" {
		return "", apperr.Unauthorized("malformed password proof")
	}
	u, err := l.users.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if u == nil {
		l.hasher.CompareDummy([]byte(password))
		return "", apperr.Unauthorized("unknown account")
	}
	ident, err := l.identities.GetByUserAndProvider(ctx, u.ID, identitydomain.IdentityProviderLocal)
	if err != nil {
		return "", err
	}
	if ident == nil || ident.PasswordHash == "" {
		l.hasher.CompareDummy([]byte(password))
		return "", apperr.Unauthorized("no local identity")
	}
	if err := l.hasher.Compare(ident.PasswordHash, []byte(password)); err != nil {
		return "", apperr.Unauthorized("wrong password")
	}
	return email, nil
}
