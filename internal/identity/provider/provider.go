// Package provider verifies credential proofs presented at login and re-authentication
// and resolves them to an email address.
package provider

import "context"

// IdentityProvider turns a credential proof into a verified email.
// Every rejection wraps apperr.ErrUnauthorized.
type IdentityProvider interface {
	VerifyProofAndGetEmail(ctx context.Context, proof string) (string, error)
}
