package memory

import (
	"context"
	"fmt"
	"time"

	identitydomain "sessionguard/internal/identity/domain"
	identityrepo "sessionguard/internal/identity/repository"
	"sessionguard/internal/platform/apperr"
	userdomain "sessionguard/internal/user/domain"
	userrepo "sessionguard/internal/user/repository"
)

// UserRepository implements the user directory on a Store.
type UserRepository struct {
	s *Store
}

var _ userrepo.Repository = (*UserRepository)(nil)

// GetByID implements userrepo.Repository.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*userdomain.User, error) {
	var out *userdomain.User
	err := r.s.do(ctx, func() error {
		if u, ok := r.s.users[id]; ok {
			out = cloneUser(u)
		}
		return nil
	})
	return out, err
}

// GetByEmail implements userrepo.Repository.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*userdomain.User, error) {
	email = userdomain.NormalizeEmail(email)
	var out *userdomain.User
	err := r.s.do(ctx, func() error {
		for _, u := range r.s.users {
			if u.Email == email {
				out = cloneUser(u)
				return nil
			}
		}
		return nil
	})
	return out, err
}

// Create implements userrepo.Repository.
func (r *UserRepository) Create(ctx context.Context, u *userdomain.User) error {
	if err := u.Validate(); err != nil {
		return apperr.InvalidArgument(err.Error())
	}
	return r.s.do(ctx, func() error {
		email := userdomain.NormalizeEmail(u.Email)
		for _, existing := range r.s.users {
			if existing.Email == email || existing.ID == u.ID {
				return fmt.Errorf("user %s already exists", email)
			}
		}
		c := cloneUser(u)
		c.Email = email
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
			c.UpdatedAt = c.CreatedAt
		}
		r.s.users[c.ID] = c
		return nil
	})
}

// SetStatus implements userrepo.Repository.
func (r *UserRepository) SetStatus(ctx context.Context, id string, status userdomain.UserStatus) error {
	return r.s.do(ctx, func() error {
		u, ok := r.s.users[id]
		if !ok {
			return fmt.Errorf("user %s: %w", id, apperr.ErrNotFound)
		}
		u.Status = status
		u.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// IdentityRepository implements the identity repository on a Store.
type IdentityRepository struct {
	s *Store
}

var _ identityrepo.Repository = (*IdentityRepository)(nil)

// GetByUserAndProvider implements identityrepo.Repository.
func (r *IdentityRepository) GetByUserAndProvider(ctx context.Context, userID string, provider identitydomain.IdentityProvider) (*identitydomain.Identity, error) {
	var out *identitydomain.Identity
	err := r.s.do(ctx, func() error {
		for _, i := range r.s.identities {
			if i.UserID == userID && i.Provider == provider {
				c := *i
				out = &c
				return nil
			}
		}
		return nil
	})
	return out, err
}

// Create implements identityrepo.Repository.
func (r *IdentityRepository) Create(ctx context.Context, i *identitydomain.Identity) error {
	return r.s.do(ctx, func() error {
		c := *i
		r.s.identities = append(r.s.identities, &c)
		return nil
	})
}
