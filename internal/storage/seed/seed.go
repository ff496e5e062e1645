// Package seed inserts development users with local password identities.
package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sessionguard/internal/db"
	identitydomain "sessionguard/internal/identity/domain"
	identityrepo "sessionguard/internal/identity/repository"
	"sessionguard/internal/security"
	userdomain "sessionguard/internal/user/domain"
	userrepo "sessionguard/internal/user/repository"
)

// DevPassword is the password of every development user.
const DevPassword = "password123"

// User is one account to seed.
type User struct {
	ID    string
	Email string
	Name  string
	Roles []string
}

// DevUsers are the default development accounts: an administrator, an auditor and a regular user.
var DevUsers = []User{
	{ID: "dev-user-001", Email: "admin@example.com", Name: "Dev Admin", Roles: []string{"admin"}},
	{ID: "dev-user-002", Email: "auditor@example.com", Name: "Dev Auditor", Roles: []string{"auditor"}},
	{ID: "dev-user-003", Email: "member@example.com", Name: "Dev Member", Roles: []string{"member"}},
}

// Seeder creates users and their local identities.
type Seeder struct {
	txm        db.TxManager
	users      userrepo.Repository
	identities identityrepo.Repository
	hasher     *security.Hasher
	log        *zap.Logger
}

// New returns a Seeder. log may be nil.
func New(txm db.TxManager, users userrepo.Repository, identities identityrepo.Repository, hasher *security.Hasher, log *zap.Logger) *Seeder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Seeder{txm: txm, users: users, identities: identities, hasher: hasher, log: log}
}

// Seed creates every user whose email is not yet taken, each with a local identity for password.
// It is idempotent and returns how many users were created.
func (s *Seeder) Seed(ctx context.Context, users []User, password string) (int, error) {
	hash, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	created := 0
	for _, u := range users {
		var made bool
		err := s.txm.WithinTx(ctx, func(ctx context.Context) error {
			existing, err := s.users.GetByEmail(ctx, userdomain.NormalizeEmail(u.Email))
			if err != nil || existing != nil {
				return err
			}
			now := time.Now().UTC()
			user := &userdomain.User{
				ID:        u.ID,
				Email:     userdomain.NormalizeEmail(u.Email),
				Name:      u.Name,
				Roles:     u.Roles,
				Status:    userdomain.UserStatusActive,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if user.ID == "" {
				user.ID = uuid.NewString()
			}
			if err := s.users.Create(ctx, user); err != nil {
				return err
			}
			made = true
			return s.identities.Create(ctx, &identitydomain.Identity{
				ID:           uuid.NewString(),
				UserID:       user.ID,
				Provider:     identitydomain.IdentityProviderLocal,
				ProviderID:   user.Email,
				PasswordHash: hash,
				CreatedAt:    now,
			})
		})
		if err != nil {
			return created, fmt.Errorf("seed %s: %w", u.Email, err)
		}
		if made {
			created++
			s.log.Info("seeded user", zap.String("email", u.Email), zap.Strings("roles", u.Roles))
		}
	}
	return created, nil
}
