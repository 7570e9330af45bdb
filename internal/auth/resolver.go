// internal/auth/resolver.go
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/gameroom/internal/models"
	"github.com/jason-s-yu/gameroom/internal/room"
	"github.com/sirupsen/logrus"
)

// UserLookup loads the account behind a verified token.
type UserLookup interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Resolver turns identity tokens into room identities. The display name comes from the user
// row when users is set and reachable, else from the token.
type Resolver struct {
	tokens *Tokens
	users  UserLookup
	log    *logrus.Entry
}

func NewResolver(tokens *Tokens, users UserLookup, logger *logrus.Logger) *Resolver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Resolver{tokens: tokens, users: users, log: logger.WithField("component", "auth")}
}

// VerifyIdentity checks the token signature and expiry and returns the identity carried in its
// claims. It never touches account storage.
func (r *Resolver) VerifyIdentity(token string) (room.Identity, error) {
	claims, err := r.tokens.AuthenticateJWT(token)
	if err != nil {
		return room.Identity{}, err
	}
	return room.Identity{UserID: claims.UserID, Username: claims.Username}, nil
}

// ResolveIdentity implements room.IdentityResolver.
func (r *Resolver) ResolveIdentity(ctx context.Context, token string) (room.Identity, error) {
	ident, err := r.VerifyIdentity(token)
	if err != nil {
		return room.Identity{}, err
	}
	if r.users == nil {
		return ident, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	user, err := r.users.GetUserByID(ctx, ident.UserID)
	if err != nil {
		r.log.Warnf("error fetching user %s details: %v", ident.UserID, err)
		if ident.Username == "" {
			ident.Username = fmt.Sprintf("User_%s", ident.UserID.String()[:4])
		}
		return ident, nil
	}
	ident.Username = user.Username
	return ident, nil
}
